package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/streamshell/internal/payload"
	"github.com/danmuck/streamshell/internal/testutil/testlog"
	"github.com/danmuck/streamshell/internal/transport"
	"github.com/rs/zerolog"
)

func TestStatusResponderReportsFreeMemory(t *testing.T) {
	testlog.Start(t)
	clk := newRecordingClock()
	buf := &syncBuffer{}
	r := &StatusResponder{
		Interval:   5 * time.Second,
		Clock:      clk,
		FreeMemory: func() uint64 { return 4096 },
		Log:        zerolog.New(buf),
	}

	status, err := payload.EncodeText("OPEN")
	if err != nil {
		t.Fatalf("encode status: %v", err)
	}
	emitted := make(chan []byte, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Serve(ctx, status, func(data []byte) error {
			emitted <- data
			return nil
		})
	}()

	if ticks := clk.waitTickers(t, 1); ticks[0] != 5*time.Second {
		t.Fatalf("unexpected report interval: %s", ticks[0])
	}
	if buf.count("Connection OPEN") != 1 {
		t.Fatalf("status not logged: %s", buf.String())
	}
	select {
	case data := <-emitted:
		t.Fatalf("snapshot emitted before the first interval: %x", data)
	default:
	}

	for range 2 {
		clk.Add(5 * time.Second)
		select {
		case data := <-emitted:
			snapshot, err := payload.DecodeText(data)
			if err != nil {
				t.Fatalf("decode snapshot: %v", err)
			}
			if snapshot != "4096" {
				t.Fatalf("unexpected snapshot: %q", snapshot)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no snapshot after interval")
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("responder did not stop on cancel")
	}
}

func TestStatusResponderStopsOnEmitFailure(t *testing.T) {
	testlog.Start(t)
	clk := newRecordingClock()
	r := &StatusResponder{
		Interval:   time.Second,
		Clock:      clk,
		FreeMemory: func() uint64 { return 1 },
		Log:        zerolog.Nop(),
	}
	status, _ := payload.EncodeText("OPEN")
	done := make(chan error, 1)
	go func() {
		done <- r.Serve(context.Background(), status, func([]byte) error {
			return transport.ErrConnectionLost
		})
	}()

	clk.waitTickers(t, 1)
	clk.Add(time.Second)
	select {
	case err := <-done:
		if !errors.Is(err, transport.ErrConnectionLost) {
			t.Fatalf("expected emit error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("responder kept running after emit failure")
	}
}

func TestStatusResponderRejectsBadStatus(t *testing.T) {
	testlog.Start(t)
	r := &StatusResponder{
		Interval:   time.Second,
		Clock:      newRecordingClock(),
		FreeMemory: func() uint64 { return 1 },
		Log:        zerolog.Nop(),
	}
	err := r.Serve(context.Background(), []byte{0xff}, func([]byte) error { return nil })
	if err == nil {
		t.Fatalf("expected decode error for malformed status")
	}
}

func TestSessionRegistersStatusResponder(t *testing.T) {
	s, _, _ := newTestSession(t, WithFreeMemory(func() uint64 { return 7 }))
	mustLogin(t, s)
	r := s.responder()
	if r.Interval != 5*time.Second {
		t.Fatalf("unexpected interval: %s", r.Interval)
	}
	if r.FreeMemory() != 7 {
		t.Fatalf("free memory source not wired")
	}
}
