package client

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/streamshell/internal/payload"
	"github.com/danmuck/streamshell/internal/protocol/session"
	"github.com/danmuck/streamshell/internal/testutil/testlog"
	"github.com/danmuck/streamshell/internal/transport"
	"github.com/rs/zerolog"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) count(sub string) int {
	return strings.Count(b.String(), sub)
}

// recordingClock notes every timer duration requested after registering it
// with the mock, so tests can advance time only once a wait is pending.
type recordingClock struct {
	*clock.Mock
	mu      sync.Mutex
	afters  []time.Duration
	tickers []time.Duration
}

func newRecordingClock() *recordingClock {
	return &recordingClock{Mock: clock.NewMock()}
}

func (c *recordingClock) After(d time.Duration) <-chan time.Time {
	ch := c.Mock.After(d)
	c.mu.Lock()
	c.afters = append(c.afters, d)
	c.mu.Unlock()
	return ch
}

func (c *recordingClock) Ticker(d time.Duration) *clock.Ticker {
	tk := c.Mock.Ticker(d)
	c.mu.Lock()
	c.tickers = append(c.tickers, d)
	c.mu.Unlock()
	return tk
}

func (c *recordingClock) waitAfters(t *testing.T, n int) []time.Duration {
	t.Helper()
	var out []time.Duration
	eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		out = append([]time.Duration(nil), c.afters...)
		return len(out) >= n
	})
	return out
}

func (c *recordingClock) waitTickers(t *testing.T, n int) []time.Duration {
	t.Helper()
	var out []time.Duration
	eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		out = append([]time.Duration(nil), c.tickers...)
		return len(out) >= n
	})
	return out
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type fakeStream struct {
	items      chan []byte
	errs       chan error
	cancelled  chan struct{}
	cancelOnce sync.Once
	cancels    atomic.Int32
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		items:     make(chan []byte),
		errs:      make(chan error, 1),
		cancelled: make(chan struct{}),
	}
}

func (f *fakeStream) Recv() ([]byte, error) {
	select {
	case <-f.cancelled:
		return nil, transport.ErrCanceled
	case data := <-f.items:
		return data, nil
	case err := <-f.errs:
		return nil, err
	}
}

func (f *fakeStream) Cancel() {
	f.cancels.Add(1)
	f.cancelOnce.Do(func() { close(f.cancelled) })
}

func (f *fakeStream) push(t *testing.T, msg payload.Message) {
	t.Helper()
	data, err := payload.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	select {
	case f.items <- data:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream element %s never consumed", msg)
	}
}

// tryPush reports whether anyone is still receiving.
func (f *fakeStream) tryPush(data []byte) bool {
	select {
	case f.items <- data:
		return true
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

func (f *fakeStream) complete() {
	f.errs <- io.EOF
}

type fakeCall struct {
	route string
	data  []byte
}

type fakeChannel struct {
	mu      sync.Mutex
	calls   []fakeCall
	streams []*fakeStream
	outs    []<-chan []byte
	err     error

	rrDelay time.Duration
	rrReply func(data []byte) ([]byte, error)

	done      chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
	closeErr  error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{done: make(chan struct{})}
}

func (f *fakeChannel) note(route string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{route: route, data: data})
}

func (f *fakeChannel) RequestResponse(ctx context.Context, route string, data []byte) ([]byte, error) {
	f.note(route, data)
	if f.rrDelay > 0 {
		select {
		case <-time.After(f.rrDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.rrReply != nil {
		return f.rrReply(data)
	}
	return payload.EncodeMessage(payload.NewMessage("Server", "Response"))
}

func (f *fakeChannel) FireAndForget(_ context.Context, route string, data []byte) error {
	f.note(route, data)
	return nil
}

func (f *fakeChannel) RequestStream(_ context.Context, route string, data []byte) (transport.Stream, error) {
	f.note(route, data)
	st := newFakeStream()
	f.mu.Lock()
	f.streams = append(f.streams, st)
	f.mu.Unlock()
	return st, nil
}

func (f *fakeChannel) RequestChannel(_ context.Context, route string, out <-chan []byte) (transport.Stream, error) {
	f.note(route, nil)
	st := newFakeStream()
	f.mu.Lock()
	f.streams = append(f.streams, st)
	f.outs = append(f.outs, out)
	f.mu.Unlock()
	return st, nil
}

func (f *fakeChannel) Done() <-chan struct{} {
	return f.done
}

func (f *fakeChannel) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeChannel) Close() error {
	f.closes.Add(1)
	f.closeOnce.Do(func() { close(f.done) })
	return f.closeErr
}

// fail simulates the peer dropping the connection.
func (f *fakeChannel) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *fakeChannel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeChannel) lastCall(t *testing.T) fakeCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatalf("no channel calls recorded")
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeChannel) stream(t *testing.T, i int) *fakeStream {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.streams) {
		t.Fatalf("stream %d not opened (have %d)", i, len(f.streams))
	}
	return f.streams[i]
}

func (f *fakeChannel) out(t *testing.T, i int) <-chan []byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.outs) {
		t.Fatalf("channel %d not opened (have %d)", i, len(f.outs))
	}
	return f.outs[i]
}

type fakeDialer struct {
	mu        sync.Mutex
	err       error
	channels  []*fakeChannel
	setups    []session.Setup
	routers   []*transport.Router
	addresses []string
}

func (d *fakeDialer) Dial(_ context.Context, address string, setup session.Setup, router *transport.Router) (transport.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addresses = append(d.addresses, address)
	d.setups = append(d.setups, setup)
	d.routers = append(d.routers, router)
	if d.err != nil {
		return nil, d.err
	}
	ch := newFakeChannel()
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.addresses)
}

func (d *fakeDialer) channel(t *testing.T, i int) *fakeChannel {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.channels) {
		t.Fatalf("channel %d not dialed (have %d)", i, len(d.channels))
	}
	return d.channels[i]
}

func newTestSession(t *testing.T, opts ...Option) (*Session, *fakeDialer, *syncBuffer) {
	t.Helper()
	testlog.Start(t)
	d := &fakeDialer{}
	buf := &syncBuffer{}
	base := []Option{
		WithDialer(d),
		WithLogger(zerolog.New(buf)),
		WithClock(clock.NewMock()),
	}
	s := New(DefaultConfig(), append(base, opts...)...)
	t.Cleanup(func() { _ = s.Shutdown() })
	return s, d, buf
}

func mustLogin(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Login(context.Background(), "user", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func decodeCall(t *testing.T, call fakeCall) payload.Message {
	t.Helper()
	msg, err := payload.DecodeMessage(call.data)
	if err != nil {
		t.Fatalf("decode %s request: %v", call.route, err)
	}
	return msg
}
