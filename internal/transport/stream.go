package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/danmuck/streamshell/internal/protocol/frame"
	"github.com/danmuck/streamshell/internal/protocol/session"
)

// Stream is the opener's view of a streaming interaction.
type Stream interface {
	// Recv blocks for the next element. It returns io.EOF on completion,
	// *CallError on a remote failure and ErrCanceled after Cancel.
	Recv() ([]byte, error)
	// Cancel tells the responder to stop and releases the stream. Safe to call
	// more than once and from any goroutine.
	Cancel()
}

type clientStream struct {
	w        *wire
	stopOut  func()
	channel  bool
	canceled atomic.Bool
	once     sync.Once
	done     bool
}

// newClientStream wraps an opened interaction. stopOut is non-nil for
// channels and halts the outbound pump.
func newClientStream(w *wire, stopOut func()) *clientStream {
	s := &clientStream{w: w, stopOut: stopOut, channel: stopOut != nil}
	if stopOut == nil {
		s.stopOut = func() {}
	}
	return s
}

func (s *clientStream) Recv() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	f, err := s.w.read()
	if err != nil {
		if s.canceled.Load() {
			return nil, ErrCanceled
		}
		s.finish()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: stream ended without completion", ErrConnectionLost)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	switch f.Header.Type {
	case frame.TypePayload:
		data, err := session.DecodePayloadFrame(f)
		if err != nil {
			s.finish()
			return nil, err
		}
		if f.Has(frame.FlagComplete) {
			s.finish()
			if !f.Has(frame.FlagNext) {
				return nil, io.EOF
			}
		}
		return data, nil
	case frame.TypeError:
		s.finish()
		p, err := session.DecodeErrorFrame(f)
		if err != nil {
			return nil, err
		}
		return nil, &CallError{Code: p.Code, Message: p.Message}
	case frame.TypeCancel:
		s.finish()
		return nil, &CallError{Code: session.CodeCanceled, Message: "canceled by peer"}
	default:
		s.Cancel()
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedFrame, f.Header.Type)
	}
}

func (s *clientStream) Cancel() {
	s.once.Do(func() {
		s.canceled.Store(true)
		s.stopOut()
		s.w.tryWrite(session.EncodeCancelFrame(s.w.id))
		s.w.reset()
	})
}

// finish ends inbound delivery after a terminal frame. A channel keeps its
// outbound side open until the pump drains or Cancel is called.
func (s *clientStream) finish() {
	s.done = true
	if s.channel {
		_ = s.w.s.CloseRead()
		return
	}
	s.once.Do(s.w.close)
}
