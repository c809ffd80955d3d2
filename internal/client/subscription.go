package client

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/danmuck/streamshell/internal/codec"
	"github.com/danmuck/streamshell/internal/observability"
	"github.com/danmuck/streamshell/internal/payload"
	"github.com/danmuck/streamshell/internal/transport"
	"github.com/rs/zerolog"
)

// Observer receives pushed stream elements. Callbacks run on the
// subscription's delivery goroutine, in order, and must not call Cancel.
// Nil callbacks fall back to logging.
type Observer struct {
	OnNext     func(payload.Message)
	OnError    func(error)
	OnComplete func()
}

func (o Observer) withDefaults(logger zerolog.Logger, nextFormat string) Observer {
	if o.OnNext == nil {
		o.OnNext = func(msg payload.Message) {
			logger.Info().Msgf(nextFormat, msg)
		}
	}
	if o.OnError == nil {
		o.OnError = func(err error) {
			logger.Error().Err(err).Msg("Stream terminated with error")
		}
	}
	if o.OnComplete == nil {
		o.OnComplete = func() {
			logger.Info().Msg("Stream completed")
		}
	}
	return o
}

// Subscription is a cancellable handle to a streaming interaction.
type Subscription struct {
	route     string
	stream    transport.Stream
	stopOut   func()
	cancelled atomic.Bool
	done      chan struct{}
	err       error
}

func newSubscription(route string, stream transport.Stream, stopOut func()) *Subscription {
	if stopOut == nil {
		stopOut = func() {}
	}
	return &Subscription{
		route:   route,
		stream:  stream,
		stopOut: stopOut,
		done:    make(chan struct{}),
	}
}

func (s *Subscription) Route() string {
	return s.route
}

// Cancel stops delivery and releases the stream. When it returns no further
// OnNext call will happen. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s.cancelled.CompareAndSwap(false, true) {
		s.stopOut()
		s.stream.Cancel()
	}
	<-s.done
}

// Done is closed once delivery has ended for any reason.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err is the terminal stream error, or nil after completion or Cancel. Valid
// once Done is closed.
func (s *Subscription) Err() error {
	<-s.done
	return s.err
}

func (s *Subscription) Cancelled() bool {
	return s.cancelled.Load()
}

// run delivers elements until the stream ends. onEnd runs before Done closes.
func (s *Subscription) run(obs Observer, onEnd func(*Subscription)) {
	observability.SubscriptionOpened()
	defer close(s.done)
	defer onEnd(s)
	defer observability.SubscriptionClosed()

	for {
		data, err := s.stream.Recv()
		if err != nil {
			switch {
			case s.cancelled.Load() || errors.Is(err, transport.ErrCanceled):
			case errors.Is(err, io.EOF):
				obs.OnComplete()
			default:
				s.err = err
				obs.OnError(err)
			}
			return
		}
		if s.cancelled.Load() {
			return
		}
		msg, err := payload.DecodeMessage(data)
		if err != nil {
			s.stopOut()
			s.stream.Cancel()
			s.err = fmt.Errorf("client: undecodable %s element %s: %w", s.route, codec.Diagnose(data), err)
			obs.OnError(s.err)
			return
		}
		obs.OnNext(msg)
	}
}
