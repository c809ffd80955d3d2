package client

import (
	"context"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/streamshell/internal/payload"
	"github.com/danmuck/streamshell/internal/transport"
	"github.com/rs/zerolog"
)

// StatusResponder serves the client-status route: after logging the status it
// was called with, it reports free memory in bytes once per Interval until the
// caller cancels or the connection closes.
type StatusResponder struct {
	Interval   time.Duration
	Clock      clock.Clock
	FreeMemory func() uint64
	Log        zerolog.Logger
}

func (r *StatusResponder) Register(router *transport.Router) {
	router.HandleStream(RouteClientStatus, r.Serve)
}

func (r *StatusResponder) Serve(ctx context.Context, data []byte, emit transport.Emit) error {
	status, err := payload.DecodeText(data)
	if err != nil {
		r.Log.Warn().Err(err).Msgf("client.StatusResponder decode status route=%s", RouteClientStatus)
		return err
	}
	r.Log.Info().Msgf("Connection %s", status)

	ticker := r.Clock.Ticker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snapshot, err := payload.EncodeText(strconv.FormatUint(r.FreeMemory(), 10))
			if err != nil {
				return err
			}
			if err := emit(snapshot); err != nil {
				return err
			}
		}
	}
}
