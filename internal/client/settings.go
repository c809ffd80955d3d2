package client

import (
	"context"
	"time"

	"github.com/danmuck/streamshell/internal/payload"
)

// emitSettings feeds the outbound side of a channel. Each setting waits its
// delay after the previous emission; out is closed when the sequence ends or
// is stopped.
func (s *Session) emitSettings(ctx context.Context, closed <-chan struct{}, settings []ChannelSetting, out chan<- []byte) {
	defer close(out)
	for _, setting := range settings {
		if setting.Delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-closed:
				return
			case <-s.clock.After(setting.Delay):
			}
		}
		data, err := payload.EncodeSetting(setting.Interval)
		if err != nil {
			s.log.Error().Err(err).Msgf("client.emitSettings interval=%s", setting.Interval)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case out <- data:
		}
		s.log.Info().Msgf("Sending setting for a %d-second interval.", int64(setting.Interval/time.Second))
	}
}
