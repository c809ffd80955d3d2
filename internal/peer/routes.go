package peer

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/streamshell/internal/client"
	"github.com/danmuck/streamshell/internal/payload"
	"github.com/danmuck/streamshell/internal/transport"
	"github.com/rs/zerolog"
)

const (
	OriginServer    = "Server"
	ContentResponse = "Response"
	ContentStream   = "Stream"
	ContentChannel  = "Channel"
)

// routes serves the demo interactions for one client.
type routes struct {
	clock    clock.Clock
	interval time.Duration
	log      zerolog.Logger
}

func (s *Service) router(info ConnectedClient) *transport.Router {
	r := &routes{
		clock:    s.clock,
		interval: s.cfg.StreamInterval,
		log:      s.log.With().Str("client_id", info.ClientID).Str("username", info.Username).Logger(),
	}
	router := transport.NewRouter()
	router.HandleResponse(client.RouteRequestResponse, r.requestResponse)
	router.HandleFire(client.RouteFireAndForget, r.fireAndForget)
	router.HandleStream(client.RouteStream, r.stream)
	router.HandleChannel(client.RouteChannel, r.channel)
	return router
}

func (r *routes) requestResponse(_ context.Context, data []byte) ([]byte, error) {
	req, err := payload.DecodeMessage(data)
	if err != nil {
		return nil, err
	}
	r.log.Info().Msgf("Received request-response request: %s", req)
	return payload.EncodeMessage(payload.NewMessage(OriginServer, ContentResponse))
}

func (r *routes) fireAndForget(_ context.Context, data []byte) {
	req, err := payload.DecodeMessage(data)
	if err != nil {
		r.log.Warn().Msgf("peer.fireAndForget decode err=%v", err)
		return
	}
	r.log.Info().Msgf("Received fire-and-forget request: %s", req)
}

// stream emits one message per interval until the client cancels.
func (r *routes) stream(ctx context.Context, data []byte, emit transport.Emit) error {
	req, err := payload.DecodeMessage(data)
	if err != nil {
		return err
	}
	r.log.Info().Msgf("Received stream request: %s", req)

	msg, err := payload.EncodeMessage(payload.NewMessage(OriginServer, ContentStream))
	if err != nil {
		return err
	}
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("Stream cancelled by client")
			return ctx.Err()
		case <-ticker.C:
			if err := emit(msg); err != nil {
				return err
			}
		}
	}
}

// channel emits one message per interval, re-timed by every inbound setting.
// Nothing is emitted before the first setting. The emission outlives the
// inbound side and ends when the client cancels.
func (r *routes) channel(ctx context.Context, in <-chan []byte, emit transport.Emit) error {
	msg, err := payload.EncodeMessage(payload.NewMessage(OriginServer, ContentChannel))
	if err != nil {
		return err
	}
	var (
		ticker *clock.Ticker
		tick   <-chan time.Time
	)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("Channel cancelled by client")
			return ctx.Err()
		case data, ok := <-in:
			if !ok {
				in = nil
				if ticker == nil {
					return nil
				}
				continue
			}
			setting, err := payload.DecodeSetting(data)
			if err != nil {
				return err
			}
			r.log.Info().Msgf("Frequency setting is %d second(s).", setting.IntervalSeconds)
			if ticker != nil {
				ticker.Stop()
			}
			ticker = r.clock.Ticker(setting.Interval())
			tick = ticker.C
		case <-tick:
			if err := emit(msg); err != nil {
				return err
			}
		}
	}
}
