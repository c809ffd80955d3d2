package client

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/streamshell/internal/codec"
	"github.com/danmuck/streamshell/internal/observability"
	"github.com/danmuck/streamshell/internal/payload"
	"github.com/danmuck/streamshell/internal/transport"
)

func (s *Session) notConnected(route string) error {
	s.log.Info().Msg("No connection. Did you login?")
	observability.RecordInteraction(route, observability.OutcomeSkipped, 0)
	return ErrNotConnected
}

func (s *Session) record(route string, start time.Time, err error) {
	outcome := observability.OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, transport.ErrCanceled):
		outcome = observability.OutcomeCanceled
	default:
		outcome = observability.OutcomeError
	}
	observability.RecordInteraction(route, outcome, s.clock.Since(start))
}

// RequestResponse sends one request and blocks until its single response
// arrives or the call fails.
func (s *Session) RequestResponse(ctx context.Context) (msg payload.Message, err error) {
	ch, ok := s.connected()
	if !ok {
		return payload.Message{}, s.notConnected(RouteRequestResponse)
	}
	start := s.clock.Now()
	defer func() { s.record(RouteRequestResponse, start, err) }()

	s.log.Info().Msg("Sending one request. Waiting for one response...")
	data, err := payload.EncodeMessage(payload.NewMessage(OriginClient, ContentRequest))
	if err != nil {
		return payload.Message{}, err
	}
	resp, err := ch.RequestResponse(ctx, RouteRequestResponse, data)
	if err != nil {
		s.log.Error().Err(err).Msgf("client.Session.RequestResponse route=%s", RouteRequestResponse)
		return payload.Message{}, err
	}
	msg, err = payload.DecodeMessage(resp)
	if err != nil {
		s.log.Error().Err(err).Msgf("client.Session.RequestResponse undecodable response=%s", codec.Diagnose(resp))
		return payload.Message{}, err
	}
	s.log.Info().Msgf("Response was: %s", msg)
	return msg, nil
}

// FireAndForget sends one request and returns once it is dispatched. No
// response is read.
func (s *Session) FireAndForget(ctx context.Context) (err error) {
	ch, ok := s.connected()
	if !ok {
		return s.notConnected(RouteFireAndForget)
	}
	start := s.clock.Now()
	defer func() { s.record(RouteFireAndForget, start, err) }()

	s.log.Info().Msg("Fire-And-Forget. Sending one request. Expect no response (check server console log)...")
	data, err := payload.EncodeMessage(payload.NewMessage(OriginClient, ContentFireAndForget))
	if err != nil {
		return err
	}
	if err := ch.FireAndForget(ctx, RouteFireAndForget, data); err != nil {
		s.log.Error().Err(err).Msgf("client.Session.FireAndForget route=%s", RouteFireAndForget)
		return err
	}
	return nil
}

// Stream requests a server stream and pushes each element to obs until the
// stream ends or is cancelled. The returned subscription replaces (and
// cancels) any previously tracked one.
func (s *Session) Stream(ctx context.Context, obs Observer) (sub *Subscription, err error) {
	ch, ok := s.connected()
	if !ok {
		return nil, s.notConnected(RouteStream)
	}
	start := s.clock.Now()
	defer func() { s.record(RouteStream, start, err) }()

	s.log.Info().Msg("Request-Stream. Sending one request. Logging responses. Type 's' to stop.")
	data, err := payload.EncodeMessage(payload.NewMessage(OriginClient, ContentStream))
	if err != nil {
		return nil, err
	}
	st, err := ch.RequestStream(ctx, RouteStream, data)
	if err != nil {
		s.log.Error().Err(err).Msgf("client.Session.Stream route=%s", RouteStream)
		return nil, err
	}
	sub = newSubscription(RouteStream, st, nil)
	s.track(sub)
	go sub.run(obs.withDefaults(s.log, "Response: %s (Type 's' to stop.)"), s.untrack)
	return sub, nil
}

// Channel opens a bidirectional interaction. The configured settings are sent
// outbound on their own schedule while inbound messages are pushed to obs.
func (s *Session) Channel(ctx context.Context, obs Observer) (sub *Subscription, err error) {
	ch, ok := s.connected()
	if !ok {
		return nil, s.notConnected(RouteChannel)
	}
	start := s.clock.Now()
	defer func() { s.record(RouteChannel, start, err) }()

	s.log.Info().Msg("Channel (bi-directional streams). Asking for a stream of messages. Type 's' to stop.")
	out := make(chan []byte)
	st, err := ch.RequestChannel(ctx, RouteChannel, out)
	if err != nil {
		close(out)
		s.log.Error().Err(err).Msgf("client.Session.Channel route=%s", RouteChannel)
		return nil, err
	}

	emitCtx, stopEmit := context.WithCancel(context.Background())
	go s.emitSettings(emitCtx, ch.Done(), s.cfg.ChannelSettings, out)

	sub = newSubscription(RouteChannel, st, stopEmit)
	s.track(sub)
	go sub.run(obs.withDefaults(s.log, "Received: %s (Type 's' to stop.)"), s.untrack)
	return sub, nil
}
