package client

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/streamshell/internal/auth"
	"github.com/danmuck/streamshell/internal/codec"
	"github.com/danmuck/streamshell/internal/payload"
	"github.com/danmuck/streamshell/internal/protocol/session"
	"github.com/danmuck/streamshell/internal/transport"
	"github.com/pbnjay/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the session's connection state.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Dialer opens the transport channel for one login.
type Dialer interface {
	Dial(ctx context.Context, address string, setup session.Setup, router *transport.Router) (transport.Channel, error)
}

type Option func(*Session)

func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

func WithClock(clk clock.Clock) Option {
	return func(s *Session) { s.clock = clk }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.log = logger }
}

func WithAuthenticator(a auth.Authenticator) Option {
	return func(s *Session) { s.authn = a }
}

// WithFreeMemory replaces the free-memory source reported on the client-status route.
func WithFreeMemory(fn func() uint64) Option {
	return func(s *Session) { s.freeMemory = fn }
}

// Session owns one connection at a time and the single tracked subscription.
type Session struct {
	cfg        Config
	dialer     Dialer
	clock      clock.Clock
	log        zerolog.Logger
	authn      auth.Authenticator
	freeMemory func() uint64

	// lifecycle serializes Login and Shutdown. mu guards the fields below and
	// is never held across network calls or Cancel.
	lifecycle sync.Mutex
	mu        sync.Mutex
	state     State
	channel   transport.Channel
	creds     *auth.Credentials
	sub       *Subscription
	observed  chan struct{}
}

func New(cfg Config, opts ...Option) *Session {
	cfg = cfg.WithDefaults()
	s := &Session{
		cfg:        cfg,
		clock:      clock.New(),
		log:        log.With().Str("component", "client").Logger(),
		authn:      auth.SimpleAuthenticator{},
		freeMemory: memory.FreeMemory,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = transport.Dialer{Config: cfg.Session}
	}
	return s
}

// Login dials a new channel with the given credentials. A live channel from an
// earlier login is shut down first. Failures leave the session disconnected.
func (s *Session) Login(ctx context.Context, username, password string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.IsLoggedIn() {
		s.log.Info().Msg("client.Session.Login closing previous connection")
		if err := s.disconnect(); err != nil {
			s.log.Warn().Err(err).Msg("client.Session.Login close previous connection")
		}
	}

	creds := auth.Credentials{Username: username, Password: password}
	s.log.Info().Msgf("Connecting using client ID: %s, Username: %s", ClientID(), username)
	metadata, err := s.authn.Metadata(creds)
	if err != nil {
		return err
	}
	data, err := payload.EncodeText(ClientID())
	if err != nil {
		return err
	}
	setup := session.Setup{
		Route:        s.cfg.SetupRoute,
		DataMime:     codec.MimeType,
		MetadataMime: s.authn.MimeType(),
		Data:         data,
		Metadata:     metadata,
	}

	router := transport.NewRouter()
	s.responder().Register(router)

	ch, err := s.dialer.Dial(ctx, s.cfg.Address, setup, router)
	if err != nil {
		s.log.Error().Err(err).Msgf("client.Session.Login failed address=%s", s.cfg.Address)
		return &ConnectionError{Address: s.cfg.Address, Err: err}
	}

	observed := make(chan struct{})
	s.mu.Lock()
	s.channel = ch
	s.creds = &creds
	s.state = Connected
	s.observed = observed
	s.mu.Unlock()
	go s.observeClose(ch, observed)

	s.log.Info().Object("credentials", creds).Msgf("client.Session.Login connected address=%s", s.cfg.Address)
	return nil
}

// observeClose reports the end of ch exactly once and clears the session if
// ch is still the active channel.
func (s *Session) observeClose(ch transport.Channel, observed chan struct{}) {
	defer close(observed)
	<-ch.Done()
	if err := ch.Err(); err != nil {
		s.log.Warn().Err(err).Msg("Connection closed")
	}
	s.log.Info().Msg("Client disconnected")

	s.mu.Lock()
	var sub *Subscription
	if s.channel == ch {
		sub = s.sub
		s.channel = nil
		s.creds = nil
		s.sub = nil
		s.state = Disconnected
	}
	s.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// Shutdown cancels any tracked subscription and disposes the channel. Safe to
// call in any state and more than once.
func (s *Session) Shutdown() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.disconnect()
}

func (s *Session) disconnect() error {
	s.mu.Lock()
	ch, observed, sub := s.channel, s.observed, s.sub
	s.channel = nil
	s.creds = nil
	s.sub = nil
	s.observed = nil
	s.state = Disconnected
	s.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	if ch == nil {
		return nil
	}
	err := ch.Close()
	if observed != nil {
		<-observed
	}
	return err
}

func (s *Session) IsLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Connected
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Username of the current login, or "" when disconnected.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return ""
	}
	return s.creds.Username
}

// Tracked returns the subscription Stop would cancel, if any.
func (s *Session) Tracked() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

// Stop cancels and clears the tracked subscription. No-op when nothing is
// tracked.
func (s *Session) Stop() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub == nil {
		return
	}
	s.log.Info().Msg("Stopping the incoming stream.")
	sub.Cancel()
	s.log.Info().Msg("Stream stopped.")
}

func (s *Session) connected() (transport.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected || s.channel == nil {
		return nil, false
	}
	return s.channel, true
}

// track installs sub as the tracked subscription. A previously tracked one is
// cancelled.
func (s *Session) track(sub *Subscription) {
	s.mu.Lock()
	prev := s.sub
	s.sub = sub
	s.mu.Unlock()
	if prev != nil {
		s.log.Info().Msgf("client.Session cancelling previous subscription route=%s", prev.Route())
		prev.Cancel()
	}
}

func (s *Session) untrack(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == sub {
		s.sub = nil
	}
}

func (s *Session) responder() *StatusResponder {
	return &StatusResponder{
		Interval:   s.cfg.StatusInterval,
		Clock:      s.clock,
		FreeMemory: s.freeMemory,
		Log:        s.log,
	}
}
