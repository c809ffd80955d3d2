package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/streamshell/internal/auth"
	"github.com/danmuck/streamshell/internal/client"
	"github.com/danmuck/streamshell/internal/payload"
	"github.com/danmuck/streamshell/internal/protocol/session"
	"github.com/danmuck/streamshell/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownSetupRoute = errors.New("peer: unknown setup route")
	ErrUnsupportedAuth   = errors.New("peer: unsupported authentication mime type")
)

// Peer listener configuration.
type Config struct {
	ListenAddr     string
	SetupRoute     string
	Validator      auth.Validator
	StreamInterval time.Duration
	// StatusCheck asks every client for its status once setup completes.
	StatusCheck bool
	Session     session.Config
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":7000",
		SetupRoute:     client.DefaultSetupRoute,
		Validator:      auth.StaticCredentials{Username: "user", Password: "pass"},
		StreamInterval: time.Second,
		StatusCheck:    true,
		Session:        session.DefaultConfig(),
	}
}

// ConnectedClient is the observed state of one accepted client.
type ConnectedClient struct {
	ClientID       string
	Username       string
	RemoteAddr     string
	ConnectedAt    time.Time
	LastFreeMemory string
	StatusReports  uint64
}

type Option func(*Service)

func WithClock(clk clock.Clock) Option {
	return func(s *Service) { s.clock = clk }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.log = logger }
}

// Service accepts shell clients and serves the demo routes.
type Service struct {
	cfg   Config
	clock clock.Clock
	log   zerolog.Logger

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	clientsMu sync.Mutex
	clients   map[string]*ConnectedClient

	clientCount atomic.Int64
}

func NewService(cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(cfg.SetupRoute) == "" {
		cfg.SetupRoute = def.SetupRoute
	}
	if cfg.Validator == nil {
		cfg.Validator = def.Validator
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = def.StreamInterval
	}
	cfg.Session = cfg.Session.WithDefaults()
	s := &Service{
		cfg:     cfg,
		clock:   clock.New(),
		log:     log.With().Str("component", "peer").Logger(),
		conns:   make(map[net.Conn]struct{}),
		clients: make(map[string]*ConnectedClient),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run listens on the configured address and serves until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ln, err := transport.Listen(s.cfg.Session, s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.log.Warn().Msgf("peer.Service.Run listening addr=%q", ln.Addr().String())
	return s.Serve(ctx, ln)
}

// Serve accepts clients on ln until ctx is done or ln is closed.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		_ = ln.Close()
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		_ = ln.Close()
		s.closeAllConns()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		for {
			nc, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			s.trackConn(nc)
			g.Go(func() error {
				s.handleConn(gctx, nc)
				return nil
			})
		}
	})
	return g.Wait()
}

// Clients returns a snapshot of the connected clients ordered by remote address.
func (s *Service) Clients() []ConnectedClient {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	out := make([]ConnectedClient, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b ConnectedClient) int { return strings.Compare(a.RemoteAddr, b.RemoteAddr) })
	return out
}

func (s *Service) handleConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	defer s.untrackConn(nc)
	remote := nc.RemoteAddr().String()

	var accepted ConnectedClient
	conn, err := transport.Accept(ctx, nc, s.cfg.Session, func(ctx context.Context, setup session.Setup) (*transport.Router, error) {
		info, err := s.authorize(setup)
		if err != nil {
			return nil, err
		}
		info.RemoteAddr = remote
		accepted = info
		return s.router(info), nil
	})
	if err != nil {
		s.log.Warn().Msgf("peer.handleConn setup failed remote=%q err=%v", remote, err)
		return
	}

	active := s.clientCount.Add(1)
	s.log.Warn().Msgf("peer.session client connected remote=%q client_id=%s active_clients=%d", remote, accepted.ClientID, active)
	s.addClient(accepted)
	defer func() {
		s.removeClient(remote)
		remaining := s.clientCount.Add(-1)
		s.log.Warn().Msgf("peer.session client disconnected remote=%q client_id=%s active_clients=%d", remote, accepted.ClientID, remaining)
	}()

	if s.cfg.StatusCheck {
		go s.checkStatus(conn, accepted)
	}
	select {
	case <-conn.Done():
	case <-ctx.Done():
		_ = conn.Close()
	}
}

// authorize validates the setup route, credentials and client id.
func (s *Service) authorize(setup session.Setup) (ConnectedClient, error) {
	if setup.Route != s.cfg.SetupRoute {
		return ConnectedClient{}, fmt.Errorf("%w: %q", ErrUnknownSetupRoute, setup.Route)
	}
	if setup.MetadataMime != auth.MimeType {
		return ConnectedClient{}, fmt.Errorf("%w: %q", ErrUnsupportedAuth, setup.MetadataMime)
	}
	creds, err := auth.DecodeSimple(setup.Metadata)
	if err != nil {
		return ConnectedClient{}, err
	}
	if err := s.cfg.Validator.Validate(creds); err != nil {
		s.log.Warn().Object("credentials", creds).Msg("peer.authorize rejected")
		return ConnectedClient{}, err
	}
	clientID, err := payload.DecodeText(setup.Data)
	if err != nil {
		return ConnectedClient{}, err
	}
	return ConnectedClient{
		ClientID:    clientID,
		Username:    creds.Username,
		ConnectedAt: s.clock.Now(),
	}, nil
}

// checkStatus calls the client's status route and records each snapshot until
// the client ends the stream or disconnects.
func (s *Service) checkStatus(conn *transport.Conn, info ConnectedClient) {
	clientID := info.ClientID
	status, err := payload.EncodeText("OPEN")
	if err != nil {
		return
	}
	st, err := conn.RequestStream(context.Background(), client.RouteClientStatus, status)
	if err != nil {
		s.log.Warn().Msgf("peer.checkStatus open client_id=%s err=%v", clientID, err)
		return
	}
	defer st.Cancel()
	for {
		data, err := st.Recv()
		if err != nil {
			s.log.Debug().Msgf("peer.checkStatus ended client_id=%s err=%v", clientID, err)
			return
		}
		snapshot, err := payload.DecodeText(data)
		if err != nil {
			s.log.Warn().Msgf("peer.checkStatus decode client_id=%s err=%v", clientID, err)
			return
		}
		s.log.Info().Msgf("Client %s free memory: %s bytes", clientID, snapshot)
		s.recordStatus(info.RemoteAddr, snapshot)
	}
}

func (s *Service) addClient(c ConnectedClient) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c.RemoteAddr] = &c
}

func (s *Service) removeClient(remote string) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, remote)
}

func (s *Service) recordStatus(remote, snapshot string) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if c, ok := s.clients[remote]; ok {
		c.LastFreeMemory = snapshot
		c.StatusReports++
	}
}

func (s *Service) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.connsMu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}
