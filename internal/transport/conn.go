package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/streamshell/internal/observability"
	"github.com/danmuck/streamshell/internal/protocol/frame"
	"github.com/danmuck/streamshell/internal/protocol/session"
	"github.com/libp2p/go-yamux/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Channel is one authenticated, multiplexed connection to a peer.
type Channel interface {
	RequestResponse(ctx context.Context, route string, data []byte) ([]byte, error)
	// FireAndForget returns once the request frame has been handed to the
	// connection. No response is read.
	FireAndForget(ctx context.Context, route string, data []byte) error
	// RequestStream and RequestChannel use ctx for setup only. The returned
	// Stream lives until completion, failure, Cancel or connection close.
	RequestStream(ctx context.Context, route string, data []byte) (Stream, error)
	RequestChannel(ctx context.Context, route string, out <-chan []byte) (Stream, error)
	// Done is closed once the connection is gone for any reason.
	Done() <-chan struct{}
	// Err is nil after a local Close and ErrConnectionLost otherwise.
	Err() error
	Close() error
}

var _ Channel = (*Conn)(nil)

// Acceptor inspects a client's setup and returns the routes served for it.
// Returning an error rejects the connection.
type Acceptor func(ctx context.Context, setup session.Setup) (*Router, error)

// Conn is a yamux-backed Channel. Both ends may open interactions.
type Conn struct {
	cfg    session.Config
	mux    *yamux.Session
	log    zerolog.Logger
	router *Router

	ctx    context.Context
	cancel context.CancelFunc

	closing atomic.Bool
	done    chan struct{}
	errMu   sync.Mutex
	err     error
}

func newConn(parent context.Context, cfg session.Config, mux *yamux.Session, logger zerolog.Logger) *Conn {
	ctx, cancel := context.WithCancel(parent)
	return &Conn{
		cfg:    cfg,
		mux:    mux,
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Dial connects to address, performs the setup handshake and starts serving
// router for peer-initiated interactions.
func Dial(ctx context.Context, cfg session.Config, address string, setup session.Setup, router *Router) (*Conn, error) {
	if strings.TrimSpace(address) == "" {
		return nil, ErrAddressRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	nc, err := dialNet(ctx, cfg, address)
	if err != nil {
		return nil, err
	}

	logger := log.With().Str("component", "transport").Str("remote", address).Logger()
	mux, err := yamux.Client(nc, muxConfig(cfg, logger), nil)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	c := newConn(context.Background(), cfg, mux, logger)
	if err := c.sendSetup(ctx, setup); err != nil {
		_ = mux.Close()
		c.cancel()
		return nil, err
	}
	c.start(router)
	logger.Debug().Msgf("transport.Dial connected route=%q", setup.Route)
	return c, nil
}

// Accept runs the responder side of the setup handshake on nc.
func Accept(ctx context.Context, nc net.Conn, cfg session.Config, acceptor Acceptor) (*Conn, error) {
	cfg = cfg.WithDefaults()
	remote := nc.RemoteAddr().String()
	logger := log.With().Str("component", "transport").Str("remote", remote).Logger()
	mux, err := yamux.Server(nc, muxConfig(cfg, logger), nil)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	c := newConn(ctx, cfg, mux, logger)
	router, err := c.awaitSetup(ctx, acceptor)
	if err != nil {
		_ = mux.Close()
		c.cancel()
		return nil, err
	}
	c.start(router)
	return c, nil
}

// Listen opens a TCP or TLS listener based on transport policy.
func Listen(cfg session.Config, address string) (net.Listener, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return net.Listen("tcp", address)
	}
	tlsCfg, err := cfg.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", address, tlsCfg)
}

func dialNet(ctx context.Context, cfg session.Config, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := cfg.ClientTLSConfig(address)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func muxConfig(cfg session.Config, logger zerolog.Logger) *yamux.Config {
	mc := yamux.DefaultConfig()
	mc.EnableKeepAlive = cfg.KeepAliveInterval > 0
	if cfg.KeepAliveInterval > 0 {
		mc.KeepAliveInterval = cfg.KeepAliveInterval
	}
	if cfg.WriteTimeout > 0 {
		mc.ConnectionWriteTimeout = cfg.WriteTimeout
	}
	mc.LogOutput = logger.Level(zerolog.WarnLevel)
	return mc
}

func (c *Conn) sendSetup(ctx context.Context, setup session.Setup) error {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	s, err := c.mux.OpenStream(hctx)
	if err != nil {
		return fmt.Errorf("%w: open setup stream: %v", ErrHandshake, err)
	}
	stop := context.AfterFunc(hctx, func() { _ = s.Reset() })
	defer stop()

	w := newWire(s, c.cfg)
	f, err := session.EncodeSetupFrame(setup)
	if err != nil {
		w.reset()
		return err
	}
	if err := w.write(f); err != nil {
		w.reset()
		return fmt.Errorf("%w: write setup: %v", ErrHandshake, err)
	}
	if deadline, ok := hctx.Deadline(); ok {
		_ = s.SetReadDeadline(deadline)
	}
	reply, err := w.read()
	if err != nil {
		w.reset()
		if ctxErr := hctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ErrHandshake, ctxErr)
		}
		return fmt.Errorf("%w: read setup reply: %v", ErrHandshake, err)
	}
	w.close()

	switch reply.Header.Type {
	case frame.TypePayload:
		if !reply.Has(frame.FlagComplete) {
			return fmt.Errorf("%w: setup reply missing complete flag", ErrHandshake)
		}
		return nil
	case frame.TypeError:
		p, err := session.DecodeErrorFrame(reply)
		if err != nil {
			return err
		}
		c.log.Warn().Msgf("transport.sendSetup rejected code=%s message=%q", p.Code, p.Message)
		return &CallError{Code: p.Code, Message: p.Message}
	default:
		return fmt.Errorf("%w: setup reply %s", ErrUnexpectedFrame, reply.Header.Type)
	}
}

func (c *Conn) awaitSetup(ctx context.Context, acceptor Acceptor) (*Router, error) {
	timer := time.AfterFunc(c.cfg.HandshakeTimeout, func() { _ = c.mux.Close() })
	defer timer.Stop()

	s, err := c.mux.AcceptStream()
	if err != nil {
		return nil, fmt.Errorf("%w: accept setup stream: %v", ErrHandshake, err)
	}
	w := newWire(s, c.cfg)
	_ = s.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	f, err := w.read()
	if err != nil {
		w.reset()
		return nil, fmt.Errorf("%w: read setup: %v", ErrHandshake, err)
	}
	_ = s.SetReadDeadline(time.Time{})

	setup, err := session.DecodeSetupFrame(f)
	if err != nil {
		c.rejectSetup(w, session.CodeInvalid, err.Error())
		return nil, err
	}
	router, err := acceptor(ctx, setup)
	if err != nil {
		c.log.Warn().Msgf("transport.awaitSetup rejected route=%q err=%v", setup.Route, err)
		c.rejectSetup(w, session.CodeRejectedSetup, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if err := w.write(session.EncodePayloadFrame(w.id, nil, frame.FlagComplete)); err != nil {
		w.reset()
		return nil, fmt.Errorf("%w: write setup ack: %v", ErrHandshake, err)
	}
	w.close()
	return router, nil
}

// rejectSetup reports the failure and waits for the client to hang up so the
// error frame is not lost to an early close.
func (c *Conn) rejectSetup(w *wire, code session.ErrorCode, message string) {
	if err := w.write(session.EncodeErrorFrame(w.id, code, message)); err != nil {
		w.reset()
		return
	}
	_ = w.s.CloseWrite()
	_ = w.s.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	_, _ = io.Copy(io.Discard, w.s)
}

func (c *Conn) start(router *Router) {
	c.router = router
	go c.watch()
	go c.acceptLoop()
}

func (c *Conn) watch() {
	<-c.mux.CloseChan()
	if !c.closing.Load() {
		c.errMu.Lock()
		c.err = ErrConnectionLost
		c.errMu.Unlock()
		c.log.Debug().Msg("transport.Conn connection lost")
	}
	c.cancel()
	close(c.done)
}

func (c *Conn) acceptLoop() {
	for {
		s, err := c.mux.AcceptStream()
		if err != nil {
			return
		}
		go c.serveStream(s)
	}
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	c.closing.Store(true)
	err := c.mux.Close()
	<-c.done
	return err
}

func (c *Conn) open(ctx context.Context, t frame.Type, route string, data []byte) (*wire, error) {
	s, err := c.mux.OpenStream(ctx)
	if err != nil {
		if c.mux.IsClosed() {
			return nil, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return nil, err
	}
	w := newWire(s, c.cfg)
	f, err := session.EncodeRequestFrame(t, w.id, session.Request{Route: route, Data: data})
	if err != nil {
		w.reset()
		return nil, err
	}
	if err := w.write(f); err != nil {
		w.reset()
		return nil, err
	}
	return w, nil
}

func (c *Conn) RequestResponse(ctx context.Context, route string, data []byte) ([]byte, error) {
	w, err := c.open(ctx, frame.TypeRequestResponse, route, data)
	if err != nil {
		return nil, err
	}
	st := newClientStream(w, nil)
	stop := context.AfterFunc(ctx, st.Cancel)
	defer stop()

	resp, err := st.Recv()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyResponse
		}
		return nil, err
	}
	st.finish()
	return resp, nil
}

func (c *Conn) FireAndForget(ctx context.Context, route string, data []byte) error {
	w, err := c.open(ctx, frame.TypeFireAndForget, route, data)
	if err != nil {
		return err
	}
	w.close()
	return nil
}

func (c *Conn) RequestStream(ctx context.Context, route string, data []byte) (Stream, error) {
	w, err := c.open(ctx, frame.TypeRequestStream, route, data)
	if err != nil {
		return nil, err
	}
	return newClientStream(w, nil), nil
}

func (c *Conn) RequestChannel(ctx context.Context, route string, out <-chan []byte) (Stream, error) {
	w, err := c.open(ctx, frame.TypeRequestChannel, route, nil)
	if err != nil {
		return nil, err
	}
	sendCtx, stop := context.WithCancel(c.ctx)
	go c.pump(sendCtx, stop, w, out)
	return newClientStream(w, stop), nil
}

// pump forwards outbound channel elements until out closes, the stream is
// canceled or the connection goes away.
func (c *Conn) pump(ctx context.Context, stop context.CancelFunc, w *wire, out <-chan []byte) {
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-out:
			if !ok {
				_ = w.write(session.EncodePayloadFrame(w.id, nil, frame.FlagComplete))
				_ = w.s.CloseWrite()
				return
			}
			if err := w.write(session.EncodePayloadFrame(w.id, data, frame.FlagNext)); err != nil {
				if ctx.Err() == nil {
					c.log.Debug().Msgf("transport.pump write stream_id=%d err=%v", w.id, err)
				}
				return
			}
		}
	}
}

func (c *Conn) serveStream(s *yamux.Stream) {
	w := newWire(s, c.cfg)
	_ = s.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	f, err := w.read()
	if err != nil {
		c.log.Debug().Msgf("transport.serveStream read request stream_id=%d err=%v", w.id, err)
		w.reset()
		return
	}
	_ = s.SetReadDeadline(time.Time{})

	req, err := session.DecodeRequestFrame(f)
	if err != nil {
		c.log.Warn().Msgf("transport.serveStream invalid request stream_id=%d err=%v", w.id, err)
		_ = w.write(session.EncodeErrorFrame(w.id, session.CodeInvalid, err.Error()))
		w.close()
		return
	}

	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	var outcome string
	switch f.Header.Type {
	case frame.TypeRequestResponse:
		outcome = c.serveResponse(ctx, cancel, w, req)
	case frame.TypeFireAndForget:
		outcome = c.serveFire(ctx, w, req)
	case frame.TypeRequestStream:
		outcome = c.serveRequestStream(ctx, cancel, w, req)
	case frame.TypeRequestChannel:
		outcome = c.serveChannel(ctx, cancel, w, req)
	}
	observability.RecordInboundCall(req.Route, outcome)
	c.log.Debug().Msgf("transport.serveStream done type=%s route=%q outcome=%s", f.Header.Type, req.Route, outcome)
}

func (c *Conn) unknownRoute(w *wire, t frame.Type, route string) string {
	c.log.Warn().Msgf("transport.serveStream no handler type=%s route=%q", t, route)
	_ = w.write(session.EncodeErrorFrame(w.id, session.CodeInvalid, fmt.Sprintf("no %s handler for route %q", t, route)))
	w.close()
	return observability.OutcomeError
}

func (c *Conn) serveResponse(ctx context.Context, cancel context.CancelFunc, w *wire, req session.Request) string {
	h, ok := c.router.responseHandler(req.Route)
	if !ok {
		return c.unknownRoute(w, frame.TypeRequestResponse, req.Route)
	}
	go c.watchInbound(ctx, cancel, w, nil)

	resp, err := h(ctx, req.Data)
	return c.finishResponder(ctx, w, err, func() error {
		return w.write(session.EncodePayloadFrame(w.id, resp, frame.FlagNext|frame.FlagComplete))
	})
}

func (c *Conn) serveFire(ctx context.Context, w *wire, req session.Request) string {
	defer w.close()
	h, ok := c.router.fireHandler(req.Route)
	if !ok {
		c.log.Warn().Msgf("transport.serveStream no handler type=%s route=%q", frame.TypeFireAndForget, req.Route)
		return observability.OutcomeError
	}
	h(ctx, req.Data)
	return observability.OutcomeOK
}

func (c *Conn) serveRequestStream(ctx context.Context, cancel context.CancelFunc, w *wire, req session.Request) string {
	h, ok := c.router.streamHandler(req.Route)
	if !ok {
		return c.unknownRoute(w, frame.TypeRequestStream, req.Route)
	}
	go c.watchInbound(ctx, cancel, w, nil)

	err := h(ctx, req.Data, c.emitter(ctx, w))
	return c.finishResponder(ctx, w, err, func() error {
		return w.write(session.EncodePayloadFrame(w.id, nil, frame.FlagComplete))
	})
}

func (c *Conn) serveChannel(ctx context.Context, cancel context.CancelFunc, w *wire, req session.Request) string {
	h, ok := c.router.channelHandler(req.Route)
	if !ok {
		return c.unknownRoute(w, frame.TypeRequestChannel, req.Route)
	}
	in := make(chan []byte)
	go c.watchInbound(ctx, cancel, w, in)

	err := h(ctx, in, c.emitter(ctx, w))
	return c.finishResponder(ctx, w, err, func() error {
		return w.write(session.EncodePayloadFrame(w.id, nil, frame.FlagComplete))
	})
}

func (c *Conn) emitter(ctx context.Context, w *wire) Emit {
	return func(data []byte) error {
		if ctx.Err() != nil {
			return ErrCanceled
		}
		if err := w.write(session.EncodePayloadFrame(w.id, data, frame.FlagNext)); err != nil {
			if ctx.Err() != nil {
				return ErrCanceled
			}
			return err
		}
		return nil
	}
}

func (c *Conn) finishResponder(ctx context.Context, w *wire, err error, complete func() error) string {
	if ctx.Err() != nil {
		w.reset()
		return observability.OutcomeCanceled
	}
	if err != nil {
		_ = w.write(session.EncodeErrorFrame(w.id, session.CodeApplication, err.Error()))
		w.close()
		return observability.OutcomeError
	}
	if werr := complete(); werr != nil {
		w.reset()
		return observability.OutcomeError
	}
	w.close()
	return observability.OutcomeOK
}

// watchInbound reads the opener's side of a responder stream. A cancel frame
// or a reset cancels ctx. For channels, payloads are forwarded to in, which is
// closed on completion or when reading stops.
func (c *Conn) watchInbound(ctx context.Context, cancel context.CancelFunc, w *wire, in chan<- []byte) {
	defer func() {
		if in != nil {
			close(in)
		}
	}()
	for {
		f, err := w.read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				cancel()
			}
			return
		}
		switch f.Header.Type {
		case frame.TypeCancel:
			cancel()
			return
		case frame.TypePayload:
			if in == nil {
				continue
			}
			if f.Has(frame.FlagNext) {
				data, err := session.DecodePayloadFrame(f)
				if err != nil {
					cancel()
					return
				}
				select {
				case in <- data:
				case <-ctx.Done():
					return
				}
			}
			if f.Has(frame.FlagComplete) {
				close(in)
				in = nil
			}
		default:
			c.log.Debug().Msgf("transport.watchInbound ignoring type=%s stream_id=%d", f.Header.Type, w.id)
		}
	}
}
