package transport

import (
	"bufio"
	"sync"
	"time"

	"github.com/danmuck/streamshell/internal/protocol/frame"
	"github.com/danmuck/streamshell/internal/protocol/session"
	"github.com/libp2p/go-yamux/v5"
)

// wire frames one yamux stream. Reads are single-consumer; writes are
// serialized so a cancel never interleaves with a payload.
type wire struct {
	s       *yamux.Stream
	id      uint64
	r       *bufio.Reader
	limits  frame.Limits
	timeout time.Duration
	mu      sync.Mutex
}

func newWire(s *yamux.Stream, cfg session.Config) *wire {
	return &wire{
		s:       s,
		id:      uint64(s.StreamID()),
		r:       bufio.NewReader(s),
		limits:  cfg.Limits,
		timeout: cfg.WriteTimeout,
	}
}

func (w *wire) write(f frame.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLocked(f)
}

// tryWrite writes f only when no other write is in flight.
func (w *wire) tryWrite(f frame.Frame) bool {
	if !w.mu.TryLock() {
		return false
	}
	defer w.mu.Unlock()
	return w.writeLocked(f) == nil
}

func (w *wire) writeLocked(f frame.Frame) error {
	if w.timeout > 0 {
		_ = w.s.SetWriteDeadline(time.Now().Add(w.timeout))
		defer w.s.SetWriteDeadline(time.Time{})
	}
	f.Header.StreamID = w.id
	return frame.WriteFrame(w.s, f, w.limits)
}

func (w *wire) read() (frame.Frame, error) {
	return frame.ReadFrame(w.r, w.limits)
}

func (w *wire) close() {
	_ = w.s.Close()
}

func (w *wire) reset() {
	_ = w.s.Reset()
}
