package transport

import (
	"context"
	"sort"
	"sync"

	"github.com/danmuck/streamshell/internal/protocol/frame"
)

// Emit sends one element on a responder stream. It returns ErrCanceled once the
// opener has canceled.
type Emit func(data []byte) error

type (
	ResponseHandler func(ctx context.Context, data []byte) ([]byte, error)
	FireHandler     func(ctx context.Context, data []byte)
	StreamHandler   func(ctx context.Context, data []byte, emit Emit) error
	ChannelHandler  func(ctx context.Context, in <-chan []byte, emit Emit) error
)

// Router dispatches inbound interactions by route. A nil *Router serves nothing.
type Router struct {
	mu       sync.RWMutex
	response map[string]ResponseHandler
	fire     map[string]FireHandler
	stream   map[string]StreamHandler
	channel  map[string]ChannelHandler
}

func NewRouter() *Router {
	return &Router{
		response: make(map[string]ResponseHandler),
		fire:     make(map[string]FireHandler),
		stream:   make(map[string]StreamHandler),
		channel:  make(map[string]ChannelHandler),
	}
}

func (r *Router) HandleResponse(route string, h ResponseHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.response[route] = h
}

func (r *Router) HandleFire(route string, h FireHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fire[route] = h
}

func (r *Router) HandleStream(route string, h StreamHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stream[route] = h
}

func (r *Router) HandleChannel(route string, h ChannelHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channel[route] = h
}

// Routes lists registered routes for one interaction type, sorted.
func (r *Router) Routes(t frame.Type) []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	switch t {
	case frame.TypeRequestResponse:
		for route := range r.response {
			out = append(out, route)
		}
	case frame.TypeFireAndForget:
		for route := range r.fire {
			out = append(out, route)
		}
	case frame.TypeRequestStream:
		for route := range r.stream {
			out = append(out, route)
		}
	case frame.TypeRequestChannel:
		for route := range r.channel {
			out = append(out, route)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Router) responseHandler(route string) (ResponseHandler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.response[route]
	return h, ok
}

func (r *Router) fireHandler(route string) (FireHandler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.fire[route]
	return h, ok
}

func (r *Router) streamHandler(route string) (StreamHandler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.stream[route]
	return h, ok
}

func (r *Router) channelHandler(route string) (ChannelHandler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.channel[route]
	return h, ok
}
