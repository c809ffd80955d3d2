package transport

import (
	"context"

	"github.com/danmuck/streamshell/internal/protocol/session"
)

// Dialer opens Conns with a fixed session configuration.
type Dialer struct {
	Config session.Config
}

func (d Dialer) Dial(ctx context.Context, address string, setup session.Setup, router *Router) (Channel, error) {
	conn, err := Dial(ctx, d.Config, address, setup, router)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
