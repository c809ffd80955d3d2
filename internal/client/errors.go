package client

import (
	"errors"
	"fmt"

	"github.com/danmuck/streamshell/internal/transport"
)

// ErrNotConnected is returned by every interaction attempted before login. It
// is expected and user-correctable, not a failure.
var ErrNotConnected = errors.New("client: not connected")

// CallError is a peer-reported failure during an interaction.
type CallError = transport.CallError

// ConnectionError reports that a connection could not be established.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("client: connect %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
