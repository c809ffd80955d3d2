package transport

import (
	"errors"
	"fmt"

	"github.com/danmuck/streamshell/internal/protocol/session"
)

var (
	ErrClosed          = errors.New("transport: connection closed")
	ErrConnectionLost  = errors.New("transport: connection lost")
	ErrCanceled        = errors.New("transport: canceled")
	ErrHandshake       = errors.New("transport: setup handshake failed")
	ErrEmptyResponse   = errors.New("transport: response completed without payload")
	ErrUnexpectedFrame = errors.New("transport: unexpected frame")
	ErrAddressRequired = errors.New("transport: address required")
)

// CallError is a failure reported by the remote responder.
type CallError struct {
	Code    session.ErrorCode
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("transport: remote error code=%s: %s", e.Code, e.Message)
}

// Rejected reports whether the peer refused the connection setup.
func (e *CallError) Rejected() bool {
	return e.Code == session.CodeRejectedSetup
}
