// Package auth encodes and validates username/password credentials carried in
// connection setup metadata.
//
// It intentionally avoids policy decisions and storage concerns.
package auth

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// MimeType identifies simple-auth setup metadata.
const MimeType = "message/x.rsocket.authentication.v0"

// simpleAuthType is the well-known auth type id for username/password.
const simpleAuthType byte = 0x80

var (
	ErrUnauthorized    = errors.New("auth: unauthorized")
	ErrEmptyUsername   = errors.New("auth: empty username")
	ErrUsernameTooLong = errors.New("auth: username too long")
	ErrMalformed       = errors.New("auth: malformed metadata")
)

// Credentials are held for one login and never persisted.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials(username=%s, password=<redacted>)", c.Username)
}

func (c Credentials) MarshalZerologObject(e *zerolog.Event) {
	e.Str("username", c.Username).Bool("password_set", c.Password != "")
}

// Authenticator turns credentials into opaque setup metadata.
type Authenticator interface {
	MimeType() string
	Metadata(creds Credentials) ([]byte, error)
}

// SimpleAuthenticator produces simple-auth metadata.
type SimpleAuthenticator struct{}

func (SimpleAuthenticator) MimeType() string {
	return MimeType
}

func (SimpleAuthenticator) Metadata(creds Credentials) ([]byte, error) {
	return EncodeSimple(creds)
}

// EncodeSimple lays out [auth type][u16 username length][username][password].
func EncodeSimple(creds Credentials) ([]byte, error) {
	if creds.Username == "" {
		return nil, ErrEmptyUsername
	}
	if len(creds.Username) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d bytes", ErrUsernameTooLong, len(creds.Username))
	}
	buf := make([]byte, 3+len(creds.Username)+len(creds.Password))
	buf[0] = simpleAuthType
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(creds.Username)))
	n := copy(buf[3:], creds.Username)
	copy(buf[3+n:], creds.Password)
	return buf, nil
}

func DecodeSimple(metadata []byte) (Credentials, error) {
	if len(metadata) < 3 {
		return Credentials{}, fmt.Errorf("%w: short header", ErrMalformed)
	}
	if metadata[0] != simpleAuthType {
		return Credentials{}, fmt.Errorf("%w: auth type 0x%02x", ErrMalformed, metadata[0])
	}
	l := int(binary.BigEndian.Uint16(metadata[1:3]))
	if l == 0 {
		return Credentials{}, ErrEmptyUsername
	}
	if len(metadata)-3 < l {
		return Credentials{}, fmt.Errorf("%w: short username", ErrMalformed)
	}
	return Credentials{
		Username: string(metadata[3 : 3+l]),
		Password: string(metadata[3+l:]),
	}, nil
}

// Validator validates decoded credentials.
type Validator interface {
	Validate(creds Credentials) error
}

// StaticCredentials is a simple validator for a single user.
// It is intended only for development and proofs of concept.
type StaticCredentials struct {
	Username string
	Password string
}

func (s StaticCredentials) Validate(creds Credentials) error {
	if s.Username == "" {
		return ErrUnauthorized
	}
	userOK := subtle.ConstantTimeCompare([]byte(s.Username), []byte(creds.Username))
	passOK := subtle.ConstantTimeCompare([]byte(s.Password), []byte(creds.Password))
	if userOK&passOK != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(creds Credentials) error

func (f FuncValidator) Validate(creds Credentials) error {
	return f(creds)
}
