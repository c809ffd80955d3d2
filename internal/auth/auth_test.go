package auth

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/streamshell/internal/testutil/testlog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestSimpleRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := Credentials{Username: "user", Password: "pass"}
	md, err := SimpleAuthenticator{}.Metadata(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{0x80, 0x00, 0x04, 'u', 's', 'e', 'r', 'p', 'a', 's', 's'}
	if !bytes.Equal(md, want) {
		t.Fatalf("unexpected metadata: %x", md)
	}
	out, err := DecodeSimple(md)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %v", out)
	}
	log.Debug().Object("creds", out).Msg("auth/simple round trip ok")
}

func TestSimpleEmptyPassword(t *testing.T) {
	testlog.Start(t)
	md, err := EncodeSimple(Credentials{Username: "u"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeSimple(md)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Username != "u" || out.Password != "" {
		t.Fatalf("unexpected credentials: %v", out)
	}
}

func TestSimpleRejectsMalformed(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{name: "short header", input: []byte{0x80, 0x00}, wantErr: ErrMalformed},
		{name: "wrong auth type", input: []byte{0x81, 0x00, 0x01, 'u'}, wantErr: ErrMalformed},
		{name: "short username", input: []byte{0x80, 0x00, 0x05, 'u'}, wantErr: ErrMalformed},
		{name: "empty username", input: []byte{0x80, 0x00, 0x00, 'p'}, wantErr: ErrEmptyUsername},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeSimple(tc.input); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
	if _, err := EncodeSimple(Credentials{Password: "p"}); !errors.Is(err, ErrEmptyUsername) {
		t.Fatalf("expected ErrEmptyUsername, got %v", err)
	}
}

func TestCredentialsNeverLogPassword(t *testing.T) {
	testlog.Start(t)
	creds := Credentials{Username: "user", Password: "hunter2"}
	if strings.Contains(creds.String(), "hunter2") {
		t.Fatalf("String leaked password: %s", creds)
	}

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Info().Object("creds", creds).Msg("login")
	if strings.Contains(buf.String(), "hunter2") {
		t.Fatalf("log line leaked password: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"username":"user"`) {
		t.Fatalf("log line missing username: %s", buf.String())
	}
}

func TestStaticCredentialsValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  StaticCredentials
		input   Credentials
		wantErr error
	}{
		{name: "empty stored user denied", stored: StaticCredentials{}, input: Credentials{Username: "u"}, wantErr: ErrUnauthorized},
		{name: "wrong password denied", stored: StaticCredentials{Username: "u", Password: "p"}, input: Credentials{Username: "u", Password: "x"}, wantErr: ErrUnauthorized},
		{name: "wrong user denied", stored: StaticCredentials{Username: "u", Password: "p"}, input: Credentials{Username: "v", Password: "p"}, wantErr: ErrUnauthorized},
		{name: "matching accepted", stored: StaticCredentials{Username: "u", Password: "p"}, input: Credentials{Username: "u", Password: "p"}, wantErr: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.stored.Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	validator := FuncValidator(func(creds Credentials) error {
		if creds.Username != "ok" {
			return ErrUnauthorized
		}
		return nil
	})
	if err := validator.Validate(Credentials{Username: "bad"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := validator.Validate(Credentials{Username: "ok"}); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}
