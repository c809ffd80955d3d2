package session

import (
	"bytes"
	"crypto/tls"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/streamshell/internal/protocol/frame"
	"github.com/danmuck/streamshell/internal/testutil/testlog"
	"github.com/danmuck/streamshell/internal/testutil/tlstest"
)

func roundTrip(t *testing.T, f frame.Frame) frame.Frame {
	t.Helper()
	var buf bytes.Buffer
	if err := frame.WriteFrame(&buf, f, frame.DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := frame.ReadFrame(&buf, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return out
}

func TestSetupRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := Setup{
		Route:        "shell-client",
		DataMime:     "application/cbor",
		MetadataMime: "message/x.rsocket.authentication.v0",
		Data:         []byte("client-id"),
		Metadata:     []byte{0x80, 0x00, 0x01, 'u', 'p'},
	}
	f, err := EncodeSetupFrame(in)
	if err != nil {
		t.Fatalf("encode setup: %v", err)
	}
	got, err := DecodeSetupFrame(roundTrip(t, f))
	if err != nil {
		t.Fatalf("decode setup: %v", err)
	}
	if got.Route != in.Route || got.DataMime != in.DataMime || got.MetadataMime != in.MetadataMime {
		t.Fatalf("unexpected setup: %+v", got)
	}
	if !bytes.Equal(got.Data, in.Data) || !bytes.Equal(got.Metadata, in.Metadata) {
		t.Fatalf("setup bytes mismatch: %+v", got)
	}
}

func TestSetupValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name  string
		setup Setup
	}{
		{name: "missing route", setup: Setup{DataMime: "application/cbor"}},
		{name: "missing data mime", setup: Setup{Route: "shell-client"}},
		{name: "metadata without mime", setup: Setup{Route: "shell-client", DataMime: "application/cbor", Metadata: []byte{1}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := EncodeSetupFrame(tc.setup); !errors.Is(err, ErrInvalidSetup) {
				t.Fatalf("expected ErrInvalidSetup, got %v", err)
			}
		})
	}
}

func TestRequestRoundTrip(t *testing.T) {
	testlog.Start(t)
	for _, typ := range []frame.Type{
		frame.TypeRequestResponse,
		frame.TypeFireAndForget,
		frame.TypeRequestStream,
		frame.TypeRequestChannel,
	} {
		f, err := EncodeRequestFrame(typ, 7, Request{Route: "stream", Data: []byte{0xA1}})
		if err != nil {
			t.Fatalf("encode %s: %v", typ, err)
		}
		out := roundTrip(t, f)
		if out.Header.Type != typ || out.Header.StreamID != 7 {
			t.Fatalf("unexpected header: %+v", out.Header)
		}
		req, err := DecodeRequestFrame(out)
		if err != nil {
			t.Fatalf("decode %s: %v", typ, err)
		}
		if req.Route != "stream" || !bytes.Equal(req.Data, []byte{0xA1}) {
			t.Fatalf("unexpected request: %+v", req)
		}
	}
}

func TestRequestRejectsNonRequestTypes(t *testing.T) {
	testlog.Start(t)
	if _, err := EncodeRequestFrame(frame.TypePayload, 1, Request{Route: "x"}); !errors.Is(err, ErrUnexpectedType) {
		t.Fatalf("expected ErrUnexpectedType, got %v", err)
	}
	if _, err := EncodeRequestFrame(frame.TypeRequestStream, 1, Request{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := DecodeRequestFrame(EncodeCancelFrame(1)); !errors.Is(err, ErrUnexpectedType) {
		t.Fatalf("expected ErrUnexpectedType, got %v", err)
	}
}

func TestPayloadFrames(t *testing.T) {
	testlog.Start(t)
	next := roundTrip(t, EncodePayloadFrame(3, []byte("x"), frame.FlagNext))
	data, err := DecodePayloadFrame(next)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if string(data) != "x" || !next.Has(frame.FlagNext) || next.Has(frame.FlagComplete) {
		t.Fatalf("unexpected next frame: %+v data=%q", next.Header, data)
	}

	done := roundTrip(t, EncodePayloadFrame(3, nil, frame.FlagComplete))
	data, err = DecodePayloadFrame(done)
	if err != nil {
		t.Fatalf("decode complete: %v", err)
	}
	if data != nil || !done.Has(frame.FlagComplete) {
		t.Fatalf("unexpected complete frame: %+v data=%v", done.Header, data)
	}
}

func TestErrorFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	out := roundTrip(t, EncodeErrorFrame(9, CodeRejectedSetup, "bad credentials"))
	got, err := DecodeErrorFrame(out)
	if err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if got.Code != CodeRejectedSetup || got.Message != "bad credentials" {
		t.Fatalf("unexpected error payload: %+v", got)
	}
	if got.Code.String() != "rejected_setup" {
		t.Fatalf("unexpected code name: %s", got.Code)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{WriteTimeout: time.Second, SecurityMode: " Production "}.WithDefaults()
	def := DefaultConfig()
	if cfg.WriteTimeout != time.Second {
		t.Fatalf("explicit value overwritten: %v", cfg.WriteTimeout)
	}
	if cfg.ConnectTimeout != def.ConnectTimeout || cfg.Limits != def.Limits {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.SecurityMode != SecurityModeProduction {
		t.Fatalf("security mode not normalized: %q", cfg.SecurityMode)
	}
}

func TestValidateClientTransportProductionRequiresTLS(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}

	cfg.TLS.Enabled = true
	cfg.TLS.InsecureSkipVerify = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSInsecureSkipNotAllow) {
		t.Fatalf("expected ErrTLSInsecureSkipNotAllow, got %v", err)
	}
}

func TestValidateClientTransportMutualRequiresCertKeyCA(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.TLS.Enabled = true
	cfg.TLS.Mutual = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}

	cfg.TLS.CAFile = "/tmp/ca.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}

	cfg.TLS.CertFile = "/tmp/client.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSKeyFileRequired) {
		t.Fatalf("expected ErrTLSKeyFileRequired, got %v", err)
	}

	cfg.TLS.KeyFile = "/tmp/client.key"
	if err := cfg.ValidateClientTransport(); err != nil {
		t.Fatalf("expected valid transport config, got %v", err)
	}
}

func TestValidateServerTransportProductionRequiresTLSMTLS(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}

	cfg.TLS.Enabled = true
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrMTLSRequired) {
		t.Fatalf("expected ErrMTLSRequired, got %v", err)
	}
}

func TestInvalidSecurityMode(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = "paranoid"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrInvalidSecurityMode) {
		t.Fatalf("expected ErrInvalidSecurityMode, got %v", err)
	}
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrInvalidSecurityMode) {
		t.Fatalf("expected ErrInvalidSecurityMode, got %v", err)
	}
}

func TestTLSConfigBuilders(t *testing.T) {
	testlog.Start(t)
	certs := tlstest.Loopback(t)

	cfg := DefaultConfig()
	cfg.TLS = TLSConfig{
		Enabled:  true,
		Mutual:   true,
		CAFile:   certs.CAFile,
		CertFile: certs.ServerCert,
		KeyFile:  certs.ServerKey,
	}
	srv, err := cfg.ServerTLSConfig()
	if err != nil {
		t.Fatalf("server tls config: %v", err)
	}
	if srv.ClientAuth != tls.RequireAndVerifyClientCert || srv.ClientCAs == nil {
		t.Fatalf("mutual server config must verify client certs")
	}

	cfg.TLS.CertFile = certs.ClientCert
	cfg.TLS.KeyFile = certs.ClientKey
	cli, err := cfg.ClientTLSConfig("127.0.0.1:7000")
	if err != nil {
		t.Fatalf("client tls config: %v", err)
	}
	if cli.ServerName != "127.0.0.1" || cli.RootCAs == nil || len(cli.Certificates) != 1 {
		t.Fatalf("unexpected client tls config: server_name=%q certs=%d", cli.ServerName, len(cli.Certificates))
	}

	cfg.TLS.CAFile = certs.ServerCert + ".missing"
	if _, err := cfg.ClientTLSConfig("127.0.0.1:7000"); err == nil {
		t.Fatalf("expected missing ca bundle error")
	}
}
