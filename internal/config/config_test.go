package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/streamshell/internal/protocol/session"
	"github.com/danmuck/streamshell/internal/testutil/testlog"
)

func TestTemplatesValidate(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	for _, kind := range []string{"shell", "peer"} {
		path := filepath.Join(dir, kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s template: %v", kind, err)
		}
		if err := Validate(kind, path); err != nil {
			t.Fatalf("validate %s template: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, false); err == nil {
			t.Fatalf("expected overwrite refusal for %s", kind)
		}
		if err := WriteTemplate(path, kind, true); err != nil {
			t.Fatalf("forced overwrite %s: %v", kind, err)
		}
	}
}

func TestShellTemplateCarriesDefaults(t *testing.T) {
	testlog.Start(t)
	out, err := Template("shell")
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	for _, want := range []string{"localhost:7000", "shell-client", "[session]", "development"} {
		if !strings.Contains(out, want) {
			t.Fatalf("template missing %q:\n%s", want, out)
		}
	}
	if _, err := Template("mirage"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestValidateRejects(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		kind    string
		content string
	}{
		{"unknown key", "shell", "address = \"localhost:7000\"\nadress = \"typo\"\n"},
		{"missing address", "shell", "username = \"user\"\n"},
		{"bad duration", "shell", "address = \"x:1\"\n[session]\nconnect_timeout = \"soon\"\n"},
		{"negative duration", "peer", "username = \"user\"\n[session]\nwrite_timeout = \"-1s\"\n"},
		{"missing username", "peer", "addr = \":7000\"\n"},
		{"unknown kind", "ghost", "addr = \":7000\"\n"},
	}
	dir := t.TempDir()
	for i, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.kind+string(rune('a'+i))+".toml")
			if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if err := Validate(tc.kind, path); err == nil {
				t.Fatalf("expected validation failure")
			}
		})
	}
	if err := Validate("shell", filepath.Join(dir, "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestApplySessionOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)
	defined := map[string]bool{
		"session.security_mode":   true,
		"session.connect_timeout": true,
		"session.tls_enabled":     true,
		"session.tls_ca_file":     true,
	}
	lookup := func(key ...string) bool { return defined[strings.Join(key, ".")] }

	cfg := session.DefaultConfig()
	file := SessionFile{
		SecurityMode:   "production",
		ConnectTimeout: "750ms",
		WriteTimeout:   "1m",
		TLSEnabled:     true,
		TLSCAFile:      " /etc/streamshell/ca.crt ",
	}
	if err := ApplySession(lookup, file, &cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.SecurityMode != session.SecurityModeProduction || cfg.ConnectTimeout != 750*time.Millisecond {
		t.Fatalf("defined keys not applied: %+v", cfg)
	}
	if cfg.WriteTimeout != session.DefaultConfig().WriteTimeout {
		t.Fatalf("undefined write_timeout applied: %s", cfg.WriteTimeout)
	}
	if !cfg.TLS.Enabled || cfg.TLS.CAFile != "/etc/streamshell/ca.crt" {
		t.Fatalf("tls keys not applied: %+v", cfg.TLS)
	}

	defined["session.handshake_timeout"] = true
	file.HandshakeTimeout = "0s"
	if err := ApplySession(lookup, file, &cfg); !errors.Is(err, ErrNonPositiveDuration) {
		t.Fatalf("expected ErrNonPositiveDuration, got %v", err)
	}
}
