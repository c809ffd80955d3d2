package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/streamshell/internal/client"
	"github.com/danmuck/streamshell/internal/peer"
	"github.com/danmuck/streamshell/internal/protocol/session"
	"github.com/pelletier/go-toml/v2"
)

// SessionFile is the [session] table shared by shellctl and peerctl.
type SessionFile struct {
	SecurityMode       string `toml:"security_mode"`
	ConnectTimeout     string `toml:"connect_timeout"`
	HandshakeTimeout   string `toml:"handshake_timeout"`
	WriteTimeout       string `toml:"write_timeout"`
	KeepAliveInterval  string `toml:"keepalive_interval"`
	TLSEnabled         bool   `toml:"tls_enabled"`
	TLSMutual          bool   `toml:"tls_mutual"`
	TLSCertFile        string `toml:"tls_cert_file"`
	TLSKeyFile         string `toml:"tls_key_file"`
	TLSCAFile          string `toml:"tls_ca_file"`
	TLSServerName      string `toml:"tls_server_name"`
	InsecureSkipVerify bool   `toml:"tls_insecure_skip_verify"`
}

// ShellFile maps shellctl's config.toml.
type ShellFile struct {
	Address             string      `toml:"address"`
	Username            string      `toml:"username"`
	SetupRoute          string      `toml:"setup_route"`
	StatusInterval      string      `toml:"status_interval"`
	MetricsAddr         string      `toml:"metrics_addr"`
	MetricsAllowOrigins []string    `toml:"metrics_allow_origins"`
	Session             SessionFile `toml:"session"`
}

// PeerFile maps peerctl's config.toml.
type PeerFile struct {
	Addr           string      `toml:"addr"`
	SetupRoute     string      `toml:"setup_route"`
	Username       string      `toml:"username"`
	Password       string      `toml:"password"`
	StreamInterval string      `toml:"stream_interval"`
	StatusCheck    bool        `toml:"status_check"`
	Session        SessionFile `toml:"session"`
}

// Defined reports whether a key path was present in the decoded file.
type Defined func(key ...string) bool

func sessionFile(cfg session.Config) SessionFile {
	return SessionFile{
		SecurityMode:      string(session.NormalizeSecurityMode(cfg.SecurityMode)),
		ConnectTimeout:    cfg.ConnectTimeout.String(),
		HandshakeTimeout:  cfg.HandshakeTimeout.String(),
		WriteTimeout:      cfg.WriteTimeout.String(),
		KeepAliveInterval: cfg.KeepAliveInterval.String(),
	}
}

func DefaultShellFile() ShellFile {
	cfg := client.DefaultConfig()
	return ShellFile{
		Address:        cfg.Address,
		SetupRoute:     cfg.SetupRoute,
		StatusInterval: cfg.StatusInterval.String(),
		Session:        sessionFile(cfg.Session),
	}
}

func DefaultPeerFile() PeerFile {
	cfg := peer.DefaultConfig()
	return PeerFile{
		Addr:           cfg.ListenAddr,
		SetupRoute:     cfg.SetupRoute,
		Username:       "user",
		Password:       "pass",
		StreamInterval: cfg.StreamInterval.String(),
		StatusCheck:    cfg.StatusCheck,
		Session:        sessionFile(cfg.Session),
	}
}

// ApplySession overlays the keys present under [session] onto cfg.
func ApplySession(defined Defined, file SessionFile, cfg *session.Config) error {
	if defined("session", "security_mode") {
		cfg.SecurityMode = session.SecurityMode(strings.TrimSpace(file.SecurityMode))
	}
	durations := []struct {
		key   string
		raw   string
		field *time.Duration
	}{
		{"connect_timeout", file.ConnectTimeout, &cfg.ConnectTimeout},
		{"handshake_timeout", file.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"write_timeout", file.WriteTimeout, &cfg.WriteTimeout},
		{"keepalive_interval", file.KeepAliveInterval, &cfg.KeepAliveInterval},
	}
	for _, d := range durations {
		if !defined("session", d.key) {
			continue
		}
		v, err := ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("session.%s: %w", d.key, err)
		}
		*d.field = v
	}
	if defined("session", "tls_enabled") {
		cfg.TLS.Enabled = file.TLSEnabled
	}
	if defined("session", "tls_mutual") {
		cfg.TLS.Mutual = file.TLSMutual
	}
	if defined("session", "tls_cert_file") {
		cfg.TLS.CertFile = strings.TrimSpace(file.TLSCertFile)
	}
	if defined("session", "tls_key_file") {
		cfg.TLS.KeyFile = strings.TrimSpace(file.TLSKeyFile)
	}
	if defined("session", "tls_ca_file") {
		cfg.TLS.CAFile = strings.TrimSpace(file.TLSCAFile)
	}
	if defined("session", "tls_server_name") {
		cfg.TLS.ServerName = strings.TrimSpace(file.TLSServerName)
	}
	if defined("session", "tls_insecure_skip_verify") {
		cfg.TLS.InsecureSkipVerify = file.InsecureSkipVerify
	}
	return nil
}

var ErrNonPositiveDuration = errors.New("config: duration must be positive")

func ParseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrNonPositiveDuration, raw)
	}
	return d, nil
}

// Validate strictly decodes the file at path for kind, rejecting unknown keys.
func Validate(kind, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	var sess SessionFile
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "shell":
		var out ShellFile
		if err := dec.Decode(&out); err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if strings.TrimSpace(out.Address) == "" {
			return fmt.Errorf("shell config missing address")
		}
		sess = out.Session
	case "peer":
		var out PeerFile
		if err := dec.Decode(&out); err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if strings.TrimSpace(out.Username) == "" {
			return fmt.Errorf("peer config missing username")
		}
		sess = out.Session
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
	for _, raw := range []string{sess.ConnectTimeout, sess.HandshakeTimeout, sess.WriteTimeout, sess.KeepAliveInterval} {
		if raw == "" {
			continue
		}
		if _, err := ParseDuration(raw); err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	return nil
}
