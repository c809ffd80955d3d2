package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/streamshell/internal/client"
	"github.com/danmuck/streamshell/internal/config"
)

// shellctl runtime settings resolved from config.toml and flags.
type shellConfig struct {
	Client         client.Config
	Username       string
	MetricsAddr    string
	MetricsOrigins []string
}

func defaultShellConfig() shellConfig {
	return shellConfig{Client: client.DefaultConfig()}
}

// shellctl loader for TOML config with default overlay.
func loadShellConfig(path string) (shellConfig, error) {
	cfg := defaultShellConfig()

	var raw config.ShellFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return shellConfig{}, fmt.Errorf("load shell config: %w", err)
	}

	if meta.IsDefined("address") {
		cfg.Client.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("username") {
		cfg.Username = strings.TrimSpace(raw.Username)
	}
	if meta.IsDefined("setup_route") {
		cfg.Client.SetupRoute = strings.TrimSpace(raw.SetupRoute)
	}
	if meta.IsDefined("status_interval") {
		d, err := config.ParseDuration(raw.StatusInterval)
		if err != nil {
			return shellConfig{}, fmt.Errorf("parse status_interval: %w", err)
		}
		cfg.Client.StatusInterval = d
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("metrics_allow_origins") {
		for _, origin := range raw.MetricsAllowOrigins {
			origin = strings.TrimSpace(origin)
			if origin == "" {
				continue
			}
			if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
				return shellConfig{}, fmt.Errorf("metrics_allow_origins: %q must start with http:// or https://", origin)
			}
			cfg.MetricsOrigins = append(cfg.MetricsOrigins, origin)
		}
	}
	if err := config.ApplySession(meta.IsDefined, raw.Session, &cfg.Client.Session); err != nil {
		return shellConfig{}, fmt.Errorf("load shell config: %w", err)
	}
	if err := cfg.Client.Session.ValidateClientTransport(); err != nil {
		return shellConfig{}, fmt.Errorf("load shell config: %w", err)
	}

	cfg.Client = cfg.Client.WithDefaults()
	return cfg, nil
}
