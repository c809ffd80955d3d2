package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/streamshell/internal/auth"
	"github.com/danmuck/streamshell/internal/config"
	"github.com/danmuck/streamshell/internal/peer"
)

// peerctl loader for TOML config with default overlay.
func loadServiceConfig(path string) (peer.Config, error) {
	cfg := peer.DefaultConfig()

	var raw config.PeerFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return peer.Config{}, fmt.Errorf("load peer config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("setup_route") {
		cfg.SetupRoute = strings.TrimSpace(raw.SetupRoute)
	}
	if meta.IsDefined("username") || meta.IsDefined("password") {
		creds := auth.StaticCredentials{Username: "user", Password: "pass"}
		if meta.IsDefined("username") {
			creds.Username = strings.TrimSpace(raw.Username)
		}
		if meta.IsDefined("password") {
			creds.Password = raw.Password
		}
		if creds.Username == "" {
			return peer.Config{}, fmt.Errorf("load peer config: username must not be empty")
		}
		cfg.Validator = creds
	}
	if meta.IsDefined("stream_interval") {
		d, err := config.ParseDuration(raw.StreamInterval)
		if err != nil {
			return peer.Config{}, fmt.Errorf("parse stream_interval: %w", err)
		}
		cfg.StreamInterval = d
	}
	if meta.IsDefined("status_check") {
		cfg.StatusCheck = raw.StatusCheck
	}
	if err := config.ApplySession(meta.IsDefined, raw.Session, &cfg.Session); err != nil {
		return peer.Config{}, fmt.Errorf("load peer config: %w", err)
	}

	cfg.Session = cfg.Session.WithDefaults()
	return cfg, nil
}
