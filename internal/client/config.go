package client

import (
	"strings"
	"time"

	"github.com/danmuck/streamshell/internal/protocol/session"
)

const (
	DefaultAddress    = "localhost:7000"
	DefaultSetupRoute = "shell-client"

	RouteRequestResponse = "request-response"
	RouteFireAndForget   = "fire-and-forget"
	RouteStream          = "stream"
	RouteChannel         = "channel"
	RouteClientStatus    = "client-status"

	OriginClient         = "Client"
	ContentRequest       = "Request"
	ContentFireAndForget = "Fire-And-Forget"
	ContentStream        = "Stream"
)

// ChannelSetting is one outbound channel element. Delay is measured from the
// previous emission.
type ChannelSetting struct {
	Interval time.Duration
	Delay    time.Duration
}

func DefaultChannelSettings() []ChannelSetting {
	return []ChannelSetting{
		{Interval: 1 * time.Second},
		{Interval: 3 * time.Second, Delay: 5 * time.Second},
		{Interval: 5 * time.Second, Delay: 15 * time.Second},
	}
}

type Config struct {
	Address         string
	SetupRoute      string
	StatusInterval  time.Duration
	ChannelSettings []ChannelSetting
	Session         session.Config
}

func DefaultConfig() Config {
	return Config{
		Address:         DefaultAddress,
		SetupRoute:      DefaultSetupRoute,
		StatusInterval:  5 * time.Second,
		ChannelSettings: DefaultChannelSettings(),
		Session:         session.DefaultConfig(),
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Address) == "" {
		c.Address = def.Address
	}
	if strings.TrimSpace(c.SetupRoute) == "" {
		c.SetupRoute = def.SetupRoute
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if len(c.ChannelSettings) == 0 {
		c.ChannelSettings = def.ChannelSettings
	}
	c.Session = c.Session.WithDefaults()
	return c
}
