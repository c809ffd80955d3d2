package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "STREAMSHELL_LOG_LEVEL"
	EnvLogTimestamp = "STREAMSHELL_LOG_TIMESTAMP"
	EnvLogNoColor   = "STREAMSHELL_LOG_NOCOLOR"
	EnvLogBypass    = "STREAMSHELL_LOG_BYPASS"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config is the resolved logger shape applied to the global zerolog logger.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	// Bypass writes raw JSON lines instead of the console format.
	Bypass bool
}

var (
	configureOnce sync.Once

	mu      sync.Mutex
	current Config
)

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)
		mu.Lock()
		current = cfg
		mu.Unlock()
		apply(cfg, colorable.NewColorableStderr(), !isatty.IsTerminal(os.Stderr.Fd()))
	})
}

// SetOutput redirects the global logger to w keeping the configured level and format.
// The interactive shell uses it to interleave log lines with its prompt.
func SetOutput(w io.Writer) {
	mu.Lock()
	cfg := current
	mu.Unlock()
	apply(cfg, w, true)
}

func apply(cfg Config, w io.Writer, plain bool) {
	zerolog.SetGlobalLevel(cfg.Level)
	if cfg.Bypass {
		log.Logger = newContext(zerolog.New(w), cfg).Logger()
		return
	}
	console := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    cfg.NoColor || plain,
		TimeFormat: time.RFC3339,
	}
	if !cfg.Timestamp {
		console.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	log.Logger = newContext(zerolog.New(console), cfg).Logger()
}

func newContext(l zerolog.Logger, cfg Config) zerolog.Context {
	ctx := l.With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx
}

func defaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Timestamp: false}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogBypass)); ok {
		cfg.Bypass = v
	}
}

// ParseLevel maps the accepted level spellings onto zerolog levels.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

// SetLevel overrides the global level after Configure, e.g. from a CLI flag.
func SetLevel(lvl zerolog.Level) {
	mu.Lock()
	current.Level = lvl
	mu.Unlock()
	zerolog.SetGlobalLevel(lvl)
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
