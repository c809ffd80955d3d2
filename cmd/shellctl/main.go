package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/streamshell/internal/client"
	"github.com/danmuck/streamshell/internal/logging"
	"github.com/danmuck/streamshell/internal/observability"
	"github.com/danmuck/streamshell/internal/shell"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "shellctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("shellctl", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to shell config.toml")
	address := flags.StringP("address", "a", "", "peer address host:port (overrides config)")
	username := flags.StringP("username", "u", "", "default username for login")
	metricsAddr := flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg := defaultShellConfig()
	if path := strings.TrimSpace(*configPath); path != "" {
		loaded, err := loadShellConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if flags.Changed("address") {
		cfg.Client.Address = strings.TrimSpace(*address)
	}
	if flags.Changed("username") {
		cfg.Username = strings.TrimSpace(*username)
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = strings.TrimSpace(*metricsAddr)
	}

	logging.ConfigureRuntime()
	logging.SetOutput(os.Stdout)
	observability.RegisterMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsRouter(log.With().Str("component", "metrics").Logger(), cfg.MetricsOrigins),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Msgf("shellctl metrics listening addr=%q", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	session := client.New(cfg.Client)
	app := shell.NewApp(session, os.Stdin, os.Stdout, shell.WithUsername(cfg.Username))
	g.Go(func() error {
		defer stop()
		return app.Run(gctx)
	})
	return g.Wait()
}
