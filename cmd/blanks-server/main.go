package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"blanks/internal/config"
	"blanks/internal/match"
	"blanks/internal/randutil"
	"blanks/internal/web"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version  kong.VersionFlag `short:"v" help:"Show version"`
	Config   string           `short:"c" help:"Path to HCL config file" type:"path"`
	Addr     string           `help:"Override listen address (host:port)"`
	LogLevel string           `help:"Override log level (debug, info, warn, error)"`
	Seed     *int64           `help:"Deterministic RNG seed (optional)"`
	Sweep    *int             `help:"Override housekeeping sweep interval in seconds, 0 disables"`
}

func (c *CLI) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	if c.Addr != "" {
		host, port, err := net.SplitHostPort(c.Addr)
		if err != nil {
			return fmt.Errorf("invalid --addr %q: %w", c.Addr, err)
		}
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid --addr port %q: %w", port, err)
		}
		cfg.Server.Address = host
		cfg.Server.Port = n
	}
	if c.LogLevel != "" {
		cfg.Server.LogLevel = c.LogLevel
	}
	if c.Sweep != nil {
		cfg.Server.SweepSeconds = *c.Sweep
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := setupLogger(cfg.Server.LogLevel)

	var seed int64
	if c.Seed != nil {
		seed = *c.Seed
		logger.Info("using deterministic seed", "seed", seed)
	} else {
		seed = randutil.Seed()
	}

	clock := quartz.NewReal()
	registry := match.NewRegistry(logger, clock, cfg.Game, seed)
	server := web.NewServer(logger, registry, clock, cfg)

	logger.Info("starting server",
		"addr", cfg.ListenAddress(),
		"min_players", cfg.Game.MinPlayers,
		"win_condition", cfg.Game.WinCondition,
		"hand_quota", cfg.Game.HandQuota,
		"sweep", cfg.SweepInterval(),
	)

	ctx := setupSignalHandler(logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx)
	})
	if interval := cfg.SweepInterval(); interval > 0 {
		g.Go(func() error {
			return runSweep(ctx, clock, registry, interval)
		})
	}
	return g.Wait()
}

// runSweep advances match timers even when no requests are coming in, so
// empty-but-running matches still expire.
func runSweep(ctx context.Context, clock quartz.Clock, registry *match.Registry, interval time.Duration) error {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			registry.Housekeeping()
		}
	}
}

func setupLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})
	switch level {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}

func setupSignalHandler(logger *log.Logger) context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down gracefully", "signal", sig.String())
		cancel()
	}()

	return ctx
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("blanks-server"),
		kong.Description("Party card game match server"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
