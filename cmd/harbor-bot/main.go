// ABOUTME: Entry point for harbor-bot
// ABOUTME: Connects to the chat gateway, registers commands, and runs the job workers

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/harborbot/harbor/internal/api"
	"github.com/harborbot/harbor/internal/assets"
	"github.com/harborbot/harbor/internal/commands"
	"github.com/harborbot/harbor/internal/config"
	"github.com/harborbot/harbor/internal/control"
	"github.com/harborbot/harbor/internal/gateway"
	"github.com/harborbot/harbor/internal/ratelimit"
	"github.com/harborbot/harbor/internal/store"
	"github.com/harborbot/harbor/internal/workers"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                _                     _           _
| |__   __ _ _ __| |__   ___  _ __     | |__   ___ | |_
| '_ \ / _' | '__| '_ \ / _ \| '__|____| '_ \ / _ \| __|
| | | | (_| | |  | |_) | (_) | | |_____| |_) | (_) | |_
|_| |_|\__,_|_|  |_.__/ \___/|_|       |_.__/ \___/ \__|
`

// getConfigPath returns the path to the bot config file.
// Priority: HARBOR_CONFIG env var > XDG_CONFIG_HOME/harbor/bot.yaml > ~/.config/harbor/bot.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HARBOR_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "bot.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "harbor", "bot.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: harbor-bot <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  run        Connect to the gateway and serve commands")
		fmt.Println("  register   Register the slash command set and exit")
		fmt.Println("  provision  Download missing model files and exit")
		fmt.Println("  status     Show job queue counts")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runBot(ctx)
	case "register":
		err = runRegister(ctx)
	case "provision":
		err = runProvision(ctx)
	case "status":
		err = runStatus(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runBot(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Workers:  blp=%d rembg=%d\n", cfg.Workers.BLPWorkers, cfg.Workers.RembgWorkers)
	fmt.Println()

	logger.Info("starting harbor-bot", "config", configPath, "db", cfg.Database.Path)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	limiter := ratelimit.New(cfg.RateLimit.RequestsPerSecond, st, logger)
	client := api.New(api.Options{
		Token:          cfg.Discord.Token,
		BaseURL:        cfg.Discord.APIBase,
		Limiter:        limiter,
		Store:          st,
		AcquireTimeout: cfg.RateLimit.AcquireTimeout,
		Logger:         logger,
	})

	registry := newRegistry(client, st, logger)

	// Register the command set on startup; a failure is logged, not fatal,
	// since SIGUSR1 can retry it later.
	if err := registry.Resync(ctx); err != nil {
		logger.Warn("initial command sync failed", "error", err)
	}

	provisioner := assets.NewProvisioner(cfg.Assets.Dir, nil, logger)

	pools, err := startWorkerPools(ctx, cfg, st, client, logger)
	if err != nil {
		return err
	}

	session := gateway.NewSession(st, logger)
	supervisor := gateway.New(gateway.Options{
		Token:              cfg.Discord.Token,
		Intents:            cfg.Discord.Intents,
		GatewayURL:         client.GatewayURL,
		Session:            session,
		Handler:            registry,
		Store:              st,
		Control:            control.Signals(ctx, logger),
		OnResync:           registry.Resync,
		OnProvision:        provisioner.Provision,
		BackoffBase:        cfg.Gateway.BackoffBase,
		BackoffMax:         cfg.Gateway.BackoffMax,
		ConnectedGrace:     cfg.Gateway.ConnectedGrace,
		HeartbeatTolerance: cfg.Gateway.HeartbeatTolerance,
		HelloTimeout:       cfg.Gateway.HelloTimeout,
		Logger:             logger,
	})

	runErr := supervisor.Run(ctx)

	// Let in-flight jobs observe the cancellation and exit.
	for _, pool := range pools {
		pool.Wait()
	}

	if runErr != nil && errors.Is(runErr, gateway.ErrAuth) {
		return fmt.Errorf("gateway refused the token, check discord.token: %w", runErr)
	}
	return runErr
}

// newRegistry wires up the full command set.
func newRegistry(client *api.Client, st store.Store, logger *slog.Logger) *commands.Registry {
	registry := commands.NewRegistry(client, logger)
	registry.Register(commands.AhoyCommand{})
	registry.Register(commands.NewBLPCommand(st))
	registry.Register(commands.NewPNGCommand(st))
	registry.Register(commands.NewRembgCommand(st))
	return registry
}

// startWorkerPools launches one pool per job kind. A kind with no configured
// command gets no pool; its jobs wait in the queue. Each processor is wrapped
// so conversion outcomes are posted back to the requesting channel.
func startWorkerPools(ctx context.Context, cfg *config.Config, st store.Store, messenger commands.Messenger, logger *slog.Logger) ([]*workers.Pool, error) {
	kinds := []struct {
		kind    string
		count   int
		command []string
	}{
		{commands.JobKindBLP, cfg.Workers.BLPWorkers, cfg.Workers.BLPCommand},
		{commands.JobKindRembg, cfg.Workers.RembgWorkers, cfg.Workers.RembgCommand},
	}

	var pools []*workers.Pool
	for _, k := range kinds {
		if len(k.command) == 0 {
			logger.Warn("no command configured, jobs will queue unprocessed", "kind", k.kind)
			continue
		}

		processor, err := workers.NewExecProcessor(k.command, 0, logger)
		if err != nil {
			return nil, fmt.Errorf("creating %s processor: %w", k.kind, err)
		}

		pool := workers.NewPool(workers.PoolOptions{
			Kind:         k.kind,
			Workers:      k.count,
			Jobs:         st,
			Processor:    commands.NewResultNotifier(processor, messenger, logger),
			PollInterval: cfg.Workers.PollInterval,
			StuckAfter:   cfg.Workers.StuckAfter,
			Logger:       logger,
		})
		if err := pool.Start(ctx); err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

func runRegister(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	limiter := ratelimit.New(cfg.RateLimit.RequestsPerSecond, st, logger)
	client := api.New(api.Options{
		Token:          cfg.Discord.Token,
		BaseURL:        cfg.Discord.APIBase,
		Limiter:        limiter,
		AcquireTimeout: cfg.RateLimit.AcquireTimeout,
		Logger:         logger,
	})

	registry := newRegistry(client, st, logger)
	if err := registry.Resync(ctx); err != nil {
		return err
	}

	fmt.Printf("registered %d commands\n", len(registry.Definitions()))
	return nil
}

func runProvision(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	provisioner := assets.NewProvisioner(cfg.Assets.Dir, nil, logger)
	if err := provisioner.Provision(ctx); err != nil {
		return err
	}

	fmt.Printf("models provisioned in %s\n", cfg.Assets.Dir)
	return nil
}

func runStatus(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	kinds := []string{commands.JobKindBLP, commands.JobKindRembg}
	statuses := []string{
		store.JobStatusPending,
		store.JobStatusProcessing,
		store.JobStatusCompleted,
		store.JobStatusFailed,
	}

	for _, kind := range kinds {
		fmt.Printf("%s:", kind)
		for _, status := range statuses {
			count, err := st.CountJobs(ctx, kind, status)
			if err != nil {
				return fmt.Errorf("counting %s/%s jobs: %w", kind, status, err)
			}
			fmt.Printf(" %s=%d", status, count)
		}
		fmt.Println()
	}
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
