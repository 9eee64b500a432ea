package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/kernelworks/skillkern/internal/config"
	"github.com/kernelworks/skillkern/internal/kernel"
	"github.com/kernelworks/skillkern/internal/lifecycle"
	"github.com/kernelworks/skillkern/internal/loader"
	"github.com/kernelworks/skillkern/internal/manifest"
	"github.com/kernelworks/skillkern/internal/rpc"
	"github.com/kernelworks/skillkern/internal/store"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

// App holds all the runtime components
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Registry   *manifest.Registry
	Loader     *loader.Loader
	Lifecycle  *lifecycle.Manager
	Store      *store.Store
	Dispatcher *kernel.Dispatcher
	Sweeper    *lifecycle.Sweeper
	Gateway    *rpc.Gateway
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := "skillkern.json"
	var subCmd string
	var subCmdIdx int

	// First pass: find the config flag so subcommands see the same file.
	skipNext := false
	for i := 1; i < len(os.Args); i++ {
		if skipNext {
			skipNext = false
			continue
		}
		arg := os.Args[i]
		if arg == "--config" || arg == "-config" {
			if i+1 < len(os.Args) {
				configPath = os.Args[i+1]
				skipNext = true
			}
		}
	}

	// Second pass: the first non-flag arg is the subcommand.
	skipNext = false
	for i := 1; i < len(os.Args); i++ {
		if skipNext {
			skipNext = false
			continue
		}
		arg := os.Args[i]
		if arg == "--config" || arg == "-config" {
			skipNext = true
			continue
		}
		if arg == "--version" || arg == "-version" {
			continue
		}
		if len(arg) > 0 && arg[0] != '-' {
			subCmd = arg
			subCmdIdx = i
			break
		}
	}

	switch subCmd {
	case "init":
		return initCommand(configPath)
	case "skills":
		return skillsCommand(configPath)
	case "route":
		return routeCommand(configPath, os.Args[subCmdIdx+1:])
	case "token":
		return tokenCommand(configPath, os.Args[subCmdIdx+1:])
	case "", "serve":
		// Falls through to the server start below.
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", subCmd)
		fmt.Fprintln(os.Stderr, "Available commands: serve, skills, route, token, init")
		return 1
	}

	fs := flag.NewFlagSet("skillkern", flag.ExitOnError)
	configPathFlag := fs.String("config", "skillkern.json", "Path to config file")
	showVersion := fs.Bool("version", false, "Show version")
	args := os.Args[1:]
	if subCmd == "serve" {
		args = append(append([]string{}, os.Args[1:subCmdIdx]...), os.Args[subCmdIdx+1:]...)
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		return 1
	}

	if *showVersion {
		fmt.Printf("skillkern v%s (built %s)\n", version, buildTime)
		fmt.Println("Skill kernel: just-in-time tool loading over JSON-RPC")
		return 0
	}

	if *configPathFlag != "skillkern.json" {
		configPath = *configPathFlag
	}

	app, err := setup(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}

	if err := serve(app); err != nil {
		app.Logger.Error("serve failed", "error", err)
		return 1
	}
	return 0
}

// setup initializes all runtime components.
func setup(configPath string) (*App, error) {
	app := &App{}

	// Logs go to stderr; stdout belongs to the JSON-RPC stream.
	app.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	app.Logger.Info("starting skillkern",
		"version", version,
		"config", configPath,
	)

	cfg, err := loadConfig(configPath, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app.Config = cfg

	// Recreate logger with config's log level
	app.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	st, err := store.Open(filepath.Join(cfg.Server.DataDir, "skillkern.db"), app.Logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app.Store = st

	app.Registry = manifest.NewRegistry(cfg.Skills.Dir, app.Logger)
	app.Loader = loader.New(cfg.Execution.IsolatedTimeout(), app.Logger)
	app.Lifecycle = lifecycle.NewManager(lifecycle.Config{
		TTL:           cfg.Skills.TTL(),
		SweepInterval: cfg.Skills.SweepInterval(),
		MaxLoaded:     cfg.Skills.MaxLoaded,
		Pinned:        cfg.Skills.CoreSkills,
	}, app.Logger)

	app.Dispatcher = kernel.New(kernel.Config{
		ServerName:    "skillkern",
		ServerVersion: version,
		Exclude:       cfg.Tools.Exclude,
		ListCap:       cfg.Tools.ListCap,
	}, app.Registry, app.Loader, app.Lifecycle, app.Store, app.Logger)

	if err := app.Dispatcher.RestoreState(context.Background()); err != nil {
		app.Logger.Warn("could not restore lifecycle state", "error", err)
	}

	sweeper, err := lifecycle.NewSweeper(cfg.Skills.SweepInterval(), func() {
		app.Dispatcher.Sweep()
	}, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("create sweeper: %w", err)
	}
	app.Sweeper = sweeper

	if cfg.Gateway.Enabled {
		var secret []byte
		if cfg.Gateway.AuthSecret != "" {
			secret = []byte(cfg.Gateway.AuthSecret)
		}
		addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
		app.Gateway = rpc.NewGateway(rpc.NewServer(app.Dispatcher.Service(), app.Logger), addr, secret, app.Logger)
	}

	return app, nil
}

// serve runs the stdio transport until EOF or a shutdown signal, then
// drains and checkpoints.
func serve(app *App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, getShutdownSignals()...)
	go func() {
		fired := false
		for sig := range sigCh {
			if handlePlatformSignal(sig, app.Logger) {
				continue
			}
			if fired {
				app.Logger.Warn("second shutdown signal, exiting immediately")
				os.Exit(1)
			}
			fired = true
			app.Logger.Info("shutdown signal received", "signal", sig)
			cancel()
		}
	}()

	app.Sweeper.Start()
	if app.Gateway != nil {
		if err := app.Gateway.Start(); err != nil {
			return fmt.Errorf("start gateway: %w", err)
		}
	}

	stdio := rpc.NewStdioTransport(
		rpc.NewServer(app.Dispatcher.Service(), app.Logger),
		os.Stdin, os.Stdout, app.Logger,
	)

	app.Logger.Info("serving",
		"skillsDir", app.Config.Skills.Dir,
		"maxLoaded", app.Config.Skills.MaxLoaded,
		"ttl", app.Config.Skills.TTL(),
	)

	serveDone := make(chan error, 1)
	go func() { serveDone <- stdio.Serve(ctx) }()

	var serveErr error
	select {
	case serveErr = <-serveDone:
	case <-ctx.Done():
		// In-flight calls drain inside Serve's grace period; stdin may
		// stay open, so shutdown proceeds without waiting for it.
	}

	shutdown(app)
	return serveErr
}

// shutdown stops intake, then background work, then checkpoints state.
func shutdown(app *App) {
	app.Logger.Info("shutting down")

	if app.Gateway != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := app.Gateway.Stop(ctx); err != nil {
			app.Logger.Error("stop gateway", "error", err)
		}
		cancel()
	}
	app.Sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Dispatcher.SaveState(ctx); err != nil {
		app.Logger.Error("save state", "error", err)
	}
	if err := app.Store.Close(); err != nil {
		app.Logger.Error("close store", "error", err)
	}

	app.Logger.Info("skillkern stopped")
}

// loadConfig loads configuration from file or creates default
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("no config found, creating default")
			cfg = config.DefaultConfig()
			if err := cfg.Save(path); err != nil {
				return nil, fmt.Errorf("save default config: %w", err)
			}
			logger.Info("default config created", "path", path)
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
