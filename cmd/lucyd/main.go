// Lucyd is a conversational agent gateway.
//
// It serves a per-user websocket that drives a tag-protocol agent loop:
// the model replies with one tagged action per turn (speak, call a
// tool, or end), capability modules execute the tool calls, and the
// client renders the rest. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	lucyd serve        Start the gateway
//	lucyd init [dir]   Initialize a working directory with defaults
//	lucyd version      Print version and build information
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ankleBowl/LucyServer/internal/buildinfo"
	"github.com/ankleBowl/LucyServer/internal/capability"
	"github.com/ankleBowl/LucyServer/internal/config"
	"github.com/ankleBowl/LucyServer/internal/llm"
	"github.com/ankleBowl/LucyServer/internal/modules/clock"
	"github.com/ankleBowl/LucyServer/internal/modules/home"
	"github.com/ankleBowl/LucyServer/internal/modules/internet"
	"github.com/ankleBowl/LucyServer/internal/modules/player"
	"github.com/ankleBowl/LucyServer/internal/modules/timeid"
	"github.com/ankleBowl/LucyServer/internal/oauthstate"
	"github.com/ankleBowl/LucyServer/internal/session"
	"github.com/ankleBowl/LucyServer/internal/settings"
	"github.com/ankleBowl/LucyServer/internal/transport"
	"github.com/ankleBowl/LucyServer/internal/wakebridge"
)

// main constructs the OS-level environment and delegates to [run] so
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments and dispatches to a subcommand. Arguments are
// parsed by hand; the flag package's global state gets in the way of
// calling run concurrently from tests, and the surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		case !strings.HasPrefix(args[i], "-"):
			cmdArgs = append(cmdArgs, args[i])
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Lucy - Conversational Agent Gateway")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: lucyd [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the gateway")
	fmt.Fprintln(w, "  init [dir]   Initialize a working directory with defaults (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/lucy/config.yaml, /etc/lucy/config.yaml")
	return nil
}

// factories is the capability module table every session loads from.
func factories() map[string]capability.Factory {
	return map[string]capability.Factory{
		"clock":    clock.New,
		"time":     timeid.New,
		"home":     home.New,
		"internet": internet.New,
		"player":   player.New,
	}
}

// runServe is the primary operating mode: load config, open the
// settings store, wire the session and transport layers, and block
// until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Lucy", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	// Reconfigure now that the desired level is known; the initial
	// Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "model", cfg.Model.Model)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	store, err := settings.Open(filepath.Join(cfg.DataDir, "settings.db"))
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}
	defer store.Close()

	auth := oauthstate.New(0)
	chat := llm.NewClient(cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.Model, logger)
	sessions := session.NewStore(logger, chat, factories(), store, auth, cfg.DataDir)
	server := transport.NewServer(cfg.Listen.Address, cfg.Listen.Port, logger, sessions, auth)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The wake bridge is optional; without MQTT, wake words only arrive
	// over the websocket.
	if cfg.MQTT.Enabled {
		bridge := wakebridge.New(cfg.MQTT, sessions, logger)
		go func() {
			if err := bridge.Start(ctx); err != nil {
				logger.Error("wake bridge failed", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Lucy stopped")
	return nil
}

// newLogger builds the standard text logger used by every subcommand.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}
