// layoutd serves keyboard layout conversion and detection over HTTP.
//
// It loads the built-in layouts, layouts stored in the SQLite database and
// layout files from the configured directories, watches those directories
// for changes, and reloads detection settings when the config file changes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/WinkyTy/layout-converter/internal/config"
	"github.com/WinkyTy/layout-converter/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("layoutd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file")
	addr := fs.String("addr", "", "listen address (overrides config)")
	logLevel := fs.String("log-level", "", "log level (overrides config)")
	writeDefault := fs.Bool("init", false, "write a default config file if none exists and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}

	if *writeDefault {
		_, created, err := config.LoadOrCreate(path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if created {
			fmt.Fprintf(stderr, "wrote %s\n", path)
		} else {
			fmt.Fprintf(stderr, "%s already exists\n", path)
		}
		return 0
	}

	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logCfg, err := cfg.Logging.LoggerConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	logCfg.Component = "layoutd"
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Close()
	logging.SetDefault(logger)

	for _, w := range config.Check(cfg).Warnings() {
		logger.Warn("config warning", "field", w.Field, "message", w.Message)
	}

	d, err := newDaemon(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer d.Close()

	d.watchConfig(loader)
	defer loader.Close()

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		logger.Error("listen failed", "addr", cfg.Server.Addr, "error", err)
		return 1
	}

	if err := d.Serve(ctx, ln); err != nil {
		logger.Error("server stopped", "error", err)
		return 1
	}
	return 0
}
