package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lesshq/cartwatch"
	"github.com/lesshq/cartwatch/adminapi"
)

func main() {
	configPath := flag.String("config", env("CARTWATCH_CONFIG", "cartwatch.yaml"), "configuration file")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "debug, info, warn or error")
	flag.Parse()

	var lvl slog.Level
	switch *logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := cartwatch.LoadConfigFile(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if len(cfg.Pages) == 0 {
		slog.Error("no pages configured")
		os.Exit(1)
	}

	watcher, err := cartwatch.New(cfg, logger)
	if err != nil {
		slog.Error("init watcher", "error", err)
		os.Exit(1)
	}
	defer watcher.Close()

	if err := watcher.Start(ctx); err != nil {
		slog.Error("start watcher", "error", err)
		os.Exit(1)
	}

	if cfg.Admin.Addr != "" {
		admin := adminapi.New(cfg.Admin.Addr, watcher, adminapi.WithLogger(logger))
		go func() {
			if err := admin.Start(ctx); err != nil {
				slog.Error("admin server", "error", err)
				cancel()
			}
		}()
	}

	slog.Info("cartwatch running", "pages", len(cfg.Pages), "admin", cfg.Admin.Addr)
	<-ctx.Done()
	slog.Info("shutting down")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
