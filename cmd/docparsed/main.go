// docparsed is the document parsing HTTP service: upload or point it
// at a URL, poll the process status, then read the parsed article.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/docparse/fetch"
	"github.com/hazyhaar/docparse/ingest"
	"github.com/hazyhaar/docparse/parser"
	"github.com/hazyhaar/docparse/store"
)

func main() {
	cfgPath := "docparsed.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	var lvl slog.Level
	switch cfg.LogLevel {
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

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ing := ingest.New(ingest.Config{
		Store: st,
		Fetcher: fetch.New(fetch.Config{
			Timeout:   time.Duration(cfg.Fetch.TimeoutSec) * time.Second,
			MaxBytes:  int64(cfg.Fetch.MaxMB) * 1024 * 1024,
			UserAgent: cfg.Fetch.UserAgent,
		}),
		Logger: logger,
		Options: parser.Options{
			ChunkSize:    cfg.Parser.ChunkSizeKB * 1024,
			Parallelism:  cfg.Parser.Parallelism,
			CacheTTL:     cfg.CacheTTL(),
			HeadingScale: cfg.Parser.HeadingScale,
			LineGap:      cfg.Parser.LineGap,
		},
		CacheCapacity: cfg.Parser.CacheEntries,
	})
	defer ing.Close()

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      newRouter(cfg, ing, st, logger),
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown", "error", err)
		}
	}()

	slog.Info("docparsed listening", "addr", cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("serve", "error", err)
		os.Exit(1)
	}
}
