// docshelf
//
// Entry point: wires all components together and manages graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mtiwari1/docshelf/internal/config"
	"github.com/mtiwari1/docshelf/internal/docstore"
	"github.com/mtiwari1/docshelf/internal/restapi"
)

func main() {
	// ── Structured logger ──
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	logger.Info("starting docshelf")

	// ── Configuration ──
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// ── Document store (blobs + metadata + index + tag registry) ──
	store, err := docstore.Open(cfg.DataDir, cfg.MaxUploadBytes(), config.AllowedExts, logger)
	if err != nil {
		logger.Error("open document store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("document store ready",
		slog.String("data_dir", cfg.DataDir),
		slog.Int64("max_upload_mb", cfg.MaxUploadMB),
		slog.Bool("lan_only", cfg.LANOnly),
	)

	// ── HTTP server ──
	handler := restapi.NewHandler(store, cfg, logger)

	httpSrv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Minute, // uploads and restores can be large
		WriteTimeout: 5 * time.Minute, // backups stream the whole state dir
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", slog.String("addr", cfg.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP serve", slog.String("error", err.Error()))
		}
	}()

	// ── Graceful shutdown (SIGINT / SIGTERM) ──
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()

	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown", slog.String("error", err.Error()))
	}
	logger.Info("HTTP server stopped")

	if err := store.Close(); err != nil {
		logger.Error("close document store", slog.String("error", err.Error()))
	}
	logger.Info("docshelf shutdown complete")
}
