// Command imagechat-server serves multi-turn image generation over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mhpenta/imagechat"
	"github.com/mhpenta/imagechat/internal/config"
	"github.com/mhpenta/imagechat/provider/gemini"
	"github.com/mhpenta/imagechat/server"
)

const (
	shutdownTimeout = 30 * time.Second
	writeMargin     = 30 * time.Second
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("failed to load configuration", "error", err.Error())
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := gemini.New(ctx, &imagechat.ProviderConfig{
		Provider: imagechat.ProviderGeminiAPI,
		APIKey:   cfg.GeminiAPIKey,
		BaseURL:  cfg.GeminiBaseURL,
	})
	if err != nil {
		return err
	}
	model := imagechat.Model(cfg.Model)
	client.SetDefaultModel(model)

	registry, err := imagechat.NewRegistry(client,
		imagechat.WithLogger(logger),
		imagechat.WithGenerateConfig(imagechat.DefaultConfigWithModel(model)),
		imagechat.WithMaxSessions(cfg.MaxSessions),
	)
	if err != nil {
		_ = client.Close()
		return err
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Warn("failed to close registry", "error", err.Error())
		}
	}()

	uploads, err := imagechat.NewDiskStore(cfg.UploadDir)
	if err != nil {
		return err
	}
	outputs, err := imagechat.NewDiskStore(cfg.OutputDir)
	if err != nil {
		return err
	}

	srv := server.New(registry, uploads, outputs,
		server.WithLogger(logger),
		server.WithMaxUploadBytes(cfg.MaxUploadBytes),
		server.WithGenerateTimeout(cfg.GenerateTimeout),
	)

	// Generation routinely outlasts ordinary request timeouts.
	var writeTimeout time.Duration
	if cfg.GenerateTimeout > 0 {
		writeTimeout = cfg.GenerateTimeout + writeMargin
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			"addr", cfg.ListenAddr,
			"model", cfg.Model,
			"upload_dir", uploads.Dir(),
			"output_dir", outputs.Dir(),
			"max_sessions", cfg.MaxSessions,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), shutdownTimeout, errors.New("shutdown timeout"))
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err.Error())
		_ = httpServer.Close()
	}
	logger.Info("server stopped")
	return nil
}
