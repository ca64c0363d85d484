package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"github.com/example/ssam-replicate/internal/blob"
	"github.com/example/ssam-replicate/internal/config"
	"github.com/example/ssam-replicate/internal/export"
	"github.com/example/ssam-replicate/internal/httpapi"
	"github.com/example/ssam-replicate/internal/hub"
	"github.com/example/ssam-replicate/internal/relay"
	"github.com/example/ssam-replicate/internal/replicate"
)

const shutdownTimeout = 10 * time.Second

func main() {
	loadDotEnv()
	cfg := config.Load()
	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("dev server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()

	output := blob.LocalFS{Root: cfg.OutDir}
	exporter := export.New(output, &http.Client{}, logger.With("component", "export"))
	_ = exporter.EnsureDir()

	if cfg.APIKey == "" {
		logger.Warn("no Replicate API token configured, only dry runs will succeed")
	}
	predictor := replicate.New(cfg.APIKey, cfg.BaseURL)

	// Handlers get the process context: a client disconnect never cancels a
	// running prediction, shutdown does.
	mux := hub.NewMux(ctx, logger.With("component", "hub"))
	relay.New(relay.Options{
		TestOutput: cfg.TestOutput,
		SaveOutput: cfg.SaveOutput,
		Log:        cfg.Log,
	}, predictor, exporter, logger.With("component", "relay")).Register(mux)

	server := httpapi.Server{Output: output}
	var mqttTransport *hub.MQTT
	if cfg.Enabled(config.TransportWebSocket) {
		server.Events = hub.NewWebSocket(mux, logger.With("transport", "ws"))
	}
	if cfg.Enabled(config.TransportMQTT) {
		transport, err := hub.NewMQTT(cfg.MQTTBroker, cfg.MQTTPrefix, mux, logger)
		if err != nil {
			return fmt.Errorf("mqtt transport: %w", err)
		}
		mqttTransport = transport
		server.Broker = transport
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("dev server listening",
			"addr", cfg.Addr,
			"outDir", cfg.OutDir,
			"transports", cfg.Transports,
			"saveOutput", cfg.SaveOutput,
			"clientLog", cfg.Log,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	// Hijacked websocket connections outlive Shutdown; stop dispatching
	// before draining so nothing new joins the wait.
	mux.Close()
	if mqttTransport != nil {
		mqttTransport.Close()
	}
	logger.Info("waiting for in-flight requests")
	mux.Wait()
	return err
}

func setupLogger(level slog.Level) {
	w := os.Stderr
	logger := slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if err, ok := a.Value.Any().(error); ok {
					aErr := tint.Err(err)
					aErr.Key = a.Key
					return aErr
				}
				return a
			},
		}),
	).With("plugin", "ssam-replicate")
	slog.SetDefault(logger)
}

func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
