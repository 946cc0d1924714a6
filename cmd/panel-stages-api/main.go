package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"example.com/panelstages/internal/config"
	"example.com/panelstages/internal/ingest"
	"example.com/panelstages/internal/logging"
	"example.com/panelstages/internal/metrics"
	"example.com/panelstages/internal/panelapi"
	spg "example.com/panelstages/internal/storage/postgres"
	transport "example.com/panelstages/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	logger.Info("config loaded", "env", cfg.Env, "port", cfg.Port, "upstream", cfg.UpstreamBaseURL, "auth", len(cfg.APITokens) > 0)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := spg.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()
	logger.Info("db connected")

	mig := filepath.Join("migrations", "0001_init.sql")
	if err := db.RunMigration(ctx, mig); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	logger.Info("db migration applied")

	m := metrics.New()
	writer := spg.NewWriter(db)
	ingestor := ingest.NewIngestor(writer, cfg.QueueMaxSize, cfg.BatchMaxSize, cfg.BatchMaxWait, logger.With("component", "ingest"), m)
	// The ingestor outlives the signal context so in-flight requests can
	// still enqueue while the server drains.
	ingestCtx, stopIngest := context.WithCancel(context.Background())
	defer stopIngest()
	ingestor.Start(ingestCtx)
	logger.Info("ingest started", "queue", cfg.QueueMaxSize, "batch", cfg.BatchMaxSize, "wait", cfg.BatchMaxWait)

	deps := &transport.ServerDeps{
		Cfg:      cfg,
		Store:    db,
		Writer:   writer,
		Ingestor: ingestor,
		Metrics:  m,
		Log:      logger.With("component", "http"),
		Now:      func() time.Time { return time.Now().UTC() },
	}

	if cfg.UpstreamBaseURL != "" {
		client, err := panelapi.New(cfg.UpstreamBaseURL, cfg.UpstreamToken, cfg.UpstreamTimeout)
		if err != nil {
			return err
		}
		deps.Upstream = client
		if cfg.SyncInterval > 0 {
			poller := ingest.NewPoller(client, ingestor, cfg.SyncInterval, logger.With("component", "poller"), m)
			go poller.Run(ctx)
			logger.Info("upstream sync started", "interval", cfg.SyncInterval)
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           deps.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		cancel()
		stopIngest()
		<-ingestor.Done()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	stopIngest()
	<-ingestor.Done()
	logger.Info("shutdown complete")
	return nil
}
