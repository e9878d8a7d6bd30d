package main

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/askme/internal/config"
	"github.com/ChamsBouzaiene/askme/internal/logging"
	"github.com/ChamsBouzaiene/askme/internal/persist"
	"github.com/ChamsBouzaiene/askme/internal/session"
	"github.com/ChamsBouzaiene/askme/internal/stream"
)

// app wires configuration into a running session store.
type app struct {
	logger  *zap.Logger
	adapter persist.Adapter
	store   *session.Store
}

func openApp(ctx context.Context, cfg *config.Config, dir string, observers ...session.Observer) (*app, error) {
	logger, err := newLogger(cfg, dir)
	if err != nil {
		return nil, err
	}

	adapter, err := openAdapter(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	client := stream.NewClient(cfg.BackendURL, cfg.Stream.RequestTimeout,
		stream.WithLogger(logger.Named("stream")),
		stream.WithRetryPolicy(retryPolicy(cfg.Stream)),
		stream.WithReadBufferSize(cfg.Stream.ReadBuffer),
		stream.WithAssistantRole(cfg.Stream.AssistantRole),
	)

	all := append([]session.Observer{session.LoggerObserver{L: logger.Named("session")}}, observers...)
	store, err := session.New(ctx, session.Options{
		Adapter:   adapter,
		Streamer:  client,
		Logger:    logger.Named("store"),
		Observers: all,
	})
	if err != nil {
		adapter.Close()
		_ = logger.Sync()
		return nil, err
	}

	logger.Info("askme started",
		zap.String("backend", client.Endpoint()),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("path", cfg.Storage.Path),
	)
	return &app{logger: logger, adapter: adapter, store: store}, nil
}

func (a *app) Close() error {
	err := a.adapter.Close()
	_ = a.logger.Sync()
	return err
}

// newLogger writes to dir/askme.log unless an output is configured.
func newLogger(cfg *config.Config, dir string) (*zap.Logger, error) {
	logCfg := cfg.Log
	if logCfg.Output == "" {
		logCfg.Output = filepath.Join(dir, "askme.log")
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return logger, nil
}

func openAdapter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (persist.Adapter, error) {
	adapter, err := persist.Open(ctx, persist.Options{
		Driver: persist.Driver(cfg.Storage.Driver),
		Path:   cfg.Storage.Path,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session storage: %w", err)
	}
	return adapter, nil
}

func retryPolicy(sc config.StreamConfig) stream.RetryPolicy {
	p := stream.DefaultRetryPolicy()
	p.MaxRetries = sc.MaxRetries
	if sc.InitialDelay > 0 {
		p.InitialDelay = sc.InitialDelay
	}
	if sc.MaxDelay > 0 {
		p.MaxDelay = sc.MaxDelay
	}
	return p
}
