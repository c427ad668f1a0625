package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/docbatch/internal/audit"
	"github.com/raphaelgruber/docbatch/internal/batch"
	"github.com/raphaelgruber/docbatch/internal/config"
	"github.com/raphaelgruber/docbatch/internal/db"
	"github.com/raphaelgruber/docbatch/internal/llm"
	"github.com/raphaelgruber/docbatch/internal/metrics"
	"github.com/raphaelgruber/docbatch/internal/parser"
	"github.com/raphaelgruber/docbatch/internal/stages"
	"github.com/raphaelgruber/docbatch/internal/store"
)

// stack is a configured processor plus the resources it holds open.
type stack struct {
	processor *batch.Processor
	store     store.Store
	closers   []func(context.Context) error
}

// Close releases resources in reverse order of acquisition.
func (s *stack) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i](ctx))
	}
	return errors.Join(errs...)
}

// buildStack wires store, optional LLM, stages, and processor from cfg.
func buildStack(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stack, error) {
	s := &stack{}
	collector := metrics.NewCollector()

	backend, closeBackend, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if closeBackend != nil {
		s.closers = append(s.closers, closeBackend)
	}
	cached, err := store.NewCachedStore(backend, cfg.StoreCacheSize, collector)
	if err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	s.store = cached

	extractOpts := []stages.ExtractorOption{stages.WithExtractorLogger(logger)}
	if cfg.LLMProvider != config.ProviderNone {
		model, err := llm.NewModel(cfg)
		if err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("init model: %w", err)
		}
		logger.Info("llm extraction enabled", "provider", cfg.LLMProvider, "model", model.Model())
		extractOpts = append(extractOpts, stages.WithModel(model))
	}

	cpu := batch.NewCPUPool(batch.DefaultCPUPoolSize(cfg.MaxWorkers))
	chunking := parser.ChunkConfig{
		Threshold:  cfg.ChunkThreshold,
		TargetSize: cfg.ChunkTarget,
		MinSize:    cfg.ChunkMin,
		MaxSize:    cfg.ChunkMax,
		Overlap:    cfg.ChunkOverlap,
	}

	s.processor, err = batch.NewProcessor(
		batch.Config{
			MaxWorkers:      cfg.MaxWorkers,
			DequeueTimeout:  cfg.DequeueTimeout,
			MonitorInterval: cfg.MonitorInterval,
		},
		batch.Stages{
			Decomposer: stages.FileDecomposer{},
			Optimizer:  stages.NewChunkOptimizer(cpu, chunking),
			Extractor:  stages.NewGraphExtractor(cached, extractOpts...),
		},
		batch.WithLogger(logger),
		batch.WithAuditSink(audit.NewLogSink(logger)),
		batch.WithCollector(collector),
		batch.WithCPUPool(cpu),
	)
	if err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("create processor: %w", err)
	}
	return s, nil
}

// openStore returns the configured backend and an optional close function.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(context.Context) error, error) {
	switch cfg.StoreBackend {
	case config.StoreInMemory:
		return store.NewMemoryStore(), nil, nil

	case config.StoreFile:
		fs, err := store.NewFileStore(cfg.StoreDir)
		if err != nil {
			return nil, nil, err
		}
		return fs, nil, nil

	case config.StoreSurreal:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := client.InitSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, nil, fmt.Errorf("initialize schema: %w", err)
		}
		return store.NewSurrealStore(client, logger), client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store backend: %s", cfg.StoreBackend)
	}
}
