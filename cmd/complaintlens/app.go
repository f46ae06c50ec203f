package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/complaintlens/internal/cluster"
	"github.com/dshills/complaintlens/internal/config"
	"github.com/dshills/complaintlens/internal/credential"
	"github.com/dshills/complaintlens/internal/embedder"
	"github.com/dshills/complaintlens/internal/ingest"
	"github.com/dshills/complaintlens/internal/llm"
	"github.com/dshills/complaintlens/internal/logging"
	"github.com/dshills/complaintlens/internal/pipeline"
	"github.com/dshills/complaintlens/internal/storage"
	"github.com/dshills/complaintlens/internal/summary"
	"github.com/dshills/complaintlens/internal/tasks"
	"github.com/dshills/complaintlens/internal/youtube"
)

// app holds the wired components shared by every command
type app struct {
	cfg          config.Config
	logger       *zap.Logger
	store        storage.Storage
	embedder     embedder.Embedder
	pipeline     *pipeline.Pipeline
	ingest       *ingest.Service
	orchestrator *cluster.Orchestrator
	projector    *cluster.Projector
	tasks        *tasks.Runner
}

// newApp wires config -> logging -> storage -> credentials -> LLM clients ->
// embedder -> pipeline -> summary -> cluster -> tasks
func newApp(ctx context.Context) (_ *app, err error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, "complaintlens")
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.store, err = storage.NewSQLiteStorage(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// LLM clients. Interfaces stay nil for providers that are not configured.
	var (
		primaryVectors   embedder.VectorClient
		secondaryVectors embedder.VectorClient
		primaryChat      summary.ChatClient
		secondaryChat    summary.StructuredClient
		primaryModel     string
		secondaryModel   string
	)
	if cfg.GigaChat.Token != "" {
		tokens := credential.NewCache(
			credential.NewOAuthAuthorizer(cfg.GigaChat.AuthURL, cfg.GigaChat.Token, cfg.GigaChat.Scope, cfg.GigaChat.InsecureTLS),
			credential.Options{
				TTL:    cfg.GigaChat.TokenTTL,
				Store:  credential.NewFileStore(cfg.GigaChat.TokenPath),
				Logger: logger.Named("credential"),
			})
		giga := llm.NewGigaChat(llm.GigaChatConfig{
			BaseURL:           cfg.GigaChat.APIURL,
			EmbeddingModel:    cfg.GigaChat.EmbeddingModel,
			ChatModel:         cfg.GigaChat.ChatModel,
			InsecureTLS:       cfg.GigaChat.InsecureTLS,
			RequestsPerSecond: cfg.Pipeline.RequestsPerSecond,
		}, tokens)
		primaryVectors, primaryChat, primaryModel = giga, giga, giga.EmbeddingModel()
	}
	if cfg.OpenRouter.Token != "" {
		router := llm.NewOpenRouter(llm.OpenRouterConfig{
			APIKey:            cfg.OpenRouter.Token,
			BaseURL:           cfg.OpenRouter.BaseURL,
			Model:             cfg.OpenRouter.Model,
			EmbeddingModel:    cfg.OpenRouter.EmbeddingModel,
			MaxRetries:        2,
			RequestsPerSecond: cfg.Pipeline.RequestsPerSecond,
		})
		secondaryVectors, secondaryChat, secondaryModel = router, router, router.EmbeddingModel()
	}

	a.embedder, err = embedder.New(embedder.Config{
		Primary:        primaryVectors,
		PrimaryModel:   primaryModel,
		Secondary:      secondaryVectors,
		SecondaryModel: secondaryModel,
		Logger:         logger.Named("embedder"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	a.pipeline = pipeline.New(a.embedder, a.store, logger.Named("pipeline"), &pipeline.Config{
		Workers: cfg.Pipeline.Workers,
	})

	var comments youtube.Source
	if cfg.RequireYouTube() == nil {
		client, err := youtube.NewClient(ctx, cfg.YouTube.APIKey, logger.Named("youtube"))
		if err != nil {
			return nil, err
		}
		comments = client
	}
	a.ingest = ingest.New(a.store, a.embedder, a.pipeline, logger.Named("ingest"), ingest.Config{Comments: comments})

	generator := summary.NewGenerator(a.store, primaryChat, secondaryChat, logger.Named("summary"), summary.Config{
		Language:   cfg.Summary.Language,
		SampleSize: cfg.Summary.SampleSize,
	})
	a.orchestrator = cluster.New(a.store, generator, logger.Named("cluster"), &cluster.Config{
		AssignBatchSize: cfg.Clustering.AssignBatchSize,
		VerifySizes:     cfg.Clustering.VerifySizes,
	})
	a.projector = cluster.NewProjector(a.store, nil, a.orchestrator.Locks(), logger.Named("projector"))

	a.tasks, err = tasks.New(logger.Named("tasks"), tasks.Config{})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// clusterParams returns the configured clustering defaults
func (a *app) clusterParams() cluster.Params {
	p := cluster.DefaultParams()
	p.Algorithm = a.cfg.Clustering.Algorithm
	p.Eps = a.cfg.Clustering.Eps
	p.MinSamples = a.cfg.Clustering.MinSamples
	return p
}

// Close waits for background runs and releases resources
func (a *app) Close() {
	if a.tasks != nil {
		a.tasks.Close()
	}
	var errs []error
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown errors", zap.Error(err))
	}
	_ = a.logger.Sync()
}
