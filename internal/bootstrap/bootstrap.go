package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/financial-risk-analyzer/internal/config"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/pipeline"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/ports"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/usecase"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/blobstore"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/cache/labelcache"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/chunking"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/extractor/composite"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/extractor/sniff"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/extractor/tika"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/extractor/xlsx"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/queue/nats"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/registry/memory"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/resilience"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/risk/httpmodel"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/risk/logistic"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/spreadsheet"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/transcriber/openai"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/workdir"
	"github.com/kirillkom/financial-risk-analyzer/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Metrics     *prometheus.Registry
	HTTPMetrics *metrics.HTTPServerMetrics
	Pipeline    *metrics.PipelineMetrics

	Bus       *nats.Bus
	Blobs     ports.BlobStore
	Results   ports.JSONResultStore
	ProcessUC *usecase.ProcessFileUseCase

	executors Executors
	closeFn   func()
}

// Executors holds the retry policies: oracle calls back off longer than
// calls to the other dependencies.
type Executors struct {
	Oracle  *resilience.Executor
	Default *resilience.Executor
}

func NewExecutors(cfg config.Config) Executors {
	oracle := resilience.OracleConfig()
	def := resilience.DefaultConfig()
	if cfg.ResilienceBreakerOff {
		oracle, def = oracle.WithoutBreaker(), def.WithoutBreaker()
	}
	return Executors{
		Oracle:  resilience.NewExecutor(oracle),
		Default: resilience.NewExecutor(def),
	}
}

// Health reports breaker states for /healthz.
func (e Executors) Health() map[string]any {
	states := append(e.Oracle.States(), e.Default.States()...)
	return map[string]any{"breakers": states}
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	registry := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(service, registry)
	httpMetrics := metrics.NewHTTPServerMetrics(service, registry)
	executors := NewExecutors(cfg)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	blobs := blobstore.New(postgres.NewFileRepository(db), storage)
	results := postgres.NewJSONResultRepository(db)

	workspaces, err := workdir.New(cfg.WorkdirRoot)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init workdir root: %w", err)
	}

	var (
		bus    *nats.Bus
		events ports.TaskEventPublisher = nats.NopPublisher{}
	)
	if cfg.NATSURL != "" {
		bus, err = nats.New(cfg.NATSURL, nats.Options{
			StatusSubject:      cfg.NATSStatusSubject,
			ProcessSubject:     cfg.NATSProcessSubject,
			ResilienceExecutor: executors.Default,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init message bus: %w", err)
		}
		events = bus
	} else {
		slog.Info("events_disabled", "reason", "NATS_URL is empty")
	}

	stages, err := BuildStages(cfg, executors, pipelineMetrics)
	if err != nil {
		if bus != nil {
			bus.Close()
		}
		_ = db.Close()
		return nil, err
	}

	processUC := usecase.NewProcessFileUseCase(blobs, results, memory.New(), workspaces, stages, usecase.ProcessOptions{
		StageTimeout:       cfg.StageTimeout,
		MaxConcurrentTasks: int64(cfg.MaxConcurrentTasks),
		Logger:             slog.Default(),
		Observer:           pipelineMetrics,
		Events:             events,
	})

	return &App{
		Config:      cfg,
		Metrics:     registry,
		HTTPMetrics: httpMetrics,
		Pipeline:    pipelineMetrics,
		Bus:         bus,
		Blobs:       blobs,
		Results:     results,
		ProcessUC:   processUC,
		executors:   executors,
		closeFn: func() {
			if bus != nil {
				bus.Close()
			}
			_ = db.Close()
		},
	}, nil
}

// BuildStages wires the pipeline stages to their oracles. It needs no
// database, so batch runs use it directly.
func BuildStages(cfg config.Config, executors Executors, observer ports.PipelineObserver) (usecase.Stages, error) {
	llm := ollama.New(cfg.OllamaURL, cfg.OllamaModel, ollama.Options{
		Timeout:        cfg.OllamaTimeout,
		RateLimitRPS:   cfg.OllamaRateLimitRPS,
		RateLimitBurst: cfg.OllamaRateLimitBurst,
		Executor:       executors.Oracle,
	})

	var fallback ports.TextExtractor
	if cfg.TikaURL != "" {
		client, err := tika.New(cfg.TikaURL, tika.WithOCRLanguage(cfg.TikaOCRLanguage), tika.WithExecutor(executors.Default))
		if err != nil {
			return usecase.Stages{}, fmt.Errorf("init tika client: %w", err)
		}
		fallback = client
	}
	extractor := composite.New(plaintext.NewExtractor(), pdf.NewExtractor(), xlsx.NewExtractor(), fallback)

	var transcriber ports.SpeechTranscriber
	if cfg.TranscribeURL != "" || cfg.TranscribeToken != "" {
		transcriber = openai.New(cfg.TranscribeURL, cfg.TranscribeModel, openai.WithToken(cfg.TranscribeToken))
	}

	classifier, err := riskClassifier(cfg, executors)
	if err != nil {
		return usecase.Stages{}, err
	}

	sheets := spreadsheet.New(cfg.TabularTemplatePath)
	cached := pipeline.NewCachedClassifier(
		ollama.NewStructureClassifier(llm),
		labelcache.New(cfg.ClassifyCacheSize, cfg.ClassifyCacheTTL),
		observer,
	)

	return usecase.Stages{
		Text:     pipeline.NewTextStage(sniff.New(), extractor, transcriber, observer),
		Classify: pipeline.NewClassifyStage(cached),
		Tabular: pipeline.NewTabularStage(ollama.NewFieldExtractor(llm), sheets, pipeline.TabularOptions{
			SkipUnstructured: cfg.SkipUnstructured,
			Windower:         chunking.NewWindower(cfg.TabularWindowRunes, cfg.TabularWindowOverlap),
		}),
		Score:   pipeline.NewScoreStage(sheets, classifier, observer),
		Project: pipeline.NewProjectStage(sheets),
	}, nil
}

func riskClassifier(cfg config.Config, executors Executors) (ports.RiskClassifier, error) {
	if cfg.RiskModelURL != "" {
		return httpmodel.New(cfg.RiskModelURL, executors.Default), nil
	}
	model, err := logistic.Load(cfg.RiskModelPath)
	if err != nil {
		return nil, fmt.Errorf("load risk model: %w", err)
	}
	return model, nil
}

func (a *App) Health() map[string]any {
	return a.executors.Health()
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
