package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/user/ticketdigest/internal/config"
	"github.com/user/ticketdigest/internal/delivery"
	"github.com/user/ticketdigest/internal/glpi"
	"github.com/user/ticketdigest/internal/pipeline"
	"github.com/user/ticketdigest/internal/prompt"
	"github.com/user/ticketdigest/internal/report"
	"github.com/user/ticketdigest/internal/retry"
	"github.com/user/ticketdigest/internal/state"
	"github.com/user/ticketdigest/internal/storage"
	"github.com/user/ticketdigest/internal/summarize"
	"github.com/user/ticketdigest/internal/telegram"
	"github.com/user/ticketdigest/internal/telemetry"
	"github.com/user/ticketdigest/pkg/llm"
	"github.com/user/ticketdigest/pkg/llm/openai"
)

// app holds the components shared by serve and run.
type app struct {
	runs       *state.Ledger
	artifacts  *state.ArtifactIndex
	orch       *pipeline.Orchestrator
	telegram   *telegram.Adapter
	scratchDir string
	closers    []func() error
}

// buildApp wires every pipeline component from cfg. metrics may be nil.
func buildApp(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	a := &app{
		runs:      state.NewLedger(cfg.DataDir),
		artifacts: state.NewArtifactIndex(cfg.DataDir),
	}

	a.scratchDir = cfg.Report.ScratchDir
	if a.scratchDir == "" {
		a.scratchDir = filepath.Join(cfg.DataDir, "scratch")
	}
	if err := os.MkdirAll(a.scratchDir, 0755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	// GLPI
	loc, err := time.LoadLocation(cfg.GLPI.Timezone)
	if err != nil {
		slog.Warn("unknown glpi timezone, using UTC", "timezone", cfg.GLPI.Timezone, "error", err)
		loc = time.UTC
	}
	client := glpi.NewClient(cfg.GLPI.URL, glpi.Credentials{
		AppToken:  cfg.GLPI.AppToken,
		UserToken: cfg.GLPI.UserToken,
		Login:     cfg.GLPI.Login,
		Password:  cfg.GLPI.Password,
	}, cfg.GLPI.Timeout.Std())
	sessions := glpi.NewSessionManager(client)
	reader := glpi.NewReader(client, loc)

	// LLM provider
	llmCfg := &llm.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		MaxTokens:      cfg.LLM.MaxTokens,
		Temperature:    cfg.LLM.Temperature,
		Timeout:        cfg.LLM.Timeout.Std(),
		MaxRetries:     cfg.LLM.MaxRetries,
	}
	provider := openai.New(llmCfg)

	engine, err := prompt.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens)
	if err != nil {
		return nil, fmt.Errorf("create prompt engine: %w", err)
	}
	summarizer := summarize.New(provider, provider, engine, summarize.Options{
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
		TopK:         cfg.RAG.TopK,
		MaxChunks:    cfg.RAG.MaxChunks,
		Timeout:      cfg.LLM.Timeout.Std(),
		Params:       llmCfg.DefaultParams(),
	})

	// Object storage
	fsRoot := cfg.Storage.FS.Root
	if fsRoot == "" {
		fsRoot = filepath.Join(cfg.DataDir, "objects")
	}
	backend, err := storage.New(ctx, storage.Config{
		Backend: cfg.Storage.Backend,
		Bucket:  cfg.Storage.Bucket,
		Prefix:  cfg.Storage.Prefix,
		S3: storage.S3Config{
			Endpoint:        cfg.Storage.S3.Endpoint,
			Region:          cfg.Storage.S3.Region,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
		},
		GCS: storage.GCSConfig{
			CredentialsFile: cfg.Storage.GCS.CredentialsFile,
			EmulatorHost:    cfg.Storage.GCS.EmulatorHost,
		},
		FSRoot: fsRoot,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store: %w", err)
	}
	if c, ok := backend.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	policy := retry.DefaultPolicy()
	if cfg.Storage.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Storage.Retry.MaxAttempts
	}
	if d := cfg.Storage.Retry.InitialDelay.Std(); d > 0 {
		policy.InitialDelay = d
	}
	store := storage.WithRetry(backend, policy)
	store.OnRetry(func(key string, attempt int, err error) {
		metrics.UploadAttempt("attempt_failed")
	})

	builder := report.NewBuilder(store, report.NewRenderer(cfg.LLM.Model), a.scratchDir)

	// Failure alerts
	registry := delivery.NewRegistry()
	registry.Register("log:", delivery.LogHandler)
	if cfg.Alerts.TelegramToken != "" {
		adapter, err := telegram.New(cfg.Alerts.TelegramToken, a.runs)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("create telegram adapter: %w", err)
		}
		registry.Register(telegram.TargetPrefix, adapter.Deliver)
		a.telegram = adapter
	}
	targets := cfg.Alerts.Targets
	if len(targets) == 0 {
		targets = []string{"log:"}
	}
	if bad := registry.Unroutable(targets); len(bad) > 0 {
		slog.Warn("alert targets have no registered handler", "targets", bad)
	}

	a.orch = pipeline.New(pipeline.Deps{
		Sessions:   sessions,
		Reader:     reader,
		Summarizer: summarizer,
		Publisher:  builder,
		Runs:       a.runs,
		Artifacts:  a.artifacts,
		Alerts:     delivery.NewAlerter(registry, targets),
		Metrics:    metrics,
	})
	return a, nil
}

// close releases backend clients.
func (a *app) close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
