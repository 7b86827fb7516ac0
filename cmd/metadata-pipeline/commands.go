package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/metadata-pipeline/internal/cache"
	"github.com/andresuchdata/metadata-pipeline/internal/config"
	"github.com/andresuchdata/metadata-pipeline/internal/metadata"
	"github.com/andresuchdata/metadata-pipeline/internal/pipeline"
	"github.com/andresuchdata/metadata-pipeline/internal/storage"
	"github.com/andresuchdata/metadata-pipeline/pkg/logger"
)

// environment holds what every command shares once Before has run.
type environment struct {
	cfg     *config.Config
	kgCache cache.KnowledgeGraphCache
	orch    *pipeline.Orchestrator
}

func (e *environment) setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	if err := logger.Setup(logger.Options{
		Level:      level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	store, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:     cfg.Storage.Endpoint,
		AccessKey:    cfg.Storage.AccessKey,
		SecretKey:    cfg.Storage.SecretKey,
		SessionToken: cfg.Storage.SessionToken,
		Bucket:       cfg.Storage.Bucket,
		Region:       cfg.Storage.Region,
		UseSSL:       cfg.Storage.UseSSL,
	}, logger.Component("storage"))
	if err != nil {
		return fmt.Errorf("failed to create object store: %w", err)
	}

	kgCache, err := cache.NewKnowledgeGraphCache(cfg.Cache)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("knowledge graph cache unavailable, continuing without it")
		kgCache = cache.NewNoopKnowledgeGraphCache()
	}

	client := metadata.NewClient(cfg.Remote.Host,
		metadata.WithTimeout(cfg.Remote.Timeout),
		metadata.WithRateLimit(cfg.Remote.RateLimit),
		metadata.WithLogger(logger.Component("metadata")),
	)

	e.cfg = cfg
	e.kgCache = kgCache
	e.orch = pipeline.NewOrchestrator(cfg, store,
		pipeline.ClientAuthenticator(client, cfg.Remote.ClientKey, cfg.Remote.ClientSecret),
		pipeline.WithKnowledgeGraphCache(kgCache),
		pipeline.WithLogger(logger.Component("pipeline")),
	)
	return nil
}

func (e *environment) close(c *cli.Context) error {
	if e.kgCache != nil {
		return e.kgCache.Close()
	}
	return nil
}

func (e *environment) runAll(c *cli.Context) error {
	summary, err := e.orch.RunAll(c.Context, c.String("text"), c.String("target-language"))
	if printErr := printJSON(summary); printErr != nil {
		return errors.Join(err, printErr)
	}
	return err
}

func (e *environment) analyze(c *cli.Context) error {
	res, err := e.orch.Analyze(c.Context, c.String("text"), c.String("target-language"))
	if err != nil {
		return err
	}
	return printJSON(res)
}

func (e *environment) segmentText(c *cli.Context) error {
	res, err := e.orch.SegmentText(c.Context)
	return report(res, err)
}

func (e *environment) translateCaptions(c *cli.Context) error {
	res, err := e.orch.TranslateCaptions(c.Context)
	return report(res, err)
}

func report[Resp any](res *pipeline.Result[Resp], err error) error {
	if res != nil {
		logger.Log.Info().
			Str("workflow", res.Workflow).
			Str("status", res.Status()).
			Int("cleanup_errors", len(res.CleanupErrors)).
			Msg("workflow finished")
	}
	if err != nil {
		return err
	}
	return printJSON(res)
}

// printJSON writes v to stdout; logs stay on stderr.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
