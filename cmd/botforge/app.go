package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"botforge/internal/bundle"
	"botforge/internal/cache"
	"botforge/internal/codegen"
	"botforge/internal/config"
	"botforge/internal/deploy"
	"botforge/internal/events"
	"botforge/internal/logging"
	"botforge/internal/pipeline"
	"botforge/internal/requirements"
	"botforge/internal/store"
	"botforge/internal/synthesis"
)

// app holds the wired components shared by every subcommand
type app struct {
	cfg      *config.Config
	client   *synthesis.Router
	cache    *cache.AnalysisCache
	store    *store.Store
	manager  *deploy.Manager
	hub      *events.Hub
	pipeline *pipeline.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logging.L()
	a := &app{cfg: cfg}

	a.client = synthesis.NewFromConfig(cfg)
	log.Info("synthesis service configured",
		zap.String("provider", string(a.client.Provider())),
		zap.String("model", a.client.Model()),
		zap.String("endpoint", a.client.Endpoint()))

	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisURL = cfg.RedisURL
	cacheCfg.TTL = cfg.AnalysisCacheTTL
	cacheCfg.MaxMemoryItems = cfg.AnalysisCacheSize
	c, err := cache.New(cacheCfg)
	if err != nil {
		return nil, err
	}
	a.cache = c

	st, err := store.Open(store.Config{DatabaseURL: cfg.DatabaseURL, SQLitePath: cfg.SQLitePath})
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = st

	var archiver bundle.Archiver
	if cfg.BundleArchiveBucket != "" {
		s3a, err := bundle.NewS3Archiver(ctx, bundle.S3Options{
			Bucket:   cfg.BundleArchiveBucket,
			Prefix:   cfg.BundleArchivePrefix,
			Region:   cfg.AWSRegion,
			Endpoint: cfg.BundleArchiveURL,
		})
		if err != nil {
			log.Warn("bundle archiving disabled", zap.Error(err))
		} else {
			archiver = s3a
			log.Info("bundle archiving enabled", zap.String("bucket", cfg.BundleArchiveBucket))
		}
	}

	var installer deploy.Installer
	if cfg.InstallDependencies {
		installer = deploy.PipInstaller{Timeout: 2 * time.Minute}
	}
	a.manager = deploy.NewManager(deploy.Options{
		BackendPort:     cfg.BackendPort,
		FrontendPort:    cfg.FrontendPort,
		BackendCommand:  cfg.BackendCommand,
		FrontendCommand: cfg.FrontendCommand,
		GracePeriod:     cfg.DeployGracePeriod,
		StopTimeout:     cfg.DeployStopTimeout,
		Reconciler:      deploy.NewReconciler(deploy.NewSystemProcessTable(), cfg.ServiceSignature),
		Installer:       installer,
	})

	a.hub = events.NewHub(cfg.CORSAllowedOrigins)

	analyzer := requirements.NewAnalyzer(a.client, nil, a.cache)
	a.pipeline = pipeline.New(pipeline.Options{
		Analyzer: analyzer,
		Backend:  codegen.NewStage(codegen.KindBackend, a.client),
		UI:       codegen.NewStage(codegen.KindUI, a.client),
		Integrator: bundle.NewIntegrator(bundle.Options{
			Root:         cfg.BundleRoot,
			BackendPort:  cfg.BackendPort,
			FrontendPort: cfg.FrontendPort,
			Archiver:     archiver,
		}),
		Deployer:         a.manager,
		Store:            a.store,
		Events:           a.hub,
		MaxMessageLength: cfg.MaxMessageLength,
		RequestTimeout:   cfg.RequestTimeout,
	})
	return a, nil
}

// shutdown stops every deployment and releases connections
func (a *app) shutdown(ctx context.Context) {
	if a.manager != nil {
		stopped, err := a.manager.StopAll(ctx)
		if err != nil {
			logging.L().Warn("failed to stop some deployments", zap.Error(err))
		}
		if len(stopped) > 0 {
			logging.L().Info("deployments stopped", zap.Strings("ids", stopped))
		}
	}
	a.close()
}

func (a *app) close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logging.L().Warn("cache close failed", zap.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		logging.L().Warn("store close failed", zap.Error(err))
	}
}
