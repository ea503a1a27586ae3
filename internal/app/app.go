// Package app initializes and holds the long-lived services behind the CLI
// commands: the store, the browser pool, the courier registry, and the two
// cycle runners.
package app

import (
	"context"
	"fmt"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/adyam/logistics-tracker/internal/alerts"
	"github.com/adyam/logistics-tracker/internal/archive"
	"github.com/adyam/logistics-tracker/internal/browser"
	"github.com/adyam/logistics-tracker/internal/config"
	"github.com/adyam/logistics-tracker/internal/orchestrator"
	"github.com/adyam/logistics-tracker/internal/providers"
	"github.com/adyam/logistics-tracker/internal/publisher"
	"github.com/adyam/logistics-tracker/internal/publisher/gcp"
	"github.com/adyam/logistics-tracker/internal/router"
	"github.com/adyam/logistics-tracker/internal/server"
	"github.com/adyam/logistics-tracker/internal/store"
	"github.com/adyam/logistics-tracker/internal/whatsapp"
)

// App holds the shared services. It is built once at startup and torn down
// by Close.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Store        *store.Store
	Orchestrator *orchestrator.Orchestrator
	Dispatcher   *alerts.Dispatcher
	Server       *server.Server

	pool      *browser.Pool
	messenger *whatsapp.Messenger
	publisher *gcp.Publisher
}

// New wires every service from the configuration, failing fast when a
// critical dependency cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	st, err := store.New(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}

	arch, err := buildArchive(ctx, cfg.Archive, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	pool := browser.NewPool(browser.Config{
		Headless:       cfg.Browser.Headless,
		UserAgent:      cfg.Browser.UserAgent,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		Locale:         cfg.Browser.Locale,
		NavTimeout:     cfg.Browser.NavTimeout(),
		MaxAttempts:    cfg.Browser.MaxAttempts,
		Backoff:        cfg.Browser.Backoff(),
	}, logger, arch)

	registry := providers.NewRegistry(providers.Deps{
		Browser:   pool,
		Logger:    logger,
		UserAgent: cfg.Browser.UserAgent,
		FedEx: providers.Credentials{
			APIKey:    cfg.Providers.FedEx.APIKey,
			APISecret: cfg.Providers.FedEx.APISecret,
		},
		DHL: providers.Credentials{
			APIKey: cfg.Providers.DHL.APIKey,
		},
	})
	rtr := router.New(registry, nil, logger)

	var (
		pub    publisher.Publisher
		gcpPub *gcp.Publisher
	)
	if cfg.PubSub.TopicName != "" {
		gcpPub, err = gcp.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			pool.Close()
			st.Close()
			return nil, fmt.Errorf("initialize pubsub publisher: %w", err)
		}
		pub = gcpPub
		logger.Info("delivery events enabled",
			zap.String("topic", cfg.PubSub.TopicName))
	}

	orch := orchestrator.New(st, rtr, pub, nil, logger, orchestrator.Config{
		Pace:    cfg.Tracking.Pace(),
		LogTail: cfg.Tracking.LogTail,
	})

	messenger := whatsapp.New(whatsapp.Config{
		SessionDir:    cfg.WhatsApp.SessionDir,
		RatePerMinute: cfg.WhatsApp.RatePerMinute,
		SendTimeout:   cfg.WhatsApp.SendTimeout(),
		Headless:      cfg.WhatsApp.Headless,
	}, logger)

	dispatcher := alerts.New(st, messenger, nil, logger, alerts.Config{
		BatchSize:   cfg.Alerts.BatchSize,
		Lease:       cfg.Alerts.Lease(),
		MaxAttempts: cfg.Alerts.MaxAttempts,
		Interval:    cfg.Alerts.Interval(),
		Pace:        cfg.Alerts.Pace(),
		PublicURL:   cfg.Tracking.PublicURL,
		Retry:       alerts.DefaultRetry,
	})

	return &App{
		Config:       cfg,
		Logger:       logger,
		Store:        st,
		Orchestrator: orch,
		Dispatcher:   dispatcher,
		Server:       server.New(orch, dispatcher, st, logger),
		pool:         pool,
		messenger:    messenger,
		publisher:    gcpPub,
	}, nil
}

func buildArchive(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (archive.Store, error) {
	switch {
	case cfg.GCSBucket != "":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialize gcs client: %w", err)
		}
		logger.Info("archiving failure artifacts to gcs",
			zap.String("bucket", cfg.GCSBucket))
		return archive.NewGCS(client, cfg.GCSBucket)
	case cfg.LocalDir != "":
		logger.Info("archiving failure artifacts locally",
			zap.String("dir", cfg.LocalDir))
		return archive.NewLocal(cfg.LocalDir)
	default:
		return nil, nil
	}
}

// Close shuts the services down in reverse dependency order.
func (a *App) Close() {
	if a.messenger != nil {
		a.messenger.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.Logger.Warn("close publisher", zap.Error(err))
		}
	}
	if a.Store != nil {
		a.Store.Close()
	}
}
