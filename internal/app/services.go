package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/tagyoureit/luxord/internal/accessory"
	"github.com/tagyoureit/luxord/internal/config"
	"github.com/tagyoureit/luxord/internal/db"
	"github.com/tagyoureit/luxord/internal/discovery"
	"github.com/tagyoureit/luxord/internal/eventbus"
	"github.com/tagyoureit/luxord/internal/ledger"
	"github.com/tagyoureit/luxord/internal/luxor"
	"github.com/tagyoureit/luxord/internal/metrics"
	"github.com/tagyoureit/luxord/internal/mqtt"
	"github.com/tagyoureit/luxord/internal/platform"
	"github.com/tagyoureit/luxord/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Store  *storage.Store

	Accessories *accessory.Store
	Bus         *eventbus.Bus
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics

	Platform *platform.Platform
	MQTT     *mqtt.Publisher
	Health   *HealthService

	platformDone chan struct{}
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	s.Store = storage.NewStore(database.DB)
	s.Accessories = accessory.NewStore(s.Store, s.Ledger)

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	s.Registry = prometheus.NewRegistry()
	s.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.Metrics = metrics.New(s.Registry)

	s.Platform = platform.New(platformOptions(cfg, s))
	s.Health = NewHealthService(cfg, s.Platform, s.Ledger, s.Registry)

	return s, nil
}

func platformOptions(cfg *config.Config, s *Services) platform.Options {
	disc := discovery.New(discovery.Options{
		IP:           cfg.Controller.IP,
		MDNS:         cfg.Discovery.MDNSEnabled(),
		Service:      cfg.Discovery.MDNSService,
		MDNSTimeout:  cfg.Discovery.MDNSTimeout.Duration(),
		ProbeTimeout: cfg.Controller.Timeout.Duration(),
	})

	return platform.Options{
		Discoverer: disc,
		Store:      s.Accessories,
		Bus:        s.Bus,
		Metrics:    s.Metrics,
		Client: luxor.Options{
			Name:         cfg.Controller.Name,
			Timeout:      cfg.Controller.Timeout.Duration(),
			CacheTTL:     cfg.Controller.CacheTTL.Duration(),
			PollInterval: cfg.Controller.PollInterval.Duration(),
			RefreshDelay: cfg.Controller.RefreshDelay.Duration(),
			Cooldown:     cfg.Controller.RequestCooldown.Duration(),
			NoAllThemes:  cfg.Accessories.NoAllThemes,
		},
		HideGroups:    cfg.Accessories.HideGroups,
		Remove:        cfg.Accessories.RemoveAccessories,
		RemoveAll:     cfg.Accessories.RemoveAllAccessories,
		RetryInterval: cfg.Discovery.RetryInterval.Duration(),
	}
}

// Start starts all services in the correct order.
// The onFatalError callback is called when the platform stops with an error.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if s.cfg.MQTT.Enabled {
		pub, err := mqtt.Connect(s.cfg.MQTT)
		if err != nil {
			return err
		}
		s.MQTT = pub
		s.MQTT.Attach(s.Bus)
		if err := s.MQTT.HandleCommands(ctx, s.Platform); err != nil {
			return err
		}
	}

	s.platformDone = make(chan struct{})
	go func() {
		defer close(s.platformDone)
		if err := s.Platform.Run(ctx); err != nil {
			onFatalError(fmt.Errorf("platform stopped: %w", err))
		}
	}()

	go s.runLedgerCleanup(ctx)
	s.Health.Start(ctx)

	return nil
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *Services) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

// ClearAccessories removes every persisted accessory.
func (s *Services) ClearAccessories() error {
	return s.Accessories.Clear()
}

// Stop waits for the platform to wind down and releases all resources.
// The context passed to Start must already be cancelled.
func (s *Services) Stop() error {
	timeout := s.cfg.ShutdownTimeout.Duration()
	if s.platformDone != nil {
		select {
		case <-s.platformDone:
		case <-time.After(timeout):
			log.Warn().Dur("timeout", timeout).Msg("Platform did not stop in time")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.Bus.Close(ctx)

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.MQTT != nil {
		s.MQTT.Close()
		s.MQTT = nil
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
		s.DB = nil
	}
}
