package coordinator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"fwdproxy/internal/blocklist"
	"fwdproxy/internal/cache"
	"fwdproxy/internal/config"
	"fwdproxy/internal/console"
)

// Coordinator owns the shared stores and the worker pool
type Coordinator struct {
	cfg       *config.Config
	blocklist *blocklist.Set
	cache     *cache.MemoryCache
	console   *console.Console
	metrics   *Metrics

	server        *Server
	supervisor    *Supervisor
	sweeper       *Sweeper
	metricsServer *MetricsServer

	logger zerolog.Logger
}

// New creates a Coordinator that spawns workers through spawner
func New(cfg *config.Config, spawner Spawner, logger zerolog.Logger) (*Coordinator, error) {
	mc, err := cache.NewMemoryCache(cfg.CacheSize, cfg.GetCacheTTLDuration())
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	logger.Info().
		Int("size", cfg.CacheSize).
		Int("ttl", cfg.CacheTTL).
		Msg("cache enabled")

	bl := blocklist.NewSet()
	cons := console.New(bl, logger)
	metrics := NewMetrics()

	dispatcher := NewDispatcher(bl, mc, cons, metrics, logger)

	c := &Coordinator{
		cfg:        cfg,
		blocklist:  bl,
		cache:      mc,
		console:    cons,
		metrics:    metrics,
		server:     NewServer(cfg.GetIPCSocketPath(), dispatcher, logger),
		supervisor: NewSupervisor(spawner, cfg.GetWorkerCount(), cfg.GetRestartDelayDuration(), cons, metrics, logger),
		sweeper:    NewSweeper(mc, bl, metrics, cfg.GetCacheSweepIntervalDuration(), logger),
		logger:     logger,
	}

	if cfg.IsMetricsEnabled() {
		c.metricsServer = NewMetricsServer(cfg.MetricsAddr, metrics, logger)
	} else {
		logger.Info().Msg("metrics disabled")
	}

	return c, nil
}

// Start serves the IPC socket, starts background jobs and spawns the workers
func (c *Coordinator) Start() error {
	if err := c.server.Start(); err != nil {
		return err
	}
	if err := c.sweeper.Start(); err != nil {
		return err
	}
	if c.metricsServer != nil {
		c.metricsServer.Start()
	}

	c.logger.Info().
		Int("workers", c.cfg.GetWorkerCount()).
		Str("addr", c.cfg.GetListenAddr()).
		Msg("starting workers")

	return c.supervisor.Start()
}

// Console returns the operator console
func (c *Coordinator) Console() *console.Console {
	return c.console
}

// Blocklist returns the authoritative blocklist
func (c *Coordinator) Blocklist() *blocklist.Set {
	return c.blocklist
}

// Cache returns the authoritative cache
func (c *Coordinator) Cache() *cache.MemoryCache {
	return c.cache
}

// Stop kills the workers and releases the socket
func (c *Coordinator) Stop(ctx context.Context) error {
	c.logger.Info().Msg("shutting down coordinator...")

	c.supervisor.Stop()
	c.sweeper.Stop()

	var metricsErr error
	if c.metricsServer != nil {
		metricsErr = c.metricsServer.Stop(ctx)
	}

	if err := c.server.Stop(ctx); err != nil {
		return err
	}
	if metricsErr != nil {
		return fmt.Errorf("metrics server shutdown error: %w", metricsErr)
	}

	c.logger.Info().Msg("coordinator stopped")
	return nil
}
