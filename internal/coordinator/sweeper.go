package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"fwdproxy/internal/blocklist"
	"fwdproxy/internal/cache"
)

// Sweeper periodically drops expired cache entries and refreshes the
// store gauges.
type Sweeper struct {
	cache     *cache.MemoryCache
	blocklist *blocklist.Set
	metrics   *Metrics
	interval  time.Duration
	cron      *cron.Cron
	logger    zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper. A non-positive interval disables it.
func NewSweeper(mc *cache.MemoryCache, bl *blocklist.Set, metrics *Metrics, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		cache:     mc,
		blocklist: bl,
		metrics:   metrics,
		interval:  interval,
		cron:      cron.New(),
		logger:    logger.With().Str("component", "sweeper").Logger(),
	}
}

// Start schedules the sweep
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.interval <= 0 {
		s.logger.Info().Msg("cache sweep disabled")
		return nil
	}

	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.Sweep() }); err != nil {
		return fmt.Errorf("failed to schedule cache sweep: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Dur("interval", s.interval).Msg("cache sweeper started")
	return nil
}

// Sweep runs one pass and returns the number of entries removed
func (s *Sweeper) Sweep() int {
	removed := s.cache.RemoveExpired()

	s.metrics.SetCacheEntries(s.cache.Len())
	s.metrics.SetBlockedHosts(s.blocklist.Len())

	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("expired cache entries removed")
	}
	return removed
}

// Stop stops the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.running = false
	}
}
