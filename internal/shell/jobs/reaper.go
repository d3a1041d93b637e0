package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/realty-collector/internal/core/domain"
	"github.com/artpar/realty-collector/internal/shell/store"
)

// ReaperConfig configures the stale job reaper.
type ReaperConfig struct {
	// Interval is the time between reaping cycles.
	// Default: 5 minutes.
	Interval time.Duration

	// StaleAfter is how long a job may stay PENDING before it is failed.
	// Default: 2 hours.
	StaleAfter time.Duration
}

// DefaultReaperConfig returns the default configuration.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval:   5 * time.Minute,
		StaleAfter: 2 * time.Hour,
	}
}

// runningChecker reports jobs that are still executing in this process.
type runningChecker interface {
	Running(city, state string) bool
}

// StaleJobReaper marks jobs left PENDING by a crashed or restarted process as
// ERROR, so that the city can be scraped again.
type StaleJobReaper struct {
	store   store.Store
	running runningChecker
	config  ReaperConfig
	logger  *slog.Logger
	now     func() time.Time

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStaleJobReaper creates a reaper. running may be nil.
func NewStaleJobReaper(s store.Store, running runningChecker, config ReaperConfig, logger *slog.Logger) *StaleJobReaper {
	if config.Interval == 0 {
		config.Interval = 5 * time.Minute
	}
	if config.StaleAfter == 0 {
		config.StaleAfter = 2 * time.Hour
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &StaleJobReaper{
		store:   s,
		running: running,
		config:  config,
		logger:  logger.With("component", "stale_job_reaper"),
		now:     time.Now,
	}
}

// Start begins the reaper background goroutine.
func (r *StaleJobReaper) Start() {
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go r.run()

	r.logger.Info("stale job reaper started",
		"interval", r.config.Interval,
		"stale_after", r.config.StaleAfter,
	)
}

// Stop stops the reaper and waits for an in-progress cycle.
func (r *StaleJobReaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("stale job reaper stopped")
}

func (r *StaleJobReaper) run() {
	defer r.wg.Done()

	// Run immediately on start
	r.ReapNow(r.ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.ReapNow(r.ctx)
		}
	}
}

// ReapNow runs one reaping cycle and returns the number of jobs failed.
func (r *StaleJobReaper) ReapNow(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, r.config.Interval)
	defer cancel()

	cutoff := r.now().Add(-r.config.StaleAfter)
	cities, err := r.store.ListStaleJobs(ctx, cutoff)
	if err != nil {
		r.logger.Error("failed to list stale jobs", "error", err)
		return 0
	}

	if len(cities) == 0 {
		r.logger.Debug("no stale jobs")
		return 0
	}

	reaped := 0
	for _, c := range cities {
		logger := r.logger.With("city", c.City, "state", c.State)
		if r.running != nil && r.running.Running(c.City, c.State) {
			logger.Debug("job still running, not reaping")
			continue
		}
		if err := r.store.SetStatus(ctx, c.City, c.State, domain.JobError); err != nil {
			logger.Error("failed to fail stale job", "error", err)
			continue
		}
		logger.Warn("stale job marked as error", "stale_after", r.config.StaleAfter)
		reaped++
	}
	return reaped
}
