// Package jobs runs scrape jobs in-process: it coalesces concurrent requests
// for the same city and reaps jobs that were left pending.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/artpar/realty-collector/internal/core/domain"
	"github.com/artpar/realty-collector/internal/shell/collector"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrBusy is returned when a city already has a job of another kind
	// running, a refresh during a scrape or the reverse.
	ErrBusy = errors.New("another job is running for this city")

	// ErrStopped is returned for jobs submitted after Stop.
	ErrStopped = errors.New("coordinator stopped")
)

// Key identifies a city's job. Requests with the same key share one run.
func Key(city, state string) string {
	city, state = domain.NormalizeLocation(city, state)
	return city + "|" + state
}

type jobKind string

const (
	kindScrape  jobKind = "scrape"
	kindRefresh jobKind = "refresh"
)

// running is the job in flight for a city and how many callers wait on it.
type running struct {
	kind jobKind
	refs int
}

// Coordinator runs collector jobs, one per city at a time.
type Coordinator struct {
	runner collector.Runner
	group  singleflight.Group
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]*running
	stopped bool

	// Jobs outlive the requests that started them and stop with the
	// coordinator.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator.
func NewCoordinator(runner collector.Runner, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		runner:  runner,
		logger:  logger.With("component", "coordinator"),
		running: make(map[string]*running),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit runs a scrape for the request's city, or joins the run already in
// progress for it, and waits for the result. If ctx ends first the job keeps
// running and Submit returns PENDING with the context error. A refresh
// running for the city makes Submit return PENDING with ErrBusy.
func (c *Coordinator) Submit(ctx context.Context, req domain.ScrapeRequest) (domain.JobStatus, error) {
	req = req.Normalize()
	return c.do(ctx, Key(req.City, req.State), kindScrape, func(jobCtx context.Context) (domain.JobStatus, error) {
		return c.runner.Run(jobCtx, req)
	})
}

// Refresh re-fetches the listings of a city's stored agents. It joins a
// refresh already running for the city and returns PENDING with ErrBusy
// while a scrape runs.
func (c *Coordinator) Refresh(ctx context.Context, city, state string) (domain.JobStatus, error) {
	return c.do(ctx, Key(city, state), kindRefresh, func(jobCtx context.Context) (domain.JobStatus, error) {
		return c.runner.RefreshListings(jobCtx, city, state)
	})
}

func (c *Coordinator) do(ctx context.Context, key string, kind jobKind, fn func(context.Context) (domain.JobStatus, error)) (domain.JobStatus, error) {
	if status, err := c.acquire(key, kind); err != nil {
		return status, err
	}

	ch := c.group.DoChan(key, func() (any, error) {
		return fn(c.ctx)
	})
	done := make(chan singleflight.Result, 1)
	go func() {
		res := <-ch
		c.release(key)
		done <- res
	}()

	select {
	case <-ctx.Done():
		c.logger.Info("caller left before job finished", "job", key, "kind", kind)
		return domain.JobPending, ctx.Err()
	case res := <-done:
		if res.Shared {
			c.logger.Debug("joined running job", "job", key, "kind", kind)
		}
		status, _ := res.Val.(domain.JobStatus)
		if status == "" {
			status = domain.JobError
		}
		return status, res.Err
	}
}

// acquire registers a caller for the city's job. The wait group is counted
// here, under the lock Stop takes, so Stop never waits on a group that is
// still growing.
func (c *Coordinator) acquire(key string, kind jobKind) (domain.JobStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return domain.JobError, ErrStopped
	}
	r, ok := c.running[key]
	if ok && r.kind != kind {
		c.logger.Info("job rejected", "job", key, "kind", kind, "running", r.kind)
		return domain.JobPending, ErrBusy
	}
	if !ok {
		r = &running{kind: kind}
		c.running[key] = r
	}
	r.refs++
	c.wg.Add(1)
	return "", nil
}

func (c *Coordinator) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.running[key]; ok {
		r.refs--
		if r.refs <= 0 {
			delete(c.running, key)
		}
	}
	c.wg.Done()
}

// Running reports whether a scrape or refresh for the city is in progress.
func (c *Coordinator) Running(city, state string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.running[Key(city, state)]
	return ok
}

// Stop cancels running jobs and waits for them to return. Jobs submitted
// afterwards fail with ErrStopped.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
	c.logger.Info("coordinator stopped")
}
