// Package collector runs scrape jobs: it walks the agent directory for a
// city, enriches every agent from its profile page and stores the result.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/realty-collector/internal/core/domain"
	"github.com/artpar/realty-collector/internal/core/extract"
	"github.com/artpar/realty-collector/internal/shell/scraperapi"
	"github.com/artpar/realty-collector/internal/shell/store"
	"golang.org/x/sync/errgroup"
)

// Runner is the job surface the coordinator and the API depend on.
type Runner interface {
	Run(ctx context.Context, req domain.ScrapeRequest) (domain.JobStatus, error)
	RefreshListings(ctx context.Context, city, state string) (domain.JobStatus, error)
}

// Config configures the collector service.
type Config struct {
	// BaseURL is the directory host pages are requested from.
	BaseURL string

	// MaxWorkers bounds concurrent page fetches within one job.
	// Default: 10.
	MaxWorkers int

	// BatchSize is the number of agents saved per transaction.
	BatchSize int

	// DiscoveryAttempts and DiscoveryDelay control how the page count is
	// read from the first directory page. Default: 3 attempts, 5 seconds.
	DiscoveryAttempts int
	DiscoveryDelay    time.Duration

	// PageAttempts and PageDelay control how often a directory or profile
	// page whose body cannot be parsed is fetched again. Transport errors are
	// retried by the fetcher. Default: 3 attempts, 2 seconds.
	PageAttempts int
	PageDelay    time.Duration

	// FallbackPages is used when discovery fails. Default: 1.
	FallbackPages int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:           extract.DefaultBaseURL,
		MaxWorkers:        10,
		BatchSize:         store.DefaultBatchSize,
		DiscoveryAttempts: 3,
		DiscoveryDelay:    5 * time.Second,
		PageAttempts:      3,
		PageDelay:         2 * time.Second,
		FallbackPages:     1,
	}
}

// errUnparsable marks a page that was fetched but could not be parsed, such
// as a captcha or interstitial served with status 200.
var errUnparsable = errors.New("page could not be parsed")

// statusTimeout bounds the final status write of a job whose context ended.
const statusTimeout = 10 * time.Second

// Service implements Runner.
type Service struct {
	store   store.Store
	fetcher scraperapi.Fetcher
	config  Config
	metrics *Metrics
	logger  *slog.Logger
}

// NewService creates a collector service.
func NewService(s store.Store, f scraperapi.Fetcher, config Config, metrics *Metrics, logger *slog.Logger) *Service {
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = defaults.MaxWorkers
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.DiscoveryAttempts <= 0 {
		config.DiscoveryAttempts = defaults.DiscoveryAttempts
	}
	if config.DiscoveryDelay < 0 {
		config.DiscoveryDelay = 0
	}
	if config.PageAttempts <= 0 {
		config.PageAttempts = defaults.PageAttempts
	}
	if config.PageDelay < 0 {
		config.PageDelay = 0
	}
	if config.FallbackPages <= 0 {
		config.FallbackPages = defaults.FallbackPages
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:   s,
		fetcher: f,
		config:  config,
		metrics: metrics,
		logger:  logger.With("component", "collector"),
	}
}

// =============================================================================
// Scrape Jobs
// =============================================================================

// Run scrapes one city and stores the agents found. The returned status is
// the one left in the store.
func (s *Service) Run(ctx context.Context, req domain.ScrapeRequest) (domain.JobStatus, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return domain.JobError, err
	}
	logger := s.logger.With("city", req.City, "state", req.State)

	return s.job(ctx, logger, req.City, req.State, func(ctx context.Context) (domain.JobStatus, error) {
		agents, err := s.collect(ctx, logger, req)
		if err != nil {
			return domain.JobError, err
		}
		agents = domain.MergeDuplicateAgents(agents)
		logger.Info("directory collected", "agents", len(agents))

		agents, _ = s.enrich(ctx, logger, agents)
		if err := ctx.Err(); err != nil {
			return domain.JobError, err
		}

		return s.save(ctx, logger, req.City, req.State, agents, req.UpdateExisting)
	})
}

// RefreshListings re-reads the profile pages of the agents already stored for
// a city and rewrites their contact details, websites and listings. Agents
// whose profile cannot be fetched keep their stored data.
func (s *Service) RefreshListings(ctx context.Context, city, state string) (domain.JobStatus, error) {
	city, state = domain.NormalizeLocation(city, state)
	if city == "" {
		return domain.JobError, domain.ErrMissingCity
	}
	if state == "" {
		return domain.JobError, domain.ErrMissingState
	}
	logger := s.logger.With("city", city, "state", state, "mode", "refresh")

	return s.job(ctx, logger, city, state, func(ctx context.Context) (domain.JobStatus, error) {
		ids, err := s.store.ListAgentIDsByCity(ctx, city, state)
		if err != nil {
			return domain.JobError, err
		}
		agents, err := s.store.ProfileLinks(ctx, ids)
		if err != nil {
			return domain.JobError, err
		}
		logger.Info("refreshing agents", "agents", len(agents))

		agents, refreshed := s.enrich(ctx, logger, agents)
		if err := ctx.Err(); err != nil {
			return domain.JobError, err
		}

		kept := make([]domain.Agent, 0, len(agents))
		for i, a := range agents {
			if refreshed[i] {
				kept = append(kept, a)
			}
		}
		if len(agents) > 0 && len(kept) == 0 {
			// Nothing was rewritten, so the stored data is still complete.
			logger.Warn("no profiles refreshed", "agents", len(agents))
			if err := s.store.SetStatus(ctx, city, state, domain.JobCompleted); err != nil {
				return domain.JobError, err
			}
			return domain.JobCompleted, nil
		}
		return s.save(ctx, logger, city, state, kept, true)
	})
}

// job marks the city PENDING, runs fn and makes sure a failed run leaves the
// city in ERROR.
func (s *Service) job(ctx context.Context, logger *slog.Logger, city, state string, fn func(context.Context) (domain.JobStatus, error)) (status domain.JobStatus, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scrape job panicked", "panic", r)
			status, err = domain.JobError, fmt.Errorf("scrape job panicked: %v", r)
			s.markFailed(ctx, logger, city, state)
		}
		s.metrics.Jobs.WithLabelValues(string(status)).Inc()
		s.metrics.JobDuration.Observe(time.Since(start).Seconds())
	}()

	if err := s.store.SetStatus(ctx, city, state, domain.JobPending); err != nil {
		logger.Error("failed to mark job pending", "error", err)
		return domain.JobInternalError, err
	}
	logger.Info("scrape job started")

	status, err = fn(ctx)
	if err != nil {
		logger.Error("scrape job failed", "error", err, "duration", time.Since(start))
		status = domain.JobError
		s.markFailed(ctx, logger, city, state)
		return status, err
	}

	logger.Info("scrape job finished", "status", status, "duration", time.Since(start))
	return status, nil
}

// markFailed writes ERROR, even when the job's own context has ended.
func (s *Service) markFailed(ctx context.Context, logger *slog.Logger, city, state string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusTimeout)
	defer cancel()
	if err := s.store.SetStatus(ctx, city, state, domain.JobError); err != nil {
		logger.Error("failed to mark job failed", "error", err)
	}
}

func (s *Service) save(ctx context.Context, logger *slog.Logger, city, state string, agents []domain.Agent, updateExisting bool) (domain.JobStatus, error) {
	result, err := s.store.SaveAgents(ctx, city, state, agents, store.SaveOptions{
		UpdateExisting: updateExisting,
		BatchSize:      s.config.BatchSize,
	})
	if err != nil {
		logger.Warn("save incomplete",
			"saved", result.Saved,
			"batches", result.Batches,
			"failed_batches", result.FailedBatches,
		)
		return domain.JobError, err
	}

	logger.Info("agents saved",
		"saved", result.Saved,
		"linked", result.Linked,
		"listings", result.Listings,
		"batches", result.Batches,
	)
	return result.Status, nil
}

// =============================================================================
// Directory Pages
// =============================================================================

type pageTask struct {
	agentType string
	page      int
}

// collect fetches every directory page of every requested agent type. Pages
// that still fail after retries are skipped.
func (s *Service) collect(ctx context.Context, logger *slog.Logger, req domain.ScrapeRequest) ([]domain.Agent, error) {
	var (
		tasks  []pageTask
		cached = make(map[pageTask]extract.DirectoryPage)
	)
	for _, agentType := range req.AgentTypes {
		first := req.FirstPage()
		discovered := 0
		if req.NeedsDiscovery() {
			var page1 *extract.DirectoryPage
			discovered, page1 = s.discoverPages(ctx, logger, req.City, req.State, agentType)
			if page1 != nil {
				cached[pageTask{agentType, 1}] = *page1
			}
		}
		last := req.LastPage(discovered)
		logger.Debug("page range resolved", "agent_type", agentType, "first", first, "last", last)

		for p := first; p <= last; p++ {
			tasks = append(tasks, pageTask{agentType: agentType, page: p})
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([][]domain.Agent, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxWorkers)
	for i, task := range tasks {
		if page, ok := cached[task]; ok {
			results[i] = page.Agents
			continue
		}
		g.Go(func() error {
			var page extract.DirectoryPage
			err := s.retryUnparsable(gctx, logger, func() error {
				var err error
				page, err = s.fetchDirectory(gctx, logger, kindDirectory, req.City, req.State, task.agentType, task.page)
				return err
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("skipping directory page", "agent_type", task.agentType, "page", task.page, "error", err)
				return nil
			}
			results[i] = page.Agents
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var agents []domain.Agent
	for _, r := range results {
		agents = append(agents, r...)
	}
	return agents, nil
}

// discoverPages reads the page count from the first directory page. It
// retries on failure and falls back to FallbackPages. The parsed first page
// is returned so it need not be fetched twice.
func (s *Service) discoverPages(ctx context.Context, logger *slog.Logger, city, state, agentType string) (int, *extract.DirectoryPage) {
	for attempt := 1; attempt <= s.config.DiscoveryAttempts; attempt++ {
		page, err := s.fetchDirectory(ctx, logger, kindDiscovery, city, state, agentType, 1)
		if err == nil {
			return extract.MaxPages(page.Total), &page
		}
		logger.Warn("page discovery failed", "agent_type", agentType, "attempt", attempt, "error", err)

		if attempt == s.config.DiscoveryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return s.config.FallbackPages, nil
		case <-time.After(s.config.DiscoveryDelay):
		}
	}

	logger.Error("page discovery gave up", "agent_type", agentType, "fallback_pages", s.config.FallbackPages)
	return s.config.FallbackPages, nil
}

// retryUnparsable runs fn until it succeeds, fails with anything other than
// errUnparsable, or PageAttempts is reached.
func (s *Service) retryUnparsable(ctx context.Context, logger *slog.Logger, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.config.PageAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, errUnparsable) || attempt == s.config.PageAttempts {
			return err
		}
		logger.Debug("refetching unparsable page", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.config.PageDelay):
		}
	}
	return err
}

func (s *Service) fetchDirectory(ctx context.Context, logger *slog.Logger, kind, city, state, agentType string, page int) (extract.DirectoryPage, error) {
	url := extract.DirectoryURL(s.config.BaseURL, city, state, agentType, page)
	body, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		s.metrics.page(kind, err)
		return extract.DirectoryPage{}, err
	}
	parsed, err := extract.ParseDirectory(body, agentType, page)
	s.metrics.page(kind, err)
	if err != nil {
		return extract.DirectoryPage{}, fmt.Errorf("%w: %s: %w", errUnparsable, url, err)
	}
	if parsed.Skipped > 0 {
		logger.Debug("directory entries skipped", "url", url, "skipped", parsed.Skipped)
	}
	return parsed, nil
}

// =============================================================================
// Profile Pages
// =============================================================================

// enrich applies every agent's profile page on the worker pool. A failed
// profile leaves the agent unchanged; the returned flags mark the agents that
// were enriched.
func (s *Service) enrich(ctx context.Context, logger *slog.Logger, agents []domain.Agent) ([]domain.Agent, []bool) {
	enriched := make([]bool, len(agents))

	var g errgroup.Group
	g.SetLimit(s.config.MaxWorkers)
	for i := range agents {
		if agents[i].ProfileLink == nil || *agents[i].ProfileLink == "" {
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			var updated domain.Agent
			err := s.retryUnparsable(ctx, logger, func() error {
				var err error
				updated, err = s.fetchProfile(ctx, agents[i])
				return err
			})
			if err != nil {
				logger.Warn("keeping directory data", "agent", agents[i].EncodedZUID, "error", err)
				return nil
			}
			agents[i] = updated
			enriched[i] = true
			return nil
		})
	}
	g.Wait()

	return agents, enriched
}

func (s *Service) fetchProfile(ctx context.Context, agent domain.Agent) (domain.Agent, error) {
	url := extract.ProfileURL(s.config.BaseURL, *agent.ProfileLink)
	body, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		s.metrics.page(kindProfile, err)
		return agent, err
	}
	updated, err := extract.ApplyProfile(agent, body)
	s.metrics.page(kindProfile, err)
	if err != nil {
		return agent, fmt.Errorf("%w: %s: %w", errUnparsable, url, err)
	}
	return updated, nil
}
