package store

import (
	"context"
	"time"

	"github.com/artpar/realty-collector/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for collected agents, their
// listings and the per-city job status.
type Store interface {
	// Job status
	CheckStatus(ctx context.Context, city, state string) (domain.JobStatus, error)
	SetStatus(ctx context.Context, city, state string, status domain.JobStatus) error
	ListStaleJobs(ctx context.Context, olderThan time.Time) ([]domain.City, error)

	// Cities
	EnsureCity(ctx context.Context, city, state string) (int64, error)

	// Agent writes
	SaveAgents(ctx context.Context, city, state string, agents []domain.Agent, opts SaveOptions) (SaveResult, error)

	// Agent reads
	GetAgent(ctx context.Context, id string) (*domain.AgentRecord, error)
	ListAgentCities(ctx context.Context, id string) ([]domain.City, error)
	ListAgentsByCity(ctx context.Context, city, state string, opts ListOptions) ([]domain.Agent, error)
	ListAgentIDsByCity(ctx context.Context, city, state string) ([]string, error)
	ProfileLinks(ctx context.Context, ids []string) ([]domain.Agent, error)

	// Listings
	GetListing(ctx context.Context, zpid int64) (*domain.ListingRecord, error)
	ListAgentListings(ctx context.Context, id string) ([]domain.ListingRecord, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// DefaultBatchSize is the number of agents written per transaction.
const DefaultBatchSize = 300

// SaveOptions controls SaveAgents.
type SaveOptions struct {
	// UpdateExisting rewrites agents that are already stored. When false an
	// existing agent only gains the link to the city.
	UpdateExisting bool
	BatchSize      int
}

// Normalize fills defaults.
func (o SaveOptions) Normalize() SaveOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// SaveResult summarizes a SaveAgents call.
type SaveResult struct {
	Status        domain.JobStatus `json:"status"`
	Saved         int              `json:"saved"`
	Linked        int              `json:"linked"`
	Listings      int              `json:"listings"`
	Batches       int              `json:"batches"`
	FailedBatches int              `json:"failed_batches"`
}

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
