package store

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/realty-collector/internal/core/domain"
	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLStore) WithTx(ctx context.Context, fn func(Store) error) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&txSQLStore{tx: tx})
	})
}

// inTx runs fn in a new transaction, rolling back when fn fails.
func (s *SQLStore) inTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// batchTx runs one SaveAgents batch in its own transaction.
func (s *SQLStore) batchTx(ctx context.Context, fn func(executor) error) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error { return fn(tx) })
}

// =============================================================================
// SQLStore Operations
// =============================================================================

func (s *SQLStore) CheckStatus(ctx context.Context, city, state string) (domain.JobStatus, error) {
	return checkStatus(ctx, s.db, city, state)
}

func (s *SQLStore) SetStatus(ctx context.Context, city, state string, status domain.JobStatus) error {
	return setStatus(ctx, s.db, city, state, status)
}

func (s *SQLStore) ListStaleJobs(ctx context.Context, olderThan time.Time) ([]domain.City, error) {
	return listStaleJobs(ctx, s.db, olderThan)
}

func (s *SQLStore) EnsureCity(ctx context.Context, city, state string) (int64, error) {
	return ensureCity(ctx, s.db, city, state)
}

func (s *SQLStore) SaveAgents(ctx context.Context, city, state string, agents []domain.Agent, opts SaveOptions) (SaveResult, error) {
	return saveAgents(ctx, s.db, s.batchTx, city, state, agents, opts)
}

func (s *SQLStore) GetAgent(ctx context.Context, id string) (*domain.AgentRecord, error) {
	return getAgent(ctx, s.db, id)
}

func (s *SQLStore) ListAgentCities(ctx context.Context, id string) ([]domain.City, error) {
	return listAgentCities(ctx, s.db, id)
}

func (s *SQLStore) ListAgentsByCity(ctx context.Context, city, state string, opts ListOptions) ([]domain.Agent, error) {
	return listAgentsByCity(ctx, s.db, city, state, opts)
}

func (s *SQLStore) ListAgentIDsByCity(ctx context.Context, city, state string) ([]string, error) {
	return listAgentIDsByCity(ctx, s.db, city, state)
}

func (s *SQLStore) ProfileLinks(ctx context.Context, ids []string) ([]domain.Agent, error) {
	return profileLinks(ctx, s.db, ids)
}

func (s *SQLStore) GetListing(ctx context.Context, zpid int64) (*domain.ListingRecord, error) {
	return getListing(ctx, s.db, zpid)
}

func (s *SQLStore) ListAgentListings(ctx context.Context, id string) ([]domain.ListingRecord, error) {
	return listAgentListings(ctx, s.db, id)
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLStore implements Store within a transaction.
type txSQLStore struct {
	tx *sqlx.Tx
}

// batchTx runs batches directly on the enclosing transaction; a failed batch
// fails the whole transaction.
func (s *txSQLStore) batchTx(ctx context.Context, fn func(executor) error) error {
	return fn(s.tx)
}

func (s *txSQLStore) CheckStatus(ctx context.Context, city, state string) (domain.JobStatus, error) {
	return checkStatus(ctx, s.tx, city, state)
}

func (s *txSQLStore) SetStatus(ctx context.Context, city, state string, status domain.JobStatus) error {
	return setStatus(ctx, s.tx, city, state, status)
}

func (s *txSQLStore) ListStaleJobs(ctx context.Context, olderThan time.Time) ([]domain.City, error) {
	return listStaleJobs(ctx, s.tx, olderThan)
}

func (s *txSQLStore) EnsureCity(ctx context.Context, city, state string) (int64, error) {
	return ensureCity(ctx, s.tx, city, state)
}

func (s *txSQLStore) SaveAgents(ctx context.Context, city, state string, agents []domain.Agent, opts SaveOptions) (SaveResult, error) {
	return saveAgents(ctx, s.tx, s.batchTx, city, state, agents, opts)
}

func (s *txSQLStore) GetAgent(ctx context.Context, id string) (*domain.AgentRecord, error) {
	return getAgent(ctx, s.tx, id)
}

func (s *txSQLStore) ListAgentCities(ctx context.Context, id string) ([]domain.City, error) {
	return listAgentCities(ctx, s.tx, id)
}

func (s *txSQLStore) ListAgentsByCity(ctx context.Context, city, state string, opts ListOptions) ([]domain.Agent, error) {
	return listAgentsByCity(ctx, s.tx, city, state, opts)
}

func (s *txSQLStore) ListAgentIDsByCity(ctx context.Context, city, state string) ([]string, error) {
	return listAgentIDsByCity(ctx, s.tx, city, state)
}

func (s *txSQLStore) ProfileLinks(ctx context.Context, ids []string) ([]domain.Agent, error) {
	return profileLinks(ctx, s.tx, ids)
}

func (s *txSQLStore) GetListing(ctx context.Context, zpid int64) (*domain.ListingRecord, error) {
	return getListing(ctx, s.tx, zpid)
}

func (s *txSQLStore) ListAgentListings(ctx context.Context, id string) ([]domain.ListingRecord, error) {
	return listAgentListings(ctx, s.tx, id)
}

func (s *txSQLStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLStore) Ping(ctx context.Context) error {
	return nil
}

func (s *txSQLStore) Close() error {
	// No-op for tx store
	return nil
}
