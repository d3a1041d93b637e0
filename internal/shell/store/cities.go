package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/realty-collector/internal/core/domain"
)

// =============================================================================
// City Operations
// =============================================================================

func ensureCity(ctx context.Context, exec executor, city, state string) (int64, error) {
	city, state = domain.NormalizeLocation(city, state)

	_, err := exec.ExecContext(ctx, exec.Rebind(`
		INSERT INTO city (city, state) VALUES (?, ?)
		ON CONFLICT (city, state) DO NOTHING`), city, state)
	if err != nil {
		return 0, NewStoreError("EnsureCity", "city", city+", "+state, err.Error(), err)
	}

	var id int64
	err = exec.GetContext(ctx, &id, exec.Rebind(`SELECT id FROM city WHERE city = ? AND state = ?`), city, state)
	if err != nil {
		return 0, NewStoreError("EnsureCity", "city", city+", "+state, err.Error(), err)
	}
	return id, nil
}

// =============================================================================
// Job Status Operations
// =============================================================================

func checkStatus(ctx context.Context, exec executor, city, state string) (domain.JobStatus, error) {
	city, state = domain.NormalizeLocation(city, state)

	var raw string
	err := exec.GetContext(ctx, &raw, exec.Rebind(`
		SELECT s.job_status
		FROM status s
		JOIN city c ON c.id = s.city_id
		WHERE c.city = ? AND c.state = ?`), city, state)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.JobNotScraped, nil
	}
	if err != nil {
		return domain.JobInternalError, NewStoreError("CheckStatus", "status", city+", "+state, err.Error(), err)
	}
	return domain.ParseJobStatus(raw), nil
}

func setStatus(ctx context.Context, exec executor, city, state string, status domain.JobStatus) error {
	if !status.Persistable() {
		return NewStoreError("SetStatus", "status", string(status), "only PENDING, COMPLETED and ERROR are stored", ErrInvalidStatus)
	}

	cityID, err := ensureCity(ctx, exec, city, state)
	if err != nil {
		return err
	}

	_, err = exec.ExecContext(ctx, exec.Rebind(`
		INSERT INTO status (city_id, job_status, last_updated) VALUES (?, ?, ?)
		ON CONFLICT (city_id) DO UPDATE SET
			job_status = excluded.job_status,
			last_updated = excluded.last_updated`),
		cityID, string(status), time.Now().UTC())
	if err != nil {
		return NewStoreError("SetStatus", "status", fmt.Sprintf("%d", cityID), err.Error(), err)
	}
	return nil
}

// listStaleJobs returns the cities whose job has been PENDING since before
// olderThan.
func listStaleJobs(ctx context.Context, exec executor, olderThan time.Time) ([]domain.City, error) {
	var rows []cityRow
	err := exec.SelectContext(ctx, &rows, exec.Rebind(`
		SELECT c.id, c.city, c.state
		FROM status s
		JOIN city c ON c.id = s.city_id
		WHERE s.job_status = ? AND s.last_updated < ?
		ORDER BY s.last_updated`), string(domain.JobPending), olderThan.UTC())
	if err != nil {
		return nil, NewStoreError("ListStaleJobs", "status", "", err.Error(), err)
	}

	cities := make([]domain.City, len(rows))
	for i, row := range rows {
		cities[i] = rowToCity(row)
	}
	return cities, nil
}
