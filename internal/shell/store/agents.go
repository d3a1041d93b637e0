package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/realty-collector/internal/core/domain"
	"github.com/jmoiron/sqlx"
)

// batchRunner runs one batch of writes, normally inside its own transaction.
type batchRunner func(ctx context.Context, fn func(executor) error) error

// =============================================================================
// SaveAgents
// =============================================================================

// saveAgents writes agents in batches. Each batch commits or rolls back on its
// own; a failed batch is recorded and the remaining batches still run. The
// city's final status is COMPLETED only when every batch committed.
func saveAgents(ctx context.Context, exec executor, runBatch batchRunner, city, state string, agents []domain.Agent, opts SaveOptions) (SaveResult, error) {
	city, state = domain.NormalizeLocation(city, state)
	opts = opts.Normalize()
	location := city + ", " + state

	agents = validAgents(domain.MergeDuplicateAgents(agents))
	if len(agents) == 0 {
		if err := setStatus(ctx, exec, city, state, domain.JobError); err != nil {
			return SaveResult{Status: domain.JobInternalError}, err
		}
		return SaveResult{Status: domain.JobError}, NewStoreError("SaveAgents", "city", location, "nothing to save", ErrNoAgents)
	}

	cityID, err := ensureCity(ctx, exec, city, state)
	if err != nil {
		return SaveResult{Status: domain.JobInternalError}, err
	}

	var (
		result SaveResult
		errs   []error
	)
	for start := 0; start < len(agents); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(agents))
		result.Batches++

		var counts batchCounts
		err := runBatch(ctx, func(tx executor) error {
			var err error
			counts, err = saveBatch(ctx, tx, cityID, agents[start:end], opts.UpdateExisting)
			return err
		})
		if err != nil {
			result.FailedBatches++
			errs = append(errs, fmt.Errorf("batch %d (agents %d-%d): %w", result.Batches, start, end-1, err))
			continue
		}
		result.Saved += counts.saved
		result.Linked += counts.linked
		result.Listings += counts.listings
	}

	result.Status = domain.JobCompleted
	if result.FailedBatches > 0 {
		result.Status = domain.JobError
	}
	if err := setStatus(ctx, exec, city, state, result.Status); err != nil {
		return result, err
	}

	if len(errs) > 0 {
		msg := fmt.Sprintf("%d of %d batches failed", result.FailedBatches, result.Batches)
		return result, NewStoreError("SaveAgents", "city", location, msg, errors.Join(errs...))
	}
	return result, nil
}

func validAgents(agents []domain.Agent) []domain.Agent {
	out := agents[:0]
	for _, a := range agents {
		if a.Validate() == nil {
			out = append(out, a)
		}
	}
	return out
}

type batchCounts struct {
	saved    int
	linked   int
	listings int
}

func saveBatch(ctx context.Context, exec executor, cityID int64, agents []domain.Agent, updateExisting bool) (batchCounts, error) {
	var counts batchCounts

	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.EncodedZUID
	}
	existing, err := loadPlacements(ctx, exec, ids)
	if err != nil {
		return counts, err
	}

	type owned struct {
		agentID string
		listing domain.ListingRecord
	}
	var listings []owned
	now := time.Now().UTC()

	for _, a := range agents {
		stored, found := existing[a.EncodedZUID]
		if found && !updateExisting {
			if err := linkAgentCity(ctx, exec, a.EncodedZUID, cityID); err != nil {
				return counts, err
			}
			counts.linked++
			continue
		}

		var prev *domain.AgentRecord
		if found {
			prev = &stored
		}
		rec := domain.MergeAgent(a, prev)
		if err := upsertAgent(ctx, exec, rec, now); err != nil {
			return counts, err
		}
		if err := linkAgentCity(ctx, exec, a.EncodedZUID, cityID); err != nil {
			return counts, err
		}
		if found {
			if err := clearAgentChildren(ctx, exec, a.EncodedZUID); err != nil {
				return counts, err
			}
		}
		if err := insertPhones(ctx, exec, domain.PhoneRecords(a)); err != nil {
			return counts, err
		}
		if err := insertWebsites(ctx, exec, domain.WebsiteRecords(a)); err != nil {
			return counts, err
		}
		for _, l := range domain.ListingRecords(a) {
			listings = append(listings, owned{agentID: a.EncodedZUID, listing: l})
		}

		existing[a.EncodedZUID] = rec
		counts.saved++
	}

	if err := deleteOrphanListings(ctx, exec); err != nil {
		return counts, err
	}

	for _, o := range listings {
		if err := insertListing(ctx, exec, o.listing); err != nil {
			return counts, err
		}
		if err := linkListingAgent(ctx, exec, o.listing, o.agentID); err != nil {
			return counts, err
		}
		counts.listings++
	}

	return counts, nil
}

// =============================================================================
// Write Helpers
// =============================================================================

// loadPlacements returns the stored page, ranking and specialties of the
// given agents, keyed by encodedZuid.
func loadPlacements(ctx context.Context, exec executor, ids []string) (map[string]domain.AgentRecord, error) {
	out := make(map[string]domain.AgentRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT encodedzuid, ranking, page, specialties FROM agent WHERE encodedzuid IN (?)`, ids)
	if err != nil {
		return nil, NewStoreError("SaveAgents", "agent", "", err.Error(), err)
	}

	var rows []placementRow
	if err := exec.SelectContext(ctx, &rows, exec.Rebind(query), args...); err != nil {
		return nil, NewStoreError("SaveAgents", "agent", "", err.Error(), err)
	}

	for _, row := range rows {
		specialties, err := decodeSpecialties(row.Specialties)
		if err != nil {
			return nil, NewStoreError("SaveAgents", "agent", row.EncodedZUID, "failed to parse specialties", ErrInvalidData)
		}
		out[row.EncodedZUID] = domain.AgentRecord{
			EncodedZUID: row.EncodedZUID,
			Ranking:     row.Ranking,
			Page:        row.Page,
			Specialties: specialties,
		}
	}
	return out, nil
}

func upsertAgent(ctx context.Context, exec executor, rec domain.AgentRecord, now time.Time) error {
	specialties, err := encodeSpecialties(rec.Specialties)
	if err != nil {
		return NewStoreError("SaveAgents", "agent", rec.EncodedZUID, "failed to serialize specialties", ErrInvalidData)
	}

	query := `
		INSERT INTO agent (` + agentColumns + `, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (encodedzuid) DO UPDATE SET
			business_name = excluded.business_name,
			full_name = excluded.full_name,
			location = excluded.location,
			profile_link = excluded.profile_link,
			email = excluded.email,
			is_team_lead = excluded.is_team_lead,
			is_top_agent = excluded.is_top_agent,
			sale_count_all_time = excluded.sale_count_all_time,
			sale_count_last_year = excluded.sale_count_last_year,
			sale_price_range_three_year_min = excluded.sale_price_range_three_year_min,
			sale_price_range_three_year_max = excluded.sale_price_range_three_year_max,
			ranking = excluded.ranking,
			page = excluded.page,
			specialties = excluded.specialties,
			updated_at = excluded.updated_at`

	_, err = exec.ExecContext(ctx, exec.Rebind(query),
		rec.EncodedZUID, rec.BusinessName, rec.FullName, rec.Location, rec.ProfileLink, rec.Email,
		rec.IsTeamLead, rec.IsTopAgent, rec.SaleCountAllTime, rec.SaleCountLastYear,
		rec.SalePriceRangeThreeYearMin, rec.SalePriceRangeThreeYearMax,
		rec.Ranking, rec.Page, specialties, now, now,
	)
	if err != nil {
		return NewStoreError("SaveAgents", "agent", rec.EncodedZUID, err.Error(), err)
	}
	return nil
}

func linkAgentCity(ctx context.Context, exec executor, agentID string, cityID int64) error {
	_, err := exec.ExecContext(ctx, exec.Rebind(`
		INSERT INTO agent_city (agent_id, city_id) VALUES (?, ?)
		ON CONFLICT (agent_id, city_id) DO NOTHING`), agentID, cityID)
	if err != nil {
		return NewStoreError("SaveAgents", "agent_city", agentID, err.Error(), err)
	}
	return nil
}

// clearAgentChildren removes the phones, websites and listing links of an
// agent that is about to be rewritten.
func clearAgentChildren(ctx context.Context, exec executor, agentID string) error {
	for _, table := range []string{"phone", "website", "listing_agent"} {
		_, err := exec.ExecContext(ctx, exec.Rebind(`DELETE FROM `+table+` WHERE agent_id = ?`), agentID)
		if err != nil {
			return NewStoreError("SaveAgents", table, agentID, err.Error(), err)
		}
	}
	return nil
}

func insertPhones(ctx context.Context, exec executor, phones []domain.PhoneRecord) error {
	for _, p := range phones {
		_, err := exec.ExecContext(ctx, exec.Rebind(`
			INSERT INTO phone (agent_id, phone, type) VALUES (?, ?, ?)
			ON CONFLICT (phone, agent_id) DO NOTHING`), p.AgentID, p.Phone, p.Type)
		if err != nil {
			return NewStoreError("SaveAgents", "phone", p.AgentID, err.Error(), err)
		}
	}
	return nil
}

func insertWebsites(ctx context.Context, exec executor, sites []domain.WebsiteRecord) error {
	for _, w := range sites {
		_, err := exec.ExecContext(ctx, exec.Rebind(`
			INSERT INTO website (agent_id, website_url, website_type) VALUES (?, ?, ?)
			ON CONFLICT (agent_id, website_url) DO NOTHING`), w.AgentID, w.URL, w.Type)
		if err != nil {
			return NewStoreError("SaveAgents", "website", w.AgentID, err.Error(), err)
		}
	}
	return nil
}

// deleteOrphanListings drops listings no agent links to any more.
func deleteOrphanListings(ctx context.Context, exec executor) error {
	_, err := exec.ExecContext(ctx, `DELETE FROM listing WHERE zpid NOT IN (SELECT listing_id FROM listing_agent)`)
	if err != nil {
		return NewStoreError("SaveAgents", "listing", "", err.Error(), err)
	}
	return nil
}

var insertListingQuery = `INSERT INTO listing (` + strings.Join(listingColumns, ", ") + `)
	VALUES (` + strings.TrimSuffix(strings.Repeat("?, ", len(listingColumns)), ", ") + `)
	ON CONFLICT (zpid) DO NOTHING`

func insertListing(ctx context.Context, exec executor, l domain.ListingRecord) error {
	if _, err := exec.ExecContext(ctx, exec.Rebind(insertListingQuery), listingArgs(l)...); err != nil {
		return NewStoreError("SaveAgents", "listing", fmt.Sprintf("%d", l.ZPID), err.Error(), err)
	}
	return nil
}

func linkListingAgent(ctx context.Context, exec executor, l domain.ListingRecord, agentID string) error {
	_, err := exec.ExecContext(ctx, exec.Rebind(`
		INSERT INTO listing_agent (listing_id, agent_id, role) VALUES (?, ?, ?)
		ON CONFLICT (listing_id, agent_id) DO NOTHING`), l.ZPID, agentID, l.Type)
	if err != nil {
		return NewStoreError("SaveAgents", "listing_agent", agentID, err.Error(), err)
	}
	return nil
}
