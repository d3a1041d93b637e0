package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/artpar/realty-collector/internal/core/domain"
	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Agent Reads
// =============================================================================

func getAgent(ctx context.Context, exec executor, id string) (*domain.AgentRecord, error) {
	var row agentRow
	err := exec.GetContext(ctx, &row, exec.Rebind(`SELECT `+agentColumns+` FROM agent WHERE encodedzuid = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewStoreError("GetAgent", "agent", id, "agent not found", ErrNotFound)
	}
	if err != nil {
		return nil, NewStoreError("GetAgent", "agent", id, err.Error(), err)
	}
	return rowToAgentRecord(&row)
}

func agentExists(ctx context.Context, exec executor, op, id string) error {
	var n int
	if err := exec.GetContext(ctx, &n, exec.Rebind(`SELECT COUNT(*) FROM agent WHERE encodedzuid = ?`), id); err != nil {
		return NewStoreError(op, "agent", id, err.Error(), err)
	}
	if n == 0 {
		return NewStoreError(op, "agent", id, "agent not found", ErrNotFound)
	}
	return nil
}

// listAgentCities returns the cities an agent was collected in. An agent with
// no city links yields an empty list; an unknown agent yields ErrNotFound.
func listAgentCities(ctx context.Context, exec executor, id string) ([]domain.City, error) {
	if err := agentExists(ctx, exec, "ListAgentCities", id); err != nil {
		return nil, err
	}

	var rows []cityRow
	err := exec.SelectContext(ctx, &rows, exec.Rebind(`
		SELECT c.id, c.city, c.state
		FROM agent_city ac
		JOIN city c ON c.id = ac.city_id
		WHERE ac.agent_id = ?
		ORDER BY c.state, c.city`), id)
	if err != nil {
		return nil, NewStoreError("ListAgentCities", "agent_city", id, err.Error(), err)
	}

	cities := make([]domain.City, len(rows))
	for i, row := range rows {
		cities[i] = rowToCity(row)
	}
	return cities, nil
}

// agentOrder puts placed agents first in both dialects, which disagree on
// where NULLs sort.
const agentOrder = `ORDER BY a.page IS NULL, a.page, a.ranking IS NULL, a.ranking, a.encodedzuid`

func listAgentsByCity(ctx context.Context, exec executor, city, state string, opts ListOptions) ([]domain.Agent, error) {
	city, state = domain.NormalizeLocation(city, state)
	opts = opts.Normalize()

	var rows []agentRow
	err := exec.SelectContext(ctx, &rows, exec.Rebind(`
		SELECT `+prefixed("a", agentColumns)+`
		FROM agent a
		JOIN agent_city ac ON ac.agent_id = a.encodedzuid
		JOIN city c ON c.id = ac.city_id
		WHERE c.city = ? AND c.state = ?
		`+agentOrder+`
		LIMIT ? OFFSET ?`), city, state, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListAgentsByCity", "agent", city+", "+state, err.Error(), err)
	}
	return assembleAgents(ctx, exec, "ListAgentsByCity", rows)
}

func listAgentIDsByCity(ctx context.Context, exec executor, city, state string) ([]string, error) {
	city, state = domain.NormalizeLocation(city, state)

	var ids []string
	err := exec.SelectContext(ctx, &ids, exec.Rebind(`
		SELECT ac.agent_id
		FROM agent_city ac
		JOIN city c ON c.id = ac.city_id
		WHERE c.city = ? AND c.state = ?
		ORDER BY ac.agent_id`), city, state)
	if err != nil {
		return nil, NewStoreError("ListAgentIDsByCity", "agent", city+", "+state, err.Error(), err)
	}
	return ids, nil
}

// profileLinks returns the stored agents for ids, ready to be enriched again
// from their profile pages. Unknown ids are ignored.
func profileLinks(ctx context.Context, exec executor, ids []string) ([]domain.Agent, error) {
	if len(ids) == 0 {
		return []domain.Agent{}, nil
	}

	query, args, err := sqlx.In(`SELECT `+prefixed("a", agentColumns)+` FROM agent a WHERE a.encodedzuid IN (?) `+agentOrder, ids)
	if err != nil {
		return nil, NewStoreError("ProfileLinks", "agent", "", err.Error(), err)
	}

	var rows []agentRow
	if err := exec.SelectContext(ctx, &rows, exec.Rebind(query), args...); err != nil {
		return nil, NewStoreError("ProfileLinks", "agent", "", err.Error(), err)
	}
	return assembleAgents(ctx, exec, "ProfileLinks", rows)
}

// assembleAgents attaches phones and websites to agent rows.
func assembleAgents(ctx context.Context, exec executor, op string, rows []agentRow) ([]domain.Agent, error) {
	agents := make([]domain.Agent, 0, len(rows))
	if len(rows) == 0 {
		return agents, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.EncodedZUID
	}

	phones, err := phonesFor(ctx, exec, ids)
	if err != nil {
		return nil, NewStoreError(op, "phone", "", err.Error(), err)
	}
	sites, err := websitesFor(ctx, exec, ids)
	if err != nil {
		return nil, NewStoreError(op, "website", "", err.Error(), err)
	}

	for i := range rows {
		rec, err := rowToAgentRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		agents = append(agents, domain.AgentFromRecords(*rec, phones[rec.EncodedZUID], sites[rec.EncodedZUID]))
	}
	return agents, nil
}

func phonesFor(ctx context.Context, exec executor, ids []string) (map[string][]domain.PhoneRecord, error) {
	query, args, err := sqlx.In(`SELECT agent_id, phone, type FROM phone WHERE agent_id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	var rows []phoneRow
	if err := exec.SelectContext(ctx, &rows, exec.Rebind(query), args...); err != nil {
		return nil, err
	}

	out := make(map[string][]domain.PhoneRecord)
	for _, row := range rows {
		p := domain.PhoneRecord{AgentID: row.AgentID, Phone: row.Phone}
		if row.Type != nil {
			p.Type = *row.Type
		}
		out[row.AgentID] = append(out[row.AgentID], p)
	}
	return out, nil
}

func websitesFor(ctx context.Context, exec executor, ids []string) (map[string][]domain.WebsiteRecord, error) {
	query, args, err := sqlx.In(`SELECT agent_id, website_url, website_type FROM website WHERE agent_id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	var rows []websiteRow
	if err := exec.SelectContext(ctx, &rows, exec.Rebind(query), args...); err != nil {
		return nil, err
	}

	out := make(map[string][]domain.WebsiteRecord)
	for _, row := range rows {
		out[row.AgentID] = append(out[row.AgentID], domain.WebsiteRecord{AgentID: row.AgentID, URL: row.URL, Type: row.Type})
	}
	return out, nil
}

// =============================================================================
// Listing Reads
// =============================================================================

func getListing(ctx context.Context, exec executor, zpid int64) (*domain.ListingRecord, error) {
	var row listingRow
	err := exec.GetContext(ctx, &row, exec.Rebind(`SELECT `+strings.Join(listingColumns, ", ")+` FROM listing WHERE zpid = ?`), zpid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewStoreError("GetListing", "listing", fmt.Sprintf("%d", zpid), "listing not found", ErrNotFound)
	}
	if err != nil {
		return nil, NewStoreError("GetListing", "listing", fmt.Sprintf("%d", zpid), err.Error(), err)
	}
	rec := rowToListingRecord(&row)
	return &rec, nil
}

func listAgentListings(ctx context.Context, exec executor, id string) ([]domain.ListingRecord, error) {
	if err := agentExists(ctx, exec, "ListAgentListings", id); err != nil {
		return nil, err
	}

	var rows []listingRow
	err := exec.SelectContext(ctx, &rows, exec.Rebind(`
		SELECT `+prefixed("l", strings.Join(listingColumns, ", "))+`
		FROM listing l
		JOIN listing_agent la ON la.listing_id = l.zpid
		WHERE la.agent_id = ?
		ORDER BY l.zpid`), id)
	if err != nil {
		return nil, NewStoreError("ListAgentListings", "listing", id, err.Error(), err)
	}

	listings := make([]domain.ListingRecord, len(rows))
	for i := range rows {
		listings[i] = rowToListingRecord(&rows[i])
	}
	return listings, nil
}

// prefixed qualifies a comma-separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
