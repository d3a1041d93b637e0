package domain

import (
	"errors"
	"fmt"
	"slices"
)

// =============================================================================
// Request Errors
// =============================================================================

var (
	ErrMissingCity      = errors.New("city is required")
	ErrMissingState     = errors.New("state is required")
	ErrInvalidPageRange = errors.New("invalid page range")
	ErrUnknownAgentType = errors.New("unknown agent type")
	ErrInvalidMaxPages  = errors.New("max_pages must be positive")
)

// =============================================================================
// Agent Types
// =============================================================================

// Agent type slugs accepted by the directory's specialties filter.
const (
	AgentTypeListing     = "listing-agent"
	AgentTypeBuyers      = "buyers-agent"
	AgentTypeRelocation  = "relocation"
	AgentTypeForeclosure = "foreclosure"
)

// DefaultAgentTypes returns the agent types scraped when a request names none.
func DefaultAgentTypes() []string {
	return []string{AgentTypeListing, AgentTypeBuyers, AgentTypeRelocation, AgentTypeForeclosure}
}

// =============================================================================
// Scrape Request
// =============================================================================

// ScrapeRequest describes one scrape job for a city.
type ScrapeRequest struct {
	City           string   `json:"city"`
	State          string   `json:"state"`
	PageStart      *int     `json:"page_start,omitempty"`
	PageEnd        *int     `json:"page_end,omitempty"`
	MaxPages       *int     `json:"max_pages,omitempty"`
	UpdateExisting bool     `json:"update_existing"`
	Rescrape       bool     `json:"rescrape"`
	AgentTypes     []string `json:"agent_types,omitempty"`
}

// Normalize upper-cases the location and fills default agent types.
func (r ScrapeRequest) Normalize() ScrapeRequest {
	r.City, r.State = NormalizeLocation(r.City, r.State)
	if len(r.AgentTypes) == 0 {
		r.AgentTypes = DefaultAgentTypes()
	}
	return r
}

// Validate checks a normalized request.
func (r ScrapeRequest) Validate() error {
	if r.City == "" {
		return ErrMissingCity
	}
	if r.State == "" {
		return ErrMissingState
	}
	if r.PageStart != nil && *r.PageStart < 1 {
		return fmt.Errorf("%w: page_start must be at least 1", ErrInvalidPageRange)
	}
	if r.PageEnd != nil && *r.PageEnd < r.FirstPage() {
		return fmt.Errorf("%w: page_end %d is before page_start %d", ErrInvalidPageRange, *r.PageEnd, r.FirstPage())
	}
	if r.MaxPages != nil && *r.MaxPages < 1 {
		return ErrInvalidMaxPages
	}
	known := DefaultAgentTypes()
	for _, t := range r.AgentTypes {
		if !slices.Contains(known, t) {
			return fmt.Errorf("%w: %q", ErrUnknownAgentType, t)
		}
	}
	return nil
}

// FirstPage returns the first directory page to fetch.
func (r ScrapeRequest) FirstPage() int {
	if r.PageStart != nil {
		return *r.PageStart
	}
	return 1
}

// LastPage resolves the last directory page to fetch given the number of
// pages the directory reports. An explicit PageEnd wins; MaxPages caps the
// discovered count.
func (r ScrapeRequest) LastPage(discovered int) int {
	if r.PageEnd != nil {
		return *r.PageEnd
	}
	last := discovered
	if r.MaxPages != nil && *r.MaxPages < last {
		last = *r.MaxPages
	}
	return last
}

// NeedsDiscovery reports whether the page count must be read from the
// directory before the page range is known.
func (r ScrapeRequest) NeedsDiscovery() bool {
	return r.PageEnd == nil
}
