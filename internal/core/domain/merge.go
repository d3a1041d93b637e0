package domain

import (
	"slices"
	"sort"
)

// =============================================================================
// Records
// =============================================================================

// AgentRecord is the persisted form of an agent. Phones, websites and
// listings live in their own tables.
type AgentRecord struct {
	EncodedZUID                string   `json:"encodedZuid"`
	BusinessName               *string  `json:"businessName"`
	FullName                   *string  `json:"fullName"`
	Location                   *string  `json:"location"`
	ProfileLink                *string  `json:"profileLink"`
	Email                      *string  `json:"email"`
	IsTeamLead                 *bool    `json:"isTeamLead"`
	IsTopAgent                 *bool    `json:"isTopAgent"`
	SaleCountAllTime           *int     `json:"saleCountAllTime"`
	SaleCountLastYear          *int     `json:"saleCountLastYear"`
	SalePriceRangeThreeYearMin *int     `json:"salePriceRangeThreeYearMin"`
	SalePriceRangeThreeYearMax *int     `json:"salePriceRangeThreeYearMax"`
	Ranking                    *int     `json:"ranking"`
	Page                       *int     `json:"page"`
	Specialties                []string `json:"specialties"`
}

// Phone type labels.
const (
	PhonePrimary   = "primary"
	PhoneCell      = "cell"
	PhoneBrokerage = "brokerage"
	PhoneBusiness  = "business"
)

// PhoneRecord is one phone number of an agent.
type PhoneRecord struct {
	AgentID string `json:"agent_id"`
	Phone   string `json:"phone"`
	Type    string `json:"type"`
}

// WebsiteRecord is one website of an agent.
type WebsiteRecord struct {
	AgentID string  `json:"agent_id"`
	URL     string  `json:"website_url"`
	Type    *string `json:"website_type"`
}

// ListingRecord is the persisted form of a listing. Zero values of the
// optional columns are stored as NULL.
type ListingRecord struct {
	ZPID                 int64    `json:"zpid"`
	Type                 *string  `json:"type"`
	HomeType             *string  `json:"home_type"`
	Bedrooms             *int     `json:"bedrooms"`
	Bathrooms            *float64 `json:"bathrooms"`
	HasOpenHouse         *bool    `json:"has_open_house"`
	Price                *string  `json:"price"`
	PriceCurrency        *string  `json:"price_currency"`
	Status               *string  `json:"status"`
	Latitude             *float64 `json:"latitude"`
	Longitude            *float64 `json:"longitude"`
	BrokerageName        *string  `json:"brokerage_name"`
	HomeMarketingStatus  *string  `json:"home_marketing_status"`
	HomeMarketingType    *string  `json:"home_marketing_type"`
	ListingURL           *string  `json:"listing_url"`
	Represented          *string  `json:"represented"`
	SoldDate             *string  `json:"sold_date"`
	HomeDetailsURL       *string  `json:"home_details_url"`
	LivingAreaValue      *float64 `json:"living_area_value"`
	LivingAreaUnitsShort *string  `json:"living_area_units_short"`
	MLSLogoSrc           *string  `json:"mls_logo_src"`
	Line1                *string  `json:"line1"`
	Line2                *string  `json:"line2"`
	StateOrProvince      *string  `json:"state_or_province"`
	City                 *string  `json:"city"`
	PostalCode           *string  `json:"postal_code"`
}

// =============================================================================
// Agent Merge
// =============================================================================

// MergeAgent combines a freshly scraped agent with its stored row. The
// lowest page wins and carries its ranking; specialties accumulate. All other
// fields take the incoming values. A nil existing row yields the incoming
// agent as-is.
func MergeAgent(incoming Agent, existing *AgentRecord) AgentRecord {
	rec := AgentRecord{
		EncodedZUID:                incoming.EncodedZUID,
		BusinessName:               incoming.BusinessName,
		FullName:                   incoming.FullName,
		Location:                   incoming.Location,
		ProfileLink:                incoming.ProfileLink,
		Email:                      incoming.Email,
		IsTeamLead:                 incoming.IsTeamLead,
		IsTopAgent:                 incoming.IsTopAgent,
		SaleCountAllTime:           incoming.SaleCountAllTime,
		SaleCountLastYear:          incoming.SaleCountLastYear,
		SalePriceRangeThreeYearMin: incoming.SalePriceRangeThreeYearMin,
		SalePriceRangeThreeYearMax: incoming.SalePriceRangeThreeYearMax,
		Ranking:                    incoming.Ranking,
		Page:                       incoming.Page,
		Specialties:                unionSorted(incoming.Specialties, nil),
	}
	if existing == nil {
		return rec
	}

	rec.Page, rec.Ranking = mergePlacement(incoming.Page, incoming.Ranking, existing.Page, existing.Ranking)
	rec.Specialties = unionSorted(incoming.Specialties, existing.Specialties)
	return rec
}

// mergePlacement applies the page/ranking rule. The stored placement is kept
// when the incoming page is unknown or not lower.
func mergePlacement(inPage, inRank, oldPage, oldRank *int) (*int, *int) {
	if inPage == nil {
		return oldPage, oldRank
	}
	if oldPage == nil || *inPage < *oldPage {
		return inPage, inRank
	}
	if oldRank == nil {
		return oldPage, inRank
	}
	return oldPage, oldRank
}

func unionSorted(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.Strings(out)
	return slices.Compact(out)
}

// MergeDuplicateAgents collapses agents seen on several pages or agent types
// into one entry each, in first-seen order. The first occurrence supplies the
// profile fields.
func MergeDuplicateAgents(agents []Agent) []Agent {
	index := make(map[string]int, len(agents))
	out := make([]Agent, 0, len(agents))
	for _, a := range agents {
		i, seen := index[a.EncodedZUID]
		if !seen {
			index[a.EncodedZUID] = len(out)
			a.Specialties = unionSorted(a.Specialties, nil)
			out = append(out, a)
			continue
		}
		first := &out[i]
		first.Page, first.Ranking = mergePlacement(a.Page, a.Ranking, first.Page, first.Ranking)
		first.Specialties = unionSorted(first.Specialties, a.Specialties)
	}
	return out
}

// =============================================================================
// Child Records
// =============================================================================

// PhoneRecords flattens an agent's phone numbers. A number listed under
// several types is kept once, under the first type.
func PhoneRecords(a Agent) []PhoneRecord {
	type candidate struct{ kind, number string }
	candidates := []candidate{{PhonePrimary, deref(a.PhoneNumber)}}
	if a.PhoneNumbers != nil {
		candidates = append(candidates,
			candidate{PhoneCell, a.PhoneNumbers.Cell},
			candidate{PhoneBrokerage, a.PhoneNumbers.Brokerage},
			candidate{PhoneBusiness, a.PhoneNumbers.Business},
		)
	}

	seen := make(map[string]bool)
	var out []PhoneRecord
	for _, c := range candidates {
		if c.number == "" || seen[c.number] {
			continue
		}
		seen[c.number] = true
		out = append(out, PhoneRecord{AgentID: a.EncodedZUID, Phone: c.number, Type: c.kind})
	}
	return out
}

// WebsiteRecords returns the agent's websites deduplicated by URL.
func WebsiteRecords(a Agent) []WebsiteRecord {
	seen := make(map[string]bool)
	var out []WebsiteRecord
	for _, w := range a.Websites {
		if w.URL == "" || seen[w.URL] {
			continue
		}
		seen[w.URL] = true
		out = append(out, WebsiteRecord{AgentID: a.EncodedZUID, URL: w.URL, Type: nonZero(w.Type)})
	}
	return out
}

// ListingRecords returns the agent's listings deduplicated by zpid, past
// sales first. Listings without a zpid cannot be stored and are dropped.
func ListingRecords(a Agent) []ListingRecord {
	seen := make(map[int64]bool)
	var out []ListingRecord
	for _, l := range a.AllListings() {
		if l.ZPID == nil || seen[*l.ZPID] {
			continue
		}
		seen[*l.ZPID] = true
		out = append(out, toListingRecord(l))
	}
	return out
}

func toListingRecord(l Listing) ListingRecord {
	rec := ListingRecord{
		ZPID:                 *l.ZPID,
		Type:                 nonZero(string(l.Type)),
		HomeType:             nonZero(l.HomeType),
		Bedrooms:             nonZeroPtr(l.Bedrooms),
		Bathrooms:            nonZeroPtr(l.Bathrooms),
		HasOpenHouse:         nonZeroPtr(l.HasOpenHouse),
		Price:                nonZero(string(l.Price)),
		PriceCurrency:        nonZero(l.Currency()),
		Status:               nonZero(l.Status),
		Latitude:             nonZeroPtr(l.Latitude),
		Longitude:            nonZeroPtr(l.Longitude),
		BrokerageName:        nonZero(l.BrokerageName),
		HomeMarketingStatus:  nonZero(l.HomeMarketingStatus),
		HomeMarketingType:    nonZero(l.HomeMarketingType),
		ListingURL:           nonZero(l.ListingURL),
		Represented:          nonZero(l.Represented),
		SoldDate:             nonZero(l.SoldDate),
		HomeDetailsURL:       nonZero(l.HomeDetailsURL),
		LivingAreaValue:      nonZeroPtr(l.LivingAreaValue),
		LivingAreaUnitsShort: nonZero(l.LivingAreaUnitsShort),
		MLSLogoSrc:           nonZero(l.MLSLogoSrc),
	}
	if l.Address != nil {
		rec.Line1 = nonZero(l.Address.Line1)
		rec.Line2 = nonZero(l.Address.Line2)
		rec.StateOrProvince = nonZero(l.Address.StateOrProvince)
		rec.City = nonZero(l.Address.City)
		rec.PostalCode = nonZero(l.Address.PostalCode)
	}
	return rec
}

// AgentFromRecords reassembles an agent from its stored row, phones and
// websites. Listings are not attached.
func AgentFromRecords(rec AgentRecord, phones []PhoneRecord, sites []WebsiteRecord) Agent {
	a := Agent{
		EncodedZUID:                rec.EncodedZUID,
		BusinessName:               rec.BusinessName,
		FullName:                   rec.FullName,
		Location:                   rec.Location,
		ProfileLink:                rec.ProfileLink,
		Email:                      rec.Email,
		IsTeamLead:                 rec.IsTeamLead,
		IsTopAgent:                 rec.IsTopAgent,
		SaleCountAllTime:           rec.SaleCountAllTime,
		SaleCountLastYear:          rec.SaleCountLastYear,
		SalePriceRangeThreeYearMin: rec.SalePriceRangeThreeYearMin,
		SalePriceRangeThreeYearMax: rec.SalePriceRangeThreeYearMax,
		Ranking:                    rec.Ranking,
		Page:                       rec.Page,
		Specialties:                rec.Specialties,
	}

	var extra Phones
	for _, p := range phones {
		switch p.Type {
		case PhonePrimary:
			a.PhoneNumber = &p.Phone
		case PhoneCell:
			extra.Cell = p.Phone
		case PhoneBrokerage:
			extra.Brokerage = p.Phone
		case PhoneBusiness:
			extra.Business = p.Phone
		}
	}
	if extra != (Phones{}) {
		a.PhoneNumbers = &extra
	}

	for _, w := range sites {
		a.Websites = append(a.Websites, Website{Type: deref(w.Type), URL: w.URL})
	}
	return a
}

// =============================================================================
// Helpers
// =============================================================================

func nonZero[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}

func nonZeroPtr[T comparable](p *T) *T {
	if p == nil {
		return nil
	}
	return nonZero(*p)
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
