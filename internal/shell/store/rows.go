package store

import (
	"encoding/json"
	"strings"

	"github.com/artpar/realty-collector/internal/core/domain"
)

// =============================================================================
// Row Types
// =============================================================================

const agentColumns = `encodedzuid, business_name, full_name, location, profile_link, email,
	is_team_lead, is_top_agent, sale_count_all_time, sale_count_last_year,
	sale_price_range_three_year_min, sale_price_range_three_year_max,
	ranking, page, specialties`

// agentRow represents an agent row in the database.
type agentRow struct {
	EncodedZUID       string  `db:"encodedzuid"`
	BusinessName      *string `db:"business_name"`
	FullName          *string `db:"full_name"`
	Location          *string `db:"location"`
	ProfileLink       *string `db:"profile_link"`
	Email             *string `db:"email"`
	IsTeamLead        *bool   `db:"is_team_lead"`
	IsTopAgent        *bool   `db:"is_top_agent"`
	SaleCountAllTime  *int    `db:"sale_count_all_time"`
	SaleCountLastYear *int    `db:"sale_count_last_year"`
	SalePriceMin      *int    `db:"sale_price_range_three_year_min"`
	SalePriceMax      *int    `db:"sale_price_range_three_year_max"`
	Ranking           *int    `db:"ranking"`
	Page              *int    `db:"page"`
	Specialties       string  `db:"specialties"`
}

// placementRow is the part of an agent row the merge rule reads.
type placementRow struct {
	EncodedZUID string `db:"encodedzuid"`
	Ranking     *int   `db:"ranking"`
	Page        *int   `db:"page"`
	Specialties string `db:"specialties"`
}

type cityRow struct {
	ID    int64  `db:"id"`
	City  string `db:"city"`
	State string `db:"state"`
}

type phoneRow struct {
	AgentID string  `db:"agent_id"`
	Phone   string  `db:"phone"`
	Type    *string `db:"type"`
}

type websiteRow struct {
	AgentID string  `db:"agent_id"`
	URL     string  `db:"website_url"`
	Type    *string `db:"website_type"`
}

// listingColumns is the column order used by every listing insert and select.
var listingColumns = []string{
	"zpid", "type", "home_type", "bedrooms", "bathrooms", "has_open_house",
	"price", "price_currency", "status", "latitude", "longitude",
	"brokerage_name", "home_marketing_status", "home_marketing_type",
	"listing_url", "represented", "sold_date", "home_details_url",
	"living_area_value", "living_area_units_short", "mls_logo_src",
	"line1", "line2", "state_or_province", "city", "postal_code",
}

type listingRow struct {
	ZPID                 int64    `db:"zpid"`
	Type                 *string  `db:"type"`
	HomeType             *string  `db:"home_type"`
	Bedrooms             *int     `db:"bedrooms"`
	Bathrooms            *float64 `db:"bathrooms"`
	HasOpenHouse         *bool    `db:"has_open_house"`
	Price                *string  `db:"price"`
	PriceCurrency        *string  `db:"price_currency"`
	Status               *string  `db:"status"`
	Latitude             *float64 `db:"latitude"`
	Longitude            *float64 `db:"longitude"`
	BrokerageName        *string  `db:"brokerage_name"`
	HomeMarketingStatus  *string  `db:"home_marketing_status"`
	HomeMarketingType    *string  `db:"home_marketing_type"`
	ListingURL           *string  `db:"listing_url"`
	Represented          *string  `db:"represented"`
	SoldDate             *string  `db:"sold_date"`
	HomeDetailsURL       *string  `db:"home_details_url"`
	LivingAreaValue      *float64 `db:"living_area_value"`
	LivingAreaUnitsShort *string  `db:"living_area_units_short"`
	MLSLogoSrc           *string  `db:"mls_logo_src"`
	Line1                *string  `db:"line1"`
	Line2                *string  `db:"line2"`
	StateOrProvince      *string  `db:"state_or_province"`
	City                 *string  `db:"city"`
	PostalCode           *string  `db:"postal_code"`
}

// =============================================================================
// Conversions
// =============================================================================

func encodeSpecialties(s []string) (string, error) {
	if s == nil {
		s = []string{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSpecialties(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func rowToAgentRecord(row *agentRow) (*domain.AgentRecord, error) {
	specialties, err := decodeSpecialties(row.Specialties)
	if err != nil {
		return nil, NewStoreError("rowToAgentRecord", "agent", row.EncodedZUID, "failed to parse specialties", ErrInvalidData)
	}
	return &domain.AgentRecord{
		EncodedZUID:                row.EncodedZUID,
		BusinessName:               row.BusinessName,
		FullName:                   row.FullName,
		Location:                   row.Location,
		ProfileLink:                row.ProfileLink,
		Email:                      row.Email,
		IsTeamLead:                 row.IsTeamLead,
		IsTopAgent:                 row.IsTopAgent,
		SaleCountAllTime:           row.SaleCountAllTime,
		SaleCountLastYear:          row.SaleCountLastYear,
		SalePriceRangeThreeYearMin: row.SalePriceMin,
		SalePriceRangeThreeYearMax: row.SalePriceMax,
		Ranking:                    row.Ranking,
		Page:                       row.Page,
		Specialties:                specialties,
	}, nil
}

func listingArgs(l domain.ListingRecord) []any {
	return []any{
		l.ZPID, l.Type, l.HomeType, l.Bedrooms, l.Bathrooms, l.HasOpenHouse,
		l.Price, l.PriceCurrency, l.Status, l.Latitude, l.Longitude,
		l.BrokerageName, l.HomeMarketingStatus, l.HomeMarketingType,
		l.ListingURL, l.Represented, l.SoldDate, l.HomeDetailsURL,
		l.LivingAreaValue, l.LivingAreaUnitsShort, l.MLSLogoSrc,
		l.Line1, l.Line2, l.StateOrProvince, l.City, l.PostalCode,
	}
}

func rowToListingRecord(row *listingRow) domain.ListingRecord {
	return domain.ListingRecord{
		ZPID:                 row.ZPID,
		Type:                 row.Type,
		HomeType:             row.HomeType,
		Bedrooms:             row.Bedrooms,
		Bathrooms:            row.Bathrooms,
		HasOpenHouse:         row.HasOpenHouse,
		Price:                row.Price,
		PriceCurrency:        row.PriceCurrency,
		Status:               row.Status,
		Latitude:             row.Latitude,
		Longitude:            row.Longitude,
		BrokerageName:        row.BrokerageName,
		HomeMarketingStatus:  row.HomeMarketingStatus,
		HomeMarketingType:    row.HomeMarketingType,
		ListingURL:           row.ListingURL,
		Represented:          row.Represented,
		SoldDate:             row.SoldDate,
		HomeDetailsURL:       row.HomeDetailsURL,
		LivingAreaValue:      row.LivingAreaValue,
		LivingAreaUnitsShort: row.LivingAreaUnitsShort,
		MLSLogoSrc:           row.MLSLogoSrc,
		Line1:                row.Line1,
		Line2:                row.Line2,
		StateOrProvince:      row.StateOrProvince,
		City:                 row.City,
		PostalCode:           row.PostalCode,
	}
}

func rowToCity(row cityRow) domain.City {
	return domain.City{ID: row.ID, City: row.City, State: row.State}
}
