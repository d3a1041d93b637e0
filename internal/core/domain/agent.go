// Package domain holds the collector's entities and the pure rules that
// combine them. Nothing in this package performs I/O.
package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// =============================================================================
// Agent Errors
// =============================================================================

var (
	ErrMissingAgentID = errors.New("agent encodedZuid is required")
	ErrInvalidPrice   = errors.New("price must be a string or a number")
)

// =============================================================================
// Listing Types
// =============================================================================

type ListingType string

const (
	ListingForSale  ListingType = "FOR SALE"
	ListingForRent  ListingType = "FOR RENT"
	ListingPastSale ListingType = "PAST SALE"
)

// DefaultPriceCurrency is applied when the directory omits a currency.
const DefaultPriceCurrency = "USD"

// =============================================================================
// Value Types
// =============================================================================

// Website is a link published on an agent profile.
type Website struct {
	Type string `json:"text,omitempty"`
	URL  string `json:"url"`
}

// Phones holds the secondary phone numbers of an agent.
type Phones struct {
	Cell      string `json:"cell,omitempty"`
	Brokerage string `json:"brokerage,omitempty"`
	Business  string `json:"business,omitempty"`
}

// Address is a postal address attached to a listing.
type Address struct {
	Line1           string `json:"line1,omitempty"`
	Line2           string `json:"line2,omitempty"`
	City            string `json:"city,omitempty"`
	StateOrProvince string `json:"stateOrProvince,omitempty"`
	PostalCode      string `json:"postalCode,omitempty"`
}

// Price is a listing price. The directory sends it either as a formatted
// string ("$450,000") or as a bare number.
type Price string

// UnmarshalJSON accepts a JSON string, a JSON number or null.
func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*p = ""
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = Price(s)
		return nil
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return ErrInvalidPrice
	}
	*p = Price(n.String())
	return nil
}

// =============================================================================
// Listing
// =============================================================================

// Listing is a property attached to an agent: an active sale, a rental or a
// past sale.
type Listing struct {
	Type ListingType `json:"type,omitempty"`

	ZPID          *int64   `json:"zpid,omitempty"`
	Address       *Address `json:"address,omitempty"`
	Bedrooms      *int     `json:"bedrooms,omitempty"`
	Bathrooms     *float64 `json:"bathrooms,omitempty"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	Price         Price    `json:"price,omitempty"`
	PriceCurrency string   `json:"price_currency,omitempty"`

	// Sale and rent listings
	Status              string `json:"status,omitempty"`
	HomeType            string `json:"home_type,omitempty"`
	BrokerageName       string `json:"brokerage_name,omitempty"`
	HomeMarketingStatus string `json:"home_marketing_status,omitempty"`
	HomeMarketingType   string `json:"home_marketing_type,omitempty"`
	ListingURL          string `json:"listing_url,omitempty"`
	HasOpenHouse        *bool  `json:"has_open_house,omitempty"`

	// Past sales
	Represented          string   `json:"represented,omitempty"`
	SoldDate             string   `json:"sold_date,omitempty"`
	ImageAlt             string   `json:"image_alt,omitempty"`
	HomeDetailsURL       string   `json:"home_details_url,omitempty"`
	LivingAreaValue      *float64 `json:"living_area_value,omitempty"`
	LivingAreaUnitsShort string   `json:"living_area_units_short,omitempty"`
	MLSLogoSrc           string   `json:"mls_logo_src,omitempty"`
}

// Currency returns the listing currency, defaulting to USD.
func (l Listing) Currency() string {
	if l.PriceCurrency == "" {
		return DefaultPriceCurrency
	}
	return l.PriceCurrency
}

// =============================================================================
// Agent
// =============================================================================

// Agent is a real-estate professional as scraped from the directory and,
// after enrichment, from their profile page.
type Agent struct {
	EncodedZUID                string  `json:"encodedZuid"`
	BusinessName               *string `json:"businessName,omitempty"`
	FullName                   *string `json:"fullName,omitempty"`
	Location                   *string `json:"location,omitempty"`
	PhoneNumber                *string `json:"phoneNumber,omitempty"`
	ProfileLink                *string `json:"profileLink,omitempty"`
	SaleCountAllTime           *int    `json:"saleCountAllTime,omitempty"`
	SaleCountLastYear          *int    `json:"saleCountLastYear,omitempty"`
	SalePriceRangeThreeYearMin *int    `json:"salePriceRangeThreeYearMin,omitempty"`
	SalePriceRangeThreeYearMax *int    `json:"salePriceRangeThreeYearMax,omitempty"`
	IsTeamLead                 *bool   `json:"isTeamLead,omitempty"`
	IsTopAgent                 *bool   `json:"isTopAgent,omitempty"`
	PhoneNumbers               *Phones `json:"phoneNumbers,omitempty"`
	Email                      *string `json:"email,omitempty"`

	ForSale   []Listing `json:"forSaleListing,omitempty"`
	ForRent   []Listing `json:"forRentListing,omitempty"`
	PastSales []Listing `json:"pastSales,omitempty"`
	Websites  []Website `json:"websites,omitempty"`

	Specialties []string `json:"specialties,omitempty"`
	Ranking     *int     `json:"ranking,omitempty"`
	Page        *int     `json:"page,omitempty"`
}

// Validate checks the fields the store relies on.
func (a Agent) Validate() error {
	if strings.TrimSpace(a.EncodedZUID) == "" {
		return ErrMissingAgentID
	}
	return nil
}

// Name returns the best display name for logs.
func (a Agent) Name() string {
	if a.FullName != nil && *a.FullName != "" {
		return *a.FullName
	}
	return a.EncodedZUID
}

// AllListings returns past sales, rentals and active sales in that order.
func (a Agent) AllListings() []Listing {
	out := make([]Listing, 0, len(a.PastSales)+len(a.ForRent)+len(a.ForSale))
	out = append(out, a.PastSales...)
	out = append(out, a.ForRent...)
	out = append(out, a.ForSale...)
	return out
}

// =============================================================================
// City
// =============================================================================

// City is a scrape target. City and State are always upper-case.
type City struct {
	ID    int64  `json:"id"`
	City  string `json:"city"`
	State string `json:"state"`
}

// NormalizeLocation upper-cases and trims a city/state pair.
func NormalizeLocation(city, state string) (string, string) {
	return strings.ToUpper(strings.TrimSpace(city)), strings.ToUpper(strings.TrimSpace(state))
}
