package extract

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/artpar/realty-collector/internal/core/domain"
)

// =============================================================================
// Profile Pages
// =============================================================================

const websitesTerm = "Websites"

type profileData struct {
	Props struct {
		PageProps struct {
			DisplayUser *struct {
				PhoneNumbers *domain.Phones `json:"phoneNumbers"`
				Email        *string        `json:"email"`
			} `json:"displayUser"`
			ForSaleListings struct {
				Listings []json.RawMessage `json:"listings"`
			} `json:"forSaleListings"`
			ForRentListings struct {
				Listings []json.RawMessage `json:"listings"`
			} `json:"forRentListings"`
			PastSales struct {
				PastSales []json.RawMessage `json:"past_sales"`
			} `json:"pastSales"`
			ProfessionalInformation []struct {
				Term  string            `json:"term"`
				Links []json.RawMessage `json:"links"`
			} `json:"professionalInformation"`
		} `json:"pageProps"`
	} `json:"props"`
}

type pastSaleAddress struct {
	StreetAddress    string `json:"street_address"`
	City             string `json:"city"`
	State            string `json:"state"`
	CityStateZipcode string `json:"city_state_zipcode"`
}

// ApplyProfile enriches a directory agent with the contents of its profile
// page: contact details, active sale and rent listings, past sales and
// websites. Entries that do not decode are dropped; the rest of the profile
// still applies.
func ApplyProfile(agent domain.Agent, page []byte) (domain.Agent, error) {
	data, err := NextData(page)
	if err != nil {
		return agent, err
	}

	var doc profileData
	if err := json.Unmarshal(data, &doc); err != nil {
		return agent, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	props := doc.Props.PageProps

	if props.DisplayUser != nil {
		agent.PhoneNumbers = props.DisplayUser.PhoneNumbers
		if agent.PhoneNumbers != nil && *agent.PhoneNumbers == (domain.Phones{}) {
			agent.PhoneNumbers = nil
		}
		agent.Email = props.DisplayUser.Email
	}

	agent.ForSale = decodeListings(props.ForSaleListings.Listings, domain.ListingForSale)
	agent.ForRent = decodeListings(props.ForRentListings.Listings, domain.ListingForRent)
	agent.PastSales = decodePastSales(props.PastSales.PastSales)

	agent.Websites = nil
	for _, info := range props.ProfessionalInformation {
		if info.Term != websitesTerm {
			continue
		}
		agent.Websites = append(agent.Websites, decodeWebsites(info.Links)...)
	}

	return agent, nil
}

func decodeListings(raws []json.RawMessage, kind domain.ListingType) []domain.Listing {
	var out []domain.Listing
	for _, raw := range raws {
		var l domain.Listing
		if err := json.Unmarshal(raw, &l); err != nil {
			continue
		}
		l.Type = kind
		out = append(out, l)
	}
	return out
}

func decodePastSales(raws []json.RawMessage) []domain.Listing {
	var out []domain.Listing
	for _, raw := range raws {
		var l domain.Listing
		if err := json.Unmarshal(raw, &l); err != nil {
			continue
		}
		var addr pastSaleAddress
		if err := json.Unmarshal(raw, &addr); err != nil {
			continue
		}
		l.Type = domain.ListingPastSale
		l.Address = &domain.Address{
			Line1:           addr.StreetAddress,
			City:            addr.City,
			StateOrProvince: addr.State,
			PostalCode:      postalCode(addr.CityStateZipcode),
		}
		out = append(out, l)
	}
	return out
}

// postalCode picks the zip out of "City, ST, 78701".
func postalCode(cityStateZip string) string {
	parts := strings.Split(cityStateZip, ", ")
	if len(parts) < 3 {
		return ""
	}
	return strings.TrimSpace(parts[2])
}

func decodeWebsites(raws []json.RawMessage) []domain.Website {
	var out []domain.Website
	for _, raw := range raws {
		var w domain.Website
		if err := json.Unmarshal(raw, &w); err != nil {
			continue
		}
		if !isHTTPURL(w.URL) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
