package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

// =============================================================================
// Price Decoding Tests
// =============================================================================

func TestPrice_UnmarshalJSON(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected Price
	}{
		{"string", `"$450,000"`, "$450,000"},
		{"integer", `450000`, "450000"},
		{"float", `1250.5`, "1250.5"},
		{"null", `null`, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var p Price
			require.NoError(t, json.Unmarshal([]byte(tc.input), &p))
			assert.Equal(t, tc.expected, p)
		})
	}
}

func TestPrice_UnmarshalJSON_Invalid(t *testing.T) {
	var p Price
	err := json.Unmarshal([]byte(`{"amount":1}`), &p)
	assert.Error(t, err)
}

func TestListing_DecodesDirectoryShape(t *testing.T) {
	raw := `{"zpid":123,"bedrooms":3,"bathrooms":2.5,"price":399000,
		"address":{"line1":"1 Main St","city":"Austin","stateOrProvince":"TX","postalCode":"78701"}}`

	var l Listing
	require.NoError(t, json.Unmarshal([]byte(raw), &l))

	require.NotNil(t, l.ZPID)
	assert.Equal(t, int64(123), *l.ZPID)
	assert.Equal(t, 3, *l.Bedrooms)
	assert.Equal(t, 2.5, *l.Bathrooms)
	assert.Equal(t, Price("399000"), l.Price)
	assert.Equal(t, "TX", l.Address.StateOrProvince)
	assert.Equal(t, DefaultPriceCurrency, l.Currency())
}

// =============================================================================
// Agent Tests
// =============================================================================

func TestAgent_Validate(t *testing.T) {
	assert.ErrorIs(t, Agent{}.Validate(), ErrMissingAgentID)
	assert.ErrorIs(t, Agent{EncodedZUID: "  "}.Validate(), ErrMissingAgentID)
	assert.NoError(t, Agent{EncodedZUID: "X1"}.Validate())
}

func TestAgent_Name(t *testing.T) {
	assert.Equal(t, "X1", Agent{EncodedZUID: "X1"}.Name())
	assert.Equal(t, "Jane Doe", Agent{EncodedZUID: "X1", FullName: ptr("Jane Doe")}.Name())
}

func TestAgent_AllListingsOrder(t *testing.T) {
	a := Agent{
		ForSale:   []Listing{{Type: ListingForSale}},
		ForRent:   []Listing{{Type: ListingForRent}},
		PastSales: []Listing{{Type: ListingPastSale}},
	}
	got := a.AllListings()
	require.Len(t, got, 3)
	assert.Equal(t, ListingPastSale, got[0].Type)
	assert.Equal(t, ListingForRent, got[1].Type)
	assert.Equal(t, ListingForSale, got[2].Type)
}

func TestAgent_DecodesDirectoryEntry(t *testing.T) {
	raw := `{"encodedZuid":"X1abc","fullName":"Jane Doe","businessName":"Doe Realty",
		"phoneNumber":"(512) 555-0100","profileLink":"/profile/janedoe",
		"saleCountAllTime":120,"isTopAgent":true}`

	var a Agent
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	assert.Equal(t, "X1abc", a.EncodedZUID)
	assert.Equal(t, "Doe Realty", *a.BusinessName)
	assert.Equal(t, 120, *a.SaleCountAllTime)
	assert.True(t, *a.IsTopAgent)
	assert.Nil(t, a.IsTeamLead)
}

func TestNormalizeLocation(t *testing.T) {
	city, state := NormalizeLocation(" austin ", "tx")
	assert.Equal(t, "AUSTIN", city)
	assert.Equal(t, "TX", state)
}

// =============================================================================
// Job Status Tests
// =============================================================================

func TestParseJobStatus(t *testing.T) {
	testCases := []struct {
		input    string
		expected JobStatus
	}{
		{"", JobNotScraped},
		{"PENDING", JobPending},
		{"COMPLETED", JobCompleted},
		{"ERROR", JobError},
		{"UNKNOWN", JobUnknown},
		{"RUNNING", JobUnknown},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseJobStatus(tc.input))
		})
	}
}

func TestJobStatus_Message(t *testing.T) {
	assert.Equal(t, "Scraping/Insertion Completed Successfully For AUSTIN, TX", JobCompleted.Message("AUSTIN", "TX"))
	assert.Equal(t, "Scraping Job Still In Progress For AUSTIN, TX", JobPending.Message("AUSTIN", "TX"))
	assert.Equal(t, "Unknown Status For Scraping/Insertion Job For AUSTIN, TX", JobStatus("BOGUS").Message("AUSTIN", "TX"))
}

func TestJobStatus_Persistable(t *testing.T) {
	assert.True(t, JobPending.Persistable())
	assert.True(t, JobCompleted.Persistable())
	assert.True(t, JobError.Persistable())
	assert.False(t, JobNotScraped.Persistable())
	assert.False(t, JobInternalError.Persistable())
}

func TestAdmit(t *testing.T) {
	testCases := []struct {
		name     string
		status   JobStatus
		rescrape bool
		expected Admission
	}{
		{"never scraped", JobNotScraped, false, AdmitRun},
		{"previous error", JobError, false, AdmitRun},
		{"completed", JobCompleted, false, RejectAlreadyCompleted},
		{"pending", JobPending, false, RejectInProgress},
		{"unknown", JobUnknown, false, RejectUnknownState},
		{"rescrape completed", JobCompleted, true, AdmitRun},
		{"rescrape pending", JobPending, true, AdmitRun},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Admit(tc.status, tc.rescrape))
		})
	}
}

// =============================================================================
// Scrape Request Tests
// =============================================================================

func TestScrapeRequest_Normalize(t *testing.T) {
	req := ScrapeRequest{City: "san antonio", State: "tx"}.Normalize()
	assert.Equal(t, "SAN ANTONIO", req.City)
	assert.Equal(t, "TX", req.State)
	assert.Equal(t, DefaultAgentTypes(), req.AgentTypes)

	req = ScrapeRequest{City: "a", State: "b", AgentTypes: []string{AgentTypeRelocation}}.Normalize()
	assert.Equal(t, []string{AgentTypeRelocation}, req.AgentTypes)
}

func TestScrapeRequest_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		req     ScrapeRequest
		wantErr error
	}{
		{"valid", ScrapeRequest{City: "AUSTIN", State: "TX"}, nil},
		{"missing city", ScrapeRequest{State: "TX"}, ErrMissingCity},
		{"missing state", ScrapeRequest{City: "AUSTIN"}, ErrMissingState},
		{"zero start", ScrapeRequest{City: "AUSTIN", State: "TX", PageStart: ptr(0)}, ErrInvalidPageRange},
		{"end before start", ScrapeRequest{City: "AUSTIN", State: "TX", PageStart: ptr(4), PageEnd: ptr(2)}, ErrInvalidPageRange},
		{"zero max pages", ScrapeRequest{City: "AUSTIN", State: "TX", MaxPages: ptr(0)}, ErrInvalidMaxPages},
		{"unknown type", ScrapeRequest{City: "AUSTIN", State: "TX", AgentTypes: []string{"landlord"}}, ErrUnknownAgentType},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestScrapeRequest_PageRange(t *testing.T) {
	req := ScrapeRequest{}
	assert.Equal(t, 1, req.FirstPage())
	assert.True(t, req.NeedsDiscovery())
	assert.Equal(t, 12, req.LastPage(12))

	req.MaxPages = ptr(5)
	assert.Equal(t, 5, req.LastPage(12))
	assert.Equal(t, 3, req.LastPage(3))

	req.PageStart = ptr(2)
	req.PageEnd = ptr(7)
	assert.Equal(t, 2, req.FirstPage())
	assert.False(t, req.NeedsDiscovery())
	assert.Equal(t, 7, req.LastPage(12))
}
