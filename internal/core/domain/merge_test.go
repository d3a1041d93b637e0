package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// MergeAgent Tests
// =============================================================================

func TestMergeAgent_NewAgent(t *testing.T) {
	in := Agent{
		EncodedZUID: "X1",
		FullName:    ptr("Jane Doe"),
		Specialties: []string{"buyers-agent", "listing-agent", "buyers-agent"},
		Ranking:     ptr(4),
		Page:        ptr(2),
	}
	rec := MergeAgent(in, nil)

	assert.Equal(t, "X1", rec.EncodedZUID)
	assert.Equal(t, "Jane Doe", *rec.FullName)
	assert.Equal(t, 2, *rec.Page)
	assert.Equal(t, 4, *rec.Ranking)
	assert.Equal(t, []string{"buyers-agent", "listing-agent"}, rec.Specialties)
}

func TestMergeAgent_Placement(t *testing.T) {
	testCases := []struct {
		name               string
		inPage, inRank     *int
		oldPage, oldRank   *int
		wantPage, wantRank *int
	}{
		{"incoming lower page wins", ptr(1), ptr(9), ptr(3), ptr(2), ptr(1), ptr(9)},
		{"stored lower page wins", ptr(5), ptr(1), ptr(2), ptr(7), ptr(2), ptr(7)},
		{"equal page keeps stored ranking", ptr(2), ptr(1), ptr(2), ptr(7), ptr(2), ptr(7)},
		{"stored wins without ranking", ptr(4), ptr(3), ptr(2), nil, ptr(2), ptr(3)},
		{"incoming page unknown", nil, ptr(3), ptr(2), ptr(8), ptr(2), ptr(8)},
		{"stored page unknown", ptr(6), ptr(3), nil, ptr(1), ptr(6), ptr(3)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			in := Agent{EncodedZUID: "X1", Page: tc.inPage, Ranking: tc.inRank}
			old := &AgentRecord{EncodedZUID: "X1", Page: tc.oldPage, Ranking: tc.oldRank}
			rec := MergeAgent(in, old)
			assert.Equal(t, tc.wantPage, rec.Page)
			assert.Equal(t, tc.wantRank, rec.Ranking)
		})
	}
}

func TestMergeAgent_UnionsSpecialtiesAndOverwritesFields(t *testing.T) {
	in := Agent{
		EncodedZUID: "X1",
		Email:       ptr("new@example.com"),
		Specialties: []string{"relocation"},
	}
	old := &AgentRecord{
		EncodedZUID: "X1",
		Email:       ptr("old@example.com"),
		FullName:    ptr("Old Name"),
		Specialties: []string{"listing-agent", "relocation"},
	}
	rec := MergeAgent(in, old)

	assert.Equal(t, "new@example.com", *rec.Email)
	assert.Nil(t, rec.FullName)
	assert.Equal(t, []string{"listing-agent", "relocation"}, rec.Specialties)
}

func TestMergeDuplicateAgents(t *testing.T) {
	agents := []Agent{
		{EncodedZUID: "A", FullName: ptr("First"), Specialties: []string{"listing-agent"}, Page: ptr(3), Ranking: ptr(5)},
		{EncodedZUID: "B", Specialties: []string{"listing-agent"}, Page: ptr(1), Ranking: ptr(1)},
		{EncodedZUID: "A", FullName: ptr("Second"), Specialties: []string{"buyers-agent"}, Page: ptr(1), Ranking: ptr(12)},
	}
	out := MergeDuplicateAgents(agents)

	require.Len(t, out, 2)
	assert.Equal(t, "A", out[0].EncodedZUID)
	assert.Equal(t, "B", out[1].EncodedZUID)
	assert.Equal(t, "First", *out[0].FullName)
	assert.Equal(t, 1, *out[0].Page)
	assert.Equal(t, 12, *out[0].Ranking)
	assert.Equal(t, []string{"buyers-agent", "listing-agent"}, out[0].Specialties)
}

// =============================================================================
// Child Record Tests
// =============================================================================

func TestPhoneRecords(t *testing.T) {
	a := Agent{
		EncodedZUID: "X1",
		PhoneNumber: ptr("555-0100"),
		PhoneNumbers: &Phones{
			Cell:      "555-0101",
			Brokerage: "555-0100",
			Business:  "",
		},
	}
	got := PhoneRecords(a)
	assert.Equal(t, []PhoneRecord{
		{AgentID: "X1", Phone: "555-0100", Type: PhonePrimary},
		{AgentID: "X1", Phone: "555-0101", Type: PhoneCell},
	}, got)
}

func TestPhoneRecords_NoNumbers(t *testing.T) {
	assert.Empty(t, PhoneRecords(Agent{EncodedZUID: "X1"}))
}

func TestWebsiteRecords(t *testing.T) {
	a := Agent{
		EncodedZUID: "X1",
		Websites: []Website{
			{Type: "Website", URL: "https://doe.example"},
			{Type: "Blog", URL: "https://doe.example"},
			{URL: "https://blog.doe.example"},
			{Type: "Empty"},
		},
	}
	got := WebsiteRecords(a)
	require.Len(t, got, 2)
	assert.Equal(t, "https://doe.example", got[0].URL)
	assert.Equal(t, "Website", *got[0].Type)
	assert.Nil(t, got[1].Type)
}

func TestListingRecords(t *testing.T) {
	a := Agent{
		EncodedZUID: "X1",
		ForSale: []Listing{
			{Type: ListingForSale, ZPID: ptr(int64(1)), Price: "500000", Bedrooms: ptr(0)},
			{Type: ListingForSale, ZPID: ptr(int64(2))},
		},
		PastSales: []Listing{
			{Type: ListingPastSale, ZPID: ptr(int64(1)), SoldDate: "2024-01-01",
				Address: &Address{Line1: "1 Main St", City: "Austin", StateOrProvince: "TX"}},
			{Type: ListingPastSale},
		},
	}
	got := ListingRecords(a)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, int64(1), first.ZPID)
	assert.Equal(t, "PAST SALE", *first.Type)
	assert.Equal(t, "2024-01-01", *first.SoldDate)
	assert.Equal(t, "1 Main St", *first.Line1)
	assert.Nil(t, first.Line2)
	assert.Nil(t, first.Price)
	assert.Equal(t, "USD", *first.PriceCurrency)

	second := got[1]
	assert.Equal(t, int64(2), second.ZPID)
	assert.Equal(t, "FOR SALE", *second.Type)
	assert.Nil(t, second.Bedrooms)
	assert.Nil(t, second.Line1)
}

func TestAgentFromRecords_RoundTrip(t *testing.T) {
	in := Agent{
		EncodedZUID:  "X1",
		FullName:     ptr("Jane Doe"),
		PhoneNumber:  ptr("555-0100"),
		PhoneNumbers: &Phones{Cell: "555-0101", Business: "555-0102"},
		Websites:     []Website{{Type: "Website", URL: "https://doe.example"}},
		Specialties:  []string{"relocation"},
		Page:         ptr(1),
		Ranking:      ptr(3),
	}
	got := AgentFromRecords(MergeAgent(in, nil), PhoneRecords(in), WebsiteRecords(in))

	assert.Equal(t, in, got)
}

func TestAgentFromRecords_NoPhones(t *testing.T) {
	got := AgentFromRecords(AgentRecord{EncodedZUID: "X1"}, nil, nil)
	assert.Nil(t, got.PhoneNumber)
	assert.Nil(t, got.PhoneNumbers)
	assert.Nil(t, got.Websites)
}

func TestNonZero(t *testing.T) {
	assert.Nil(t, nonZero(""))
	assert.Nil(t, nonZero(0))
	assert.Equal(t, "x", *nonZero("x"))
	assert.Nil(t, nonZeroPtr[int](nil))
	assert.Nil(t, nonZeroPtr(ptr(false)))
	assert.True(t, *nonZeroPtr(ptr(true)))
}
