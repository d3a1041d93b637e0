package extract

import (
	"testing"

	"github.com/artpar/realty-collector/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyProfile(t *testing.T) {
	name := "Jane Doe"
	in := domain.Agent{EncodedZUID: "X1a", FullName: &name}

	got, err := ApplyProfile(in, nextDataPage(profileJSON))
	require.NoError(t, err)

	assert.Equal(t, "Jane Doe", *got.FullName)
	require.NotNil(t, got.PhoneNumbers)
	assert.Equal(t, "555-0101", got.PhoneNumbers.Cell)
	assert.Equal(t, "555-0102", got.PhoneNumbers.Business)
	assert.Equal(t, "jane@example.com", *got.Email)

	require.Len(t, got.ForSale, 1)
	sale := got.ForSale[0]
	assert.Equal(t, domain.ListingForSale, sale.Type)
	assert.Equal(t, int64(11), *sale.ZPID)
	assert.Equal(t, domain.Price("$500,000"), sale.Price)
	assert.Equal(t, "SINGLE_FAMILY", sale.HomeType)
	assert.Equal(t, "78701", sale.Address.PostalCode)

	require.Len(t, got.ForRent, 1)
	assert.Equal(t, domain.ListingForRent, got.ForRent[0].Type)
	assert.Equal(t, domain.Price("2400"), got.ForRent[0].Price)

	require.Len(t, got.PastSales, 2)
	past := got.PastSales[0]
	assert.Equal(t, domain.ListingPastSale, past.Type)
	assert.Equal(t, "Seller", past.Represented)
	assert.Equal(t, "9 Elm St", past.Address.Line1)
	assert.Equal(t, "Austin", past.Address.City)
	assert.Equal(t, "TX", past.Address.StateOrProvince)
	assert.Equal(t, "78702", past.Address.PostalCode)
	assert.Equal(t, "", got.PastSales[1].Address.PostalCode)

	require.Len(t, got.Websites, 1)
	assert.Equal(t, domain.Website{Type: "Website", URL: "https://doe.example"}, got.Websites[0])
}

func TestApplyProfile_NoDisplayUserKeepsContacts(t *testing.T) {
	email := "keep@example.com"
	in := domain.Agent{EncodedZUID: "X1a", Email: &email, PhoneNumbers: &domain.Phones{Cell: "1"}}

	got, err := ApplyProfile(in, nextDataPage(`{"props":{"pageProps":{}}}`))
	require.NoError(t, err)
	assert.Equal(t, "keep@example.com", *got.Email)
	assert.Equal(t, "1", got.PhoneNumbers.Cell)
	assert.Empty(t, got.ForSale)
	assert.Empty(t, got.Websites)
}

func TestApplyProfile_EmptyPhonesBecomeNil(t *testing.T) {
	got, err := ApplyProfile(domain.Agent{EncodedZUID: "X1a"},
		nextDataPage(`{"props":{"pageProps":{"displayUser":{"phoneNumbers":{}}}}}`))
	require.NoError(t, err)
	assert.Nil(t, got.PhoneNumbers)
	assert.Nil(t, got.Email)
}

func TestApplyProfile_MissingScript(t *testing.T) {
	in := domain.Agent{EncodedZUID: "X1a"}
	got, err := ApplyProfile(in, []byte(`<html></html>`))
	assert.ErrorIs(t, err, ErrNoNextData)
	assert.Equal(t, in, got)
}

func TestPostalCode(t *testing.T) {
	assert.Equal(t, "78702", postalCode("Austin, TX, 78702"))
	assert.Equal(t, "", postalCode("Austin, TX"))
	assert.Equal(t, "", postalCode(""))
}
