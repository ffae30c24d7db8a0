package ledger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64     { return &v }
func str(v string) *string   { return &v }
func f64(v float64) *float64 { return &v }

func sampleFact() *Fact {
	return &Fact{
		CredentialID:       "cred-1",
		Date:               "2024-01-02",
		LineItemType:       "Package",
		CountryCode:        "US",
		PartnerID:          i64(77),
		PackageID:          i64(1234),
		Platform:           str("windows"),
		Currency:           str("USD"),
		BasePrice:          str("19.99"),
		SalePrice:          str("9.99"),
		PackageSaleType:    str("regular"),
		CombinedDiscountID: i64(55),
		GrossSalesUSD:      f64(100.0),
		NetUnitsSold:       i64(10),
	}
}

func TestIdentityKey_Deterministic(t *testing.T) {
	a := sampleFact()
	b := sampleFact()
	require.Equal(t, IdentityKey(a), IdentityKey(b))
}

func TestIdentityKey_FieldOrder(t *testing.T) {
	f := sampleFact()
	key := IdentityKey(f)

	want := "77|2024-01-02|Package|windows|US|USD|cred-1|1234||regular||19.99|9.99|||55"
	require.Equal(t, want, key)
}

func TestIdentityKey_AbsentFieldsKeepPositions(t *testing.T) {
	f := &Fact{
		CredentialID: "cred-1",
		Date:         "2024-01-02",
		LineItemType: "MicroTxn",
		CountryCode:  "DE",
	}
	key := IdentityKey(f)

	// 16 fields means 15 delimiters regardless of how many are absent.
	assert.Equal(t, 15, strings.Count(key, "|"))
	assert.True(t, strings.HasSuffix(key, "|"))
}

func TestIdentityKey_EnrichmentDoesNotAffectKey(t *testing.T) {
	a := sampleFact()
	b := sampleFact()
	b.AppName = str("Half-Built 3")
	b.CountryName = str("United States")
	b.Region = str("North America")
	b.NetSalesUSD = f64(999.0)

	assert.Equal(t, IdentityKey(a), IdentityKey(b))
}

func TestIdentityKey_DistinguishesDimensions(t *testing.T) {
	a := sampleFact()
	b := sampleFact()
	b.CountryCode = "CA"
	assert.NotEqual(t, IdentityKey(a), IdentityKey(b))

	c := sampleFact()
	c.CredentialID = "cred-2"
	assert.NotEqual(t, IdentityKey(a), IdentityKey(c))
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "WXYZ", Fingerprint("ABCD-EFGH-WXYZ"))
	assert.Equal(t, "abc", Fingerprint("abc"))
	assert.Equal(t, "", Fingerprint(""))
}

func TestFactValidate(t *testing.T) {
	f := sampleFact()
	f.ID = IdentityKey(f)
	require.NoError(t, f.Validate())

	missing := sampleFact()
	require.Error(t, missing.Validate())
}
