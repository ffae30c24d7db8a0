// Package ledger defines the sales-ledger data model shared by the store,
// the remote client, and the sync orchestrator.
//
// A Fact is one normalized line of a partner's financial report: a single
// (date, line-item type, platform, country, currency, credential,
// package/bundle/app/game-item/discount) combination with its unit and
// revenue measures. Facts are content-addressed: IdentityKey computes the
// storage primary key from a fixed projection of fields, and that key is
// the only de-duplication mechanism in the system.
package ledger

import (
	"fmt"
	"time"
)

// Fact is one row of the local sales ledger.
//
// Pointer fields are optional: the remote API omits dimensions that do not
// apply to a given line-item type (a package sale has no game item, a
// micro-transaction has no bundle). Name fields at the bottom are display
// enrichment joined in from the response lookup tables; they never
// participate in the identity key.
type Fact struct {
	// ID is the identity key (see IdentityKey). Set by the remote client
	// during normalization; the store refuses facts without it.
	ID string `json:"id"`

	// CredentialID scopes the fact to the credential that fetched it.
	CredentialID string `json:"credentialId"`

	Date         string `json:"date"` // ISO calendar day, e.g. "2024-01-02"
	LineItemType string `json:"lineItemType"`
	CountryCode  string `json:"countryCode"`

	PartnerID    *int64  `json:"partnerId,omitempty"`
	PrimaryAppID *int64  `json:"primaryAppId,omitempty"`
	PackageID    *int64  `json:"packageId,omitempty"`
	BundleID     *int64  `json:"bundleId,omitempty"`
	ItemAppID    *int64  `json:"itemAppId,omitempty"` // app owning a game item line
	GameItemID   *int64  `json:"gameItemId,omitempty"`
	Platform     *string `json:"platform,omitempty"`
	Currency     *string `json:"currency,omitempty"`

	BasePrice       *string `json:"basePrice,omitempty"`
	SalePrice       *string `json:"salePrice,omitempty"`
	AvgSalePriceUSD *string `json:"avgSalePriceUsd,omitempty"`
	PackageSaleType *string `json:"packageSaleType,omitempty"`

	GrossUnitsSold      *int64 `json:"grossUnitsSold,omitempty"`
	GrossUnitsReturned  *int64 `json:"grossUnitsReturned,omitempty"`
	GrossUnitsActivated *int64 `json:"grossUnitsActivated,omitempty"`
	NetUnitsSold        *int64 `json:"netUnitsSold,omitempty"`

	GrossSalesUSD   *float64 `json:"grossSalesUsd,omitempty"`
	GrossReturnsUSD *float64 `json:"grossReturnsUsd,omitempty"`
	NetSalesUSD     *float64 `json:"netSalesUsd,omitempty"`
	NetTaxUSD       *float64 `json:"netTaxUsd,omitempty"`

	CombinedDiscountID *int64   `json:"combinedDiscountId,omitempty"`
	TotalDiscountPct   *float64 `json:"totalDiscountPercentage,omitempty"`
	RevShareTier       *int64   `json:"additionalRevenueShareTier,omitempty"`
	KeyRequestID       *int64   `json:"keyRequestId,omitempty"`
	ViwGrantPartnerID  *int64   `json:"viwGrantPartnerId,omitempty"`

	// Lookup enrichment (display only).
	AppName     *string `json:"appName,omitempty"`
	PackageName *string `json:"packageName,omitempty"`
	BundleName  *string `json:"bundleName,omitempty"`
	PartnerName *string `json:"partnerName,omitempty"`
	CountryName *string `json:"countryName,omitempty"`
	Region      *string `json:"region,omitempty"`

	// Convenience columns kept for chart consumers: the primary app of the
	// line and the preferred unit count (net, falling back to gross, then
	// activations).
	AppID     int64 `json:"appId"`
	UnitsSold int64 `json:"unitsSold"`
}

// Validate checks the fields the store depends on.
func (f *Fact) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("id is required")
	}
	if f.CredentialID == "" {
		return fmt.Errorf("credential id is required")
	}
	if f.Date == "" {
		return fmt.Errorf("date is required")
	}
	if f.LineItemType == "" {
		return fmt.Errorf("line item type is required")
	}
	return nil
}

// Filter narrows GetFacts queries. Zero values mean "no constraint".
type Filter struct {
	StartDate    string
	EndDate      string
	AppID        int64 // 0 = all apps
	CountryCode  string
	CredentialID string
	Limit        int
}

// Credential is the stored metadata for one registered API credential.
// The secret itself lives only in the vault, addressed by ID.
type Credential struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	LastFour    string `json:"lastFour"`
	CreatedAt   int64  `json:"createdAt"` // unix milliseconds
}

// Fingerprint returns the last-4 fingerprint recorded for a secret.
// Secrets shorter than four characters are fingerprinted whole.
func Fingerprint(secret string) string {
	if len(secret) >= 4 {
		return secret[len(secret)-4:]
	}
	return secret
}

// NowMillis is the timestamp convention used across the store (unix
// milliseconds, matching created_at/completed_at columns).
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
