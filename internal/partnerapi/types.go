package partnerapi

import (
	"encoding/json"
	"strconv"
)

// Watermark is the change-feed cursor. The remote API is inconsistent about
// its JSON encoding and returns it sometimes as a number, sometimes as a
// decimal string; both decode to the same value. A missing or unparseable
// watermark decodes to zero and the caller falls back to its stored one.
type Watermark int64

func (w *Watermark) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*w = Watermark(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			*w = Watermark(n)
		}
		return nil
	}

	// Unknown shape (null, object): treat as absent.
	*w = 0
	return nil
}

// changedDatesResponse is the discovery endpoint payload.
type changedDatesResponse struct {
	Response struct {
		Dates               []string  `json:"dates"`
		ResultHighwatermark Watermark `json:"result_highwatermark"`
	} `json:"response"`
}

// detailedSalesResponse is one page of the detail endpoint payload: raw
// line items, the pagination cursor, and the display-name lookup tables.
type detailedSalesResponse struct {
	Response struct {
		Results []lineItem `json:"results"`
		MaxID   Watermark  `json:"max_id"`

		AppInfo     []appInfo     `json:"app_info"`
		PackageInfo []packageInfo `json:"package_info"`
		BundleInfo  []bundleInfo  `json:"bundle_info"`
		PartnerInfo []partnerInfo `json:"partner_info"`
		CountryInfo []countryInfo `json:"country_info"`
	} `json:"response"`
}

// lineItem is a raw sales line as the remote API emits it. Money fields
// arrive as decimal strings; unit counts as integers; almost everything is
// optional depending on the line-item type.
type lineItem struct {
	Date         string `json:"date"`
	LineItemType string `json:"line_item_type"`
	CountryCode  string `json:"country_code"`

	PartnerID    *int64  `json:"partnerid"`
	PrimaryAppID *int64  `json:"primary_appid"`
	PackageID    *int64  `json:"packageid"`
	BundleID     *int64  `json:"bundleid"`
	AppID        *int64  `json:"appid"`
	GameItemID   *int64  `json:"game_item_id"`
	Platform     *string `json:"platform"`
	Currency     *string `json:"currency"`

	BasePrice       *string `json:"base_price"`
	SalePrice       *string `json:"sale_price"`
	AvgSalePriceUSD *string `json:"avg_sale_price_usd"`
	PackageSaleType *string `json:"package_sale_type"`

	GrossUnitsSold      *int64 `json:"gross_units_sold"`
	GrossUnitsReturned  *int64 `json:"gross_units_returned"`
	GrossUnitsActivated *int64 `json:"gross_units_activated"`
	NetUnitsSold        *int64 `json:"net_units_sold"`

	GrossSalesUSD   *string `json:"gross_sales_usd"`
	GrossReturnsUSD *string `json:"gross_returns_usd"`
	NetSalesUSD     *string `json:"net_sales_usd"`
	NetTaxUSD       *string `json:"net_tax_usd"`

	CombinedDiscountID *int64   `json:"combined_discount_id"`
	TotalDiscountPct   *float64 `json:"total_discount_percentage"`
	RevShareTier       *int64   `json:"additional_revenue_share_tier"`
	KeyRequestID       *int64   `json:"key_request_id"`
	ViwGrantPartnerID  *int64   `json:"viw_grant_partnerid"`
}

type appInfo struct {
	AppID   int64  `json:"appid"`
	AppName string `json:"app_name"`
}

type packageInfo struct {
	PackageID   int64  `json:"packageid"`
	PackageName string `json:"package_name"`
}

type bundleInfo struct {
	BundleID   int64  `json:"bundleid"`
	BundleName string `json:"bundle_name"`
}

type partnerInfo struct {
	PartnerID   int64  `json:"partnerid"`
	PartnerName string `json:"partner_name"`
}

type countryInfo struct {
	CountryCode string `json:"country_code"`
	CountryName string `json:"country_name"`
	Region      string `json:"region"`
}

// lookups are the per-page display-name tables joined against raw line
// items during normalization.
type lookups struct {
	apps      map[int64]string
	packages  map[int64]string
	bundles   map[int64]string
	partners  map[int64]string
	countries map[string]countryInfo
}

func buildLookups(page *detailedSalesResponse) lookups {
	l := lookups{
		apps:      make(map[int64]string, len(page.Response.AppInfo)),
		packages:  make(map[int64]string, len(page.Response.PackageInfo)),
		bundles:   make(map[int64]string, len(page.Response.BundleInfo)),
		partners:  make(map[int64]string, len(page.Response.PartnerInfo)),
		countries: make(map[string]countryInfo, len(page.Response.CountryInfo)),
	}
	for _, a := range page.Response.AppInfo {
		l.apps[a.AppID] = a.AppName
	}
	for _, p := range page.Response.PackageInfo {
		l.packages[p.PackageID] = p.PackageName
	}
	for _, b := range page.Response.BundleInfo {
		l.bundles[b.BundleID] = b.BundleName
	}
	for _, p := range page.Response.PartnerInfo {
		l.partners[p.PartnerID] = p.PartnerName
	}
	for _, c := range page.Response.CountryInfo {
		l.countries[c.CountryCode] = c
	}
	return l
}
