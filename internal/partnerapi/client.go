// Package partnerapi is the HTTP client for the partner financials API:
// the change-discovery endpoint and the paginated per-date detail endpoint.
//
// The client normalizes raw wire line items into ledger.Fact values,
// joining the per-page display-name lookup tables in memory and stamping
// each fact's identity key. It performs no retries; transient failures
// surface as *TransportError for the orchestrator's retry policy, and
// malformed responses as *ProtocolError.
package partnerapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ledgerhound/ledgerhound/internal/ledger"
)

const (
	// DefaultBaseURL is the production partner API root.
	DefaultBaseURL = "https://partner.steamgames.com/webapi"

	discoverEndpoint = "IPartnerFinancialsService/GetChangedDatesForPartner/v1"
	detailEndpoint   = "IPartnerFinancialsService/GetDetailedSales/v1"

	defaultTimeout = 30 * time.Second
)

// Client talks to the partner financials API. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for the given API root. An empty baseURL selects the
// production API.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// Discovery is the result of a change-discovery call.
type Discovery struct {
	// Dates needing (re-)fetch, as reported by the server.
	Dates []string
	// Watermark is the new change-feed cursor. Never smaller than the
	// `since` value the call was made with.
	Watermark int64
}

// Discover asks which calendar dates changed since the given watermark.
//
// The server's watermark is authoritative when present; when it is absent
// or malformed the stored value is carried forward so the cursor never
// moves backward.
func (c *Client) Discover(ctx context.Context, secret string, since int64) (*Discovery, error) {
	params := url.Values{}
	params.Set("key", secret)
	params.Set("highwatermark", strconv.FormatInt(since, 10))

	var resp changedDatesResponse
	if err := c.get(ctx, discoverEndpoint, params, &resp); err != nil {
		return nil, err
	}

	watermark := int64(resp.Response.ResultHighwatermark)
	if watermark < since {
		watermark = since
	}
	return &Discovery{Dates: resp.Response.Dates, Watermark: watermark}, nil
}

// FetchDate retrieves every sales line for one calendar date, walking the
// page cursor internally: each page's max_id becomes the next request's
// highwatermark_id, and pagination ends when the cursor stops advancing or
// a page comes back empty. Returned facts are normalized and carry their
// identity keys, attributed to credentialID.
func (c *Client) FetchDate(ctx context.Context, secret, credentialID, date string) ([]ledger.Fact, error) {
	var facts []ledger.Fact
	var cursor int64

	for {
		params := url.Values{}
		params.Set("key", secret)
		params.Set("date", date)
		params.Set("highwatermark_id", strconv.FormatInt(cursor, 10))

		var page detailedSalesResponse
		if err := c.get(ctx, detailEndpoint, params, &page); err != nil {
			return nil, err
		}

		tables := buildLookups(&page)
		for i := range page.Response.Results {
			facts = append(facts, normalize(&page.Response.Results[i], credentialID, tables))
		}

		maxID := int64(page.Response.MaxID)
		if maxID <= cursor || len(page.Response.Results) == 0 {
			break
		}
		cursor = maxID
	}

	return facts, nil
}

// get performs one API request and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	u := c.baseURL + "/" + endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &ProtocolError{Op: endpoint, Msg: fmt.Sprintf("failed to build request: %v", err)}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: endpoint, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return &TransportError{Op: endpoint, Err: fmt.Errorf("server returned %s", resp.Status)}
	case resp.StatusCode >= 300:
		return &ProtocolError{Op: endpoint, Msg: fmt.Sprintf("server returned %s", resp.Status)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: endpoint, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ProtocolError{Op: endpoint, Msg: fmt.Sprintf("failed to decode body: %v", err)}
	}
	return nil
}

// normalize converts one raw wire line into a ledger fact: primary-app
// fallback, decimal-string money parsing, unit-count preference
// (net, then gross, then activations), lookup-table enrichment, and the
// identity key stamp.
func normalize(item *lineItem, credentialID string, tables lookups) ledger.Fact {
	primaryApp := int64(0)
	switch {
	case item.PrimaryAppID != nil:
		primaryApp = *item.PrimaryAppID
	case item.AppID != nil:
		primaryApp = *item.AppID
	}

	units := int64(0)
	switch {
	case item.NetUnitsSold != nil:
		units = *item.NetUnitsSold
	case item.GrossUnitsSold != nil:
		units = *item.GrossUnitsSold
	case item.GrossUnitsActivated != nil:
		units = *item.GrossUnitsActivated
	}

	f := ledger.Fact{
		CredentialID: credentialID,
		Date:         item.Date,
		LineItemType: item.LineItemType,
		CountryCode:  item.CountryCode,

		PartnerID:    item.PartnerID,
		PrimaryAppID: &primaryApp,
		PackageID:    item.PackageID,
		BundleID:     item.BundleID,
		ItemAppID:    item.AppID,
		GameItemID:   item.GameItemID,
		Platform:     item.Platform,
		Currency:     item.Currency,

		BasePrice:       item.BasePrice,
		SalePrice:       item.SalePrice,
		AvgSalePriceUSD: item.AvgSalePriceUSD,
		PackageSaleType: item.PackageSaleType,

		GrossUnitsSold:      item.GrossUnitsSold,
		GrossUnitsReturned:  item.GrossUnitsReturned,
		GrossUnitsActivated: item.GrossUnitsActivated,
		NetUnitsSold:        item.NetUnitsSold,

		GrossSalesUSD:   money(item.GrossSalesUSD),
		GrossReturnsUSD: money(item.GrossReturnsUSD),
		NetSalesUSD:     money(item.NetSalesUSD),
		NetTaxUSD:       money(item.NetTaxUSD),

		CombinedDiscountID: item.CombinedDiscountID,
		TotalDiscountPct:   item.TotalDiscountPct,
		RevShareTier:       item.RevShareTier,
		KeyRequestID:       item.KeyRequestID,
		ViwGrantPartnerID:  item.ViwGrantPartnerID,

		AppID:     primaryApp,
		UnitsSold: units,
	}

	if name, ok := tables.apps[primaryApp]; ok {
		f.AppName = &name
	}
	if item.PackageID != nil {
		if name, ok := tables.packages[*item.PackageID]; ok {
			f.PackageName = &name
		}
	}
	if item.BundleID != nil {
		if name, ok := tables.bundles[*item.BundleID]; ok {
			f.BundleName = &name
		}
	}
	if item.PartnerID != nil {
		if name, ok := tables.partners[*item.PartnerID]; ok {
			f.PartnerName = &name
		}
	}
	if ci, ok := tables.countries[item.CountryCode]; ok {
		f.CountryName = &ci.CountryName
		f.Region = &ci.Region
	}

	f.ID = ledger.IdentityKey(&f)
	return f
}

// money parses a decimal-string money field. Absent or malformed values
// become zero, matching how downstream totals treat missing measures.
func money(s *string) *float64 {
	v := 0.0
	if s != nil {
		if parsed, err := strconv.ParseFloat(*s, 64); err == nil {
			v = parsed
		}
	}
	return &v
}
