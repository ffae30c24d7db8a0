package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledgerhound/ledgerhound/internal/ledger"
)

// salesColumns is the full column list of the sales table, in insert order.
const salesColumns = `id, date, app_id, app_name, package_id, country_code, units_sold,
	gross_revenue, net_revenue, currency, credential_id, line_item_type,
	partner_id, primary_app_id, bundle_id, item_app_id, game_item_id, platform,
	base_price, sale_price, avg_sale_price_usd, package_sale_type,
	gross_units_sold, gross_units_returned, gross_units_activated, net_units_sold,
	gross_sales_usd, gross_returns_usd, net_sales_usd, net_tax_usd,
	combined_discount_id, total_discount_percentage, additional_revenue_share_tier,
	key_request_id, viw_grant_partner_id,
	package_name, bundle_name, partner_name, country_name, region`

// UpsertFacts writes a batch of facts in one transaction, keyed by identity
// key with overwrite-all-columns conflict semantics. Re-fetching a date
// therefore self-heals revised rows without separate delete+insert logic.
// A failure anywhere rolls the whole batch back.
func (db *DB) UpsertFacts(ctx context.Context, facts []ledger.Fact) error {
	if len(facts) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", 40), ", ")
	query := `INSERT INTO sales (` + salesColumns + `) VALUES (` + placeholders + `)
	ON CONFLICT(id) DO UPDATE SET
		date = excluded.date,
		app_id = excluded.app_id,
		app_name = excluded.app_name,
		package_id = excluded.package_id,
		country_code = excluded.country_code,
		units_sold = excluded.units_sold,
		gross_revenue = excluded.gross_revenue,
		net_revenue = excluded.net_revenue,
		currency = excluded.currency,
		credential_id = excluded.credential_id,
		line_item_type = excluded.line_item_type,
		partner_id = excluded.partner_id,
		primary_app_id = excluded.primary_app_id,
		bundle_id = excluded.bundle_id,
		item_app_id = excluded.item_app_id,
		game_item_id = excluded.game_item_id,
		platform = excluded.platform,
		base_price = excluded.base_price,
		sale_price = excluded.sale_price,
		avg_sale_price_usd = excluded.avg_sale_price_usd,
		package_sale_type = excluded.package_sale_type,
		gross_units_sold = excluded.gross_units_sold,
		gross_units_returned = excluded.gross_units_returned,
		gross_units_activated = excluded.gross_units_activated,
		net_units_sold = excluded.net_units_sold,
		gross_sales_usd = excluded.gross_sales_usd,
		gross_returns_usd = excluded.gross_returns_usd,
		net_sales_usd = excluded.net_sales_usd,
		net_tax_usd = excluded.net_tax_usd,
		combined_discount_id = excluded.combined_discount_id,
		total_discount_percentage = excluded.total_discount_percentage,
		additional_revenue_share_tier = excluded.additional_revenue_share_tier,
		key_request_id = excluded.key_request_id,
		viw_grant_partner_id = excluded.viw_grant_partner_id,
		package_name = excluded.package_name,
		bundle_name = excluded.bundle_name,
		partner_name = excluded.partner_name,
		country_name = excluded.country_name,
		region = excluded.region`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := range facts {
		f := &facts[i]
		if err := f.Validate(); err != nil {
			return fmt.Errorf("invalid fact: %w", err)
		}

		currency := "USD"
		if f.Currency != nil {
			currency = *f.Currency
		}

		_, err := stmt.ExecContext(ctx,
			f.ID,
			f.Date,
			f.AppID,
			nullStr(f.AppName),
			derefI64(f.PackageID),
			f.CountryCode,
			f.UnitsSold,
			derefF64(f.GrossSalesUSD),
			derefF64(f.NetSalesUSD),
			currency,
			f.CredentialID,
			f.LineItemType,
			nullI64(f.PartnerID),
			nullI64(f.PrimaryAppID),
			nullI64(f.BundleID),
			nullI64(f.ItemAppID),
			nullI64(f.GameItemID),
			nullStr(f.Platform),
			nullStr(f.BasePrice),
			nullStr(f.SalePrice),
			nullStr(f.AvgSalePriceUSD),
			nullStr(f.PackageSaleType),
			nullI64(f.GrossUnitsSold),
			nullI64(f.GrossUnitsReturned),
			nullI64(f.GrossUnitsActivated),
			nullI64(f.NetUnitsSold),
			nullF64(f.GrossSalesUSD),
			nullF64(f.GrossReturnsUSD),
			nullF64(f.NetSalesUSD),
			nullF64(f.NetTaxUSD),
			nullI64(f.CombinedDiscountID),
			nullF64(f.TotalDiscountPct),
			nullI64(f.RevShareTier),
			nullI64(f.KeyRequestID),
			nullI64(f.ViwGrantPartnerID),
			nullStr(f.PackageName),
			nullStr(f.BundleName),
			nullStr(f.PartnerName),
			nullStr(f.CountryName),
			nullStr(f.Region),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert fact %s: %w", f.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert batch: %w", err)
	}
	return nil
}

// GetFacts returns facts matching the filter, newest date first.
func (db *DB) GetFacts(ctx context.Context, filter ledger.Filter) ([]ledger.Fact, error) {
	var conditions []string
	var args []any

	if filter.StartDate != "" {
		conditions = append(conditions, "date >= ?")
		args = append(args, filter.StartDate)
	}
	if filter.EndDate != "" {
		conditions = append(conditions, "date <= ?")
		args = append(args, filter.EndDate)
	}
	if filter.AppID != 0 {
		conditions = append(conditions, "app_id = ?")
		args = append(args, filter.AppID)
	}
	if filter.CountryCode != "" {
		conditions = append(conditions, "country_code = ?")
		args = append(args, filter.CountryCode)
	}
	if filter.CredentialID != "" {
		conditions = append(conditions, "credential_id = ?")
		args = append(args, filter.CredentialID)
	}

	query := `SELECT ` + salesColumns + ` FROM sales`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	return scanFacts(rows)
}

// ExistingDates returns the set of dates that already hold facts for the
// credential. The orchestrator uses it to fetch genuinely new days first.
func (db *DB) ExistingDates(ctx context.Context, credentialID string) (map[string]struct{}, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT DISTINCT date FROM sales WHERE credential_id = ?", credentialID)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing dates: %w", err)
	}
	defer rows.Close()

	dates := make(map[string]struct{})
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan date: %w", err)
		}
		dates[d] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dates: %w", err)
	}
	return dates, nil
}

// watermarkKey namespaces per-credential watermarks inside sync_meta.
func watermarkKey(credentialID string) string {
	return "highwatermark:" + credentialID
}

// GetWatermark returns the credential's sync watermark, zero if never set.
func (db *DB) GetWatermark(ctx context.Context, credentialID string) (int64, error) {
	raw, ok, err := db.getMeta(ctx, watermarkKey(credentialID))
	if err != nil || !ok {
		return 0, err
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt watermark %q for %s: %w", raw, credentialID, err)
	}
	return value, nil
}

// SetWatermark persists the credential's sync watermark.
func (db *DB) SetWatermark(ctx context.Context, credentialID string, value int64) error {
	return db.setMeta(ctx, watermarkKey(credentialID), strconv.FormatInt(value, 10))
}

// scanFacts reads full-width sales rows.
func scanFacts(rows *sql.Rows) ([]ledger.Fact, error) {
	var facts []ledger.Fact
	for rows.Next() {
		var (
			f        ledger.Fact
			appName  sql.NullString
			pkgID    int64
			currency string

			partnerID, primaryAppID, bundleID, itemAppID, gameItemID   sql.NullInt64
			grossSold, grossReturned, grossActivated, netSold          sql.NullInt64
			combinedDiscountID, revShareTier, keyRequestID, viwPartner sql.NullInt64

			grossRevenue, netRevenue float64

			platform, basePrice, salePrice, avgSalePrice, saleType sql.NullString
			packageName, bundleName, partnerName                   sql.NullString
			countryName, region                                    sql.NullString
			lineItemType                                           sql.NullString

			grossUSD, returnsUSD, netUSD, taxUSD, discountPct sql.NullFloat64
		)

		err := rows.Scan(
			&f.ID, &f.Date, &f.AppID, &appName, &pkgID, &f.CountryCode, &f.UnitsSold,
			&grossRevenue, &netRevenue, &currency, &f.CredentialID, &lineItemType,
			&partnerID, &primaryAppID, &bundleID, &itemAppID, &gameItemID, &platform,
			&basePrice, &salePrice, &avgSalePrice, &saleType,
			&grossSold, &grossReturned, &grossActivated, &netSold,
			&grossUSD, &returnsUSD, &netUSD, &taxUSD,
			&combinedDiscountID, &discountPct, &revShareTier,
			&keyRequestID, &viwPartner,
			&packageName, &bundleName, &partnerName, &countryName, &region,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}

		f.LineItemType = lineItemType.String
		f.Currency = &currency
		if pkgID != 0 || f.LineItemType == "Package" {
			f.PackageID = &pkgID
		}
		f.AppName = ptrStr(appName)
		f.PartnerID = ptrI64(partnerID)
		f.PrimaryAppID = ptrI64(primaryAppID)
		f.BundleID = ptrI64(bundleID)
		f.ItemAppID = ptrI64(itemAppID)
		f.GameItemID = ptrI64(gameItemID)
		f.Platform = ptrStr(platform)
		f.BasePrice = ptrStr(basePrice)
		f.SalePrice = ptrStr(salePrice)
		f.AvgSalePriceUSD = ptrStr(avgSalePrice)
		f.PackageSaleType = ptrStr(saleType)
		f.GrossUnitsSold = ptrI64(grossSold)
		f.GrossUnitsReturned = ptrI64(grossReturned)
		f.GrossUnitsActivated = ptrI64(grossActivated)
		f.NetUnitsSold = ptrI64(netSold)
		f.GrossSalesUSD = ptrF64(grossUSD)
		f.GrossReturnsUSD = ptrF64(returnsUSD)
		f.NetSalesUSD = ptrF64(netUSD)
		f.NetTaxUSD = ptrF64(taxUSD)
		f.CombinedDiscountID = ptrI64(combinedDiscountID)
		f.TotalDiscountPct = ptrF64(discountPct)
		f.RevShareTier = ptrI64(revShareTier)
		f.KeyRequestID = ptrI64(keyRequestID)
		f.ViwGrantPartnerID = ptrI64(viwPartner)
		f.PackageName = ptrStr(packageName)
		f.BundleName = ptrStr(bundleName)
		f.PartnerName = ptrStr(partnerName)
		f.CountryName = ptrStr(countryName)
		f.Region = ptrStr(region)

		if f.GrossSalesUSD == nil {
			f.GrossSalesUSD = &grossRevenue
		}
		if f.NetSalesUSD == nil {
			f.NetSalesUSD = &netRevenue
		}

		facts = append(facts, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating facts: %w", err)
	}
	return facts, nil
}

func nullStr(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullI64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullF64(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func ptrStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func ptrI64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func ptrF64(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	n := v.Float64
	return &n
}

func derefI64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefF64(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
