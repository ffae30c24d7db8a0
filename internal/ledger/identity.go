package ledger

import (
	"strconv"
	"strings"
)

// keyDelimiter separates projection fields inside an identity key. The
// remote API never emits it inside a field value.
const keyDelimiter = "|"

// IdentityKey computes the content address of a fact.
//
// The key is a fixed, ordered projection of identifying fields joined with
// "|"; absent optional fields contribute an empty placeholder at their
// position. The field order is a wire-level contract: any component that
// recomputes keys (including external normalizers) must produce exactly
// this sequence, or logically identical rows stop colliding and duplicate.
//
// Order: partner, date, line-item type, platform, country, currency,
// credential, package, bundle, package-sale-type, key-request, base price,
// sale price, app, game item, combined discount.
func IdentityKey(f *Fact) string {
	fields := []string{
		optInt(f.PartnerID),
		f.Date,
		f.LineItemType,
		optStr(f.Platform),
		f.CountryCode,
		optStr(f.Currency),
		f.CredentialID,
		optInt(f.PackageID),
		optInt(f.BundleID),
		optStr(f.PackageSaleType),
		optInt(f.KeyRequestID),
		optStr(f.BasePrice),
		optStr(f.SalePrice),
		optInt(f.ItemAppID),
		optInt(f.GameItemID),
		optInt(f.CombinedDiscountID),
	}
	return strings.Join(fields, keyDelimiter)
}

// optInt renders an optional integer field in canonical form: decimal
// digits when present, empty placeholder when absent.
func optInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

// optStr renders an optional string field, absent becoming the empty
// placeholder.
func optStr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
