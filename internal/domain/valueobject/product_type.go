package valueobject

import (
	"strings"
)

type ProductType string

const (
	ProductTypeInApp ProductType = "in-app"
	ProductTypeSubs  ProductType = "subs"
	ProductTypeAll   ProductType = "all"
)

// ParseProductType normalizes a raw product-type string and maps it to a
// ProductType. Matching is case- and separator-insensitive ("IN_APP",
// "in-app" and "inapp" are the same type). Unrecognized values fall back to
// ProductTypeInApp so that legacy callers keep working.
func ParseProductType(raw string) ProductType {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, "_", "")

	switch normalized {
	case "subs", "subscription", "subscriptions":
		return ProductTypeSubs
	case "all":
		return ProductTypeAll
	default:
		return ProductTypeInApp
	}
}

// String returns the string representation of the product type
func (t ProductType) String() string {
	return string(t)
}

// IsSubscription returns true for subscription product types
func (t ProductType) IsSubscription() bool {
	return t == ProductTypeSubs
}

// Matches returns true when a product of this type satisfies a query of
// type other (ProductTypeAll matches everything).
func (t ProductType) Matches(other ProductType) bool {
	return other == ProductTypeAll || t == other
}
