// Package sync drives the order import pipeline: fetch, filter, dedup-write,
// checkpoint.
package sync

import (
	"backend/internal/shopify"
)

// Line item attributes the storefront widget attaches at add-to-cart time.
const (
	MarkerAttrKey   = "_sbb_tryon"
	MarkerAttrValue = "true"
	SessionAttrKey  = "_sbb_session_id"
)

// HasTryOnItems reports whether any line item carries the try-on marker.
// Orders with no line items or no attributes simply don't match.
func HasTryOnItems(o shopify.Order) bool {
	for _, li := range o.LineItems {
		if li.CustomAttributes[MarkerAttrKey] == MarkerAttrValue {
			return true
		}
	}
	return false
}

// SessionIDs collects the deduplicated try-on session ids across all line
// items. Set semantics: input order is not preserved.
func SessionIDs(o shopify.Order) []string {
	seen := map[string]bool{}
	ids := []string{}
	for _, li := range o.LineItems {
		v := li.CustomAttributes[SessionAttrKey]
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		ids = append(ids, v)
	}
	return ids
}

// FilterTryOn keeps only marker-tagged orders.
func FilterTryOn(orders []shopify.Order) []shopify.Order {
	out := make([]shopify.Order, 0, len(orders))
	for _, o := range orders {
		if HasTryOnItems(o) {
			out = append(out, o)
		}
	}
	return out
}
