package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"backend/internal/shopify"
)

func orderWith(items ...shopify.LineItem) shopify.Order {
	return shopify.Order{
		ID:        "gid://shopify/Order/1",
		CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		LineItems: items,
	}
}

func tryOnItem(sessionID string) shopify.LineItem {
	attrs := map[string]string{MarkerAttrKey: MarkerAttrValue}
	if sessionID != "" {
		attrs[SessionAttrKey] = sessionID
	}
	return shopify.LineItem{ID: "li", Quantity: 1, CustomAttributes: attrs}
}

func plainItem() shopify.LineItem {
	return shopify.LineItem{ID: "li", Quantity: 1, CustomAttributes: map[string]string{}}
}

func TestHasTryOnItems(t *testing.T) {
	assert.True(t, HasTryOnItems(orderWith(plainItem(), tryOnItem("s1"))))
	assert.False(t, HasTryOnItems(orderWith(plainItem())))
}

func TestHasTryOnItemsRequiresExactMarkerValue(t *testing.T) {
	li := shopify.LineItem{CustomAttributes: map[string]string{MarkerAttrKey: "yes"}}
	assert.False(t, HasTryOnItems(orderWith(li)))
}

func TestHasTryOnItemsEmptyOrder(t *testing.T) {
	assert.False(t, HasTryOnItems(orderWith()))
}

func TestHasTryOnItemsNilAttributes(t *testing.T) {
	li := shopify.LineItem{ID: "li", Quantity: 1}
	assert.False(t, HasTryOnItems(orderWith(li)))
}

func TestSessionIDsDeduplicates(t *testing.T) {
	o := orderWith(tryOnItem("s1"), tryOnItem("s2"), tryOnItem("s1"))
	ids := SessionIDs(o)
	assert.ElementsMatch(t, []string{"s1", "s2"}, ids)
}

func TestSessionIDsEmptyExtraction(t *testing.T) {
	assert.Empty(t, SessionIDs(orderWith()))
	assert.Empty(t, SessionIDs(orderWith(plainItem())))
	assert.Empty(t, SessionIDs(orderWith(tryOnItem(""))))
}

func TestFilterTryOn(t *testing.T) {
	sel := orderWith(tryOnItem("s1"))
	skip := orderWith(plainItem())

	out := FilterTryOn([]shopify.Order{skip, sel, skip})
	assert.Len(t, out, 1)
	assert.Equal(t, sel.ID, out[0].ID)
}
