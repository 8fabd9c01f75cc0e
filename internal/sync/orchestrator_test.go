package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"backend/internal/orders"
	"backend/internal/shopify"
	"backend/internal/shops"
)

type fakeShopStore struct {
	shop *shops.Shop

	syncing     bool
	beginErr    error
	completeErr error
	onBegin     func()

	completed []shops.SyncCheckpoint
	cleared   int
}

func (f *fakeShopStore) Get(ctx context.Context, shopDomain string) (*shops.Shop, error) {
	if f.shop == nil {
		return nil, shops.ErrShopNotFound
	}
	cp := *f.shop
	return &cp, nil
}

func (f *fakeShopStore) BeginSync(ctx context.Context, shopDomain string) (bool, error) {
	if f.beginErr != nil {
		return false, f.beginErr
	}
	if f.syncing {
		return false, nil
	}
	if f.onBegin != nil {
		f.onBegin()
	}
	f.syncing = true
	return true, nil
}

func (f *fakeShopStore) CompleteSync(ctx context.Context, shopDomain string, cp shops.SyncCheckpoint) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed = append(f.completed, cp)
	f.syncing = false
	return nil
}

func (f *fakeShopStore) ClearSyncFlag(ctx context.Context, shopDomain string) error {
	f.cleared++
	f.syncing = false
	return nil
}

type fakeOrderStore struct {
	existing map[string]bool
	failOn   map[string]error
	created  []*orders.ImportedOrder
}

func (f *fakeOrderStore) Create(ctx context.Context, o *orders.ImportedOrder) (bool, error) {
	if err := f.failOn[o.OrderID]; err != nil {
		return false, err
	}
	if f.existing[o.OrderID] {
		return true, nil
	}
	if f.existing == nil {
		f.existing = map[string]bool{}
	}
	f.existing[o.OrderID] = true
	f.created = append(f.created, o)
	return false, nil
}

type fakeSource struct {
	orders []shopify.Order
	err    error
	floor  time.Time
	calls  int
}

func (f *fakeSource) FetchOrders(ctx context.Context, sess shopify.Session, createdAtMin time.Time) ([]shopify.Order, error) {
	f.calls++
	f.floor = createdAtMin
	if f.err != nil {
		return nil, f.err
	}
	return f.orders, nil
}

func testShop() *shops.Shop {
	s := &shops.Shop{
		ShopDomain: "demo.myshopify.com",
		CreatedAt:  "2026-01-01T00:00:00Z",
	}
	s.TotalOrdersSynced = 5
	s.LastSyncedOrderID = "gid://shopify/Order/900"
	s.LastSyncedOrderNumber = "#900"
	s.LastSyncedOrderCreatedAt = "2026-01-15T00:00:00Z"
	s.LastSyncTime = "2026-01-15T01:00:00Z"
	return s
}

func taggedOrder(id, number string, createdAt time.Time, price float64, sessionIDs ...string) shopify.Order {
	items := make([]shopify.LineItem, 0, len(sessionIDs))
	for _, sid := range sessionIDs {
		items = append(items, tryOnItem(sid))
	}
	if len(items) == 0 {
		items = append(items, tryOnItem(""))
	}
	return shopify.Order{
		ID:         id,
		Number:     number,
		CreatedAt:  createdAt,
		TotalPrice: price,
		Currency:   "USD",
		LineItems:  items,
	}
}

func untaggedOrder(id string, createdAt time.Time) shopify.Order {
	return shopify.Order{ID: id, CreatedAt: createdAt, LineItems: []shopify.LineItem{plainItem()}}
}

func newTestOrchestrator(shopStore *fakeShopStore, orderStore *fakeOrderStore, source *fakeSource) *Orchestrator {
	o := NewOrchestrator(shopStore, orderStore, source, zap.NewNop())
	o.now = func() time.Time { return time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC) }
	return o
}

func sess() shopify.Session {
	return shopify.Session{ShopDomain: "demo.myshopify.com", APIVersion: "2026-01", AccessToken: "tok"}
}

func TestRunRefusedWhileSyncing(t *testing.T) {
	shopStore := &fakeShopStore{shop: testShop(), syncing: true}
	source := &fakeSource{}
	o := newTestOrchestrator(shopStore, &fakeOrderStore{}, source)

	res, err := o.Run(context.Background(), sess())
	require.NoError(t, err)
	assert.True(t, res.AlreadySyncing)
	assert.Zero(t, source.calls, "guarded run must not fetch")
	assert.Empty(t, shopStore.completed, "guarded run must not mutate the checkpoint")
	assert.Zero(t, shopStore.cleared)
}

func TestRunNoNewOrders(t *testing.T) {
	shopStore := &fakeShopStore{shop: testShop()}
	source := &fakeSource{orders: []shopify.Order{
		untaggedOrder("gid://shopify/Order/1", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
	}}
	o := newTestOrchestrator(shopStore, &fakeOrderStore{}, source)

	res, err := o.Run(context.Background(), sess())
	require.NoError(t, err)
	assert.Zero(t, res.NewOrders)
	assert.Equal(t, 5, res.TotalOrdersSynced)

	require.Len(t, shopStore.completed, 1)
	cp := shopStore.completed[0]
	// only the sync time moves; the rest of the checkpoint is preserved
	assert.Equal(t, "2026-02-15T12:00:00Z", cp.LastSyncTime)
	assert.Equal(t, "gid://shopify/Order/900", cp.LastSyncedOrderID)
	assert.Equal(t, "2026-01-15T00:00:00Z", cp.LastSyncedOrderCreatedAt)
	assert.Equal(t, 5, cp.TotalOrdersSynced)
	assert.False(t, shopStore.syncing, "flag released")
}

func TestRunImportsAndDeduplicates(t *testing.T) {
	older := taggedOrder("gid://shopify/Order/1001", "#1001", time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), 49.0, "s1")
	newer := taggedOrder("gid://shopify/Order/1002", "#1002", time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC), 79.0, "s2", "s2", "s3")
	skipped := untaggedOrder("gid://shopify/Order/1003", time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC))

	shopStore := &fakeShopStore{shop: testShop()}
	orderStore := &fakeOrderStore{existing: map[string]bool{"gid://shopify/Order/1001": true}}
	// fetch order deliberately oldest-last to prove sorting, newest not first
	source := &fakeSource{orders: []shopify.Order{older, skipped, newer}}
	o := newTestOrchestrator(shopStore, orderStore, source)

	res, err := o.Run(context.Background(), sess())
	require.NoError(t, err)

	assert.Equal(t, 1, res.NewOrders)
	assert.Equal(t, 1, res.DuplicatesSkipped)
	assert.Equal(t, 6, res.TotalOrdersSynced, "previous total 5 + 1 new")
	assert.Equal(t, 79.0, res.Revenue)

	require.Len(t, shopStore.completed, 1)
	cp := shopStore.completed[0]
	assert.Equal(t, "gid://shopify/Order/1002", cp.LastSyncedOrderID, "high-water mark is the newest by createdAt")
	assert.Equal(t, "#1002", cp.LastSyncedOrderNumber)
	assert.Equal(t, "2026-02-05T10:00:00Z", cp.LastSyncedOrderCreatedAt)
	assert.Equal(t, 6, cp.TotalOrdersSynced)
	assert.Equal(t, 1, cp.LastSyncCount)

	require.Len(t, orderStore.created, 1)
	imported := orderStore.created[0]
	assert.Equal(t, "gid://shopify/Order/1002", imported.OrderID)
	assert.True(t, imported.HasSBBItems)
	assert.ElementsMatch(t, []string{"s2", "s3"}, imported.SBBSessionIDs)
}

func TestRunFetchFailureClearsFlag(t *testing.T) {
	shopStore := &fakeShopStore{shop: testShop()}
	orderStore := &fakeOrderStore{}
	source := &fakeSource{err: errors.New("connection reset")}
	o := newTestOrchestrator(shopStore, orderStore, source)

	_, err := o.Run(context.Background(), sess())
	require.Error(t, err)
	assert.Equal(t, 1, shopStore.cleared, "failed run must release the flag")
	assert.False(t, shopStore.syncing)
	assert.Empty(t, shopStore.completed)
	assert.Empty(t, orderStore.created)
}

func TestRunPerOrderStorageErrorContinues(t *testing.T) {
	bad := taggedOrder("gid://shopify/Order/1", "#1", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), 10.0, "s1")
	good := taggedOrder("gid://shopify/Order/2", "#2", time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC), 20.0, "s2")

	shopStore := &fakeShopStore{shop: testShop()}
	orderStore := &fakeOrderStore{failOn: map[string]error{"gid://shopify/Order/1": errors.New("throughput exceeded")}}
	source := &fakeSource{orders: []shopify.Order{bad, good}}
	o := newTestOrchestrator(shopStore, orderStore, source)

	res, err := o.Run(context.Background(), sess())
	require.NoError(t, err, "a single bad order never aborts the batch")
	assert.Equal(t, 1, res.NewOrders)
	assert.Zero(t, res.DuplicatesSkipped)
	require.Len(t, shopStore.completed, 1)
	assert.Equal(t, 1, shopStore.completed[0].LastSyncCount)
}

func TestRunFirstSyncFloorIsShopCreation(t *testing.T) {
	shop := &shops.Shop{ShopDomain: "demo.myshopify.com", CreatedAt: "2026-01-01T00:00:00Z"}
	shopStore := &fakeShopStore{shop: shop}
	source := &fakeSource{}
	o := newTestOrchestrator(shopStore, &fakeOrderStore{}, source)

	_, err := o.Run(context.Background(), sess())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), source.floor)
}

func TestRunIncrementalFloorIsLastSyncedOrder(t *testing.T) {
	shopStore := &fakeShopStore{shop: testShop()}
	source := &fakeSource{}
	o := newTestOrchestrator(shopStore, &fakeOrderStore{}, source)

	_, err := o.Run(context.Background(), sess())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), source.floor)
}

func TestRunReadsCheckpointUnderFlag(t *testing.T) {
	shopStore := &fakeShopStore{shop: testShop()}
	// another run completes between the initial read and flag acquisition
	shopStore.onBegin = func() {
		shopStore.shop.TotalOrdersSynced = 9
		shopStore.shop.LastSyncedOrderCreatedAt = "2026-02-01T00:00:00Z"
	}
	orderStore := &fakeOrderStore{}
	source := &fakeSource{orders: []shopify.Order{
		taggedOrder("gid://shopify/Order/2", "#2", time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), 25.0, "s2"),
	}}
	o := newTestOrchestrator(shopStore, orderStore, source)

	res, err := o.Run(context.Background(), sess())
	require.NoError(t, err)

	// totals base and fetch floor come from the re-read, not the stale record
	assert.Equal(t, 10, res.TotalOrdersSynced)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), source.floor)
}

func TestRunCheckpointWriteFailureClearsFlag(t *testing.T) {
	shopStore := &fakeShopStore{shop: testShop(), completeErr: errors.New("dynamo unavailable")}
	source := &fakeSource{orders: []shopify.Order{
		taggedOrder("gid://shopify/Order/1", "#1", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), 10.0, "s1"),
	}}
	orderStore := &fakeOrderStore{}
	o := newTestOrchestrator(shopStore, orderStore, source)

	_, err := o.Run(context.Background(), sess())
	require.Error(t, err)
	assert.Equal(t, 1, shopStore.cleared)
	// the order write itself already committed; no rollback by design
	assert.Len(t, orderStore.created, 1)
}

func TestRunTotalsAreMonotonic(t *testing.T) {
	shopStore := &fakeShopStore{shop: testShop()}
	orderStore := &fakeOrderStore{}
	source := &fakeSource{orders: []shopify.Order{
		taggedOrder("gid://shopify/Order/1", "#1", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), 10.0, "s1"),
	}}
	o := newTestOrchestrator(shopStore, orderStore, source)
	ctx := context.Background()

	res1, err := o.Run(ctx, sess())
	require.NoError(t, err)
	assert.Equal(t, 6, res1.TotalOrdersSynced)

	// apply the written checkpoint to the shop, as the real store would
	shopStore.shop.SyncCheckpoint = shopStore.completed[0]

	// same order again: duplicate, total unchanged
	res2, err := o.Run(ctx, sess())
	require.NoError(t, err)
	assert.Zero(t, res2.NewOrders)
	assert.Equal(t, 1, res2.DuplicatesSkipped)
	assert.Equal(t, 6, res2.TotalOrdersSynced)
}

func TestRunShopNotFound(t *testing.T) {
	o := newTestOrchestrator(&fakeShopStore{}, &fakeOrderStore{}, &fakeSource{})
	_, err := o.Run(context.Background(), sess())
	assert.ErrorIs(t, err, shops.ErrShopNotFound)
}
