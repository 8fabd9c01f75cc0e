package sync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"backend/internal/orders"
	"backend/internal/shopify"
	"backend/internal/shops"
)

type OrderSource interface {
	FetchOrders(ctx context.Context, sess shopify.Session, createdAtMin time.Time) ([]shopify.Order, error)
}

type OrderStore interface {
	Create(ctx context.Context, o *orders.ImportedOrder) (alreadyExists bool, err error)
}

type ShopStore interface {
	Get(ctx context.Context, shopDomain string) (*shops.Shop, error)
	BeginSync(ctx context.Context, shopDomain string) (started bool, err error)
	CompleteSync(ctx context.Context, shopDomain string, cp shops.SyncCheckpoint) error
	ClearSyncFlag(ctx context.Context, shopDomain string) error
}

// Result summarizes one sync run. AlreadySyncing and a zero NewOrders count
// are success outcomes, not errors.
type Result struct {
	AlreadySyncing    bool      `json:"already_syncing,omitempty"`
	NewOrders         int       `json:"new_orders"`
	DuplicatesSkipped int       `json:"duplicates_skipped"`
	TotalOrdersSynced int       `json:"total_orders_synced"`
	Revenue           float64   `json:"revenue"`
	LastSyncTime      time.Time `json:"last_sync_time"`
}

// Orchestrator runs the per-shop sync state machine: IDLE -> SYNCING -> IDLE
// on every exit path.
type Orchestrator struct {
	Shops  ShopStore
	Orders OrderStore
	Source OrderSource
	Log    *zap.Logger

	now func() time.Time
}

func NewOrchestrator(shopStore ShopStore, orderStore OrderStore, source OrderSource, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		Shops:  shopStore,
		Orders: orderStore,
		Source: source,
		Log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one sync for the shop identified by sess. On any failure
// after the flag is taken, the flag is released before the error surfaces.
func (o *Orchestrator) Run(ctx context.Context, sess shopify.Session) (*Result, error) {
	// Resolve the shop first so a missing shop surfaces as not-found rather
	// than a refused flag.
	if _, err := o.Shops.Get(ctx, sess.ShopDomain); err != nil {
		return nil, err
	}

	started, err := o.Shops.BeginSync(ctx, sess.ShopDomain)
	if err != nil {
		return nil, err
	}
	if !started {
		o.Log.Info("sync already in progress", zap.String("shop", sess.ShopDomain))
		return &Result{AlreadySyncing: true}, nil
	}

	res, err := o.runLocked(ctx, sess)
	if err != nil {
		if clearErr := o.Shops.ClearSyncFlag(ctx, sess.ShopDomain); clearErr != nil {
			o.Log.Error("failed to clear sync flag after error",
				zap.String("shop", sess.ShopDomain), zap.Error(clearErr))
		}
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) runLocked(ctx context.Context, sess shopify.Session) (*Result, error) {
	// Re-read under the flag: a run completing between the first read and
	// BeginSync would otherwise leave this one on a stale totals base and
	// fetch floor.
	shop, err := o.Shops.Get(ctx, sess.ShopDomain)
	if err != nil {
		return nil, err
	}

	floor, err := o.fetchFloor(shop)
	if err != nil {
		return nil, err
	}

	fetched, err := o.Source.FetchOrders(ctx, sess, floor)
	if err != nil {
		return nil, fmt.Errorf("fetch orders: %w", err)
	}

	tryOn := FilterTryOn(fetched)
	now := o.now()

	if len(tryOn) == 0 {
		// Success with zero orders: only the sync time moves; everything
		// else in the checkpoint is preserved.
		cp := shop.SyncCheckpoint
		cp.LastSyncTime = now.Format(time.RFC3339)
		if err := o.Shops.CompleteSync(ctx, sess.ShopDomain, cp); err != nil {
			return nil, err
		}
		o.Log.Info("sync found no new orders", zap.String("shop", sess.ShopDomain))
		return &Result{
			TotalOrdersSynced: shop.TotalOrdersSynced,
			LastSyncTime:      now,
		}, nil
	}

	// Newest first, so the checkpoint high-water mark is the max createdAt
	// regardless of the order pagination returned them in.
	sort.Slice(tryOn, func(i, j int) bool {
		return tryOn[i].CreatedAt.After(tryOn[j].CreatedAt)
	})

	newCount := 0
	dupCount := 0
	revenue := 0.0

	for _, ord := range tryOn {
		imported := buildImportedOrder(ord, sess.ShopDomain, now)

		alreadyExists, err := o.Orders.Create(ctx, imported)
		if err != nil {
			// One bad order never aborts the batch.
			o.Log.Error("failed to store order, skipping",
				zap.String("shop", sess.ShopDomain),
				zap.String("order_id", ord.ID),
				zap.Error(err))
			continue
		}
		if alreadyExists {
			dupCount++
			continue
		}
		newCount++
		revenue += ord.TotalPrice
	}

	newest := tryOn[0]
	cp := shops.SyncCheckpoint{
		LastSyncTime:             now.Format(time.RFC3339),
		LastSyncedOrderID:        newest.ID,
		LastSyncedOrderNumber:    newest.Number,
		LastSyncedOrderCreatedAt: newest.CreatedAt.Format(time.RFC3339),
		TotalOrdersSynced:        shop.TotalOrdersSynced + newCount,
		LastSyncCount:            newCount,
	}
	if err := o.Shops.CompleteSync(ctx, sess.ShopDomain, cp); err != nil {
		return nil, err
	}

	o.Log.Info("sync complete",
		zap.String("shop", sess.ShopDomain),
		zap.Int("new_orders", newCount),
		zap.Int("duplicates", dupCount),
		zap.Float64("revenue", revenue))

	return &Result{
		NewOrders:         newCount,
		DuplicatesSkipped: dupCount,
		TotalOrdersSynced: cp.TotalOrdersSynced,
		Revenue:           revenue,
		LastSyncTime:      now,
	}, nil
}

// fetchFloor picks the inclusive lower bound for the fetch window: the last
// synced order's creation time, or the shop's own creation time on the
// first sync.
func (o *Orchestrator) fetchFloor(shop *shops.Shop) (time.Time, error) {
	raw := shop.LastSyncedOrderCreatedAt
	if raw == "" {
		raw = shop.CreatedAt
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad checkpoint timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}

func buildImportedOrder(ord shopify.Order, shopDomain string, now time.Time) *orders.ImportedOrder {
	items := make([]orders.LineItem, 0, len(ord.LineItems))
	for _, li := range ord.LineItems {
		items = append(items, orders.LineItem{
			LineItemID: li.ID,
			Title:      li.Title,
			Quantity:   li.Quantity,
			UnitPrice:  li.UnitPrice,
			ProductID:  li.ProductID,
			VariantID:  li.VariantID,
		})
	}

	return &orders.ImportedOrder{
		OrderID:       ord.ID,
		ShopDomain:    shopDomain,
		OrderNumber:   ord.Number,
		TotalPrice:    ord.TotalPrice,
		Currency:      ord.Currency,
		CustomerEmail: ord.Email,
		LineItems:     items,
		HasSBBItems:   true,
		SBBSessionIDs: SessionIDs(ord),
		CreatedAt:     ord.CreatedAt.Format(time.RFC3339),
		SyncedAt:      now.Format(time.RFC3339),
	}
}
