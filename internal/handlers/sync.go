package handlers

import (
	"context"
	"errors"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"backend/internal/shops"
)

// HandleSync serves POST /orders/sync. A concurrent run is reported as 409;
// the caller retries after the in-flight sync releases the flag.
func (a *API) HandleSync(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if req.RequestContext.HTTP.Method != "POST" {
		return errResp(405, "method not allowed")
	}
	shop, err := requestShop(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	sess, err := a.Session(ctx, shop)
	if err != nil {
		if errors.Is(err, shops.ErrShopNotFound) {
			return errResp(404, "shop is not installed")
		}
		a.Log.Error("build session", zap.String("shop", shop), zap.Error(err))
		return errResp(500, "failed to prepare sync")
	}

	res, err := a.Sync.Run(ctx, sess)
	if err != nil {
		a.Log.Error("sync run", zap.String("shop", shop), zap.Error(err))
		return errResp(502, "sync failed; no partial checkpoint was written")
	}
	if res.AlreadySyncing {
		return errResp(409, "a sync is already running for this shop")
	}

	if a.Notifier != nil && res.NewOrders > 0 {
		a.Notifier.PublishSyncSummary(ctx, shop, res.NewOrders, res.DuplicatesSkipped, res.Revenue)
	}

	return jsonResp(200, res)
}
