package handlers

import (
	"context"
	"errors"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"backend/internal/shops"
)

// HandleMaintenance serves POST /maintenance/clear-sync-flag. A worker that
// died mid-run leaves IsSyncing set and every later sync gets refused; this
// releases the flag so the next run can start. Operator-only surface.
func (a *API) HandleMaintenance(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if req.RequestContext.HTTP.Method != "POST" {
		return errResp(405, "method not allowed")
	}
	shop, err := requestShop(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	record, err := a.Shops.Get(ctx, shop)
	if err != nil {
		if errors.Is(err, shops.ErrShopNotFound) {
			return errResp(404, "shop is not installed")
		}
		return errResp(500, "failed to load shop")
	}
	if !record.IsSyncing {
		return jsonResp(200, map[string]any{"cleared": false, "reason": "no sync in progress"})
	}

	if err := a.Shops.ClearSyncFlag(ctx, shop); err != nil {
		a.Log.Error("clear sync flag", zap.String("shop", shop), zap.Error(err))
		return errResp(500, "failed to clear sync flag")
	}

	a.Log.Warn("sync flag force-cleared", zap.String("shop", shop))
	return jsonResp(200, map[string]any{"cleared": true})
}
