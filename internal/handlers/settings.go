package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"backend/internal/shops"
)

// HandleSettings serves GET and PUT /settings for the widget configuration.
func (a *API) HandleSettings(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	shop, err := requestShop(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	switch req.RequestContext.HTTP.Method {
	case "GET":
		record, err := a.Shops.Get(ctx, shop)
		if err != nil {
			if errors.Is(err, shops.ErrShopNotFound) {
				return errResp(404, "shop is not installed")
			}
			return errResp(500, "failed to load settings")
		}
		return jsonResp(200, record.Settings)

	case "PUT":
		var settings shops.Settings
		if err := json.Unmarshal([]byte(req.Body), &settings); err != nil {
			return errResp(400, "invalid json body")
		}
		if err := a.Shops.UpdateSettings(ctx, shop, settings); err != nil {
			if errors.Is(err, shops.ErrShopNotFound) {
				return errResp(404, "shop is not installed")
			}
			a.Log.Error("update settings", zap.String("shop", shop), zap.Error(err))
			return errResp(500, "failed to save settings")
		}

		// turning on email reports subscribes the merchant's address
		if settings.EmailReports && a.Notifier != nil {
			if record, err := a.Shops.Get(ctx, shop); err == nil && record.Email != "" {
				_, _ = a.Notifier.EnsureShopEmailAlerts(ctx, shop, record.Email)
			}
		}
		return jsonResp(200, settings)

	default:
		return errResp(405, "method not allowed")
	}
}

// HandleAnalytics serves GET /analytics/attribution.
func (a *API) HandleAnalytics(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if req.RequestContext.HTTP.Method != "GET" {
		return errResp(405, "method not allowed")
	}
	shop, err := requestShop(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	days := 30
	if s := req.QueryStringParameters["days"]; s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 90 {
			days = n
		}
	}

	rows := a.Analytics.AttributionByDay(ctx, shop, days)
	return jsonResp(200, map[string]any{"days": days, "rows": rows})
}
