package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"
)

// HandleOrders serves GET /orders: the shop's imported try-on orders, newest
// first, with running totals for the dashboard header.
func (a *API) HandleOrders(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if req.RequestContext.HTTP.Method != "GET" {
		return errResp(405, "method not allowed")
	}
	shop, err := requestShop(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	limit := 20
	if s := strings.TrimSpace(req.QueryStringParameters["limit"]); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	items, err := a.Orders.FindByShop(ctx, shop, limit)
	if err != nil {
		a.Log.Error("list orders", zap.String("shop", shop), zap.Error(err))
		return errResp(500, "failed to list orders")
	}

	count, revenue := a.Orders.Totals(ctx, shop)

	return jsonResp(200, map[string]any{
		"orders":        items,
		"total_count":   count,
		"total_revenue": revenue,
	})
}
