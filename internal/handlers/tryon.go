package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"backend/internal/tryon"
	"backend/internal/usage"
)

type generateRequest struct {
	PersonImage  string `json:"person_image"`
	GarmentImage string `json:"garment_image"`
}

// HandleTryOn serves the widget-facing generation endpoints.
func (a *API) HandleTryOn(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	shop, err := requestShop(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	switch {
	case req.RawPath == "/tryon/generate" && req.RequestContext.HTTP.Method == "POST":
		return a.generate(ctx, shop, req.Body)
	case req.RawPath == "/tryon/usage" && req.RequestContext.HTTP.Method == "GET":
		return jsonResp(200, a.Usage.Get(ctx, shop))
	default:
		return errResp(404, "not found")
	}
}

func (a *API) generate(ctx context.Context, shop, body string) (events.APIGatewayV2HTTPResponse, error) {
	var in generateRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return errResp(400, "invalid json body")
	}
	if in.PersonImage == "" || in.GarmentImage == "" {
		return errResp(400, "person_image and garment_image are required")
	}

	res, err := a.TryOn.Generate(ctx, shop, tryon.GenerateInput{
		PersonImageB64:  in.PersonImage,
		GarmentImageB64: in.GarmentImage,
	})
	if err != nil {
		switch {
		case errors.Is(err, usage.ErrQuotaExceeded):
			if a.Notifier != nil {
				snap := a.Usage.Get(ctx, shop)
				a.Notifier.PublishQuotaWarning(ctx, shop, snap.Used, snap.Limit)
			}
			return errResp(429, "monthly try-on quota exceeded")
		case errors.Is(err, tryon.ErrModelUnavailable):
			return errResp(503, "try-on model temporarily unavailable")
		default:
			a.Log.Error("generate try-on", zap.String("shop", shop), zap.Error(err))
			return errResp(502, "generation failed")
		}
	}
	return jsonResp(200, res)
}
