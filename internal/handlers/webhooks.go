package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"backend/internal/db"
	"backend/internal/secrets"
	"backend/internal/shops"
)

// ShopifyWebhookHandler receives webhook deliveries from Shopify. Only
// app/uninstalled is acted on; every other topic is acknowledged so Shopify
// stops redelivering it.
func ShopifyWebhookHandler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	awsCfg, err := db.NewAWSConfig(ctx)
	if err != nil {
		return errResp(500, "failed to load aws config")
	}

	secret, err := secrets.Resolve(ctx, ssm.NewFromConfig(awsCfg), "SHOPIFY_API_SECRET")
	if err != nil || secret == "" {
		return errResp(500, "webhook secret not configured")
	}

	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		return errResp(500, "failed to init dynamodb")
	}

	return handleWebhook(ctx, req, secret, shops.NewStore(ddb, db.ShopsTableName()))
}

func handleWebhook(ctx context.Context, req events.APIGatewayV2HTTPRequest, secret string, store *shops.Store) (events.APIGatewayV2HTTPResponse, error) {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return errResp(400, "bad body encoding")
		}
		body = decoded
	}

	if !verifyWebhookHMAC(body, secret, webhookHeader(req, "x-shopify-hmac-sha256")) {
		return errResp(401, "invalid webhook signature")
	}

	topic := strings.ToLower(webhookHeader(req, "x-shopify-topic"))
	shop := strings.ToLower(strings.TrimSpace(webhookHeader(req, "x-shopify-shop-domain")))

	switch topic {
	case "app/uninstalled":
		if !isValidShopDomain(shop) {
			return errResp(400, "invalid shop domain header")
		}
		if err := store.Delete(ctx, shop); err != nil {
			return errResp(500, "failed to remove shop")
		}
		return jsonResp(200, map[string]any{"ok": true, "topic": topic, "shop": shop})
	default:
		return jsonResp(200, map[string]any{"ok": true, "topic": topic, "ignored": true})
	}
}

func webhookHeader(req events.APIGatewayV2HTTPRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// verifyWebhookHMAC checks the signature on a webhook delivery. Unlike the
// OAuth callback, webhooks sign the raw request body and send the digest
// base64-encoded in a header.
func verifyWebhookHMAC(body []byte, secret, providedB64 string) bool {
	if providedB64 == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(providedB64))
}
