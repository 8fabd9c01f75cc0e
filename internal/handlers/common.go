// Package handlers holds the Lambda HTTP surface behind the API Gateway
// JWT authorizer. Merchant requests carry a Shopify session token; the shop
// domain comes from its dest claim.
package handlers

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

func jsonResp(status int, v any) (events.APIGatewayV2HTTPResponse, error) {
	b, _ := json.Marshal(v)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers: map[string]string{
			"content-type":                "application/json",
			"access-control-allow-origin": "*",
		},
		Body: string(b),
	}, nil
}

func errResp(status int, msg string) (events.APIGatewayV2HTTPResponse, error) {
	return jsonResp(status, map[string]any{
		"error": msg,
	})
}

// requestShop extracts the shop domain from the session token's dest claim,
// e.g. "https://demo.myshopify.com".
func requestShop(req events.APIGatewayV2HTTPRequest) (string, error) {
	auth := req.RequestContext.Authorizer
	if auth == nil || auth.JWT == nil || auth.JWT.Claims == nil {
		return "", errors.New("missing authorizer claims")
	}
	dest := strings.TrimSpace(auth.JWT.Claims["dest"])
	if dest == "" {
		return "", errors.New("missing dest claim")
	}
	shop := strings.ToLower(strings.TrimPrefix(dest, "https://"))
	shop = strings.TrimSuffix(shop, "/")
	if !isValidShopDomain(shop) {
		return "", fmt.Errorf("invalid shop domain in dest claim")
	}
	return shop, nil
}

var shopDomainRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)

func isValidShopDomain(shop string) bool {
	return shopDomainRe.MatchString(shop)
}

func randomState(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// verifyShopifyHMAC checks the signature on OAuth callback params. Shopify
// signs the sorted key=value pairs, excluding hmac itself, with the app
// secret.
func verifyShopifyHMAC(params map[string]string, secret, providedHex string) bool {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	msg := strings.Join(pairs, "&")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	want := mac.Sum(nil)

	got, err := hex.DecodeString(providedHex)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}
