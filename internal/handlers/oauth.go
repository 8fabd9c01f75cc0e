package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"backend/internal/alerts"
	"backend/internal/db"
	"backend/internal/secrets"
	"backend/internal/security"
	"backend/internal/shopify"
	"backend/internal/shops"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"
)

// ShopifyOAuthHandler routes the app install flow.
func ShopifyOAuthHandler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	switch req.RawPath {
	case "/shopify/connect":
		return shopifyConnect(ctx, req)
	case "/shopify/callback":
		return shopifyCallback(ctx, req)
	default:
		return errResp(404, "not found")
	}
}

func shopifyConnect(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	shop := strings.ToLower(strings.TrimSpace(req.QueryStringParameters["shop"]))
	if !isValidShopDomain(shop) {
		return errResp(400, "invalid shop (expected like your-store.myshopify.com)")
	}

	state, err := randomState(24)
	if err != nil {
		return errResp(500, "failed to generate state")
	}

	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		return errResp(500, "failed to init dynamodb")
	}

	stateTable := db.OAuthStateTableName()
	if strings.TrimSpace(stateTable) == "" {
		return errResp(500, "OAUTH_STATE_TABLE not set")
	}

	exp := time.Now().UTC().Add(10 * time.Minute).Unix()

	_, err = ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(stateTable),
		Item: map[string]types.AttributeValue{
			"State":          &types.AttributeValueMemberS{Value: state},
			"Shop":           &types.AttributeValueMemberS{Value: shop},
			"ExpiresAtEpoch": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", exp)},
		},
	})
	if err != nil {
		return errResp(500, "failed to store oauth state")
	}

	apiKey := os.Getenv("SHOPIFY_API_KEY")
	scopes := strings.TrimSpace(os.Getenv("SHOPIFY_SCOPES"))
	redirectBase := strings.TrimRight(os.Getenv("SHOPIFY_REDIRECT_BASE"), "/")
	if apiKey == "" || scopes == "" || redirectBase == "" {
		return errResp(500, "missing SHOPIFY_* env vars")
	}

	redirectURI := redirectBase + "/shopify/callback"

	authorize := fmt.Sprintf("https://%s/admin/oauth/authorize", shop)
	u, _ := url.Parse(authorize)
	q := u.Query()
	q.Set("client_id", apiKey)
	q.Set("scope", scopes)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	u.RawQuery = q.Encode()

	return events.APIGatewayV2HTTPResponse{
		StatusCode: 302,
		Headers:    map[string]string{"location": u.String()},
	}, nil
}

func shopifyCallback(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	params := req.QueryStringParameters

	shop := strings.ToLower(strings.TrimSpace(params["shop"]))
	code := strings.TrimSpace(params["code"])
	state := strings.TrimSpace(params["state"])
	hmacParam := strings.TrimSpace(params["hmac"])

	if !isValidShopDomain(shop) || code == "" || state == "" || hmacParam == "" {
		return errResp(400, "missing required oauth params")
	}

	awsCfg, err := db.NewAWSConfig(ctx)
	if err != nil {
		return errResp(500, "failed to load aws config")
	}
	ssmClient := ssm.NewFromConfig(awsCfg)

	secret, err := secrets.Resolve(ctx, ssmClient, "SHOPIFY_API_SECRET")
	if err != nil || secret == "" {
		return errResp(500, "SHOPIFY_API_SECRET not available")
	}
	if !verifyShopifyHMAC(params, secret, hmacParam) {
		return errResp(400, "invalid hmac")
	}

	ddb := dynamodb.NewFromConfig(awsCfg)

	// Validate state
	stateTable := db.OAuthStateTableName()
	out, err := ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(stateTable),
		Key: map[string]types.AttributeValue{
			"State": &types.AttributeValueMemberS{Value: state},
		},
	})
	if err != nil || out.Item == nil {
		return errResp(400, "invalid or expired state")
	}
	shopFromState := attrS(out.Item["Shop"])
	if shopFromState == "" || shopFromState != shop {
		return errResp(400, "state mismatch")
	}

	// Exchange code -> access token
	apiKey := os.Getenv("SHOPIFY_API_KEY")
	tokenURL := fmt.Sprintf("https://%s/admin/oauth/access_token", shop)

	body := map[string]string{
		"client_id":     apiKey,
		"client_secret": secret,
		"code":          code,
	}
	b, _ := json.Marshal(body)

	httpReq, _ := http.NewRequestWithContext(ctx, "POST", tokenURL, strings.NewReader(string(b)))
	httpReq.Header.Set("content-type", "application/json")

	httpRes, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return errResp(502, "token exchange failed")
	}
	defer httpRes.Body.Close()

	raw, _ := io.ReadAll(httpRes.Body)
	if httpRes.StatusCode < 200 || httpRes.StatusCode >= 300 {
		return errResp(502, fmt.Sprintf("token exchange failed: %s", string(raw)))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		Scope       string `json:"scope"`
	}
	if err := json.Unmarshal(raw, &tok); err != nil || tok.AccessToken == "" {
		return errResp(502, "invalid token response")
	}

	// Encrypt token before storing
	keyB64, err := secrets.Resolve(ctx, ssmClient, "TOKEN_ENC_KEY_B64")
	if err != nil {
		return errResp(500, "TOKEN_ENC_KEY_B64 not available")
	}
	key, err := security.LoadKeyFromBase64(keyB64)
	if err != nil {
		return errResp(500, "invalid TOKEN_ENC_KEY_B64")
	}
	encTok, err := security.EncryptToken(key, tok.AccessToken)
	if err != nil {
		return errResp(500, "failed to encrypt token")
	}

	store := shops.NewStore(ddb, db.ShopsTableName())

	record := &shops.Shop{
		ShopDomain:     shop,
		AccessTokenEnc: encTok,
		Scope:          tok.Scope,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	// Reinstall keeps history: carry over the checkpoint and settings.
	if existing, err := store.Get(ctx, shop); err == nil {
		record.CreatedAt = existing.CreatedAt
		record.Email = existing.Email
		record.Settings = existing.Settings
		record.AlertsTopicArn = existing.AlertsTopicArn
		record.SyncCheckpoint = existing.SyncCheckpoint
	}

	// The shop's contact email powers merchant alerts.
	if email := fetchShopEmail(ctx, shop, tok.AccessToken); email != "" {
		record.Email = email
	}

	if err := store.Create(ctx, record); err != nil {
		return errResp(500, "failed to store shop")
	}

	if record.Email != "" {
		notifier := &alerts.Notifier{
			SNS:   sns.NewFromConfig(awsCfg),
			Shops: store,
			Log:   zap.NewNop(),
		}
		// confirm-once email subscription; failure does not block install
		_, _ = notifier.EnsureShopEmailAlerts(ctx, shop, record.Email)
	}

	// one-time state cleanup
	_, _ = ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(stateTable),
		Key: map[string]types.AttributeValue{
			"State": &types.AttributeValueMemberS{Value: state},
		},
	})

	fe := strings.TrimRight(os.Getenv("FRONTEND_BASE_URL"), "/")
	if fe == "" {
		fe = "/"
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: 302,
		Headers: map[string]string{
			"location": fe + "/?installed=1&shop=" + url.QueryEscape(shop),
		},
	}, nil
}

type shopInfo struct {
	Shop struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"shop"`
}

func fetchShopEmail(ctx context.Context, shop, token string) string {
	sess := shopify.Session{
		ShopDomain:  shop,
		APIVersion:  shopify.APIVersion(),
		AccessToken: token,
	}
	resp, _, err := shopify.PostGraphQL[shopInfo](ctx, shopify.NewClient(), sess, "{ shop { email name } }", nil)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(resp.Data.Shop.Email)
}

func attrS(av types.AttributeValue) string {
	if v, ok := av.(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
