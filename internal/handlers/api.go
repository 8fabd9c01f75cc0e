package handlers

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"backend/internal/alerts"
	"backend/internal/analytics"
	"backend/internal/config"
	"backend/internal/db"
	"backend/internal/orders"
	"backend/internal/secrets"
	"backend/internal/security"
	"backend/internal/shopify"
	"backend/internal/shops"
	syncpkg "backend/internal/sync"
	"backend/internal/tryon"
	"backend/internal/usage"
)

// Syncer runs one order sync for an authenticated shop session.
type Syncer interface {
	Run(ctx context.Context, sess shopify.Session) (*syncpkg.Result, error)
}

// API carries the wired dependencies for the merchant-facing handlers. Tests
// construct it directly with fakes.
type API struct {
	Shops     *shops.Store
	Orders    *orders.Store
	Usage     *usage.Tracker
	TryOn     *tryon.Service
	Notifier  *alerts.Notifier
	Analytics *analytics.Runner
	Sync      Syncer

	TokenKey []byte
	Log      *zap.Logger
}

// NewAPI wires the production dependency graph from the environment.
func NewAPI(ctx context.Context, log *zap.Logger) (*API, error) {
	awsCfg, err := db.NewAWSConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	ddb := dynamodb.NewFromConfig(awsCfg)
	ssmClient := ssm.NewFromConfig(awsCfg)

	keyB64, err := secrets.Resolve(ctx, ssmClient, "TOKEN_ENC_KEY_B64")
	if err != nil {
		return nil, fmt.Errorf("resolve token key: %w", err)
	}
	key, err := security.LoadKeyFromBase64(keyB64)
	if err != nil {
		return nil, fmt.Errorf("load token key: %w", err)
	}

	cfg := config.LoadSync()
	shopStore := shops.NewStore(ddb, db.ShopsTableName())
	orderStore := orders.NewStore(ddb, db.OrdersTableName())
	tracker := usage.NewTracker(ddb, db.UsageTableName(), cfg.MonthlyQuota)
	fetcher := shopify.NewOrderFetcher(shopify.NewClient(), cfg, log)

	tryonSvc := tryon.NewService(
		bedrockruntime.NewFromConfig(awsCfg),
		s3.NewFromConfig(awsCfg),
		tracker,
		log,
	)
	tryonSvc.Cache = ddb

	return &API{
		Shops:  shopStore,
		Orders: orderStore,
		Usage:  tracker,
		TryOn:  tryonSvc,
		Notifier: &alerts.Notifier{
			SNS:   sns.NewFromConfig(awsCfg),
			Shops: shopStore,
			Log:   log,
		},
		Analytics: analytics.NewRunner(athena.NewFromConfig(awsCfg), analytics.OptionsFromEnv(), log),
		Sync:      syncpkg.NewOrchestrator(shopStore, orderStore, fetcher, log),
		TokenKey:  key,
		Log:       log,
	}, nil
}

// Session decrypts the stored access token and yields an authenticated Admin
// API session for the shop.
func (a *API) Session(ctx context.Context, shopDomain string) (shopify.Session, error) {
	shop, err := a.Shops.Get(ctx, shopDomain)
	if err != nil {
		return shopify.Session{}, err
	}
	token, err := security.DecryptToken(a.TokenKey, shop.AccessTokenEnc)
	if err != nil {
		return shopify.Session{}, fmt.Errorf("decrypt access token: %w", err)
	}
	return shopify.Session{
		ShopDomain:  shopDomain,
		APIVersion:  shopify.APIVersion(),
		AccessToken: token,
	}, nil
}
