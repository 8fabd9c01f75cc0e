package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"backend/internal/orders"
	"backend/internal/security"
	"backend/internal/shopify"
	"backend/internal/shops"
	syncpkg "backend/internal/sync"
)

type fakeSyncer struct {
	res      *syncpkg.Result
	err      error
	lastSess shopify.Session
}

func (f *fakeSyncer) Run(_ context.Context, sess shopify.Session) (*syncpkg.Result, error) {
	f.lastSess = sess
	return f.res, f.err
}

// fakeTable serves GetItem/Query for the shop and order stores.
type fakeTable struct {
	items map[string]map[string]ddbtypes.AttributeValue
}

func (f *fakeTable) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	pk := params.Key["PK"].(*ddbtypes.AttributeValueMemberS).Value
	item, ok := f.items[pk]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeTable) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items[params.Item["PK"].(*ddbtypes.AttributeValueMemberS).Value] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) UpdateItem(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	pk := params.Key["PK"].(*ddbtypes.AttributeValueMemberS).Value
	item, ok := f.items[pk]
	if !ok {
		return nil, &ddbtypes.ConditionalCheckFailedException{}
	}
	if v, ok := params.ExpressionAttributeValues[":s"]; ok {
		item["Settings"] = v
	}
	if v, ok := params.ExpressionAttributeValues[":f"]; ok {
		item["IsSyncing"] = v
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeTable) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, params.Key["PK"].(*ddbtypes.AttributeValueMemberS).Value)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeTable) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	gsi1pk := params.ExpressionAttributeValues[":pk"].(*ddbtypes.AttributeValueMemberS).Value
	var out []map[string]ddbtypes.AttributeValue
	for _, item := range f.items {
		if v, ok := item["GSI1PK"].(*ddbtypes.AttributeValueMemberS); ok && v.Value == gsi1pk {
			out = append(out, item)
		}
	}
	return &dynamodb.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func seedShopItem(t *testing.T, tbl *fakeTable, shop shops.Shop) {
	t.Helper()
	shop.PK = shops.ShopPK(shop.ShopDomain)
	item, err := attributevalue.MarshalMap(shop)
	require.NoError(t, err)
	tbl.items[shop.PK] = item
}

func seedOrderItem(t *testing.T, tbl *fakeTable, o orders.ImportedOrder) {
	t.Helper()
	o.PK = orders.OrderPK(o.OrderID)
	o.GSI1PK = orders.ShopPK(o.ShopDomain)
	o.GSI1SK = o.CreatedAt
	item, err := attributevalue.MarshalMap(o)
	require.NoError(t, err)
	tbl.items[o.PK] = item
}

func testAPI(shopTable, orderTable *fakeTable, syncer Syncer) *API {
	return &API{
		Shops:    shops.NewStore(shopTable, "shops"),
		Orders:   orders.NewStore(orderTable, "orders"),
		Sync:     syncer,
		TokenKey: testKey(),
		Log:      zap.NewNop(),
	}
}

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func encToken(t *testing.T, token string) string {
	t.Helper()
	enc, err := security.EncryptToken(testKey(), token)
	require.NoError(t, err)
	return enc
}

func TestHandleSyncSuccess(t *testing.T) {
	shopTable := &fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}}
	seedShopItem(t, shopTable, shops.Shop{
		ShopDomain:     "demo.myshopify.com",
		AccessTokenEnc: encToken(t, "shpat_secret"),
	})
	syncer := &fakeSyncer{res: &syncpkg.Result{NewOrders: 2, DuplicatesSkipped: 1, TotalOrdersSynced: 8, Revenue: 120.5}}
	api := testAPI(shopTable, &fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}}, syncer)

	req := authedRequest("https://demo.myshopify.com")
	req.RequestContext.HTTP.Method = "POST"

	resp, err := api.HandleSync(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "shpat_secret", syncer.lastSess.AccessToken)
	assert.Equal(t, "demo.myshopify.com", syncer.lastSess.ShopDomain)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	assert.EqualValues(t, 2, body["new_orders"])
	assert.EqualValues(t, 8, body["total_orders_synced"])
}

func TestHandleSyncConflictWhileRunning(t *testing.T) {
	shopTable := &fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}}
	seedShopItem(t, shopTable, shops.Shop{
		ShopDomain:     "demo.myshopify.com",
		AccessTokenEnc: encToken(t, "tok"),
	})
	syncer := &fakeSyncer{res: &syncpkg.Result{AlreadySyncing: true}}
	api := testAPI(shopTable, &fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}}, syncer)

	req := authedRequest("https://demo.myshopify.com")
	req.RequestContext.HTTP.Method = "POST"

	resp, err := api.HandleSync(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 409, resp.StatusCode)
}

func TestHandleSyncUnknownShop(t *testing.T) {
	api := testAPI(
		&fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}},
		&fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}},
		&fakeSyncer{},
	)
	req := authedRequest("https://demo.myshopify.com")
	req.RequestContext.HTTP.Method = "POST"

	resp, err := api.HandleSync(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestHandleSyncFailureIsBadGateway(t *testing.T) {
	shopTable := &fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}}
	seedShopItem(t, shopTable, shops.Shop{
		ShopDomain:     "demo.myshopify.com",
		AccessTokenEnc: encToken(t, "tok"),
	})
	syncer := &fakeSyncer{err: errors.New("shopify unreachable")}
	api := testAPI(shopTable, &fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}}, syncer)

	req := authedRequest("https://demo.myshopify.com")
	req.RequestContext.HTTP.Method = "POST"

	resp, err := api.HandleSync(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 502, resp.StatusCode)
}

func TestHandleSyncRequiresAuth(t *testing.T) {
	api := testAPI(
		&fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}},
		&fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}},
		&fakeSyncer{},
	)
	req := events.APIGatewayV2HTTPRequest{}
	req.RequestContext.HTTP.Method = "POST"

	resp, err := api.HandleSync(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestHandleOrdersListsWithTotals(t *testing.T) {
	orderTable := &fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}}
	seedOrderItem(t, orderTable, orders.ImportedOrder{
		OrderID: "1", ShopDomain: "demo.myshopify.com", TotalPrice: 49.99, CreatedAt: "2026-08-01T10:00:00Z",
	})
	seedOrderItem(t, orderTable, orders.ImportedOrder{
		OrderID: "2", ShopDomain: "other.myshopify.com", TotalPrice: 10, CreatedAt: "2026-08-02T10:00:00Z",
	})
	api := testAPI(&fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}}, orderTable, &fakeSyncer{})

	req := authedRequest("https://demo.myshopify.com")
	req.RequestContext.HTTP.Method = "GET"

	resp, err := api.HandleOrders(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var body struct {
		Orders       []orders.ImportedOrder `json:"orders"`
		TotalCount   int                    `json:"total_count"`
		TotalRevenue float64                `json:"total_revenue"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	require.Len(t, body.Orders, 1)
	assert.Equal(t, "1", body.Orders[0].OrderID)
	assert.Equal(t, 1, body.TotalCount)
	assert.InDelta(t, 49.99, body.TotalRevenue, 0.001)
}

func TestHandleSettingsRoundTrip(t *testing.T) {
	shopTable := &fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}}
	seedShopItem(t, shopTable, shops.Shop{ShopDomain: "demo.myshopify.com", AccessTokenEnc: encToken(t, "tok")})
	api := testAPI(shopTable, &fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}}, &fakeSyncer{})

	put := authedRequest("https://demo.myshopify.com")
	put.RequestContext.HTTP.Method = "PUT"
	put.Body = `{"widget_placement":"product_page","button_label":"Try it on","email_reports":false}`

	resp, err := api.HandleSettings(context.Background(), put)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	get := authedRequest("https://demo.myshopify.com")
	get.RequestContext.HTTP.Method = "GET"

	resp, err = api.HandleSettings(context.Background(), get)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var got shops.Settings
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &got))
	assert.Equal(t, "product_page", got.WidgetPlacement)
	assert.Equal(t, "Try it on", got.ButtonLabel)
}

func TestHandleMaintenanceClearsStuckFlag(t *testing.T) {
	shopTable := &fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}}
	stuck := shops.Shop{ShopDomain: "demo.myshopify.com", AccessTokenEnc: encToken(t, "tok")}
	stuck.IsSyncing = true
	seedShopItem(t, shopTable, stuck)
	api := testAPI(shopTable, &fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}}, &fakeSyncer{})

	req := authedRequest("https://demo.myshopify.com")
	req.RequestContext.HTTP.Method = "POST"

	resp, err := api.HandleMaintenance(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, resp.Body, `"cleared":true`)

	flag := shopTable.items[shops.ShopPK("demo.myshopify.com")]["IsSyncing"].(*ddbtypes.AttributeValueMemberBOOL)
	assert.False(t, flag.Value)
}

func TestHandleMaintenanceNoopWhenIdle(t *testing.T) {
	shopTable := &fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}}
	seedShopItem(t, shopTable, shops.Shop{ShopDomain: "demo.myshopify.com", AccessTokenEnc: encToken(t, "tok")})
	api := testAPI(shopTable, &fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}}, &fakeSyncer{})

	req := authedRequest("https://demo.myshopify.com")
	req.RequestContext.HTTP.Method = "POST"

	resp, err := api.HandleMaintenance(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, resp.Body, `"cleared":false`)
}

func TestHandleSettingsUnknownShop(t *testing.T) {
	api := testAPI(
		&fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}},
		&fakeTable{items: map[string]map[string]ddbtypes.AttributeValue{}},
		&fakeSyncer{},
	)
	req := authedRequest("https://demo.myshopify.com")
	req.RequestContext.HTTP.Method = "PUT"
	req.Body = `{"button_label":"x"}`

	resp, err := api.HandleSettings(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}
