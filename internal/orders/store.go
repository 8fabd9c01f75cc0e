// Package orders persists imported try-on orders with at-most-once insert
// semantics keyed by the external order id.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ImportedOrder mirrors the DynamoDB item. PK is ORDER#<external id>; the
// shop GSI keys support newest-first listing per shop.
type ImportedOrder struct {
	PK     string `dynamodbav:"PK" json:"-"`
	GSI1PK string `dynamodbav:"GSI1PK" json:"-"`
	GSI1SK string `dynamodbav:"GSI1SK" json:"-"`

	OrderID       string     `dynamodbav:"OrderId" json:"order_id"`
	ShopDomain    string     `dynamodbav:"ShopDomain" json:"shop_domain"`
	OrderNumber   string     `dynamodbav:"OrderNumber" json:"order_number"`
	TotalPrice    float64    `dynamodbav:"TotalPrice" json:"total_price"`
	Currency      string     `dynamodbav:"Currency" json:"currency"`
	CustomerEmail string     `dynamodbav:"CustomerEmail,omitempty" json:"customer_email,omitempty"`
	LineItems     []LineItem `dynamodbav:"LineItems" json:"line_items"`
	HasSBBItems   bool       `dynamodbav:"HasSbbItems" json:"has_sbb_items"`
	SBBSessionIDs []string   `dynamodbav:"SbbSessionIds" json:"sbb_session_ids"`
	CreatedAt     string     `dynamodbav:"CreatedAt" json:"created_at"`
	SyncedAt      string     `dynamodbav:"SyncedAt" json:"synced_at"`
}

type LineItem struct {
	LineItemID string  `dynamodbav:"LineItemId" json:"line_item_id"`
	Title      string  `dynamodbav:"Title" json:"title"`
	Quantity   int     `dynamodbav:"Quantity" json:"quantity"`
	UnitPrice  float64 `dynamodbav:"UnitPrice" json:"unit_price"`
	ProductID  string  `dynamodbav:"ProductId,omitempty" json:"product_id,omitempty"`
	VariantID  string  `dynamodbav:"VariantId,omitempty" json:"variant_id,omitempty"`
}

func OrderPK(orderID string) string {
	return fmt.Sprintf("ORDER#%s", orderID)
}

func ShopPK(shopDomain string) string {
	return fmt.Sprintf("SHOP#%s", shopDomain)
}

type Store struct {
	DB    DynamoAPI
	Table string
}

func NewStore(db DynamoAPI, table string) *Store {
	return &Store{DB: db, Table: table}
}

// Exists reports whether an order with this external id was already
// imported. Optional pre-check only; Create is the authority.
func (s *Store) Exists(ctx context.Context, orderID string) (bool, error) {
	out, err := s.DB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.Table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: OrderPK(orderID)},
		},
		ProjectionExpression: aws.String("PK"),
	})
	if err != nil {
		return false, fmt.Errorf("orders GetItem: %w", err)
	}
	return out.Item != nil, nil
}

// Create inserts the order unless one with the same external id exists.
// The second return is true when the order was already present; that is a
// normal outcome, not an error. The conditional write is what makes
// re-running a sync safe.
func (s *Store) Create(ctx context.Context, o *ImportedOrder) (alreadyExists bool, err error) {
	if strings.TrimSpace(o.OrderID) == "" {
		return false, errors.New("missing order id")
	}

	o.PK = OrderPK(o.OrderID)
	o.GSI1PK = ShopPK(o.ShopDomain)
	o.GSI1SK = o.CreatedAt
	if o.SyncedAt == "" {
		o.SyncedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if o.SBBSessionIDs == nil {
		o.SBBSessionIDs = []string{}
	}

	av, err := attributevalue.MarshalMap(o)
	if err != nil {
		return false, fmt.Errorf("orders marshal: %w", err)
	}

	_, err = s.DB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.Table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return true, nil
		}
		return false, fmt.Errorf("orders PutItem: %w", err)
	}
	return false, nil
}

// FindByShop returns up to limit imported orders for a shop, newest first.
func (s *Store) FindByShop(ctx context.Context, shopDomain string, limit int) ([]ImportedOrder, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	out, err := s.DB.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.Table),
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: ShopPK(shopDomain)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("orders Query: %w", err)
	}

	var items []ImportedOrder
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, fmt.Errorf("orders unmarshal: %w", err)
	}
	return items, nil
}

// Totals aggregates attributed order count and revenue for a shop. Analytics
// only: any query failure yields zeros rather than an error, by contract.
func (s *Store) Totals(ctx context.Context, shopDomain string) (count int, revenue float64) {
	items, err := s.FindByShop(ctx, shopDomain, 100)
	if err != nil {
		return 0, 0
	}
	for _, it := range items {
		count++
		revenue += it.TotalPrice
	}
	return count, revenue
}
