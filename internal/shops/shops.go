// Package shops owns the per-shop record: access credentials, settings, and
// the embedded sync checkpoint with its concurrency guard.
package shops

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
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// SyncCheckpoint is the sync progress sub-record embedded in the shop item.
// It is always read whole and rewritten whole; the first sync is recognized
// by an empty LastSyncedOrderCreatedAt.
type SyncCheckpoint struct {
	IsSyncing                bool   `dynamodbav:"IsSyncing" json:"is_syncing"`
	LastSyncTime             string `dynamodbav:"LastSyncTime,omitempty" json:"last_sync_time,omitempty"`
	LastSyncedOrderID        string `dynamodbav:"LastSyncedOrderId,omitempty" json:"last_synced_order_id,omitempty"`
	LastSyncedOrderNumber    string `dynamodbav:"LastSyncedOrderNumber,omitempty" json:"last_synced_order_number,omitempty"`
	LastSyncedOrderCreatedAt string `dynamodbav:"LastSyncedOrderCreatedAt,omitempty" json:"last_synced_order_created_at,omitempty"`
	TotalOrdersSynced        int    `dynamodbav:"TotalOrdersSynced" json:"total_orders_synced"`
	LastSyncCount            int    `dynamodbav:"LastSyncCount" json:"last_sync_count"`
}

// Settings is the merchant-editable widget configuration.
type Settings struct {
	WidgetPlacement string `dynamodbav:"WidgetPlacement,omitempty" json:"widget_placement,omitempty"`
	ButtonLabel     string `dynamodbav:"ButtonLabel,omitempty" json:"button_label,omitempty"`
	EmailReports    bool   `dynamodbav:"EmailReports" json:"email_reports"`
}

type Shop struct {
	PK string `dynamodbav:"PK" json:"-"`

	ShopDomain     string   `dynamodbav:"ShopDomain" json:"shop_domain"`
	Email          string   `dynamodbav:"Email,omitempty" json:"email,omitempty"`
	AccessTokenEnc string   `dynamodbav:"AccessTokenEnc" json:"-"`
	Scope          string   `dynamodbav:"Scope,omitempty" json:"scope,omitempty"`
	CreatedAt      string   `dynamodbav:"CreatedAt" json:"created_at"`
	AlertsTopicArn string   `dynamodbav:"AlertsTopicArn,omitempty" json:"-"`
	Settings       Settings `dynamodbav:"Settings" json:"settings"`

	SyncCheckpoint
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

var ErrShopNotFound = errors.New("shop not found")

func (s *Store) Get(ctx context.Context, shopDomain string) (*Shop, error) {
	out, err := s.DB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.Table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: ShopPK(shopDomain)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("shops GetItem: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: %s", ErrShopNotFound, shopDomain)
	}

	var shop Shop
	if err := attributevalue.UnmarshalMap(out.Item, &shop); err != nil {
		return nil, fmt.Errorf("shops unmarshal: %w", err)
	}
	return &shop, nil
}

// Create writes the shop record at install time with an empty checkpoint.
// Re-installs overwrite the credentials but keep PK identity.
func (s *Store) Create(ctx context.Context, shop *Shop) error {
	if strings.TrimSpace(shop.ShopDomain) == "" {
		return errors.New("missing shop domain")
	}
	shop.PK = ShopPK(shop.ShopDomain)
	if shop.CreatedAt == "" {
		shop.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	av, err := attributevalue.MarshalMap(shop)
	if err != nil {
		return fmt.Errorf("shops marshal: %w", err)
	}
	if _, err := s.DB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.Table),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("shops PutItem: %w", err)
	}
	return nil
}

// BeginSync atomically flips IsSyncing false->true. Returns false without
// mutating anything when another run already holds the flag. The conditional
// update closes the read-then-act race a plain flag check would have.
func (s *Store) BeginSync(ctx context.Context, shopDomain string) (started bool, err error) {
	_, err = s.DB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.Table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: ShopPK(shopDomain)},
		},
		UpdateExpression:    aws.String("SET IsSyncing = :t"),
		ConditionExpression: aws.String("attribute_exists(PK) AND (attribute_not_exists(IsSyncing) OR IsSyncing = :f)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberBOOL{Value: true},
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return false, nil
		}
		return false, fmt.Errorf("shops BeginSync: %w", err)
	}
	return true, nil
}

// CompleteSync replaces the whole checkpoint sub-record in one update and
// releases the flag. Never merges field-by-field from a stale read.
func (s *Store) CompleteSync(ctx context.Context, shopDomain string, cp SyncCheckpoint) error {
	cp.IsSyncing = false

	_, err := s.DB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.Table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: ShopPK(shopDomain)},
		},
		UpdateExpression: aws.String(
			"SET IsSyncing = :syncing, LastSyncTime = :t, LastSyncedOrderId = :oid, " +
				"LastSyncedOrderNumber = :onum, LastSyncedOrderCreatedAt = :ocat, " +
				"TotalOrdersSynced = :total, LastSyncCount = :count"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":syncing": &types.AttributeValueMemberBOOL{Value: false},
			":t":       &types.AttributeValueMemberS{Value: cp.LastSyncTime},
			":oid":     &types.AttributeValueMemberS{Value: cp.LastSyncedOrderID},
			":onum":    &types.AttributeValueMemberS{Value: cp.LastSyncedOrderNumber},
			":ocat":    &types.AttributeValueMemberS{Value: cp.LastSyncedOrderCreatedAt},
			":total":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", cp.TotalOrdersSynced)},
			":count":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", cp.LastSyncCount)},
		},
	})
	if err != nil {
		return fmt.Errorf("shops CompleteSync: %w", err)
	}
	return nil
}

// ClearSyncFlag is the failure-path release: a failed run must never leave
// the shop locked out of future syncs.
func (s *Store) ClearSyncFlag(ctx context.Context, shopDomain string) error {
	_, err := s.DB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.Table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: ShopPK(shopDomain)},
		},
		UpdateExpression: aws.String("SET IsSyncing = :f"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		return fmt.Errorf("shops ClearSyncFlag: %w", err)
	}
	return nil
}

// UpdateSettings stores the settings map as one attribute.
func (s *Store) UpdateSettings(ctx context.Context, shopDomain string, settings Settings) error {
	av, err := attributevalue.Marshal(settings)
	if err != nil {
		return fmt.Errorf("settings marshal: %w", err)
	}
	_, err = s.DB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.Table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: ShopPK(shopDomain)},
		},
		UpdateExpression:    aws.String("SET Settings = :s"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": av,
		},
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrShopNotFound
		}
		return fmt.Errorf("shops UpdateSettings: %w", err)
	}
	return nil
}

// SetAlertsTopicArn records the per-shop SNS topic after onboarding.
func (s *Store) SetAlertsTopicArn(ctx context.Context, shopDomain, topicArn string) error {
	_, err := s.DB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.Table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: ShopPK(shopDomain)},
		},
		UpdateExpression: aws.String("SET AlertsTopicArn = :a"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":a": &types.AttributeValueMemberS{Value: topicArn},
		},
	})
	if err != nil {
		return fmt.Errorf("shops SetAlertsTopicArn: %w", err)
	}
	return nil
}

// Delete removes the shop record on uninstall.
func (s *Store) Delete(ctx context.Context, shopDomain string) error {
	_, err := s.DB.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.Table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: ShopPK(shopDomain)},
		},
	})
	if err != nil {
		return fmt.Errorf("shops DeleteItem: %w", err)
	}
	return nil
}
