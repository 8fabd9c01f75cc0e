// Package usage tracks monthly try-on generation counts per shop.
package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type DynamoAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

var ErrQuotaExceeded = errors.New("monthly try-on quota exceeded")

type Snapshot struct {
	Month string `json:"month"`
	Used  int    `json:"used"`
	Limit int    `json:"limit"`
}

// Tracker stores one counter item per shop per month:
// PK = SHOP#<domain>, SK = USAGE#YYYY-MM.
type Tracker struct {
	DB    DynamoAPI
	Table string
	Quota int

	now func() time.Time
}

func NewTracker(db DynamoAPI, table string, quota int) *Tracker {
	return &Tracker{DB: db, Table: table, Quota: quota, now: func() time.Time { return time.Now().UTC() }}
}

func (t *Tracker) month() string {
	return t.now().Format("2006-01")
}

func usageKey(shopDomain, month string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("SHOP#%s", shopDomain)},
		"SK": &types.AttributeValueMemberS{Value: fmt.Sprintf("USAGE#%s", month)},
	}
}

// Consume takes one generation from the shop's monthly allowance. The
// conditional increment is atomic: concurrent callers cannot push Used past
// the quota.
func (t *Tracker) Consume(ctx context.Context, shopDomain string) (used int, err error) {
	out, err := t.DB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(t.Table),
		Key:                 usageKey(shopDomain, t.month()),
		UpdateExpression:    aws.String("ADD Used :one"),
		ConditionExpression: aws.String("attribute_not_exists(Used) OR Used < :limit"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":   &types.AttributeValueMemberN{Value: "1"},
			":limit": &types.AttributeValueMemberN{Value: strconv.Itoa(t.Quota)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return t.Quota, ErrQuotaExceeded
		}
		return 0, fmt.Errorf("usage UpdateItem: %w", err)
	}

	if v, ok := out.Attributes["Used"].(*types.AttributeValueMemberN); ok {
		n, _ := strconv.Atoi(v.Value)
		return n, nil
	}
	return 0, nil
}

// Get returns the current month's snapshot. Read failures report a zeroed
// snapshot rather than an error; usage display is best-effort by contract.
func (t *Tracker) Get(ctx context.Context, shopDomain string) Snapshot {
	month := t.month()
	snap := Snapshot{Month: month, Limit: t.Quota}

	out, err := t.DB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.Table),
		Key:       usageKey(shopDomain, month),
	})
	if err != nil || out.Item == nil {
		return snap
	}
	if v, ok := out.Item["Used"].(*types.AttributeValueMemberN); ok {
		snap.Used, _ = strconv.Atoi(v.Value)
	}
	return snap
}
