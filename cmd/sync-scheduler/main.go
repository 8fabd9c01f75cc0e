package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"backend/internal/db"
)

// Fans installed shops out to the sync queue on an EventBridge schedule. The
// sync-worker consumes the queue one shop at a time.

func handler(ctx context.Context, _ events.CloudWatchEvent) (map[string]any, error) {
	queueURL := strings.TrimSpace(os.Getenv("SYNC_QUEUE_URL"))
	if queueURL == "" {
		return nil, fmt.Errorf("missing env SYNC_QUEUE_URL")
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	ddb := dynamodb.NewFromConfig(cfg)
	sqsClient := sqs.NewFromConfig(cfg)

	shops, err := listShopDomains(ctx, ddb, db.ShopsTableName())
	if err != nil {
		return nil, err
	}

	queued := 0
	for _, shop := range shops {
		body, _ := json.Marshal(map[string]string{"shop_domain": shop})
		_, err := sqsClient.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			return nil, fmt.Errorf("queue sync for %s: %w", shop, err)
		}
		queued++
	}

	return map[string]any{"ok": true, "queued": queued}, nil
}

func listShopDomains(ctx context.Context, ddb *dynamodb.Client, table string) ([]string, error) {
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("missing env SHOPS_TABLE")
	}

	var shops []string
	var startKey map[string]ddbtypes.AttributeValue
	for {
		out, err := ddb.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(table),
			ExclusiveStartKey:    startKey,
			ProjectionExpression: aws.String("ShopDomain"),
		})
		if err != nil {
			return nil, fmt.Errorf("scan shops table: %w", err)
		}
		for _, it := range out.Items {
			if v, ok := it["ShopDomain"].(*ddbtypes.AttributeValueMemberS); ok && v.Value != "" {
				shops = append(shops, v.Value)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return shops, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func main() {
	lambda.Start(handler)
}
