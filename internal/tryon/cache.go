package tryon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type CacheClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// CachedResult is what a repeated identical request gets back without a new
// model invocation, and without a quota charge.
type CachedResult struct {
	SessionID string `json:"session_id"`
	ImageKey  string `json:"image_key"`
}

func cacheTable() (string, error) {
	t := strings.TrimSpace(os.Getenv("TRYON_CACHE_TABLE"))
	if t == "" {
		return "", fmt.Errorf("missing TRYON_CACHE_TABLE")
	}
	return t, nil
}

func cacheTTLSeconds() int64 {
	v := strings.TrimSpace(os.Getenv("TRYON_CACHE_TTL_SECONDS"))
	if v == "" {
		return 86400
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 86400
	}
	return n
}

// cacheSK hashes the two input images so identical shopper/garment pairs hit
// the same entry. Scoped per shop via the PK.
func cacheSK(in GenerateInput) string {
	sum := sha256.Sum256([]byte("person=" + in.PersonImageB64 + "|garment=" + in.GarmentImageB64))
	return "GEN#" + hex.EncodeToString(sum[:])
}

func getCached(ctx context.Context, ddb CacheClient, shopDomain string, in GenerateInput) (*CachedResult, bool, error) {
	table, err := cacheTable()
	if err != nil {
		return nil, false, err
	}

	out, err := ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: "SHOP#" + shopDomain},
			"SK": &ddbtypes.AttributeValueMemberS{Value: cacheSK(in)},
		},
		ConsistentRead: aws.Bool(false),
	})
	if err != nil {
		return nil, false, fmt.Errorf("cache GetItem: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}

	payloadAttr, ok := out.Item["Payload"].(*ddbtypes.AttributeValueMemberS)
	if !ok {
		return nil, false, nil
	}
	var res CachedResult
	if err := json.Unmarshal([]byte(payloadAttr.Value), &res); err != nil {
		return nil, false, nil
	}
	return &res, true, nil
}

func putCached(ctx context.Context, ddb CacheClient, shopDomain string, in GenerateInput, res CachedResult) error {
	table, err := cacheTable()
	if err != nil {
		return err
	}

	b, _ := json.Marshal(res)

	now := time.Now().UTC().Unix()
	exp := now + cacheTTLSeconds()

	_, err = ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item: map[string]ddbtypes.AttributeValue{
			"PK":        &ddbtypes.AttributeValueMemberS{Value: "SHOP#" + shopDomain},
			"SK":        &ddbtypes.AttributeValueMemberS{Value: cacheSK(in)},
			"ExpiresAt": &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", exp)},
			"Payload":   &ddbtypes.AttributeValueMemberS{Value: string(b)},
			"CreatedAt": &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", now)},
		},
	})
	if err != nil {
		return fmt.Errorf("cache PutItem: %w", err)
	}
	return nil
}
