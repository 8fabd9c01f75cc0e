package etl

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"backend/internal/analytics"
)

// DailyMetricsRow matches the Glue table columns
type DailyMetricsRow struct {
	ShopID            string  `parquet:"name=shop_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	MetricDate        string  `parquet:"name=metric_date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"` // YYYY-MM-DD
	Generations       int64   `parquet:"name=generations, type=INT64"`
	AttributedOrders  int64   `parquet:"name=attributed_orders, type=INT64"`
	AttributedRevenue float64 `parquet:"name=attributed_revenue, type=DOUBLE"`
}

type DailyMetricsETL struct {
	ddb  *dynamodb.Client
	s3   *s3.Client
	glue analytics.GlueClient
}

func NewDailyMetricsETL(cfg aws.Config) *DailyMetricsETL {
	return &DailyMetricsETL{
		ddb:  dynamodb.NewFromConfig(cfg),
		s3:   s3.NewFromConfig(cfg),
		glue: glue.NewFromConfig(cfg),
	}
}

// Handle is triggered by EventBridge schedule.
//
// Behavior:
// - Discover shops from SHOPS_TABLE
// - For each shop and each day in the backfill window, aggregate imported
//   try-on orders from TRYON_ORDERS_TABLE
// - Write one Parquet row per (shop, dt) under:
//     tryon_daily_metrics/dt=YYYY-MM-DD/shop_id=<shop>/part-<rand>.parquet
//
// Env:
// - SHOPS_TABLE (required)
// - TRYON_ORDERS_TABLE (required)
// - ANALYTICS_BUCKET (required)
// - DAILY_METRICS_PREFIX (default "tryon_daily_metrics/")
// - GLUE_DATABASE (required)
// - DAILY_METRICS_TABLE (default "tryon_daily_metrics")
// - ETL_TIMEZONE (default "UTC")
// - ETL_DAYS_BACK (default "1")  // number of days including today
func (h *DailyMetricsETL) Handle(ctx context.Context, _ events.CloudWatchEvent) (map[string]any, error) {
	shopsTable := strings.TrimSpace(os.Getenv("SHOPS_TABLE"))
	ordersTable := strings.TrimSpace(os.Getenv("TRYON_ORDERS_TABLE"))

	bucket := strings.TrimSpace(os.Getenv("ANALYTICS_BUCKET"))
	prefix := strings.TrimSpace(os.Getenv("DAILY_METRICS_PREFIX"))
	if prefix == "" {
		prefix = "tryon_daily_metrics/"
	}

	tzName := strings.TrimSpace(os.Getenv("ETL_TIMEZONE"))
	if tzName == "" {
		tzName = "UTC"
	}

	daysBack := 1
	if v := strings.TrimSpace(os.Getenv("ETL_DAYS_BACK")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 90 {
			daysBack = n
		}
	}

	if shopsTable == "" {
		return nil, fmt.Errorf("missing env SHOPS_TABLE")
	}
	if ordersTable == "" {
		return nil, fmt.Errorf("missing env TRYON_ORDERS_TABLE")
	}
	if bucket == "" {
		return nil, fmt.Errorf("missing env ANALYTICS_BUCKET")
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", tzName, err)
	}

	// The Glue table must still match the rows this ETL writes before any
	// backfill lands in it.
	if err := analytics.VerifyLakeTable(ctx, h.glue); err != nil {
		return nil, err
	}

	shops, err := h.listShopDomains(ctx, shopsTable)
	if err != nil {
		return nil, err
	}
	if len(shops) == 0 {
		return map[string]any{"ok": true, "written": 0, "reason": "no shops found"}, nil
	}

	now := time.Now().In(loc)
	written := 0
	totalOrders := 0

	for i := 0; i < daysBack; i++ {
		day := now.AddDate(0, 0, -i)
		dtStr := day.Format("2006-01-02")

		for _, shop := range shops {
			agg, err := h.aggregateShopDay(ctx, ordersTable, shop, dtStr)
			if err != nil {
				return nil, fmt.Errorf("aggregate orders for shop=%s dt=%s: %w", shop, dtStr, err)
			}

			row := DailyMetricsRow{
				ShopID:            shop,
				MetricDate:        dtStr,
				Generations:       agg.sessions,
				AttributedOrders:  agg.orders,
				AttributedRevenue: agg.revenue,
			}

			key := fmt.Sprintf("%sdt=%s/shop_id=%s/part-%s.parquet",
				ensureTrailingSlash(prefix),
				dtStr,
				shop,
				randHex(8),
			)

			if err := h.writeOneParquetRowToS3(ctx, bucket, key, row); err != nil {
				return nil, fmt.Errorf("write parquet for shop=%s dt=%s: %w", shop, dtStr, err)
			}

			written++
			totalOrders += int(agg.orders)
		}
	}

	return map[string]any{
		"ok":          true,
		"shops":       len(shops),
		"days_back":   daysBack,
		"written":     written,
		"order_count": totalOrders,
		"bucket":      bucket,
		"prefix":      prefix,
	}, nil
}

// listShopDomains scans SHOPS_TABLE and extracts the "ShopDomain" attribute.
func (h *DailyMetricsETL) listShopDomains(ctx context.Context, table string) ([]string, error) {
	seen := map[string]bool{}
	shops := make([]string, 0, 64)

	var startKey map[string]ddbtypes.AttributeValue
	for {
		out, err := h.ddb.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(table),
			ExclusiveStartKey:    startKey,
			ProjectionExpression: aws.String("#shop"),
			ExpressionAttributeNames: map[string]string{
				"#shop": "ShopDomain",
			},
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan %s: %w", table, err)
		}

		for _, it := range out.Items {
			if v, ok := it["ShopDomain"]; ok {
				if sv, ok2 := v.(*ddbtypes.AttributeValueMemberS); ok2 {
					s := strings.TrimSpace(sv.Value)
					if s == "" {
						continue
					}
					k := strings.ToLower(s)
					if !seen[k] {
						seen[k] = true
						shops = append(shops, s)
					}
				}
			}
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return shops, nil
}

type dayAggregate struct {
	orders   int64
	revenue  float64
	sessions int64
}

// aggregateShopDay queries the shop GSI for one day of imported orders.
// GSI1SK is the order's RFC3339 CreatedAt, so begins_with("YYYY-MM-DD")
// selects the day. Sessions are counted distinct across orders.
func (h *DailyMetricsETL) aggregateShopDay(ctx context.Context, ordersTable, shop, dayYYYYMMDD string) (dayAggregate, error) {
	var agg dayAggregate
	sessions := map[string]bool{}

	var startKey map[string]ddbtypes.AttributeValue
	for {
		out, err := h.ddb.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(ordersTable),
			IndexName:              aws.String("GSI1"),
			ExclusiveStartKey:      startKey,
			KeyConditionExpression: aws.String("GSI1PK = :shop AND begins_with(GSI1SK, :day)"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":shop": &ddbtypes.AttributeValueMemberS{Value: "SHOP#" + shop},
				":day":  &ddbtypes.AttributeValueMemberS{Value: dayYYYYMMDD},
			},
		})
		if err != nil {
			return agg, fmt.Errorf("query orders gsi: %w", err)
		}

		for _, it := range out.Items {
			agg.orders++
			if v, ok := it["TotalPrice"].(*ddbtypes.AttributeValueMemberN); ok {
				if amt, perr := strconv.ParseFloat(v.Value, 64); perr == nil {
					agg.revenue += amt
				}
			}
			if v, ok := it["SbbSessionIds"].(*ddbtypes.AttributeValueMemberL); ok {
				for _, sv := range v.Value {
					if s, ok2 := sv.(*ddbtypes.AttributeValueMemberS); ok2 {
						sessions[s.Value] = true
					}
				}
			}
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	agg.sessions = int64(len(sessions))
	return agg, nil
}

func (h *DailyMetricsETL) writeOneParquetRowToS3(ctx context.Context, bucket, key string, row DailyMetricsRow) error {
	tmpDir := os.TempDir()
	localPath := filepath.Join(tmpDir, "tryon_daily_metrics_"+randHex(8)+".parquet")

	fw, err := local.NewLocalFileWriter(localPath)
	if err != nil {
		return fmt.Errorf("parquet file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(DailyMetricsRow), 1)
	if err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.PageSize = 8 * 1024
	pw.CompressionType = 0 // no snappy

	if err := pw.Write(row); err != nil {
		_ = pw.WriteStop()
		_ = fw.Close()
		return fmt.Errorf("parquet write row: %w", err)
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet write stop: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("parquet close: %w", err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read parquet tmp: %w", err)
	}
	defer func() { _ = os.Remove(localPath) }()

	_, err = h.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("s3 putobject failed: %w", err)
	}
	return nil
}

func ensureTrailingSlash(s string) string {
	if s == "" {
		return ""
	}
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

func randHex(nBytes int) string {
	b := make([]byte, nBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
