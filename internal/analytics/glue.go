package analytics

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
)

type GlueClient interface {
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
}

type TableSchema struct {
	Database   string
	Table      string
	Location   string
	Columns    map[string]string // name -> glue type
	Partitions []string
}

// metric columns the ETL writes; the Glue table must carry all of them
var requiredMetricColumns = []string{"generations", "attributed_orders", "attributed_revenue"}

func LoadTableSchemaFromEnv(ctx context.Context, c GlueClient) (*TableSchema, error) {
	db := strings.TrimSpace(os.Getenv("GLUE_DATABASE"))
	tbl := strings.TrimSpace(os.Getenv("DAILY_METRICS_TABLE"))
	if tbl == "" {
		tbl = "tryon_daily_metrics"
	}
	if db == "" {
		return nil, fmt.Errorf("missing env GLUE_DATABASE")
	}
	return LoadTableSchema(ctx, c, db, tbl)
}

func LoadTableSchema(ctx context.Context, c GlueClient, database, table string) (*TableSchema, error) {
	out, err := c.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(database),
		Name:         aws.String(table),
	})
	if err != nil {
		return nil, fmt.Errorf("glue GetTable %s.%s: %w", database, table, err)
	}

	ti := out.Table
	schema := &TableSchema{
		Database: database,
		Table:    aws.ToString(ti.Name),
		Columns:  map[string]string{},
	}
	if sd := ti.StorageDescriptor; sd != nil {
		schema.Location = aws.ToString(sd.Location)
		for _, col := range sd.Columns {
			name := strings.ToLower(aws.ToString(col.Name))
			schema.Columns[name] = strings.ToLower(aws.ToString(col.Type))
		}
	}
	for _, p := range ti.PartitionKeys {
		schema.Partitions = append(schema.Partitions, strings.ToLower(aws.ToString(p.Name)))
	}
	return schema, nil
}

// VerifyLakeTable confirms the Glue catalog entry matches what the ETL
// writes: the metric columns exist and the table is partitioned by dt and
// shop_id. Run before a backfill so parquet rows land in a table Athena can
// actually read.
func VerifyLakeTable(ctx context.Context, c GlueClient) error {
	schema, err := LoadTableSchemaFromEnv(ctx, c)
	if err != nil {
		return err
	}
	return verifySchema(schema)
}

// VerifyTable is VerifyLakeTable with an explicit database and table, for
// callers that already carry them.
func VerifyTable(ctx context.Context, c GlueClient, database, table string) error {
	schema, err := LoadTableSchema(ctx, c, database, table)
	if err != nil {
		return err
	}
	return verifySchema(schema)
}

func verifySchema(schema *TableSchema) error {
	for _, col := range requiredMetricColumns {
		if _, ok := schema.Columns[col]; !ok {
			return fmt.Errorf("lake table %s.%s missing column %q", schema.Database, schema.Table, col)
		}
	}

	parts := map[string]bool{}
	for _, p := range schema.Partitions {
		parts[p] = true
	}
	if !parts["dt"] || !parts["shop_id"] {
		return fmt.Errorf("lake table %s.%s must be partitioned by (dt, shop_id), got %v",
			schema.Database, schema.Table, schema.Partitions)
	}
	return nil
}
