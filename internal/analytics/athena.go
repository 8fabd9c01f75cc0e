// Package analytics answers merchant attribution questions from the daily
// metrics lake in Athena.
package analytics

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"go.uber.org/zap"
)

type AthenaClient interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
}

type RunOptions struct {
	Database       string
	Workgroup      string
	OutputLocation string // s3://.../athena-results/
	MaxWait        time.Duration
	PollInterval   time.Duration
	MaxResultRows  int
}

func OptionsFromEnv() RunOptions {
	return RunOptions{
		Database:       os.Getenv("ATHENA_DATABASE"),
		Workgroup:      os.Getenv("ATHENA_WORKGROUP"),
		OutputLocation: os.Getenv("ATHENA_OUTPUT_LOCATION"),
	}
}

type QueryError struct {
	State            string
	Reason           string
	QueryExecutionID string
}

func (e *QueryError) Error() string {
	if e.QueryExecutionID != "" {
		return fmt.Sprintf("athena %s: %s (qid=%s)", e.State, e.Reason, e.QueryExecutionID)
	}
	return fmt.Sprintf("athena %s: %s", e.State, e.Reason)
}

type Runner struct {
	Athena AthenaClient
	Opt    RunOptions
	Log    *zap.Logger

	sleep func(time.Duration)
}

func NewRunner(c AthenaClient, opt RunOptions, log *zap.Logger) *Runner {
	return &Runner{Athena: c, Opt: opt, Log: log, sleep: time.Sleep}
}

// DailyAttribution is one day of try-on attribution for a shop.
type DailyAttribution struct {
	Date        string  `json:"date"`
	Generations int64   `json:"generations"`
	Orders      int64   `json:"orders"`
	Revenue     float64 `json:"revenue"`
}

// AttributionByDay reports per-day generations, attributed orders and revenue
// for the trailing window. Lake queries are best-effort: any failure returns
// an empty slice so the dashboard renders without history.
func (r *Runner) AttributionByDay(ctx context.Context, shopDomain string, days int) []DailyAttribution {
	if days <= 0 || days > 90 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")

	sql := fmt.Sprintf(`SELECT dt, sum(generations), sum(attributed_orders), sum(attributed_revenue)
FROM tryon_daily_metrics
WHERE shop_id = '%s' AND dt >= '%s'
GROUP BY dt
ORDER BY dt`, strings.ReplaceAll(shopDomain, "'", ""), since)

	rows, err := r.run(ctx, sql)
	if err != nil {
		r.Log.Warn("attribution query", zap.String("shop", shopDomain), zap.Error(err))
		return []DailyAttribution{}
	}

	out := make([]DailyAttribution, 0, len(rows))
	for _, row := range rows {
		if len(row) < 4 {
			continue
		}
		out = append(out, DailyAttribution{
			Date:        row[0],
			Generations: parseInt(row[1]),
			Orders:      parseInt(row[2]),
			Revenue:     parseFloat(row[3]),
		})
	}
	return out
}

// run executes one statement and returns the data rows as string cells, with
// the header row stripped.
func (r *Runner) run(ctx context.Context, sql string) ([][]string, error) {
	opt := r.Opt
	if strings.TrimSpace(opt.Database) == "" {
		return nil, fmt.Errorf("missing athena database")
	}
	if strings.TrimSpace(opt.Workgroup) == "" {
		return nil, fmt.Errorf("missing athena workgroup")
	}
	if strings.TrimSpace(opt.OutputLocation) == "" {
		return nil, fmt.Errorf("missing athena output location")
	}
	if opt.MaxWait == 0 {
		opt.MaxWait = 25 * time.Second
	}
	if opt.PollInterval == 0 {
		opt.PollInterval = 700 * time.Millisecond
	}
	if opt.MaxResultRows == 0 {
		opt.MaxResultRows = 200
	}

	startOut, err := r.Athena.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: aws.String(sql),
		QueryExecutionContext: &athenatypes.QueryExecutionContext{
			Database: aws.String(opt.Database),
		},
		ResultConfiguration: &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(opt.OutputLocation),
		},
		WorkGroup: aws.String(opt.Workgroup),
	})
	if err != nil {
		return nil, fmt.Errorf("athena StartQueryExecution: %w", err)
	}
	qid := aws.ToString(startOut.QueryExecutionId)

	if err := r.waitForCompletion(ctx, qid, opt); err != nil {
		return nil, err
	}

	var (
		nextToken *string
		rows      [][]string
		first     = true
	)
	for {
		resOut, err := r.Athena.GetQueryResults(ctx, &athena.GetQueryResultsInput{
			QueryExecutionId: aws.String(qid),
			NextToken:        nextToken,
			MaxResults:       aws.Int32(1000),
		})
		if err != nil {
			return nil, fmt.Errorf("athena GetQueryResults: %w", err)
		}
		for _, raw := range resOut.ResultSet.Rows {
			if first {
				// header row
				first = false
				continue
			}
			if len(rows) >= opt.MaxResultRows {
				return rows, nil
			}
			cells := make([]string, 0, len(raw.Data))
			for _, d := range raw.Data {
				cells = append(cells, aws.ToString(d.VarCharValue))
			}
			rows = append(rows, cells)
		}
		if resOut.NextToken == nil || aws.ToString(resOut.NextToken) == "" {
			return rows, nil
		}
		nextToken = resOut.NextToken
	}
}

func (r *Runner) waitForCompletion(ctx context.Context, qid string, opt RunOptions) error {
	deadline := time.Now().Add(opt.MaxWait)
	for {
		if time.Now().After(deadline) {
			return &QueryError{State: "TIMEOUT", Reason: "query timed out", QueryExecutionID: qid}
		}
		getOut, err := r.Athena.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(qid),
		})
		if err != nil {
			return fmt.Errorf("athena GetQueryExecution: %w", err)
		}
		state := getOut.QueryExecution.Status.State
		switch state {
		case athenatypes.QueryExecutionStateSucceeded:
			return nil
		case athenatypes.QueryExecutionStateFailed, athenatypes.QueryExecutionStateCancelled:
			return &QueryError{
				State:            string(state),
				Reason:           aws.ToString(getOut.QueryExecution.Status.StateChangeReason),
				QueryExecutionID: qid,
			}
		default:
			r.sleep(opt.PollInterval)
		}
	}
}

func parseInt(v string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	return n
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
