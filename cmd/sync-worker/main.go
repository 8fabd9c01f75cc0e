package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"backend/internal/handlers"
	"backend/internal/logging"
	"backend/internal/shopify"
	syncpkg "backend/internal/sync"
)

// Scheduled syncs arrive as SQS messages, one shop per message. A scheduler
// rule fans installed shops out to the queue; this worker runs the same sync
// path the API uses.
type syncMessage struct {
	ShopDomain string `json:"shop_domain"`
}

type worker struct {
	api    *handlers.API
	logger *zap.Logger
}

func (w *worker) handler(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	failures := make([]events.SQSBatchItemFailure, 0)

	for _, rec := range sqsEvent.Records {
		if err := w.processOne(ctx, rec.Body); err != nil {
			// mark this message as failed so it retries (or goes to DLQ)
			w.logger.Error("sync-worker message failed",
				zap.String("message_id", rec.MessageId), zap.Error(err))
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}

	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

func (w *worker) processOne(ctx context.Context, body string) error {
	var msg syncMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return fmt.Errorf("unmarshal sync message: %w", err)
	}
	shop := strings.ToLower(strings.TrimSpace(msg.ShopDomain))
	if shop == "" {
		return fmt.Errorf("missing shop_domain")
	}

	sess, err := w.session(ctx, shop)
	if err != nil {
		return err
	}

	res, err := w.api.Sync.Run(ctx, sess)
	if err != nil {
		return fmt.Errorf("sync %s: %w", shop, err)
	}
	if res.AlreadySyncing {
		// an API-triggered run holds the flag; the schedule catches up next cycle
		w.logger.Info("scheduled sync skipped", zap.String("shop", shop))
		return nil
	}

	w.notify(ctx, shop, res)
	w.logger.Info("scheduled sync done",
		zap.String("shop", shop),
		zap.Int("new_orders", res.NewOrders),
		zap.Int("duplicates", res.DuplicatesSkipped))
	return nil
}

func (w *worker) session(ctx context.Context, shop string) (shopify.Session, error) {
	return w.api.Session(ctx, shop)
}

func (w *worker) notify(ctx context.Context, shop string, res *syncpkg.Result) {
	if w.api.Notifier == nil || res.NewOrders == 0 {
		return
	}
	w.api.Notifier.PublishSyncSummary(ctx, shop, res.NewOrders, res.DuplicatesSkipped, res.Revenue)
}

func main() {
	logger := logging.New()
	defer logger.Sync()

	api, err := handlers.NewAPI(context.Background(), logger)
	if err != nil {
		log.Fatalf("wire api: %v", err)
	}

	w := &worker{api: api, logger: logger}
	lambda.Start(w.handler)
}
