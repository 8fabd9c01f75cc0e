// Package alerts delivers merchant email notifications through per-shop SNS
// topics. Every call here is best-effort: alert delivery must never fail the
// operation that triggered it.
package alerts

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"backend/internal/shops"
)

type SNSClient interface {
	CreateTopic(ctx context.Context, params *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
	Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type Notifier struct {
	SNS   SNSClient
	Shops *shops.Store
	Log   *zap.Logger
}

func shortHashDomain(domain string) string {
	h := sha1.Sum([]byte(domain))
	// 8 bytes -> 16 hex chars, stable and short
	return hex.EncodeToString(h[:8])
}

// EnsureShopEmailAlerts ensures:
// - an SNS topic exists for the shop
// - an email subscription exists for the merchant's email (confirmed once)
// - the shop record stores AlertsTopicArn
//
// Returns topicArn.
func (n *Notifier) EnsureShopEmailAlerts(ctx context.Context, shopDomain, email string) (string, error) {
	shopDomain = strings.TrimSpace(shopDomain)
	email = strings.TrimSpace(email)

	if shopDomain == "" || email == "" {
		return "", nil
	}

	stage := strings.TrimSpace(os.Getenv("ALERTS_STAGE"))
	if stage == "" {
		stage = "dev"
	}

	// If already stored, reuse
	if shop, err := n.Shops.Get(ctx, shopDomain); err == nil && shop.AlertsTopicArn != "" {
		return shop.AlertsTopicArn, nil
	}

	// SNS topic names must be simple (no dots or slashes)
	topicName := fmt.Sprintf("stylebox-shop-alerts-%s-%s", stage, shortHashDomain(shopDomain))

	ct, err := n.SNS.CreateTopic(ctx, &sns.CreateTopicInput{
		Name: aws.String(topicName),
	})
	if err != nil {
		return "", err
	}
	topicArn := aws.ToString(ct.TopicArn)

	// Subscribe email (requires confirm link click once)
	_, err = n.SNS.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn: aws.String(topicArn),
		Protocol: aws.String("email"),
		Endpoint: aws.String(email),
	})
	if err != nil {
		return "", err
	}

	if err := n.Shops.SetAlertsTopicArn(ctx, shopDomain, topicArn); err != nil {
		n.Log.Warn("store alerts topic arn", zap.String("shop", shopDomain), zap.Error(err))
	}

	return topicArn, nil
}

// PublishSyncSummary notifies the merchant after a completed sync run.
func (n *Notifier) PublishSyncSummary(ctx context.Context, shopDomain string, newOrders, duplicates int, revenue float64) {
	msg := fmt.Sprintf("Order sync finished for %s.\n\nNew try-on orders: %d\nDuplicates skipped: %d\nAttributed revenue: %.2f\n",
		shopDomain, newOrders, duplicates, revenue)
	n.publish(ctx, shopDomain, "StyleBox: order sync complete", msg)
}

// PublishQuotaWarning fires when a shop crosses its monthly generation limit.
func (n *Notifier) PublishQuotaWarning(ctx context.Context, shopDomain string, used, limit int) {
	msg := fmt.Sprintf("Shop %s has used %d of %d try-on generations this month. Further requests will be rejected until the next cycle.",
		shopDomain, used, limit)
	n.publish(ctx, shopDomain, "StyleBox: monthly quota reached", msg)
}

func (n *Notifier) publish(ctx context.Context, shopDomain, subject, message string) {
	shop, err := n.Shops.Get(ctx, shopDomain)
	if err != nil || shop.AlertsTopicArn == "" {
		return
	}
	_, err = n.SNS.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(shop.AlertsTopicArn),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		n.Log.Warn("publish alert", zap.String("shop", shopDomain), zap.Error(err))
	}
}
