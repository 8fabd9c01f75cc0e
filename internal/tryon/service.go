package tryon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"backend/internal/usage"
)

var ErrModelUnavailable = errors.New("try-on model temporarily unavailable")

// Result is the response body for a generation request.
type Result struct {
	SessionID     string `json:"session_id"`
	ImageKey      string `json:"image_key"`
	UsedThisMonth int    `json:"used_this_month"`
	MonthlyLimit  int    `json:"monthly_limit"`
}

// Service runs a generation end to end: quota check, model invocation and
// result upload. The circuit breaker sits around the Bedrock call so a
// degraded model endpoint fails fast instead of burning quota on timeouts.
type Service struct {
	Bedrock BedrockClient
	S3      S3Client
	Usage   *usage.Tracker
	Cache   CacheClient // optional; nil disables result caching
	Log     *zap.Logger

	breaker *gobreaker.CircuitBreaker[[]byte]
}

func NewService(bedrock BedrockClient, s3c S3Client, tracker *usage.Tracker, log *zap.Logger) *Service {
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "bedrock-tryon",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	return &Service{Bedrock: bedrock, S3: s3c, Usage: tracker, Log: log, breaker: cb}
}

// Generate consumes one unit of the shop's quota, produces the composite and
// stores it. Quota is taken before the model call; a failed generation after
// a successful consume is not refunded.
func (s *Service) Generate(ctx context.Context, shopDomain string, in GenerateInput) (*Result, error) {
	if s.Cache != nil {
		if cached, ok, _ := getCached(ctx, s.Cache, shopDomain, in); ok {
			s.Log.Info("try-on cache hit", zap.String("shop", shopDomain))
			snap := s.Usage.Get(ctx, shopDomain)
			return &Result{
				SessionID:     cached.SessionID,
				ImageKey:      cached.ImageKey,
				UsedThisMonth: snap.Used,
				MonthlyLimit:  s.Usage.Quota,
			}, nil
		}
	}

	used, err := s.Usage.Consume(ctx, shopDomain)
	if err != nil {
		return nil, err
	}

	img, err := s.breaker.Execute(func() ([]byte, error) {
		return InvokeTryOnModel(ctx, s.Bedrock, in)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.Log.Warn("try-on breaker open", zap.String("shop", shopDomain))
			return nil, ErrModelUnavailable
		}
		return nil, fmt.Errorf("try-on generation: %w", err)
	}

	sessionID := uuid.NewString()
	key, err := StoreComposite(ctx, s.S3, shopDomain, sessionID, img)
	if err != nil {
		return nil, err
	}

	if s.Cache != nil {
		if err := putCached(ctx, s.Cache, shopDomain, in, CachedResult{SessionID: sessionID, ImageKey: key}); err != nil {
			s.Log.Warn("try-on cache put", zap.String("shop", shopDomain), zap.Error(err))
		}
	}

	s.Log.Info("try-on generated",
		zap.String("shop", shopDomain),
		zap.String("session_id", sessionID),
		zap.Int("used_this_month", used))

	return &Result{
		SessionID:     sessionID,
		ImageKey:      key,
		UsedThisMonth: used,
		MonthlyLimit:  s.Usage.Quota,
	}, nil
}
