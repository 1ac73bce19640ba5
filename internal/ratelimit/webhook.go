package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/storefront/internal/config"
)

const keyWebhookProvider = "webhook:ratelimit:%s"

// WebhookLimiter bounds inbound webhook deliveries per provider.
type WebhookLimiter struct {
	enabled bool

	client redis.UniversalClient
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewWebhookLimiter returns nil when no Redis URL is configured.
func NewWebhookLimiter(cfg config.Config) (*WebhookLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled() {
		return nil, nil
	}
	if limitCfg.Rate <= 0 || limitCfg.Burst <= 0 {
		return nil, errors.New("webhook rate limit must be positive")
	}

	opts, err := redis.ParseURL(strings.TrimSpace(limitCfg.RedisURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return newWebhookLimiter(redis.NewClient(opts), limitCfg.Rate, limitCfg.Burst), nil
}

func newWebhookLimiter(client redis.UniversalClient, rate float64, burst int) *WebhookLimiter {
	return &WebhookLimiter{
		enabled: true,
		client:  client,
		bucket:  NewTokenBucket(client),
		rate:    rate,
		burst:   burst,
	}
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow takes one token from the provider's bucket.
func (l *WebhookLimiter) Allow(ctx context.Context, provider string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return &RateLimitResult{Allowed: false}, errors.New("rate limiter provider is empty")
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWebhookProvider, provider), l.rate, l.burst)
}

func (l *WebhookLimiter) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}
