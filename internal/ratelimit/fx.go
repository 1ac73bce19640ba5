package ratelimit

import (
	"context"

	"github.com/smallbiznis/storefront/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(provideWebhookLimiter),
)

func provideWebhookLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*WebhookLimiter, error) {
	limiter, err := NewWebhookLimiter(cfg)
	if err != nil {
		return nil, err
	}
	if !limiter.Enabled() {
		log.Info("webhook rate limit disabled")
		return nil, nil
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return limiter.Close()
		},
	})
	return limiter, nil
}
