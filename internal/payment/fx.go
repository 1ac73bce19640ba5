package payment

import (
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	"github.com/smallbiznis/storefront/internal/payment/adapters/paypal"
	"github.com/smallbiznis/storefront/internal/payment/adapters/razorpay"
	"github.com/smallbiznis/storefront/internal/payment/adapters/stripe"
	"github.com/smallbiznis/storefront/internal/payment/repository"
	paymentservice "github.com/smallbiznis/storefront/internal/payment/service"
	"github.com/smallbiznis/storefront/internal/payment/statemachine"
	"github.com/smallbiznis/storefront/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
			razorpay.NewFactory(),
			paypal.NewFactory(),
		)
	}),
	fx.Provide(statemachine.NewApplier),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
