package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// WebhookSecrets is the hot-reloadable set of provider credentials.
type WebhookSecrets struct {
	Stripe   StripeSecrets   `mapstructure:"stripe"`
	Razorpay RazorpaySecrets `mapstructure:"razorpay"`
	Paypal   PaypalSecrets   `mapstructure:"paypal"`
}

type StripeSecrets struct {
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Tolerance     time.Duration `mapstructure:"tolerance"`
}

type RazorpaySecrets struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type PaypalSecrets struct {
	WebhookID      string `mapstructure:"webhook_id"`
	CertHostSuffix string `mapstructure:"cert_host_suffix"`
}

// AdapterConfig flattens the secrets of one provider into the generic map
// consumed by payment adapter factories.
func (s WebhookSecrets) AdapterConfig(provider string) map[string]any {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "stripe":
		return map[string]any{
			"webhook_secret": s.Stripe.WebhookSecret,
			"tolerance":      s.Stripe.Tolerance,
		}
	case "razorpay":
		return map[string]any{
			"webhook_secret": s.Razorpay.WebhookSecret,
		}
	case "paypal":
		return map[string]any{
			"webhook_id":       s.Paypal.WebhookID,
			"cert_host_suffix": s.Paypal.CertHostSuffix,
		}
	default:
		return nil
	}
}

func defaultWebhookSecrets(cfg WebhookConfig) WebhookSecrets {
	return WebhookSecrets{
		Stripe: StripeSecrets{
			WebhookSecret: cfg.StripeSecret,
			Tolerance:     cfg.StripeSignatureTolerance,
		},
		Razorpay: RazorpaySecrets{WebhookSecret: cfg.RazorpaySecret},
		Paypal: PaypalSecrets{
			WebhookID:      cfg.PaypalWebhookID,
			CertHostSuffix: cfg.PaypalCertHostSuffix,
		},
	}
}

type SecretsHolder struct {
	current atomic.Value // holds WebhookSecrets
}

// NewStaticSecretsHolder returns a holder that never reloads.
func NewStaticSecretsHolder(secrets WebhookSecrets) *SecretsHolder {
	holder := &SecretsHolder{}
	holder.current.Store(secrets)
	return holder
}

// NewSecretsHolder loads webhook secrets from the environment and, when
// present, overlays them with webhooks.yml. The file is watched so secrets can
// be rotated without a restart.
func NewSecretsHolder(cfg Config, log *zap.Logger) (*SecretsHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.webhooks")
	defaults := defaultWebhookSecrets(cfg.Webhooks)

	v := viper.New()
	if cfg.Webhooks.SecretsFile != "" {
		v.SetConfigFile(cfg.Webhooks.SecretsFile)
	} else {
		v.SetConfigName("webhooks")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/storefront")
		v.AddConfigPath(".")
	}

	v.SetDefault("webhooks.stripe.webhook_secret", defaults.Stripe.WebhookSecret)
	v.SetDefault("webhooks.stripe.tolerance", defaults.Stripe.Tolerance)
	v.SetDefault("webhooks.razorpay.webhook_secret", defaults.Razorpay.WebhookSecret)
	v.SetDefault("webhooks.paypal.webhook_id", defaults.Paypal.WebhookID)
	v.SetDefault("webhooks.paypal.cert_host_suffix", defaults.Paypal.CertHostSuffix)

	holder := &SecretsHolder{}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		holder.current.Store(defaults)
		return holder, nil
	}

	secrets, err := decodeWebhookSecrets(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(secrets)
	log.Info("webhook secrets loaded", zap.String("file", v.ConfigFileUsed()))

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeWebhookSecrets(v)
		if err != nil {
			log.Warn("webhook secrets reload failed", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("webhook secrets reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// decodeWebhookSecrets unmarshals from the merged leaf keys so nested
// defaults survive a partial file.
func decodeWebhookSecrets(v *viper.Viper) (WebhookSecrets, error) {
	var root struct {
		Webhooks WebhookSecrets `mapstructure:"webhooks"`
	}
	if err := v.Unmarshal(&root); err != nil {
		return WebhookSecrets{}, err
	}
	return root.Webhooks, nil
}

func (h *SecretsHolder) Get() WebhookSecrets {
	return h.current.Load().(WebhookSecrets)
}
