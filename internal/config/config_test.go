package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("ADMIN_TOKENS", "tok_ops:ops, broken, :nobody, tok_admin:ADMIN")
	t.Setenv("RECONCILE_MAX_ATTEMPTS", "5")

	cfg := Load()

	assert.Equal(t, 5, cfg.Reconcile.MaxAttempts)
	assert.False(t, cfg.Outbox.Enabled())
	assert.False(t, cfg.RateLimit.Enabled())
	assert.Equal(t, map[string]string{"tok_ops": "ops", "tok_admin": "admin"}, cfg.AdminTokens)
	assert.Equal(t, int64(1<<20), cfg.Webhooks.MaxBodyBytes)
	assert.Empty(t, cfg.AdminTokenHashes)
}

func TestParseTokenHashes(t *testing.T) {
	raw := "ops:$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA; ADMIN:$argon2id$v=19$m=65536,t=1,p=4$c2FsdDI$aGFzaDI\nbroken :$argon2id$x"
	got := parseTokenHashes(raw)
	assert.Equal(t, []AdminTokenHash{
		{Role: "ops", Hash: "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{Role: "admin", Hash: "$argon2id$v=19$m=65536,t=1,p=4$c2FsdDI$aGFzaDI"},
	}, got)
}

func TestSecretsHolderFallsBackToEnvironment(t *testing.T) {
	cfg := Config{Webhooks: WebhookConfig{
		StripeSecret:             "whsec_env",
		StripeSignatureTolerance: time.Minute,
		RazorpaySecret:           "rzp_env",
	}}

	holder := NewStaticSecretsHolder(defaultWebhookSecrets(cfg.Webhooks))
	secrets := holder.Get()
	assert.Equal(t, "whsec_env", secrets.Stripe.WebhookSecret)
	assert.Equal(t, time.Minute, secrets.Stripe.Tolerance)
	assert.Equal(t, "rzp_env", secrets.AdapterConfig("razorpay")["webhook_secret"])
	assert.Nil(t, secrets.AdapterConfig("unknown"))
}

func TestSecretsHolderReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhooks.yml")
	content := []byte(`webhooks:
  stripe:
    webhook_secret: whsec_file
    tolerance: 2m
  paypal:
    webhook_id: WH-123
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg := Config{Webhooks: WebhookConfig{
		SecretsFile:          path,
		StripeSecret:         "whsec_env",
		RazorpaySecret:       "rzp_env",
		PaypalCertHostSuffix: ".paypal.com",
	}}

	holder, err := NewSecretsHolder(cfg, zap.NewNop())
	require.NoError(t, err)

	secrets := holder.Get()
	assert.Equal(t, "whsec_file", secrets.Stripe.WebhookSecret)
	assert.Equal(t, 2*time.Minute, secrets.Stripe.Tolerance)
	assert.Equal(t, "rzp_env", secrets.Razorpay.WebhookSecret)
	assert.Equal(t, "WH-123", secrets.Paypal.WebhookID)
	assert.Equal(t, ".paypal.com", secrets.Paypal.CertHostSuffix)
}
