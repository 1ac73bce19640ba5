package config

import (
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPPort    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Webhooks  WebhookConfig
	Reconcile ReconcileConfig
	Outbox    OutboxConfig
	RateLimit RateLimitConfig

	// AdminTokens maps bearer tokens to authorization roles.
	AdminTokens map[string]string
	// AdminTokenHashes holds Argon2id hashed tokens, so the plain value
	// never has to live in the environment.
	AdminTokenHashes []AdminTokenHash
}

type AdminTokenHash struct {
	Role string
	Hash string
}

// WebhookConfig carries per-provider webhook secrets. Values are never logged.
type WebhookConfig struct {
	SecretsFile string

	StripeSecret             string
	StripeSignatureTolerance time.Duration
	RazorpaySecret           string
	PaypalWebhookID          string
	PaypalCertHostSuffix     string

	MaxBodyBytes int64
}

type ReconcileConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type OutboxConfig struct {
	KafkaBrokers []string
	Topic        string
	PollInterval time.Duration
	BatchSize    int
}

func (c OutboxConfig) Enabled() bool {
	return len(c.KafkaBrokers) > 0
}

type RateLimitConfig struct {
	RedisURL string
	Rate     float64
	Burst    int
}

func (c RateLimitConfig) Enabled() bool {
	return strings.TrimSpace(c.RedisURL) != ""
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "storefront"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPPort:          getenv("HTTP_PORT", "8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "storefront"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Webhooks: WebhookConfig{
			SecretsFile:              strings.TrimSpace(getenv("WEBHOOK_SECRETS_FILE", "")),
			StripeSecret:             strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			StripeSignatureTolerance: getenvDuration("STRIPE_SIGNATURE_TOLERANCE", 5*time.Minute),
			RazorpaySecret:           strings.TrimSpace(getenv("RAZORPAY_WEBHOOK_SECRET", "")),
			PaypalWebhookID:          strings.TrimSpace(getenv("PAYPAL_WEBHOOK_ID", "")),
			PaypalCertHostSuffix:     strings.TrimSpace(getenv("PAYPAL_CERT_HOST_SUFFIX", ".paypal.com")),
			MaxBodyBytes:             int64(getenvInt("WEBHOOK_MAX_BODY_BYTES", 1<<20)),
		},
		Reconcile: ReconcileConfig{
			MaxAttempts:     getenvInt("RECONCILE_MAX_ATTEMPTS", 3),
			InitialInterval: getenvDuration("RECONCILE_RETRY_INITIAL_INTERVAL", 50*time.Millisecond),
			MaxInterval:     getenvDuration("RECONCILE_RETRY_MAX_INTERVAL", 500*time.Millisecond),
		},
		Outbox: OutboxConfig{
			KafkaBrokers: parseList(getenv("KAFKA_BROKERS", "")),
			Topic:        getenv("KAFKA_ORDER_EVENTS_TOPIC", "storefront.order-payment-events"),
			PollInterval: getenvDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
			BatchSize:    getenvInt("OUTBOX_BATCH_SIZE", 50),
		},
		RateLimit: RateLimitConfig{
			RedisURL: strings.TrimSpace(getenv("REDIS_URL", "")),
			Rate:     getenvFloat("WEBHOOK_RATE_LIMIT_RPS", 50),
			Burst:    getenvInt("WEBHOOK_RATE_LIMIT_BURST", 100),
		},
		AdminTokens:      parseTokenRoles(getenv("ADMIN_TOKENS", "")),
		AdminTokenHashes: parseTokenHashes(getenv("ADMIN_TOKEN_HASHES", "")),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// parseTokenRoles parses "token:role,token2:role2".
// parseTokenHashes reads "role:hash" pairs separated by semicolons or
// whitespace. Encoded hashes contain commas, so parseList cannot split them.
func parseTokenHashes(raw string) []AdminTokenHash {
	var out []AdminTokenHash
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ';' || unicode.IsSpace(r)
	})
	for _, field := range fields {
		role, hash, ok := strings.Cut(field, ":")
		role = strings.ToLower(strings.TrimSpace(role))
		hash = strings.TrimSpace(hash)
		if !ok || role == "" || hash == "" {
			continue
		}
		out = append(out, AdminTokenHash{Role: role, Hash: hash})
	}
	return out
}

func parseTokenRoles(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range parseList(raw) {
		token, role, ok := strings.Cut(pair, ":")
		token = strings.TrimSpace(token)
		role = strings.ToLower(strings.TrimSpace(role))
		if !ok || token == "" || role == "" {
			continue
		}
		out[token] = role
	}
	return out
}
