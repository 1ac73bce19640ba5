// Package webhookutil holds helpers shared by the provider adapters.
package webhookutil

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SignHex returns the hex HMAC-SHA256 of message under secret.
func SignHex(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// EqualHex compares two hex signatures in constant time, ignoring case.
func EqualHex(got, want string) bool {
	return hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(got))), []byte(want))
}

// MinorUnits converts an amount in the currency's minor unit to a decimal.
func MinorUnits(amount int64) *decimal.Decimal {
	value := decimal.New(amount, -2)
	return &value
}

// MetadataValue reads key from a loosely typed metadata map as a string.
func MetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	case int64:
		return strconv.FormatInt(cast, 10)
	case int:
		return strconv.Itoa(cast)
	}
	return ""
}

// OrderReference returns the first non-empty order id found under the
// accepted metadata keys.
func OrderReference(metadata map[string]any) string {
	for _, key := range []string{"orderId", "order_id"} {
		if value := MetadataValue(metadata, key); value != "" {
			return value
		}
	}
	return ""
}

func ReadString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	switch cast := value.(type) {
	case string:
		return cast, true
	default:
		return "", false
	}
}

// ReadDuration accepts a time.Duration, a duration string or seconds.
func ReadDuration(config map[string]any, key string) (time.Duration, bool) {
	value, ok := config[key]
	if !ok {
		return 0, false
	}
	switch cast := value.(type) {
	case time.Duration:
		return cast, true
	case string:
		parsed, err := time.ParseDuration(strings.TrimSpace(cast))
		if err != nil {
			return 0, false
		}
		return parsed, true
	case int:
		return time.Duration(cast) * time.Second, true
	case int64:
		return time.Duration(cast) * time.Second, true
	case float64:
		return time.Duration(cast * float64(time.Second)), true
	default:
		return 0, false
	}
}

// UnixTime converts provider seconds, falling back when zero.
func UnixTime(primary, fallback int64, now time.Time) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return now.UTC()
	}
	return time.Unix(value, 0).UTC()
}
