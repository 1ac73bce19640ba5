package webhookutil

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestMinorUnits(t *testing.T) {
	got := MinorUnits(12345)
	if !got.Equal(decimal.RequireFromString("123.45")) {
		t.Fatalf("expected 123.45, got %s", got)
	}
}

func TestOrderReference(t *testing.T) {
	cases := []struct {
		name     string
		metadata map[string]any
		want     string
	}{
		{name: "camel", metadata: map[string]any{"orderId": " ord_1 "}, want: "ord_1"},
		{name: "snake", metadata: map[string]any{"order_id": "ord_2"}, want: "ord_2"},
		{name: "camel wins", metadata: map[string]any{"orderId": "a", "order_id": "b"}, want: "a"},
		{name: "number", metadata: map[string]any{"order_id": json.Number("42")}, want: "42"},
		{name: "missing", metadata: map[string]any{"customer": "c"}, want: ""},
		{name: "nil", metadata: nil, want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := OrderReference(tc.metadata); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestReadDuration(t *testing.T) {
	cfg := map[string]any{
		"a": 2 * time.Minute,
		"b": "90s",
		"c": 30,
		"d": "nope",
	}
	if got, ok := ReadDuration(cfg, "a"); !ok || got != 2*time.Minute {
		t.Fatalf("unexpected a: %v %v", got, ok)
	}
	if got, ok := ReadDuration(cfg, "b"); !ok || got != 90*time.Second {
		t.Fatalf("unexpected b: %v %v", got, ok)
	}
	if got, ok := ReadDuration(cfg, "c"); !ok || got != 30*time.Second {
		t.Fatalf("unexpected c: %v %v", got, ok)
	}
	if _, ok := ReadDuration(cfg, "d"); ok {
		t.Fatalf("expected d to be rejected")
	}
}

func TestEqualHex(t *testing.T) {
	sig := SignHex("secret", []byte("body"))
	if !EqualHex(sig, sig) {
		t.Fatalf("expected equal")
	}
	if !EqualHex(strings.ToUpper(sig), sig) {
		t.Fatalf("expected case-insensitive match")
	}
	if EqualHex(SignHex("other", []byte("body")), sig) {
		t.Fatalf("expected mismatch")
	}
}
