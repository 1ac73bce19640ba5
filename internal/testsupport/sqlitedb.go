// Package testsupport opens in-memory databases carrying the storefront schema
// for package tests.
package testsupport

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

var schema = []string{
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		subtotal NUMERIC NOT NULL DEFAULT 0,
		tax NUMERIC NOT NULL DEFAULT 0,
		shipping NUMERIC NOT NULL DEFAULT 0,
		total NUMERIC NOT NULL DEFAULT 0,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		payment_id TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payment_event_ledger (
		id INTEGER PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		provider_event_type TEXT NOT NULL,
		event_kind TEXT NOT NULL,
		order_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		resulting_payment_status TEXT NOT NULL,
		resulting_status TEXT NOT NULL,
		payload TEXT,
		applied_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_payment_event_ledger_provider_event ON payment_event_ledger (provider, provider_event_id)`,
	`CREATE TABLE order_payment_events (
		id INTEGER PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		order_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at DATETIME NOT NULL,
		sent_at DATETIME
	)`,
}

// NewDB opens a private in-memory SQLite database with the storefront schema.
// The pool is capped at one connection so concurrent transactions serialize
// instead of failing with SQLITE_BUSY.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:storefront_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	return db
}

// AssertCount fails the test when query does not return want.
func AssertCount(t testing.TB, db *gorm.DB, query string, want int64, args ...any) {
	t.Helper()

	var got int64
	if err := db.Raw(query, args...).Scan(&got).Error; err != nil {
		t.Fatalf("count query: %v", err)
	}
	if got != want {
		t.Fatalf("expected %d rows for %q, got %d", want, query, got)
	}
}
