// Package dbtest opens isolated in-memory sqlite databases carrying the
// marketplace schema for repository tests.
package dbtest

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var seq atomic.Int64

var schema = []string{
	`CREATE TABLE businesses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE items (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		code TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		price NUMERIC NOT NULL,
		amount NUMERIC NOT NULL,
		visible BOOLEAN NOT NULL DEFAULT 1,
		barcode TEXT,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (business_id, code)
	)`,
	`CREATE TABLE promotions (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		visible BOOLEAN NOT NULL DEFAULT 0,
		start_at DATETIME NOT NULL,
		end_at DATETIME NOT NULL,
		name TEXT NOT NULL,
		internal_name TEXT NOT NULL DEFAULT '',
		created_at DATETIME
	)`,
	`CREATE TABLE promotion_details (
		id TEXT PRIMARY KEY,
		promotion_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		type TEXT NOT NULL,
		discount NUMERIC,
		base_amount NUMERIC,
		add_amount NUMERIC,
		created_at DATETIME
	)`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		delivery_type TEXT NOT NULL DEFAULT 'courier',
		delivery_date DATETIME,
		address_id TEXT,
		delivery_price NUMERIC NOT NULL,
		bonus_used NUMERIC NOT NULL,
		payment_hold_ref TEXT,
		payment_hold_amount NUMERIC,
		extra TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE order_line_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		quantity NUMERIC NOT NULL,
		unit_price NUMERIC NOT NULL,
		relation_id TEXT
	)`,
	`CREATE TABLE order_costs (
		order_id TEXT PRIMARY KEY,
		subtotal NUMERIC NOT NULL,
		service_fee NUMERIC NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME
	)`,
	`CREATE TABLE order_status_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		status INTEGER NOT NULL,
		canceled BOOLEAN NOT NULL DEFAULT 0,
		actor_id TEXT,
		actor_role TEXT NOT NULL DEFAULT 'system',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
}

// Open returns a fresh database with every table created. Each call gets its
// own shared-cache name so tests never see each other's rows.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=0", name, seq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.New(log.New(io.Discard, "", 0), gormlogger.Config{LogLevel: gormlogger.Silent}),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	// keep the in-memory database alive for the whole test
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetConnMaxLifetime(0)
	for _, ddl := range schema {
		if err := conn.Exec(ddl).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// Seed inserts each record, failing the test on the first error.
func Seed(t testing.TB, conn *gorm.DB, records ...any) {
	t.Helper()
	for _, r := range records {
		if err := conn.Create(r).Error; err != nil {
			t.Fatalf("seed %T: %v", r, err)
		}
	}
}
