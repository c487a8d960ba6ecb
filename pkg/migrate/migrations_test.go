package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := fs.Glob(EmbeddedFS(), "*_"+suffix+".sql")
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one %s migration, got %v", suffix, matches)
	}
	data, err := fs.ReadFile(EmbeddedFS(), matches[0])
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks ...string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	if err := ValidateFS(EmbeddedFS()); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
	if err := ValidateDir("migrations"); err != nil {
		t.Fatalf("on-disk migrations invalid: %v", err)
	}
}

func TestItemsMigrationEnforcesCatalogKey(t *testing.T) {
	assertContains(t, readMigration(t, "create_items"),
		"CREATE TABLE IF NOT EXISTS items",
		"CONSTRAINT items_business_code_key UNIQUE (business_id, code)",
		"CHECK (price >= 0)",
		"DROP TABLE IF EXISTS items",
	)
}

func TestPromotionsMigrationChecksMechanismParameters(t *testing.T) {
	assertContains(t, readMigration(t, "create_promotions"),
		"CHECK (type IN ('PERCENT', 'SUBTRACT'))",
		"discount >= 0 AND discount <= 100",
		"base_amount > 0 AND add_amount > 0",
		"CHECK (end_at >= start_at)",
		"DROP TABLE IF EXISTS promotion_details",
	)
}

func TestStatusEventsMigrationTiesCanceledToPaymentFailed(t *testing.T) {
	assertContains(t, readMigration(t, "create_order_status_events"),
		"id bigserial PRIMARY KEY",
		"CHECK (canceled = (status = 6))",
		"(order_id, created_at DESC, id DESC)",
	)
}

func TestOrdersMigrationCarriesCostVersion(t *testing.T) {
	assertContains(t, readMigration(t, "create_orders"),
		"CREATE TABLE IF NOT EXISTS order_costs",
		"version bigint NOT NULL DEFAULT 0",
		"extra jsonb NOT NULL DEFAULT '{}'::jsonb",
	)
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 2, 10, 11, 12, 0, time.UTC)

	path, err := createSQLMigration(dir, "  Add Item Tags! ", now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if filepath.Base(path) != "20260302101112_add_item_tags.sql" {
		t.Fatalf("unexpected filename %s", filepath.Base(path))
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
	if _, err := createSQLMigration(dir, "add item tags", now); err == nil {
		t.Fatal("expected duplicate file error")
	}
	if _, err := createSQLMigration(dir, "!!!", now); err == nil {
		t.Fatal("expected empty name error")
	}
}

func TestValidateDirRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_init.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ValidateDir(dir); err == nil {
		t.Fatal("expected bad filename error")
	}

	dir = t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "20260101000000_init.sql"), []byte("-- +goose Up\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ValidateDir(dir); err == nil || !strings.Contains(err.Error(), "goose Down") {
		t.Fatalf("expected missing down header, got %v", err)
	}
}
