package db

import (
	"context"
	"testing"
)

const poolTestPrefix = "db:pool_test"

func TestNewPool_RejectsUnparsableURL(t *testing.T) {
	for _, raw := range []string{"invalid://not-a-valid-database-url", "postgres://localhost:notaport/db"} {
		pool, err := NewPool(context.Background(), raw)
		if err == nil {
			pool.Close()
			t.Fatalf("%s - NewPool(%q) expected error", poolTestPrefix, raw)
		}
		if pool != nil {
			t.Errorf("%s - NewPool(%q) returned a pool with an error", poolTestPrefix, raw)
		}
	}
}

func TestMigrationDown_IsForwardOnly(t *testing.T) {
	if err := MigrationDown(context.Background(), nil, ""); err != nil {
		t.Errorf("%s - MigrationDown = %v, want nil", poolTestPrefix, err)
	}
}

func TestMigrationSource(t *testing.T) {
	if got := migrationSource(""); got != "embedded set" {
		t.Errorf("%s - migrationSource(\"\") = %q", poolTestPrefix, got)
	}
	if got := migrationSource("/srv/migrations"); got != "/srv/migrations" {
		t.Errorf("%s - migrationSource(dir) = %q", poolTestPrefix, got)
	}
}

func TestSchemaTables_MatchCollaborators(t *testing.T) {
	want := map[string]bool{"users": true, "menu_items": true, "orders": true, "app_settings": true}
	if len(SchemaTables) != len(want) {
		t.Fatalf("%s - SchemaTables = %v", poolTestPrefix, SchemaTables)
	}
	for _, table := range SchemaTables {
		if !want[table] {
			t.Errorf("%s - unexpected schema table %q", poolTestPrefix, table)
		}
	}
}
