package db

import (
	"path/filepath"
	"testing"
)

func TestMigrateUp_Version(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version == 0 || dirty {
		t.Errorf("expected clean migrated schema, got version %d dirty=%v", version, dirty)
	}

	// Up again is a no-op.
	if err := db.MigrateUp(); err != nil {
		t.Errorf("repeated MigrateUp should be a no-op, got %v", err)
	}
}

func TestMigrateBaseline(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	if err := db.MigrateBaseline(1); err != nil {
		t.Fatalf("MigrateBaseline failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("expected clean version 1, got %d dirty=%v", version, dirty)
	}

	if err := db.MigrateBaseline(2); err == nil {
		t.Error("baseline over an existing migration history should fail")
	}
}

func TestMigrateBaseline_RefusesMigratedDB(t *testing.T) {
	db := setupTestDB(t)

	if err := db.MigrateBaseline(1); err == nil {
		t.Error("baseline on a fully migrated database should fail")
	}
}
