package database

import (
	"path/filepath"
	"testing"

	"github.com/driftnote-app/driftnote/backend/internal/docs"
	"gorm.io/gorm"
)

func TestOpenSQLiteInitializesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driftnote_test.db")

	db, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	closeDatabase(t, db)

	// Reopening the same file is idempotent: migrations do not reapply.
	db, err = OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("unexpected reopen error: %v", err)
	}
	defer closeDatabase(t, db)

	var applied int64
	if err := db.Model(&migrationRecord{}).Count(&applied).Error; err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected one applied migration, got %d", applied)
	}
}

func TestBackfillInitialSnapshots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driftnote_test.db")
	db, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	defer closeDatabase(t, db)

	// A pre-versioning document: no snapshot rows at all.
	legacy := docs.Document{
		DocumentID:       "legacy-1",
		OwnerID:          "user-1",
		Title:            "Old",
		Body:             "content",
		CreatedAtSeconds: 1600000000,
		UpdatedAtSeconds: 1600000000,
	}
	if err := db.Create(&legacy).Error; err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}
	covered := docs.Document{
		DocumentID:       "covered-1",
		OwnerID:          "user-1",
		Title:            "New",
		Body:             "content",
		CreatedAtSeconds: 1600000001,
		UpdatedAtSeconds: 1600000001,
	}
	if err := db.Create(&covered).Error; err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}
	if err := db.Create(&docs.VersionSnapshot{
		SnapshotID:       "snap-1",
		DocumentID:       "covered-1",
		Title:            "New",
		Body:             "content",
		CreatedAtSeconds: 1600000001,
	}).Error; err != nil {
		t.Fatalf("failed to seed snapshot: %v", err)
	}

	if err := backfillInitialSnapshots(db); err != nil {
		t.Fatalf("unexpected backfill error: %v", err)
	}

	var legacySnapshots []docs.VersionSnapshot
	if err := db.Where("document_id = ?", "legacy-1").Find(&legacySnapshots).Error; err != nil {
		t.Fatalf("failed to load snapshots: %v", err)
	}
	if len(legacySnapshots) != 1 {
		t.Fatalf("expected one backfilled snapshot, got %d", len(legacySnapshots))
	}
	if legacySnapshots[0].Title != "Old" || legacySnapshots[0].CreatedAtSeconds != 1600000000 {
		t.Fatalf("backfilled snapshot must mirror the document, got %+v", legacySnapshots[0])
	}

	var coveredCount int64
	if err := db.Model(&docs.VersionSnapshot{}).Where("document_id = ?", "covered-1").Count(&coveredCount).Error; err != nil {
		t.Fatalf("failed to count snapshots: %v", err)
	}
	if coveredCount != 1 {
		t.Fatalf("documents with history must be left alone, got %d", coveredCount)
	}
}

func closeDatabase(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database handle: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("failed to close database: %v", err)
	}
}
