package database

import (
	"errors"
	"time"

	"github.com/driftnote-app/driftnote/backend/internal/docs"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillInitialSnapshots = "2026-08-14_backfill_initial_snapshots"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillInitialSnapshots, apply: backfillInitialSnapshots},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillInitialSnapshots inserts a creation snapshot for documents that
// predate versioning and therefore have no history at all. Their current
// content stands in for the lost creation state.
func backfillInitialSnapshots(db *gorm.DB) error {
	idProvider := docs.NewUUIDProvider()

	var orphaned []docs.Document
	err := db.
		Where("document_id NOT IN (?)",
			db.Model(&docs.VersionSnapshot{}).Select("document_id")).
		Find(&orphaned).Error
	if err != nil {
		return err
	}

	for _, document := range orphaned {
		snapshotID, err := idProvider.NewID()
		if err != nil {
			return err
		}
		snapshot := docs.VersionSnapshot{
			SnapshotID:       snapshotID,
			DocumentID:       document.DocumentID,
			Title:            document.Title,
			Body:             document.Body,
			CreatedAtSeconds: document.CreatedAtSeconds,
		}
		if err := db.Create(&snapshot).Error; err != nil {
			return err
		}
	}
	return nil
}
