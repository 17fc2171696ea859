package docs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opVersionStoreNew = "versions.store.new"
	opVersionAppend   = "versions.append"
	opVersionRetain   = "versions.enforce_retention"
	opVersionList     = "versions.list"
	opVersionGet      = "versions.get"
)

// DefaultVersionPageSize bounds a version listing page when the caller does
// not ask for a specific limit.
const DefaultVersionPageSize = 50

// MaxVersionPageSize clamps oversized page requests.
const MaxVersionPageSize = 200

// IDProvider issues unique identifiers for new rows.
type IDProvider interface {
	NewID() (string, error)
}

// VersionStoreConfig describes the dependencies of a VersionStore.
type VersionStoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// VersionStore keeps the append-only, size-bounded snapshot history for each
// document.
type VersionStore struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewVersionStore validates the configuration and constructs a VersionStore.
func NewVersionStore(cfg VersionStoreConfig) (*VersionStore, error) {
	if cfg.Database == nil {
		return nil, newRepositoryError(opVersionStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newRepositoryError(opVersionStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &VersionStore{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Append records an immutable snapshot of the given content, ordered after
// every existing snapshot for the document. It fails with ErrNotFound when the
// document row does not exist.
func (s *VersionStore) Append(ctx context.Context, documentID DocumentID, title, body string) (string, error) {
	var snapshotID string
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		snapshotID, err = s.appendTx(tx, documentID, title, body)
		return err
	})
	if txErr != nil {
		return "", txErr
	}
	return snapshotID, nil
}

func (s *VersionStore) appendTx(tx *gorm.DB, documentID DocumentID, title, body string) (string, error) {
	var count int64
	if err := tx.Model(&Document{}).
		Where("document_id = ?", documentID.String()).
		Count(&count).Error; err != nil {
		return "", newRepositoryError(opVersionAppend, "document_select_failed", err)
	}
	if count == 0 {
		return "", newRepositoryError(opVersionAppend, "document_missing",
			fmt.Errorf("%w: document %s", ErrNotFound, documentID.String()))
	}

	snapshotID, err := s.idProvider.NewID()
	if err != nil {
		return "", newRepositoryError(opVersionAppend, "id_generation_failed", err)
	}
	snapshot := VersionSnapshot{
		SnapshotID:       snapshotID,
		DocumentID:       documentID.String(),
		Title:            title,
		Body:             body,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := tx.Create(&snapshot).Error; err != nil {
		return "", newRepositoryError(opVersionAppend, "snapshot_insert_failed", err)
	}
	return snapshotID, nil
}

// EnforceRetentionCap deletes the oldest surplus snapshots so that at most
// maxCount remain for the document. Running it inside the same transaction as
// the triggering append keeps the cap exact under concurrent writers.
func (s *VersionStore) EnforceRetentionCap(ctx context.Context, documentID DocumentID, maxCount int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.enforceRetentionTx(tx, documentID, maxCount)
	})
}

func (s *VersionStore) enforceRetentionTx(tx *gorm.DB, documentID DocumentID, maxCount int) error {
	if maxCount < 0 {
		maxCount = 0
	}
	retained := tx.Model(&VersionSnapshot{}).
		Select("snapshot_id").
		Where("document_id = ?", documentID.String()).
		Order("created_at_s DESC, snapshot_id DESC").
		Limit(maxCount)
	if err := tx.
		Where("document_id = ? AND snapshot_id NOT IN (?)", documentID.String(), retained).
		Delete(&VersionSnapshot{}).Error; err != nil {
		return newRepositoryError(opVersionRetain, "surplus_delete_failed", err)
	}
	return nil
}

// List returns one page of snapshots for the document, newest first.
// Limit values outside (0, MaxVersionPageSize] fall back to the defaults.
func (s *VersionStore) List(ctx context.Context, documentID DocumentID, offset, limit int) ([]VersionSnapshot, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultVersionPageSize
	}
	if limit > MaxVersionPageSize {
		limit = MaxVersionPageSize
	}

	var snapshots []VersionSnapshot
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID.String()).
		Order("created_at_s DESC, snapshot_id DESC").
		Offset(offset).
		Limit(limit).
		Find(&snapshots).Error; err != nil {
		s.logError(opVersionList, "query_failed", err, zap.String("document_id", documentID.String()))
		return nil, newRepositoryError(opVersionList, "query_failed", err)
	}
	return snapshots, nil
}

// Count reports the total number of retained snapshots for the document.
func (s *VersionStore) Count(ctx context.Context, documentID DocumentID) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&VersionSnapshot{}).
		Where("document_id = ?", documentID.String()).
		Count(&count).Error; err != nil {
		return 0, newRepositoryError(opVersionList, "count_failed", err)
	}
	return count, nil
}

// Get loads one snapshot, failing with ErrNotFound when it is absent or
// belongs to a different document.
func (s *VersionStore) Get(ctx context.Context, documentID DocumentID, snapshotID string) (VersionSnapshot, error) {
	var snapshot VersionSnapshot
	err := s.db.WithContext(ctx).
		Where("document_id = ? AND snapshot_id = ?", documentID.String(), snapshotID).
		Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return VersionSnapshot{}, newRepositoryError(opVersionGet, "snapshot_missing",
			fmt.Errorf("%w: snapshot %s", ErrNotFound, snapshotID))
	}
	if err != nil {
		s.logError(opVersionGet, "query_failed", err,
			zap.String("document_id", documentID.String()),
			zap.String("snapshot_id", snapshotID))
		return VersionSnapshot{}, newRepositoryError(opVersionGet, "query_failed", err)
	}
	return snapshot, nil
}

func (s *VersionStore) deleteAllTx(tx *gorm.DB, documentID DocumentID) error {
	if err := tx.
		Where("document_id = ?", documentID.String()).
		Delete(&VersionSnapshot{}).Error; err != nil {
		return newRepositoryError(opVersionRetain, "cascade_delete_failed", err)
	}
	return nil
}

func (s *VersionStore) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("version store error", attrs...)
}
