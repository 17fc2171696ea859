package docs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultMaxVersions is the retention cap applied when the configuration does
// not override it.
const DefaultMaxVersions = 1000

var (
	errMissingDatabase     = errors.New("database handle is required")
	errMissingIDProvider   = errors.New("id provider is required")
	errMissingVersionStore = errors.New("version store is required")
	noOpLogger             = zap.NewNop()
)

const (
	opRepositoryNew  = "docs.repository.new"
	opCreate         = "docs.create"
	opUpdate         = "docs.update"
	opSoftDelete     = "docs.soft_delete"
	opRestore        = "docs.restore"
	opRestoreVersion = "docs.restore_from_version"
	opHardDestroy    = "docs.hard_destroy"
	opGet            = "docs.get"
	opListOwned      = "docs.list_owned"
	opListDeleted    = "docs.list_deleted"
)

// ChangePublisher receives the post-commit content of every live mutation.
type ChangePublisher interface {
	Publish(documentID, title, body string)
}

type noOpPublisher struct{}

func (noOpPublisher) Publish(string, string, string) {}

// RepositoryConfig describes the dependencies of a Repository.
type RepositoryConfig struct {
	Database    *gorm.DB
	Versions    *VersionStore
	Clock       func() time.Time
	IDProvider  IDProvider
	Publisher   ChangePublisher
	Logger      *zap.Logger
	MaxVersions int
}

// Repository owns the document lifecycle: create, update with
// snapshot-before-overwrite, soft delete, restore, and hard destroy.
// Writes to the same document id are serialized; distinct ids proceed
// concurrently.
type Repository struct {
	db          *gorm.DB
	versions    *VersionStore
	clock       func() time.Time
	idProvider  IDProvider
	publisher   ChangePublisher
	logger      *zap.Logger
	maxVersions int
	locks       lockRing
}

// NewRepository validates the configuration and constructs a Repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Database == nil {
		return nil, newRepositoryError(opRepositoryNew, "missing_database", errMissingDatabase)
	}
	if cfg.Versions == nil {
		return nil, newRepositoryError(opRepositoryNew, "missing_version_store", errMissingVersionStore)
	}
	if cfg.IDProvider == nil {
		return nil, newRepositoryError(opRepositoryNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = noOpPublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	maxVersions := cfg.MaxVersions
	if maxVersions <= 0 {
		maxVersions = DefaultMaxVersions
	}
	return &Repository{
		db:          cfg.Database,
		versions:    cfg.Versions,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		publisher:   publisher,
		logger:      logger,
		maxVersions: maxVersions,
	}, nil
}

// Create persists a new document and its initial snapshot in one transaction,
// so every document carries at least one version reflecting its creation state.
func (r *Repository) Create(ctx context.Context, ownerID UserID, title, body string) (Document, error) {
	documentID, err := r.idProvider.NewID()
	if err != nil {
		r.logError(opCreate, "id_generation_failed", err, zap.String("owner_id", ownerID.String()))
		return Document{}, newRepositoryError(opCreate, "id_generation_failed", err)
	}
	now := r.clock().UTC().Unix()
	document := Document{
		DocumentID:       documentID,
		OwnerID:          ownerID.String(),
		Title:            title,
		Body:             body,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}

	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&document).Error; err != nil {
			return newRepositoryError(opCreate, "document_insert_failed", err)
		}
		if _, err := r.versions.appendTx(tx, DocumentID(documentID), title, body); err != nil {
			return err
		}
		return nil
	})
	if txErr != nil {
		r.logError(opCreate, "transaction_failed", txErr, zap.String("owner_id", ownerID.String()))
		return Document{}, txErr
	}
	return document, nil
}

// Update applies new content after snapshotting the pre-update state and
// enforcing the retention cap, all inside one transaction serialized per
// document id. Requests that change nothing persist nothing. The new content
// is broadcast only after the transaction commits.
func (r *Repository) Update(ctx context.Context, documentID DocumentID, requesterID UserID, title, body string) (Document, error) {
	mu := r.locks.lock(documentID.String())
	defer mu.Unlock()

	var updated Document
	changed := false
	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		document, err := r.loadOwnedTx(tx, opUpdate, documentID, requesterID)
		if err != nil {
			return err
		}
		if document.Deleted() {
			return newRepositoryError(opUpdate, "document_deleted",
				fmt.Errorf("%w: restore it before editing", ErrDocumentDeleted))
		}
		if document.Title == title && document.Body == body {
			updated = document
			return nil
		}

		if _, err := r.versions.appendTx(tx, documentID, document.Title, document.Body); err != nil {
			return err
		}
		if err := r.versions.enforceRetentionTx(tx, documentID, r.maxVersions); err != nil {
			return err
		}

		document.Title = title
		document.Body = body
		document.UpdatedAtSeconds = r.clock().UTC().Unix()
		if err := tx.Model(&Document{}).
			Where("document_id = ?", documentID.String()).
			Updates(map[string]interface{}{
				"title":        document.Title,
				"body":         document.Body,
				"updated_at_s": document.UpdatedAtSeconds,
			}).Error; err != nil {
			return newRepositoryError(opUpdate, "document_save_failed", err)
		}
		updated = document
		changed = true
		return nil
	})
	if txErr != nil {
		r.logError(opUpdate, "transaction_failed", txErr,
			zap.String("document_id", documentID.String()),
			zap.String("requester_id", requesterID.String()))
		return Document{}, txErr
	}

	if changed {
		r.publisher.Publish(updated.DocumentID, updated.Title, updated.Body)
	}
	return updated, nil
}

// SoftDelete moves the document to the trash by stamping deleted_at. Versions
// are untouched and no broadcast is emitted; deletion is not a live-sync event.
func (r *Repository) SoftDelete(ctx context.Context, documentID DocumentID, requesterID UserID) error {
	mu := r.locks.lock(documentID.String())
	defer mu.Unlock()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := r.loadOwnedTx(tx, opSoftDelete, documentID, requesterID); err != nil {
			return err
		}
		if err := tx.Model(&Document{}).
			Where("document_id = ?", documentID.String()).
			Update("deleted_at_s", r.clock().UTC().Unix()).Error; err != nil {
			return newRepositoryError(opSoftDelete, "document_save_failed", err)
		}
		return nil
	})
}

// Restore clears the deleted_at stamp. Content, updated_at, and version
// history all stay exactly as they were at deletion time.
func (r *Repository) Restore(ctx context.Context, documentID DocumentID, requesterID UserID) (Document, error) {
	mu := r.locks.lock(documentID.String())
	defer mu.Unlock()

	var restored Document
	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		document, err := r.loadOwnedTx(tx, opRestore, documentID, requesterID)
		if err != nil {
			return err
		}
		if err := tx.Model(&Document{}).
			Where("document_id = ?", documentID.String()).
			Update("deleted_at_s", 0).Error; err != nil {
			return newRepositoryError(opRestore, "document_save_failed", err)
		}
		document.DeletedAtSeconds = 0
		restored = document
		return nil
	})
	if txErr != nil {
		return Document{}, txErr
	}
	return restored, nil
}

// RestoreFromVersion overwrites the document's content from the named
// snapshot without recording a new snapshot: the operation is itself a
// recovery action, so the usual snapshot-before-overwrite rule is bypassed.
// The restored content is broadcast after commit.
func (r *Repository) RestoreFromVersion(ctx context.Context, documentID DocumentID, snapshotID string, requesterID UserID) (Document, error) {
	mu := r.locks.lock(documentID.String())
	defer mu.Unlock()

	var restored Document
	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		document, err := r.loadOwnedTx(tx, opRestoreVersion, documentID, requesterID)
		if err != nil {
			return err
		}
		if document.Deleted() {
			return newRepositoryError(opRestoreVersion, "document_deleted",
				fmt.Errorf("%w: restore the note itself before restoring a version", ErrDocumentDeleted))
		}

		var snapshot VersionSnapshot
		err = tx.Where("document_id = ? AND snapshot_id = ?", documentID.String(), snapshotID).
			Take(&snapshot).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newRepositoryError(opRestoreVersion, "snapshot_missing",
				fmt.Errorf("%w: snapshot %s", ErrNotFound, snapshotID))
		}
		if err != nil {
			return newRepositoryError(opRestoreVersion, "snapshot_select_failed", err)
		}

		document.Title = snapshot.Title
		document.Body = snapshot.Body
		document.UpdatedAtSeconds = r.clock().UTC().Unix()
		if err := tx.Model(&Document{}).
			Where("document_id = ?", documentID.String()).
			Updates(map[string]interface{}{
				"title":        document.Title,
				"body":         document.Body,
				"updated_at_s": document.UpdatedAtSeconds,
			}).Error; err != nil {
			return newRepositoryError(opRestoreVersion, "document_save_failed", err)
		}
		restored = document
		return nil
	})
	if txErr != nil {
		r.logError(opRestoreVersion, "transaction_failed", txErr,
			zap.String("document_id", documentID.String()),
			zap.String("snapshot_id", snapshotID))
		return Document{}, txErr
	}

	r.publisher.Publish(restored.DocumentID, restored.Title, restored.Body)
	return restored, nil
}

// HardDestroy permanently removes the document and cascades to every one of
// its snapshots. There is no undo.
func (r *Repository) HardDestroy(ctx context.Context, documentID DocumentID, requesterID UserID) error {
	mu := r.locks.lock(documentID.String())
	defer mu.Unlock()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := r.loadOwnedTx(tx, opHardDestroy, documentID, requesterID); err != nil {
			return err
		}
		if err := r.versions.deleteAllTx(tx, documentID); err != nil {
			return err
		}
		if err := tx.
			Where("document_id = ?", documentID.String()).
			Delete(&Document{}).Error; err != nil {
			return newRepositoryError(opHardDestroy, "document_delete_failed", err)
		}
		return nil
	})
}

// Get fetches a single owned document. Soft-deleted documents are reported as
// ErrNotFound unless includeDeleted is set; the flag is always explicit, never
// an ambient query scope.
func (r *Repository) Get(ctx context.Context, documentID DocumentID, requesterID UserID, includeDeleted bool) (Document, error) {
	var document Document
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID.String()).
		Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, newRepositoryError(opGet, "document_missing",
			fmt.Errorf("%w: document %s", ErrNotFound, documentID.String()))
	}
	if err != nil {
		r.logError(opGet, "query_failed", err, zap.String("document_id", documentID.String()))
		return Document{}, newRepositoryError(opGet, "query_failed", err)
	}
	if document.OwnerID != requesterID.String() {
		return Document{}, newRepositoryError(opGet, "not_owner", ErrPermissionDenied)
	}
	if document.Deleted() && !includeDeleted {
		return Document{}, newRepositoryError(opGet, "document_missing",
			fmt.Errorf("%w: document %s", ErrNotFound, documentID.String()))
	}
	return document, nil
}

// ListOwned returns the owner's live documents, most recently updated first.
func (r *Repository) ListOwned(ctx context.Context, ownerID UserID) ([]Document, error) {
	var documents []Document
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND deleted_at_s = 0", ownerID.String()).
		Order("updated_at_s DESC").
		Find(&documents).Error; err != nil {
		r.logError(opListOwned, "query_failed", err, zap.String("owner_id", ownerID.String()))
		return nil, newRepositoryError(opListOwned, "query_failed", err)
	}
	return documents, nil
}

// ListDeleted returns one page of the owner's trashed documents, most
// recently deleted first.
func (r *Repository) ListDeleted(ctx context.Context, ownerID UserID, offset, limit int) ([]Document, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultVersionPageSize
	}
	if limit > MaxVersionPageSize {
		limit = MaxVersionPageSize
	}
	var documents []Document
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND deleted_at_s > 0", ownerID.String()).
		Order("deleted_at_s DESC").
		Offset(offset).
		Limit(limit).
		Find(&documents).Error; err != nil {
		r.logError(opListDeleted, "query_failed", err, zap.String("owner_id", ownerID.String()))
		return nil, newRepositoryError(opListDeleted, "query_failed", err)
	}
	return documents, nil
}

// loadOwnedTx loads the document row regardless of deleted state and checks
// ownership. Non-owners get ErrPermissionDenied without learning anything
// further about the row.
func (r *Repository) loadOwnedTx(tx *gorm.DB, operation string, documentID DocumentID, requesterID UserID) (Document, error) {
	var document Document
	err := tx.Where("document_id = ?", documentID.String()).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, newRepositoryError(operation, "document_missing",
			fmt.Errorf("%w: document %s", ErrNotFound, documentID.String()))
	}
	if err != nil {
		return Document{}, newRepositoryError(operation, "document_select_failed", err)
	}
	if document.OwnerID != requesterID.String() {
		return Document{}, newRepositoryError(operation, "not_owner", ErrPermissionDenied)
	}
	return document, nil
}

func (r *Repository) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	r.logger.Error("document repository error", attrs...)
}
