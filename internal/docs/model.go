package docs

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidDocumentID indicates that a document identifier is empty or exceeds storage bounds.
	ErrInvalidDocumentID = errors.New("docs: invalid document id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("docs: invalid user id")
)

// DocumentID represents a validated document identifier.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(rawInput string) (DocumentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocumentID, maxIdentifierLength)
	}
	return DocumentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DocumentID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Document models a persisted note-style document with soft-delete metadata.
// DeletedAtSeconds of zero means the document is live; any positive value is
// the unix time at which it was moved to the trash.
type Document struct {
	DocumentID       string `gorm:"column:document_id;primaryKey;size:190;not null"`
	OwnerID          string `gorm:"column:owner_id;size:190;not null;index:idx_documents_owner_updated,priority:1"`
	Title            string `gorm:"column:title;type:text;not null"`
	Body             string `gorm:"column:body;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;index:idx_documents_owner_updated,priority:2"`
	DeletedAtSeconds int64  `gorm:"column:deleted_at_s;not null;default:0;index:idx_documents_owner_deleted"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// Deleted reports whether the document is currently soft-deleted.
func (d Document) Deleted() bool {
	return d.DeletedAtSeconds > 0
}

// VersionSnapshot is an immutable copy of a document's content taken before
// a mutation overwrote it. Rows are append-only; ordering is newest first by
// creation time. Snapshot ids are UUIDv7, so ordering by id breaks same-second
// ties in insertion order.
type VersionSnapshot struct {
	SnapshotID       string `gorm:"column:snapshot_id;primaryKey;size:190;not null"`
	DocumentID       string `gorm:"column:document_id;size:190;not null;index:idx_snapshots_document_created,priority:1"`
	Title            string `gorm:"column:title;type:text;not null"`
	Body             string `gorm:"column:body;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_snapshots_document_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (VersionSnapshot) TableName() string {
	return "document_versions"
}
