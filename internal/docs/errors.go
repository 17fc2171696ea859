package docs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the referenced document or snapshot does not exist,
	// or the snapshot does not belong to the given document.
	ErrNotFound = errors.New("docs: not found")
	// ErrPermissionDenied indicates the requester does not own the document.
	ErrPermissionDenied = errors.New("docs: permission denied")
	// ErrDocumentDeleted indicates the operation is disallowed while the
	// document is soft-deleted; restoring the document first recovers.
	ErrDocumentDeleted = errors.New("docs: document is deleted")
)

// RepositoryError wraps a failure with a dotted operation code for logs and
// callers that switch on failure class via errors.Is.
type RepositoryError struct {
	code string
	err  error
}

func (e *RepositoryError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *RepositoryError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation.reason identifier.
func (e *RepositoryError) Code() string {
	return e.code
}

func newRepositoryError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &RepositoryError{code: code, err: cause}
}
