// Package metadata is the authoritative record store for document attributes.
package metadata

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no record exists for the given document id.
var ErrNotFound = errors.New("document not found")

// Document is the authoritative metadata record for one managed file.
// The blob on disk and the search index entry are both derived from it.
type Document struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	Title     string `json:"title"`
	Ext       string `json:"ext"`
	Size      int64  `json:"size"`
	Tag       string `json:"tag"`
	SHA256    string `json:"sha256"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Store is a small, focused interface for document metadata persistence.
// Implementations must honour the supplied context for cancellation and
// timeouts. All operations are single-row and auto-committed.
type Store interface {
	// Insert creates a new document record.
	Insert(ctx context.Context, doc *Document) error

	// UpdateTag sets the tag of a document and advances updated_at.
	// Returns ErrNotFound if the id is unknown.
	UpdateTag(ctx context.Context, id, tag string) error

	// Delete removes a document record. Returns ErrNotFound if the id is unknown.
	Delete(ctx context.Context, id string) error

	// Get retrieves a record by id. Returns ErrNotFound if the id is unknown.
	Get(ctx context.Context, id string) (*Document, error)

	// ListAll retrieves all records ordered by updated_at descending.
	ListAll(ctx context.Context) ([]*Document, error)

	// Close releases underlying resources.
	Close() error
}
