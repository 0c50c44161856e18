// Package docstore is the consistency engine of the document collection.
//
// It owns the persistent state directory and sequences every mutation across
// the three stores derived from it: the blob store (original file bytes), the
// metadata store (authoritative records) and the search index (derived,
// rebuildable). There is no cross-store transaction; each operation defines
// an explicit order of steps and an explicit policy for each step's failure.
//
// The one deliberate trade-off running through Create, SetTag and Delete is
// that search-index writes are advisory: a failed index write is logged and
// swallowed so document CRUD never fails because the search subsystem is
// unhealthy. The resulting index drift is repaired only by Reindex.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtiwari1/docshelf/internal/blobstore"
	"github.com/mtiwari1/docshelf/internal/hasher"
	"github.com/mtiwari1/docshelf/internal/metadata"
	"github.com/mtiwari1/docshelf/internal/registry"
	"github.com/mtiwari1/docshelf/internal/searchindex"
)

// State directory layout. Backup archives mirror it under backupRoot.
const (
	blobDirName  = "docs"
	indexDirName = "index"
	metaFileName = "docs.db"
	tagsFileName = "tags.json"
	backupRoot   = "data"
)

var (
	// ErrNotFound is returned when the document id has no metadata record.
	ErrNotFound = metadata.ErrNotFound

	// ErrUnsupportedType rejects uploads with an extension outside the allow-list.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrTooLarge rejects uploads exceeding the configured size ceiling.
	ErrTooLarge = errors.New("file too large")

	// ErrEmptyFilename rejects uploads without a usable filename.
	ErrEmptyFilename = errors.New("filename required")

	// ErrBlobMissing is returned when a document has a metadata record but no
	// blob on disk. The record is left intact; only retrieval fails.
	ErrBlobMissing = errors.New("stored file missing")

	// ErrBadArchive rejects restore archives containing entries outside the
	// expected top-level root.
	ErrBadArchive = errors.New("invalid backup archive")
)

// Store orchestrates the blob store, metadata store, search index and tag
// registry under one state directory.
//
// Locking: ordinary operations (create, tag update, delete, reads, backup)
// share-lock mu and rely on each store's own row or writer serialization.
// Reindex and Restore take mu exclusively: an interleaved create or delete
// during clear-then-rewrite-all could be dropped or resurrected, and Restore
// replaces the entire persistent layout.
type Store struct {
	dataDir  string
	maxBytes int64
	allowed  map[string]bool
	logger   *slog.Logger

	mu    sync.RWMutex
	blobs *blobstore.Store
	meta  metadata.Store
	index *searchindex.Index
	tags  *registry.Registry
}

// Open creates the state directory layout if needed and opens all stores.
// allowedExts are lowercase extensions with the leading dot; maxBytes is the
// per-file upload ceiling.
func Open(dataDir string, maxBytes int64, allowedExts []string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[string]bool, len(allowedExts))
	for _, ext := range allowedExts {
		allowed[strings.ToLower(ext)] = true
	}

	s := &Store{
		dataDir:  filepath.Clean(dataDir),
		maxBytes: maxBytes,
		allowed:  allowed,
		logger:   logger,
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	if err := s.openStores(); err != nil {
		return nil, err
	}
	return s, nil
}

// openStores opens every store under the current state directory. Called at
// startup and again after a restore swaps the directory.
func (s *Store) openStores() error {
	blobs, err := blobstore.New(filepath.Join(s.dataDir, blobDirName))
	if err != nil {
		return err
	}
	meta, err := metadata.NewSQLiteStore(filepath.Join(s.dataDir, metaFileName))
	if err != nil {
		return err
	}
	index, err := searchindex.Open(filepath.Join(s.dataDir, indexDirName))
	if err != nil {
		meta.Close()
		return err
	}
	tags, err := registry.New(filepath.Join(s.dataDir, tagsFileName))
	if err != nil {
		meta.Close()
		index.Close()
		return err
	}

	s.blobs, s.meta, s.index, s.tags = blobs, meta, index, tags
	return nil
}

// closeStores closes the metadata store and search index. Close errors are
// logged; there is nothing useful a caller can do with them mid-restore.
func (s *Store) closeStores() {
	if err := s.meta.Close(); err != nil {
		s.logger.Error("close metadata store", slog.String("error", err.Error()))
	}
	if err := s.index.Close(); err != nil {
		s.logger.Error("close search index", slog.String("error", err.Error()))
	}
}

// Tags returns the tag registry.
func (s *Store) Tags() *registry.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tags
}

// Create stores a new document: validate, write blob, checksum, insert
// metadata, then best-effort index. The blob write and metadata insert are
// fatal; a metadata failure leaves the just-written blob orphaned, which is
// logged and accepted. The index write is advisory.
func (s *Store) Create(ctx context.Context, filename string, data []byte) (*metadata.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if strings.TrimSpace(filename) == "" {
		return nil, ErrEmptyFilename
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !s.allowed[ext] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTooLarge, len(data), s.maxBytes)
	}

	id := uuid.NewString()

	path, err := s.blobs.Put(id, ext, data)
	if err != nil {
		return nil, err
	}

	sha, err := hasher.SHA256File(path)
	if err != nil {
		s.logger.Error("checksum after blob write failed, blob orphaned",
			slog.String("doc_id", id), slog.String("error", err.Error()))
		return nil, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat blob %s: %w", id, err)
	}

	now := time.Now().Unix()
	doc := &metadata.Document{
		ID:        id,
		Filename:  filename,
		Title:     strings.TrimSuffix(filename, filepath.Ext(filename)),
		Ext:       ext,
		Size:      fi.Size(),
		Tag:       "",
		SHA256:    sha,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.meta.Insert(ctx, doc); err != nil {
		s.logger.Error("metadata insert failed, blob orphaned",
			slog.String("doc_id", id), slog.String("path", path), slog.String("error", err.Error()))
		return nil, err
	}

	s.upsertIndex(doc)

	s.logger.Info("document created",
		slog.String("doc_id", id),
		slog.String("filename", filename),
		slog.Int64("size", doc.Size),
	)
	return doc, nil
}

// Get returns the metadata record for id.
func (s *Store) Get(ctx context.Context, id string) (*metadata.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.Get(ctx, id)
}

// List returns all documents, newest update first. A non-empty tag other than
// the "all" sentinel restricts the result to documents carrying exactly that
// tag (case-insensitive).
func (s *Store) List(ctx context.Context, tag string) ([]*metadata.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs, err := s.meta.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	tag = strings.TrimSpace(tag)
	if tag == "" || strings.EqualFold(tag, "all") {
		return docs, nil
	}

	filtered := docs[:0]
	for _, doc := range docs {
		if strings.EqualFold(strings.TrimSpace(doc.Tag), tag) {
			filtered = append(filtered, doc)
		}
	}
	return filtered, nil
}

// OpenBlob returns the record and an open handle on the stored file for
// streaming. A record whose blob is gone yields ErrBlobMissing; the metadata
// stays untouched.
func (s *Store) OpenBlob(ctx context.Context, id string) (*metadata.Document, *os.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.meta.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.blobs.Open(doc.ID, doc.Ext)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, nil, fmt.Errorf("document %s: %w", id, ErrBlobMissing)
		}
		return nil, nil, err
	}
	return doc, f, nil
}

// SetTag assigns the single tag of a document and returns the updated record.
// The "all" sentinel (any case) clears the tag. The metadata update is fatal;
// the index write is advisory.
func (s *Store) SetTag(ctx context.Context, id, tag string) (*metadata.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.meta.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	value := normalizeTag(tag)
	if err := s.meta.UpdateTag(ctx, id, value); err != nil {
		return nil, err
	}

	doc.Tag = value
	s.upsertIndex(doc)

	return s.meta.Get(ctx, id)
}

// Delete removes a document. Only the metadata deletion decides the outcome:
// the blob removal (a missing file is tolerated) and the index removal are
// advisory cleanups.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.meta.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.blobs.Delete(doc.ID, doc.Ext); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		s.logger.Warn("blob delete failed, continuing",
			slog.String("doc_id", id), slog.String("error", err.Error()))
	}

	if err := s.meta.Delete(ctx, id); err != nil {
		return err
	}

	if err := s.index.Delete(id); err != nil {
		s.logger.Warn("index delete failed, search may show stale results until reindex",
			slog.String("doc_id", id), slog.String("error", err.Error()))
	}

	s.logger.Info("document deleted", slog.String("doc_id", id))
	return nil
}

// Search returns documents ranked by relevance for the query text, optionally
// restricted to a tag. Index entries whose metadata record has since vanished
// (index drift) are silently skipped.
func (s *Store) Search(ctx context.Context, text, tag string, limit int) ([]*metadata.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if strings.EqualFold(strings.TrimSpace(tag), "all") {
		tag = ""
	}
	ids, err := s.index.Query(ctx, text, tag, limit)
	if err != nil {
		return nil, err
	}

	docs := make([]*metadata.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.meta.Get(ctx, id)
		if errors.Is(err, metadata.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Reindex wipes the search index and rebuilds one entry per metadata record.
// This is the sole repair mechanism for index drift, so unlike the advisory
// writes elsewhere, every failure here is surfaced. Runs exclusively: no
// create or delete may interleave with the clear-then-rewrite-all sequence.
// Content is not re-extracted; entries are rebuilt with an empty content
// field, mirroring what Create wrote.
func (s *Store) Reindex(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Reset(); err != nil {
		return 0, err
	}

	docs, err := s.meta.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	for _, doc := range docs {
		if err := s.index.Upsert(indexEntry(doc)); err != nil {
			return 0, err
		}
	}

	s.logger.Info("reindex complete", slog.Int("documents", len(docs)))
	return len(docs), nil
}

// Close releases the underlying stores.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeStores()
	return nil
}

// upsertIndex writes the document into the search index, swallowing failure.
// Callers stay available for browsing and download even when indexing is
// down; the warning is the operator's cue to run Reindex.
func (s *Store) upsertIndex(doc *metadata.Document) {
	if err := s.index.Upsert(indexEntry(doc)); err != nil {
		s.logger.Warn("index upsert failed, search lags until reindex",
			slog.String("doc_id", doc.ID), slog.String("error", err.Error()))
	}
}

// indexEntry projects a metadata record into its index entry. The content
// field is always empty: text extraction is an external collaborator that is
// not invoked at index time.
func indexEntry(doc *metadata.Document) searchindex.Entry {
	return searchindex.Entry{
		ID:       doc.ID,
		Title:    doc.Title,
		Filename: doc.Filename,
		Tag:      doc.Tag,
		Content:  "",
	}
}

// normalizeTag trims the tag and maps the "all" sentinel to the empty string,
// which means untagged.
func normalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if strings.EqualFold(tag, "all") {
		return ""
	}
	return tag
}
