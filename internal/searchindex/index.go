// Package searchindex maintains the derived full-text index over documents.
//
// The index is a persistent bleve index living in its own subdirectory of the
// state directory. It is never authoritative: it can be wiped and rebuilt from
// the metadata store at any time, and every entry is an upsert keyed by the
// document id.
package searchindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Entry is the projection of a document that gets indexed. Content is indexed
// but never stored; it may be empty and usually is.
type Entry struct {
	ID       string
	Title    string
	Filename string
	Tag      string
	Content  string
}

// Index wraps a bleve index with the single-writer discipline the engine
// relies on: mutations are serialized, and Reset swaps the underlying index
// handle under an exclusive lock.
type Index struct {
	path string

	mu  sync.RWMutex // guards idx handle; write-held during Reset
	wmu sync.Mutex   // serializes mutations
	idx bleve.Index
}

// Open opens the index at path, creating it with the document schema if it
// does not exist yet.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	return &Index{path: path, idx: idx}, nil
}

// buildMapping defines the index schema: stemmed text for title, filename and
// content, exact keyword matching for the tag. Content is index-only.
func buildMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()
	text.Analyzer = en.AnalyzerName

	tag := bleve.NewTextFieldMapping()
	tag.Analyzer = keyword.Name

	content := bleve.NewTextFieldMapping()
	content.Analyzer = en.AnalyzerName
	content.Store = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("filename", text)
	doc.AddFieldMappingsAt("tag", tag)
	doc.AddFieldMappingsAt("content", content)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = en.AnalyzerName
	return m
}

// Upsert adds or replaces the entry for its document id.
func (ix *Index) Upsert(e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("index upsert: empty id")
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ix.wmu.Lock()
	defer ix.wmu.Unlock()

	fields := map[string]interface{}{
		"title":    e.Title,
		"filename": e.Filename,
		"tag":      strings.ToLower(strings.TrimSpace(e.Tag)),
		"content":  e.Content,
	}
	if err := ix.idx.Index(e.ID, fields); err != nil {
		return fmt.Errorf("index upsert %s: %w", e.ID, err)
	}
	return nil
}

// Delete removes the entry for the document id. Deleting an id that is not
// indexed is not an error.
func (ix *Index) Delete(id string) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ix.wmu.Lock()
	defer ix.wmu.Unlock()

	if err := ix.idx.Delete(id); err != nil {
		return fmt.Errorf("index delete %s: %w", id, err)
	}
	return nil
}

// Reset wipes the index and recreates it empty with the current schema.
// It is the first step of a full rebuild.
func (ix *Index) Reset() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.idx.Close(); err != nil {
		return fmt.Errorf("index reset close: %w", err)
	}
	if err := os.RemoveAll(ix.path); err != nil {
		return fmt.Errorf("index reset remove: %w", err)
	}
	idx, err := bleve.New(ix.path, buildMapping())
	if err != nil {
		return fmt.Errorf("index reset create: %w", err)
	}
	ix.idx = idx
	return nil
}

// Query returns document ids ranked by relevance for the given text, limited
// to limit hits. A non-empty tag restricts hits to that exact tag. Empty text
// matches everything (useful for pure tag lookups).
func (ix *Index) Query(ctx context.Context, text, tag string, limit int) ([]string, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var clauses []query.Query
	if text = strings.TrimSpace(text); text != "" {
		clauses = append(clauses, bleve.NewMatchQuery(text))
	}
	if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
		tq := bleve.NewTermQuery(tag)
		tq.SetField("tag")
		clauses = append(clauses, tq)
	}

	var q query.Query
	switch len(clauses) {
	case 0:
		q = bleve.NewMatchAllQuery()
	case 1:
		q = clauses[0]
	default:
		q = bleve.NewConjunctionQuery(clauses...)
	}

	if limit <= 0 {
		limit = 100
	}
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := ix.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("index query: %w", err)
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Count returns the number of indexed entries.
func (ix *Index) Count() (uint64, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.idx.DocCount()
}

// Close closes the underlying index.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.idx.Close()
}
