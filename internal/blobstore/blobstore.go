// Package blobstore stores original uploaded file bytes on disk.
//
// Each blob lives at <dir>/<id><ext>. The identifier is the document id and
// the extension is carried from the upload, so the layout is reconstructible
// from metadata alone. Writes are whole-file; the caller only records the
// document after a successful Put, so metadata never points at a blob that
// was never written.
package blobstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no blob exists for the given id and extension.
var ErrNotFound = errors.New("blob not found")

// Store persists blobs under a single directory.
type Store struct {
	dir string
}

// New creates the blob directory if needed and returns a Store rooted there.
func New(dir string) (*Store, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Put writes the blob for id+ext and returns the path it was stored at.
func (s *Store) Put(id, ext string, data []byte) (string, error) {
	path, err := s.path(id, ext)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob %s%s: %w", id, ext, err)
	}
	return path, nil
}

// Read returns the full blob contents, or ErrNotFound.
func (s *Store) Read(id, ext string) ([]byte, error) {
	path, err := s.path(id, ext)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %s%s: %w", id, ext, ErrNotFound)
		}
		return nil, fmt.Errorf("read blob %s%s: %w", id, ext, err)
	}
	return data, nil
}

// Open returns the blob as an open file for streaming, or ErrNotFound.
// The caller must close the returned file.
func (s *Store) Open(id, ext string) (*os.File, error) {
	path, err := s.path(id, ext)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %s%s: %w", id, ext, ErrNotFound)
		}
		return nil, fmt.Errorf("open blob %s%s: %w", id, ext, err)
	}
	return f, nil
}

// Delete removes the blob. Returns ErrNotFound if it does not exist.
func (s *Store) Delete(id, ext string) error {
	path, err := s.path(id, ext)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("blob %s%s: %w", id, ext, ErrNotFound)
		}
		return fmt.Errorf("delete blob %s%s: %w", id, ext, err)
	}
	return nil
}

// path builds the storage path for id+ext and rejects anything that would
// escape the blob directory.
func (s *Store) path(id, ext string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("empty blob id")
	}
	name := id + ext
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	path := filepath.Clean(filepath.Join(s.dir, name))
	if !strings.HasPrefix(path, s.dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid blob path %q", name)
	}
	return path, nil
}
