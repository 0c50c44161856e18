// Package registry keeps the advisory list of known tag names.
//
// The registry is a suggestion list for the UI, not a constraint: documents
// may carry tags that were never registered. It persists as a small JSON
// array that is replaced atomically on every change.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

// Registry is a durable, deduplicated set of tag names.
type Registry struct {
	mu   sync.Mutex
	path string
}

// New returns a Registry backed by the JSON file at path, creating an empty
// one if the file does not exist.
func New(path string) (*Registry, error) {
	r := &Registry{path: path}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := r.write(nil); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat tag registry: %w", err)
	}
	return r, nil
}

// List returns all registered names, deduplicated and sorted
// case-insensitively. A corrupt file yields an empty list rather than an
// error so a damaged registry never blocks document operations.
func (r *Registry) List() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// Add registers a name. Blank names and duplicates are ignored.
func (r *Registry) Add(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	names, err := r.load()
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == name {
			return nil
		}
	}
	return r.write(append(names, name))
}

// Remove deletes a name. Removing an unknown name is not an error.
func (r *Registry) Remove(name string) error {
	name = strings.TrimSpace(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	names, err := r.load()
	if err != nil {
		return err
	}
	kept := names[:0]
	for _, n := range names {
		if n != name {
			kept = append(kept, n)
		}
	}
	return r.write(kept)
}

func (r *Registry) load() ([]string, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tag registry: %w", err)
	}

	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil
	}

	seen := make(map[string]bool, len(raw))
	names := make([]string, 0, len(raw))
	for _, n := range raw {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names, nil
}

func (r *Registry) write(names []string) error {
	if names == nil {
		names = []string{}
	}
	data, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("encode tag registry: %w", err)
	}
	if err := atomic.WriteFile(r.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write tag registry: %w", err)
	}
	return nil
}
