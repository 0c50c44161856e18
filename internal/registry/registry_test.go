package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(filepath.Join(t.TempDir(), "tags.json"))
	require.NoError(t, err)
	return r
}

func TestNewCreatesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.json")
	_, err := New(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestAddListRemove(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.Add("work"))
	require.NoError(t, r.Add("finance"))
	require.NoError(t, r.Add("Archive"))

	names, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"Archive", "finance", "work"}, names, "sorted case-insensitively")

	require.NoError(t, r.Remove("finance"))
	names, err = r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"Archive", "work"}, names)
}

func TestAddDeduplicatesAndTrims(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.Add("work"))
	require.NoError(t, r.Add("work"))
	require.NoError(t, r.Add("  work  "))
	require.NoError(t, r.Add(""))
	require.NoError(t, r.Add("   "))

	names, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"work"}, names)
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Add("work"))
	require.NoError(t, r.Remove("nothing"))

	names, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"work"}, names)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.json")

	r, err := New(path)
	require.NoError(t, err)
	require.NoError(t, r.Add("durable"))

	r2, err := New(path)
	require.NoError(t, err)
	names, err := r2.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"durable"}, names)
}

func TestCorruptFileYieldsEmptyList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	r, err := New(path)
	require.NoError(t, err)

	names, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	// A write repairs the file.
	require.NoError(t, r.Add("fresh"))
	names, err = r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, names)
}
