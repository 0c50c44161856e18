package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtiwari1/docshelf/internal/config"
	"github.com/mtiwari1/docshelf/internal/docstore"
	"github.com/mtiwari1/docshelf/internal/metadata"
)

func newTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()

	cfg := &config.Config{
		Addr:        ":0",
		DataDir:     filepath.Join(t.TempDir(), "data"),
		MaxUploadMB: 1,
		LANOnly:     false,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := docstore.Open(cfg.DataDir, cfg.MaxUploadBytes(), config.AllowedExts, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, cfg, logger)
	return h, h.Routes()
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func uploadDoc(t *testing.T, routes http.Handler, filename string, content []byte) *metadata.Document {
	t.Helper()
	body, ct := multipartBody(t, "files", filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		OK    bool                 `json:"ok"`
		Items []*metadata.Document `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.OK)
	require.Len(t, resp.Items, 1)
	return resp.Items[0]
}

func TestUploadListTagDelete(t *testing.T) {
	_, routes := newTestHandler(t)

	doc := uploadDoc(t, routes, "report.pdf", []byte("pdf content"))
	assert.Equal(t, "report", doc.Title)
	assert.Equal(t, ".pdf", doc.Ext)
	assert.Equal(t, int64(len("pdf content")), doc.Size)

	// List includes the document.
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/docs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var docs []*metadata.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, doc.ID, docs[0].ID)

	// Tag it.
	form := url.Values{"tag": {"finance"}}
	req := httptest.NewRequest(http.MethodPost, "/api/doc/"+doc.ID+"/tag", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tagResp struct {
		Doc *metadata.Document `json:"doc"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tagResp))
	assert.Equal(t, "finance", tagResp.Doc.Tag)

	// Filtered list.
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/docs?tag=finance", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	docs = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	assert.Len(t, docs, 1)

	// Delete.
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/doc/"+doc.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/docs", nil))
	docs = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	assert.Empty(t, docs)
}

func TestUploadRejectsBadExtension(t *testing.T) {
	_, routes := newTestHandler(t)

	body, ct := multipartBody(t, "files", "virus.exe", []byte("nope"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadSanitizesFilename(t *testing.T) {
	h, routes := newTestHandler(t)

	doc := uploadDoc(t, routes, `..\evil\path.txt`, []byte("x"))
	assert.NotContains(t, doc.Filename, `\`)
	assert.NotContains(t, doc.Filename, "/")

	got, err := h.store.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Filename, got.Filename)
}

func TestSearchEndpoint(t *testing.T) {
	_, routes := newTestHandler(t)

	doc := uploadDoc(t, routes, "quarterly report.pdf", []byte("pdf"))
	uploadDoc(t, routes, "groceries.md", []byte("md"))

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search?q=report", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []*metadata.Document `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, doc.ID, resp.Items[0].ID)
}

func TestTagMissingDocIs404(t *testing.T) {
	_, routes := newTestHandler(t)

	form := url.Values{"tag": {"x"}}
	req := httptest.NewRequest(http.MethodPost, "/api/doc/does-not-exist/tag", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadAndRaw(t *testing.T) {
	_, routes := newTestHandler(t)

	doc := uploadDoc(t, routes, "note.md", []byte("# heading"))

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/"+doc.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "note.md")
	assert.Equal(t, "# heading", rec.Body.String())

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/raw/"+doc.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Disposition"))

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegistryEndpoints(t *testing.T) {
	_, routes := newTestHandler(t)

	form := url.Values{"name": {"projects"}}
	req := httptest.NewRequest(http.MethodPost, "/api/registry/add", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/registry", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Tags []string `json:"tags"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"projects"}, resp.Tags)

	req = httptest.NewRequest(http.MethodPost, "/api/registry/delete", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/registry", nil))
	resp.Tags = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Tags)
}

func TestBackupRestoreEndpoints(t *testing.T) {
	_, routes := newTestHandler(t)

	doc := uploadDoc(t, routes, "keep.txt", []byte("keep me"))

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/backup", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
	archive := rec.Body.Bytes()
	require.NotEmpty(t, archive)

	// Restore the archive into a second, empty server.
	_, routes2 := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/restore", bytes.NewReader(archive))
	req.Header.Set("Content-Type", "application/gzip")
	rec = httptest.NewRecorder()
	routes2.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	routes2.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/docs", nil))
	var docs []*metadata.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, doc.ID, docs[0].ID)
}

func TestReindexEndpoint(t *testing.T) {
	_, routes := newTestHandler(t)

	uploadDoc(t, routes, "a.txt", []byte("a"))
	uploadDoc(t, routes, "b.txt", []byte("b"))

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reindex", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestRestoreRejectsBadArchive(t *testing.T) {
	_, routes := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/restore", strings.NewReader("garbage"))
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
