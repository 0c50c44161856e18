// Package restapi implements the HTTP API over the document store.
package restapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/mtiwari1/docshelf/internal/config"
	"github.com/mtiwari1/docshelf/internal/docstore"
	"github.com/mtiwari1/docshelf/internal/metadata"
)

// Handler holds dependencies for the REST endpoints.
type Handler struct {
	store  *docstore.Store
	cfg    *config.Config
	logger *slog.Logger
}

// NewHandler creates a new REST handler over the document store.
func NewHandler(store *docstore.Store, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{store: store, cfg: cfg, logger: logger}
}

// Routes returns the fully wired handler, including the LAN guard when
// configured.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/upload", h.upload)
	mux.HandleFunc("GET /api/docs", h.listDocs)
	mux.HandleFunc("GET /api/search", h.search)
	mux.HandleFunc("POST /api/doc/{id}/tag", h.setTag)
	mux.HandleFunc("DELETE /api/doc/{id}", h.deleteDoc)
	mux.HandleFunc("POST /api/reindex", h.reindex)
	mux.HandleFunc("GET /api/backup", h.backup)
	mux.HandleFunc("POST /api/restore", h.restore)

	mux.HandleFunc("GET /api/registry", h.registryList)
	mux.HandleFunc("POST /api/registry/add", h.registryAdd)
	mux.HandleFunc("POST /api/registry/delete", h.registryDelete)

	mux.HandleFunc("GET /download/{id}", h.download)
	mux.HandleFunc("GET /raw/{id}", h.raw)
	mux.HandleFunc("GET /healthz", h.healthz)

	if !h.cfg.LANOnly {
		return mux
	}
	return requireLAN(mux, h.cfg.TrustProxy, h.logger)
}

// ---------- POST /api/upload ----------

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger()
	logger.Info("upload request received")

	// Generous envelope around the per-file ceiling; individual files are
	// checked exactly below.
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes()*4+1<<20)

	reader, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	var created []*metadata.Document
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			http.Error(w, "invalid multipart form", http.StatusBadRequest)
			return
		}
		if part.FormName() != "files" && part.FormName() != "file" {
			continue
		}

		name := sanitizeFilename(part.FileName())

		// Read one byte past the limit to distinguish at-limit from over.
		data, err := io.ReadAll(io.LimitReader(part, h.cfg.MaxUploadBytes()+1))
		part.Close()
		if err != nil {
			logger.Error("read upload part", slog.String("error", err.Error()))
			http.Error(w, "failed to read upload", http.StatusBadRequest)
			return
		}

		doc, err := h.store.Create(r.Context(), name, data)
		if err != nil {
			logger.Error("create document", slog.String("filename", name), slog.String("error", err.Error()))
			h.writeError(w, err)
			return
		}
		created = append(created, doc)

		logger.Info("document uploaded",
			slog.String("doc_id", doc.ID),
			slog.String("filename", doc.Filename),
			slog.Int64("size", doc.Size),
		)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "items": created})
}

// ---------- GET /api/docs ----------

func (h *Handler) listDocs(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.List(r.Context(), r.URL.Query().Get("tag"))
	if err != nil {
		h.logger.Error("list documents", slog.String("error", err.Error()))
		h.writeError(w, err)
		return
	}
	if docs == nil {
		docs = []*metadata.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// ---------- GET /api/search ----------

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docs, err := h.store.Search(r.Context(), q.Get("q"), q.Get("tag"), 100)
	if err != nil {
		h.logger.Error("search", slog.String("query", q.Get("q")), slog.String("error", err.Error()))
		h.writeError(w, err)
		return
	}
	if docs == nil {
		docs = []*metadata.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "items": docs})
}

// ---------- POST /api/doc/{id}/tag ----------

func (h *Handler) setTag(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger()
	id := r.PathValue("id")

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	tag := r.PostFormValue("tag")

	doc, err := h.store.SetTag(r.Context(), id, tag)
	if err != nil {
		logger.Error("set tag", slog.String("doc_id", id), slog.String("error", err.Error()))
		h.writeError(w, err)
		return
	}

	logger.Info("tag updated", slog.String("doc_id", id), slog.String("tag", doc.Tag))
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "doc": doc})
}

// ---------- DELETE /api/doc/{id} ----------

func (h *Handler) deleteDoc(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger()
	id := r.PathValue("id")

	if err := h.store.Delete(r.Context(), id); err != nil {
		logger.Error("delete document", slog.String("doc_id", id), slog.String("error", err.Error()))
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ---------- POST /api/reindex ----------

func (h *Handler) reindex(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger()
	logger.Info("reindex requested")

	count, err := h.store.Reindex(r.Context())
	if err != nil {
		logger.Error("reindex", slog.String("error", err.Error()))
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "count": count})
}

// ---------- GET /api/backup ----------

func (h *Handler) backup(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger()
	logger.Info("backup requested")

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="docs_backup.tar.gz"`)
	if err := h.store.Backup(r.Context(), w); err != nil {
		// Headers are gone; all we can do is log and cut the stream short.
		logger.Error("backup", slog.String("error", err.Error()))
	}
}

// ---------- POST /api/restore ----------

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger()
	logger.Info("restore requested")

	var src io.Reader = r.Body
	ct := r.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil && mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "archive file required", http.StatusBadRequest)
			return
		}
		defer file.Close()
		src = file
	}

	if err := h.store.Restore(r.Context(), src); err != nil {
		logger.Error("restore", slog.String("error", err.Error()))
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ---------- tag registry ----------

func (h *Handler) registryList(w http.ResponseWriter, r *http.Request) {
	tags, err := h.store.Tags().List()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tags": tags})
}

func (h *Handler) registryAdd(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PostFormValue("name"))
	if name == "" {
		http.Error(w, "tag name required", http.StatusBadRequest)
		return
	}
	if err := h.store.Tags().Add(name); err != nil {
		h.writeError(w, err)
		return
	}
	h.registryList(w, r)
}

func (h *Handler) registryDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Tags().Remove(r.PostFormValue("name")); err != nil {
		h.writeError(w, err)
		return
	}
	h.registryList(w, r)
}

// ---------- GET /download/{id}, GET /raw/{id} ----------

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	h.serveBlob(w, r, true)
}

func (h *Handler) raw(w http.ResponseWriter, r *http.Request) {
	h.serveBlob(w, r, false)
}

func (h *Handler) serveBlob(w http.ResponseWriter, r *http.Request, attachment bool) {
	id := r.PathValue("id")

	doc, f, err := h.store.OpenBlob(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer f.Close()

	mediaType := mime.TypeByExtension(doc.Ext)
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mediaType)
	if attachment {
		w.Header().Set("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(doc.Filename, `"`, "")+`"`)
	}

	fi, err := f.Stat()
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, doc.Filename, fi.ModTime(), f)
}

// ---------- GET /healthz ----------

// healthz verifies the metadata store answers and the state directory exists.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.List(r.Context(), ""); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded", "error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------- helpers ----------

// requestLogger attaches a request_id for correlating log lines.
func (h *Handler) requestLogger() *slog.Logger {
	return h.logger.With(slog.String("request_id", uuid.New().String()))
}

// writeError maps store errors to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, docstore.ErrBlobMissing):
		http.Error(w, "file missing", http.StatusNotFound)
	case errors.Is(err, docstore.ErrUnsupportedType),
		errors.Is(err, docstore.ErrTooLarge),
		errors.Is(err, docstore.ErrEmptyFilename),
		errors.Is(err, docstore.ErrBadArchive):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

var unsafeRuns = regexp.MustCompile(`[\\/\r\n\t]+`)

// sanitizeFilename makes an upload name safe to record: strips NULs,
// collapses path separators and control runs, and never returns empty.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\x00", "")
	name = unsafeRuns.ReplaceAllString(name, "_")
	name = filepath.Base(name)
	if name == "" || name == "." {
		return "file"
	}
	return name
}
