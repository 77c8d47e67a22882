// Package api exposes the pipeline's REST surface: the rate-limited
// status poll for in-flight imports and an upload endpoint that lands
// files in the watched inboxes.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/medflow/internal/media"
	"github.com/your-org/medflow/internal/persistence"
	"github.com/your-org/medflow/internal/polling"
)

// Handler wires the chi router for the pipeline API.
type Handler struct {
	store       persistence.Store
	coordinator *polling.Coordinator
	inboxes     map[media.Type]string
	logger      *zap.Logger
	maxUploadMB int64
	router      chi.Router
}

// NewHandler constructs the Handler and its routes.
func NewHandler(store persistence.Store, coordinator *polling.Coordinator, inboxes map[media.Type]string, maxUploadMB int64, logger *zap.Logger) *Handler {
	h := &Handler{
		store:       store,
		coordinator: coordinator,
		inboxes:     inboxes,
		logger:      logger,
		maxUploadMB: maxUploadMB,
	}
	h.buildRouter()
	return h
}

func (h *Handler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", h.handleHealth)
	r.Get("/api/v1/media/{mediaType}/{id}/status", h.handleStatus)
	r.Post("/api/v1/uploads/{mediaType}", h.handleUpload)

	h.router = r
}

// Router exposes the configured chi router.
func (h *Handler) Router() http.Handler {
	return h.router
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus serves the poll contract: 404 for unknown resources before
// any cooldown bookkeeping, 429 with Retry-After while the cooldown is
// active, 200 with the record's state otherwise.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	mediaType, ok := media.ParseType(chi.URLParam(r, "mediaType"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown media type")
		return
	}
	id := chi.URLParam(r, "id")

	record, err := h.store.GetByID(r.Context(), mediaType, id)
	if err != nil {
		if errors.Is(err, media.ErrResourceNotFound) {
			writeError(w, http.StatusNotFound, "resource not found")
			return
		}
		h.logger.Error("status lookup failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}

	if !h.coordinator.CanCheckStatus(id, mediaType) {
		retryAfter := h.coordinator.RemainingCooldownSeconds(id, mediaType)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"cooldown_active": true,
			"retry_after":     retryAfter,
			"detail":          "Status check rate limited",
		})
		return
	}
	h.coordinator.RecordStatusCheck(id, mediaType)

	writeJSON(w, http.StatusOK, map[string]any{
		"id":               record.ID,
		"media_type":       record.MediaType,
		"processing_state": record.State,
		"anonymized":       record.AnonymizedPath != "",
		"meta_populated":   !record.SensitiveMeta.Empty(),
	})
}

// handleUpload writes the multipart file into the media type's watched
// inbox under a temp name and renames it into place, so the dispatcher
// sees one completed create event and runs the normal pipeline.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	mediaType, ok := media.ParseType(chi.URLParam(r, "mediaType"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown media type")
		return
	}
	inbox, ok := h.inboxes[mediaType]
	if !ok {
		writeError(w, http.StatusBadRequest, "no inbox for media type")
		return
	}

	maxBytes := h.maxUploadMB * 1024 * 1024
	if r.ContentLength > 0 && r.ContentLength > maxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "" || name == "." {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}

	// The dot prefix keeps the dispatcher from reacting to the partial
	// write; the final rename is the completed create/move it acts on.
	tmpPath := filepath.Join(inbox, "."+name+".upload")
	dest := filepath.Join(inbox, name)

	out, err := os.Create(tmpPath)
	if err != nil {
		h.logger.Error("create upload file", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(tmpPath)
		h.logger.Error("write upload file", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		h.logger.Error("finalize upload file", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"media_type": mediaType,
		"filename":   name,
		"detail":     fmt.Sprintf("accepted into %s inbox", mediaType),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
