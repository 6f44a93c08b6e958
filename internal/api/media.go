package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/HyServers/hyservers-web/internal/storage"
)

const maxUploadBytes = 5 << 20

// MediaURLPrefix is where uploaded media is served.
const MediaURLPrefix = "/media/"

var allowedMediaExt = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// MediaHandler accepts and serves server icons and banners.
type MediaHandler struct {
	store  storage.Provider
	logger *slog.Logger
}

// NewMediaHandler creates a MediaHandler over store.
func NewMediaHandler(store storage.Provider, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{store: store, logger: logger}
}

// mediaName accepts a plain file name with an image extension.
func mediaName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.HasPrefix(cleaned, ".") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	if !allowedMediaExt[strings.ToLower(filepath.Ext(cleaned))] {
		return "", fmt.Errorf("unsupported file type: %s", name)
	}
	return cleaned, nil
}

type mediaResponse struct {
	storage.Object
	URL string `json:"url"`
}

// Upload handles POST /api/admin/media (multipart/form-data, field "file").
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1<<16)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	name, err := mediaName(header.Filename)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}
	if len(content) > maxUploadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("file too large"))
		return
	}
	if err := h.store.Write(name, content); err != nil {
		h.logger.Error("media write failed", slog.String("name", name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to store file"))
		return
	}
	obj, err := h.store.Stat(name)
	if err != nil {
		h.logger.Error("media stat failed", slog.String("name", name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	h.logger.Info("media uploaded", slog.String("name", name), slog.Int64("size", obj.Size))
	writeJSON(w, http.StatusCreated, mediaResponse{Object: *obj, URL: MediaURLPrefix + name})
}

// List handles GET /api/admin/media.
func (h *MediaHandler) List(w http.ResponseWriter, _ *http.Request) {
	objs, err := h.store.List("")
	if err != nil {
		h.logger.Error("media list failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	out := make([]mediaResponse, len(objs))
	for i, o := range objs {
		out[i] = mediaResponse{Object: o, URL: MediaURLPrefix + o.Name}
	}
	writeJSON(w, http.StatusOK, map[string]any{"media": out})
}

// Delete handles DELETE /api/admin/media/{name}.
func (h *MediaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name, err := mediaName(chi.URLParam(r, "name"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := h.store.Delete(name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		h.logger.Error("media delete failed", slog.String("name", name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeFile handles GET /media/{name}.
func (h *MediaHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	name, err := mediaName(chi.URLParam(r, "name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	obj, err := h.store.Stat(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	data, err := h.store.Read(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("ETag", `"`+obj.Checksum+`"`)
	http.ServeContent(w, r, name, obj.UpdatedAt, bytes.NewReader(data))
}
