package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
)

// maxFileBytes bounds uploaded file contents.
const maxFileBytes = 10 << 20

// FileStore is the part of *storage.FileManager the HTTP layer uses.
type FileStore interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, content []byte) (string, error)
	List(ctx context.Context, directory string) ([]string, error)
	Delete(ctx context.Context, path string) (string, error)
}

// FilePathResponse is returned by file writes and deletes.
type FilePathResponse struct {
	Path string `json:"path"`
}

// ListFilesResponse is returned by directory listings.
type ListFilesResponse struct {
	Files []string `json:"files"`
}

// FileHandler serves the server's user-editable files.
type FileHandler struct {
	files  FileStore
	logger *slog.Logger
}

// NewFileHandler creates a new FileHandler.
func NewFileHandler(files FileStore, logger *slog.Logger) *FileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileHandler{files: files, logger: logger}
}

// Get handles GET /files/{path...}. An empty path lists the directory given
// by the directory_path query parameter.
func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if path == "" {
		h.list(w, r)
		return
	}

	h.logger.Info("Reading file", "path", path)
	data, err := h.files.Read(r.Context(), path)
	if err != nil {
		writeStorageError(w, h.logger, path, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *FileHandler) list(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("directory_path")
	files, err := h.files.List(r.Context(), dir)
	if err != nil {
		writeStorageError(w, h.logger, dir, err)
		return
	}
	if files == nil {
		files = []string{}
	}
	WriteJSON(w, http.StatusOK, ListFilesResponse{Files: files})
}

// Put handles POST /files/{path...}. The request body is the file content;
// a "content" query parameter is accepted when the body is empty.
func (h *FileHandler) Put(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFileBytes))
	if err != nil {
		WriteError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	if len(content) == 0 {
		content = []byte(r.URL.Query().Get("content"))
	}

	written, err := h.files.Write(r.Context(), path, content)
	if err != nil {
		writeStorageError(w, h.logger, path, err)
		return
	}
	WriteJSON(w, http.StatusOK, FilePathResponse{Path: written})
}

// Delete handles DELETE /files/{path...}.
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	deleted, err := h.files.Delete(r.Context(), path)
	if err != nil {
		writeStorageError(w, h.logger, path, err)
		return
	}
	WriteJSON(w, http.StatusOK, FilePathResponse{Path: deleted})
}
