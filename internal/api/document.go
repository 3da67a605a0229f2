package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/docchat/docchat/internal/document"
	"github.com/docchat/docchat/internal/ingest"
	"github.com/docchat/docchat/internal/log"
	"github.com/docchat/docchat/internal/project"
	"github.com/docchat/docchat/internal/security"
)

// maxUploadBytes caps uploaded PDFs at 32 MiB.
const maxUploadBytes = 32 << 20

// Ingestor processes uploads into stored chunks.
type Ingestor interface {
	ProcessPDF(ctx context.Context, projectID int64, filename string, r io.ReaderAt, size int64) (int, error)
}

// FileStore lists and deletes a project's uploaded files.
type FileStore interface {
	ListFiles(ctx context.Context, projectID int64) (document.FileList, error)
	DeleteFile(ctx context.Context, projectID int64, filename string) (int64, error)
}

// documentHandler serves upload, file listing, and file deletion.
type documentHandler struct {
	projects *project.Service
	ingestor Ingestor
	files    FileStore
	logger   log.Logger
}

// ownProject resolves the {id} path value to a project owned by the
// authenticated user, writing the error response itself on failure.
func ownProject(w http.ResponseWriter, r *http.Request, projects *project.Service, logger log.Logger) (project.Project, bool) {
	u, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required", logger)
		return project.Project{}, false
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid project ID", logger)
		return project.Project{}, false
	}

	p, err := projects.Get(r.Context(), u.ID, id)
	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "project not found", logger)
			return project.Project{}, false
		}
		logger.Error("get project", "error", err)
		writeError(w, http.StatusInternalServerError, "get_failed", "could not get project", logger)
		return project.Project{}, false
	}
	return p, true
}

// upload accepts a multipart PDF, processes it in memory, and stores its
// chunks. The file itself is not persisted.
func (h *documentHandler) upload(w http.ResponseWriter, r *http.Request) {
	p, ok := ownProject(w, r, h.projects, h.logger)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", "multipart field 'file' is required", h.logger)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType != "application/pdf" && contentType != "application/x-pdf" {
		writeError(w, http.StatusBadRequest, "not_a_pdf", "file must be a PDF", h.logger)
		return
	}

	filename, err := security.SanitizeFilename(header.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filename", "filename is not acceptable", h.logger)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read_failed", "could not read uploaded file", h.logger)
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty_file", "uploaded file is empty", h.logger)
		return
	}

	inserted, err := h.ingestor.ProcessPDF(r.Context(), p.ID, filename, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if errors.Is(err, ingest.ErrNoText) {
			writeError(w, http.StatusBadRequest, "no_text", "document contains no extractable text", h.logger)
			return
		}
		h.logger.Error("process pdf", "error", err, "filename", filename)
		writeError(w, http.StatusInternalServerError, "processing_failed", "could not process document", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "PDF processed successfully",
		"chunks_inserted": inserted,
	}, h.logger)
}

// listFiles lists a project's uploaded files with chunk counts.
func (h *documentHandler) listFiles(w http.ResponseWriter, r *http.Request) {
	p, ok := ownProject(w, r, h.projects, h.logger)
	if !ok {
		return
	}

	list, err := h.files.ListFiles(r.Context(), p.ID)
	if err != nil {
		h.logger.Error("list files", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "could not list files", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, list, h.logger)
}

// deleteFile removes every chunk of one uploaded file.
func (h *documentHandler) deleteFile(w http.ResponseWriter, r *http.Request) {
	p, ok := ownProject(w, r, h.projects, h.logger)
	if !ok {
		return
	}

	filename := r.PathValue("filename")
	if decoded, err := url.PathUnescape(filename); err == nil {
		filename = decoded
	}
	if strings.TrimSpace(filename) == "" {
		writeError(w, http.StatusBadRequest, "missing_filename", "filename is required", h.logger)
		return
	}

	deleted, err := h.files.DeleteFile(r.Context(), p.ID, filename)
	if err != nil {
		if errors.Is(err, document.ErrFileNotFound) {
			writeError(w, http.StatusNotFound, "file_not_found", "file not found", h.logger)
			return
		}
		h.logger.Error("delete file", "error", err, "filename", filename)
		writeError(w, http.StatusInternalServerError, "delete_failed", "could not delete file", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":        fmt.Sprintf("File '%s' deleted successfully", filename),
		"chunks_deleted": deleted,
	}, h.logger)
}
