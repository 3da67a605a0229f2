package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/docchat/docchat/internal/log"
	"github.com/docchat/docchat/internal/project"
)

const maxProjectBodyBytes = 64 << 10

// projectHandler serves project CRUD.
type projectHandler struct {
	projects *project.Service
	logger   log.Logger
}

type createProjectRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	LLMPrompt   string `json:"llm_prompt"`
}

func (h *projectHandler) create(w http.ResponseWriter, r *http.Request) {
	u, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required", h.logger)
		return
	}

	var req createProjectRequest
	if err := decodeJSON(r, &req, maxProjectBodyBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "missing_title", "title is required", h.logger)
		return
	}

	p, err := h.projects.Create(r.Context(), u.ID, req.Title, req.Description, req.LLMPrompt)
	if err != nil {
		h.logger.Error("create project", "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "could not create project", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, p, h.logger)
}

func (h *projectHandler) list(w http.ResponseWriter, r *http.Request) {
	u, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required", h.logger)
		return
	}

	limit := queryInt32(r, "limit", 0)
	offset := queryInt32(r, "offset", 0)

	projects, err := h.projects.List(r.Context(), u.ID, limit, offset)
	if err != nil {
		h.logger.Error("list projects", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "could not list projects", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"projects": projects,
		"total":    len(projects),
	}, h.logger)
}

func (h *projectHandler) get(w http.ResponseWriter, r *http.Request) {
	u, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required", h.logger)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid project ID", h.logger)
		return
	}

	p, err := h.projects.Get(r.Context(), u.ID, id)
	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "project not found", h.logger)
			return
		}
		h.logger.Error("get project", "error", err)
		writeError(w, http.StatusInternalServerError, "get_failed", "could not get project", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, p, h.logger)
}

func (h *projectHandler) delete(w http.ResponseWriter, r *http.Request) {
	u, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required", h.logger)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid project ID", h.logger)
		return
	}

	if err := h.projects.Delete(r.Context(), u.ID, id); err != nil {
		if errors.Is(err, project.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "project not found", h.logger)
			return
		}
		h.logger.Error("delete project", "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "could not delete project", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, h.logger)
}

// pathID parses a positive integer path value.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// queryInt32 parses an optional integer query parameter.
func queryInt32(r *http.Request, name string, fallback int32) int32 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || v < 0 {
		return fallback
	}
	return int32(v)
}
