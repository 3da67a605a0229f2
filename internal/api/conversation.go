package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/docchat/docchat/internal/conversation"
	"github.com/docchat/docchat/internal/log"
	"github.com/docchat/docchat/internal/project"
)

const maxConversationBodyBytes = 16 << 10

// conversationHandler serves conversation listing and management.
type conversationHandler struct {
	projects      *project.Service
	conversations *conversation.Service
	logger        log.Logger
}

// ownConversation resolves the {id} path value to a conversation whose
// project is owned by the authenticated user, writing the error response
// itself on failure.
func (h *conversationHandler) ownConversation(w http.ResponseWriter, r *http.Request) (conversation.Conversation, bool) {
	u, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required", h.logger)
		return conversation.Conversation{}, false
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid conversation ID", h.logger)
		return conversation.Conversation{}, false
	}

	conv, err := h.conversations.Lookup(r.Context(), id)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
			return conversation.Conversation{}, false
		}
		h.logger.Error("get conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "get_failed", "could not get conversation", h.logger)
		return conversation.Conversation{}, false
	}

	// Ownership check via the parent project; other users' conversations
	// are indistinguishable from missing ones.
	if _, err := h.projects.Get(r.Context(), u.ID, conv.ProjectID); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
		return conversation.Conversation{}, false
	}
	return conv, true
}

// list lists a project's conversations, most recently updated first.
func (h *conversationHandler) list(w http.ResponseWriter, r *http.Request) {
	u, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required", h.logger)
		return
	}

	projectID, err := strconv.ParseInt(r.URL.Query().Get("project_id"), 10, 64)
	if err != nil || projectID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_project_id", "project_id query parameter is required", h.logger)
		return
	}
	if _, err := h.projects.Get(r.Context(), u.ID, projectID); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "project not found", h.logger)
		return
	}

	limit := queryInt32(r, "limit", 0)
	offset := queryInt32(r, "offset", 0)

	conversations, err := h.conversations.List(r.Context(), projectID, limit, offset)
	if err != nil {
		h.logger.Error("list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "could not list conversations", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": conversations,
		"total":         len(conversations),
	}, h.logger)
}

// messages returns a conversation's history in order.
func (h *conversationHandler) messages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.ownConversation(w, r)
	if !ok {
		return
	}

	limit := queryInt32(r, "limit", 0)
	offset := queryInt32(r, "offset", 0)

	messages, err := h.conversations.Messages(r.Context(), conv.ProjectID, conv.ID, limit, offset)
	if err != nil {
		h.logger.Error("get messages", "error", err)
		writeError(w, http.StatusInternalServerError, "messages_failed", "could not load messages", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conv.ID,
		"messages":        messages,
		"total":           len(messages),
	}, h.logger)
}

type renameConversationRequest struct {
	Title string `json:"title"`
}

// rename updates a conversation's title.
func (h *conversationHandler) rename(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.ownConversation(w, r)
	if !ok {
		return
	}

	var req renameConversationRequest
	if err := decodeJSON(r, &req, maxConversationBodyBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "missing_title", "title is required", h.logger)
		return
	}

	if err := h.conversations.Rename(r.Context(), conv.ProjectID, conv.ID, req.Title); err != nil {
		h.logger.Error("rename conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "rename_failed", "could not rename conversation", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"}, h.logger)
}

// delete removes a conversation and its messages.
func (h *conversationHandler) delete(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.ownConversation(w, r)
	if !ok {
		return
	}

	if err := h.conversations.Delete(r.Context(), conv.ProjectID, conv.ID); err != nil {
		h.logger.Error("delete conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "could not delete conversation", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, h.logger)
}
