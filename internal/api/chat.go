package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/docchat/docchat/internal/ai"
	"github.com/docchat/docchat/internal/conversation"
	"github.com/docchat/docchat/internal/log"
	"github.com/docchat/docchat/internal/project"
	"github.com/docchat/docchat/internal/rag"
)

const maxChatBodyBytes = 256 << 10

// Answerer runs the question-answering pipeline.
type Answerer interface {
	Answer(ctx context.Context, projectID int64, question string, history []ai.Message, projectPrompt string) (rag.Result, error)
}

// AnswererFactory builds an Answerer for an explicit provider/model pair.
type AnswererFactory func(provider, model string) (Answerer, error)

// chatHandler serves the question-answering endpoint.
type chatHandler struct {
	projects      *project.Service
	conversations *conversation.Service
	answerer      Answerer
	makeAnswerer  AnswererFactory
	logger        log.Logger
}

type chatRequest struct {
	ProjectID      int64  `json:"project_id"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	Query          string `json:"query"`
	Provider       string `json:"provider,omitempty"`
	Model          string `json:"model,omitempty"`
}

type chatResponse struct {
	ConversationID int64  `json:"conversation_id"`
	ThreadID       string `json:"thread_id"`
	rag.Result
}

// send answers one question within a conversation, creating the
// conversation on first use and persisting both turns.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	u, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required", h.logger)
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req, maxChatBodyBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "query is required", h.logger)
		return
	}

	p, err := h.projects.Get(r.Context(), u.ID, req.ProjectID)
	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "project not found", h.logger)
			return
		}
		h.logger.Error("get project", "error", err)
		writeError(w, http.StatusInternalServerError, "get_failed", "could not get project", h.logger)
		return
	}

	// Resume or start the conversation.
	var conv conversation.Conversation
	if req.ConversationID != 0 {
		conv, err = h.conversations.Get(r.Context(), p.ID, req.ConversationID)
		if err != nil {
			if errors.Is(err, conversation.ErrNotFound) {
				writeError(w, http.StatusNotFound, "conversation_not_found", "conversation not found", h.logger)
				return
			}
			h.logger.Error("get conversation", "error", err)
			writeError(w, http.StatusInternalServerError, "get_failed", "could not get conversation", h.logger)
			return
		}
	} else {
		conv, err = h.conversations.Create(r.Context(), p.ID, req.Query)
		if err != nil {
			h.logger.Error("create conversation", "error", err)
			writeError(w, http.StatusInternalServerError, "create_failed", "could not create conversation", h.logger)
			return
		}
	}

	answerer, ok := h.pickAnswerer(w, req.Provider, req.Model)
	if !ok {
		return
	}

	history, err := h.history(r.Context(), p.ID, conv.ID)
	if err != nil {
		h.logger.Error("load history", "error", err)
		writeError(w, http.StatusInternalServerError, "history_failed", "could not load conversation history", h.logger)
		return
	}

	result, err := answerer.Answer(r.Context(), p.ID, req.Query, history, p.LLMPrompt)
	if err != nil {
		h.logger.Error("answer question", "error", err, "conversation_id", conv.ID)
		writeError(w, http.StatusInternalServerError, "answer_failed", "could not generate an answer", h.logger)
		return
	}

	err = h.conversations.Append(r.Context(), conv.ID, []conversation.Message{
		{Role: conversation.RoleUser, Content: req.Query},
		{Role: conversation.RoleAssistant, Content: result.Answer},
	})
	if err != nil {
		// The answer was generated; losing history is worth a warning but
		// not a failed response.
		h.logger.Warn("persist conversation turns", "error", err, "conversation_id", conv.ID)
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID: conv.ID,
		ThreadID:       conversation.ThreadID(conv.ID),
		Result:         result,
	}, h.logger)
}

// pickAnswerer returns the default pipeline, or builds one for an explicit
// provider/model. Writes the error response itself on failure.
func (h *chatHandler) pickAnswerer(w http.ResponseWriter, provider, model string) (Answerer, bool) {
	if provider == "" && model == "" {
		return h.answerer, true
	}
	if h.makeAnswerer == nil {
		return h.answerer, true
	}

	answerer, err := h.makeAnswerer(provider, model)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_provider", "provider or model not available", h.logger)
		return nil, false
	}
	return answerer, true
}

// history loads the conversation as chat messages, oldest first.
func (h *chatHandler) history(ctx context.Context, projectID, conversationID int64) ([]ai.Message, error) {
	stored, err := h.conversations.Messages(ctx, projectID, conversationID, 0, 0)
	if err != nil {
		return nil, err
	}

	messages := make([]ai.Message, 0, len(stored))
	for _, m := range stored {
		role := ai.RoleUser
		if m.Role == conversation.RoleAssistant {
			role = ai.RoleAssistant
		}
		messages = append(messages, ai.Message{Role: role, Content: m.Content})
	}
	return messages, nil
}
