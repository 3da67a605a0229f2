// Package conversation manages chat histories. Messages carry a gapless
// per-conversation sequence number; appends lock the conversation row so
// concurrent requests cannot interleave sequences.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"

	"github.com/docchat/docchat/internal/log"
	"github.com/docchat/docchat/internal/postgres"
)

// ErrNotFound indicates the conversation does not exist or belongs to a
// different project.
var ErrNotFound = errors.New("conversation not found")

// DefaultListLimit bounds listings when the caller does not set one.
const DefaultListLimit = 50

// DefaultTitle is used when the first message is blank.
const DefaultTitle = "New Conversation"

// maxTitleLen caps derived titles; longer first messages are truncated
// with an ellipsis.
const maxTitleLen = 50

// Message roles stored in histories.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is a chat thread within a project.
type Conversation struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn to append.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StoredMessage is one persisted turn.
type StoredMessage struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	SequenceNumber int32     `json:"sequence_number"`
	CreatedAt      time.Time `json:"created_at"`
}

// Querier is the subset of store queries the service needs.
type Querier interface {
	CreateConversation(ctx context.Context, projectID int64, title string) (postgres.Conversation, error)
	GetConversation(ctx context.Context, id int64) (postgres.Conversation, error)
	ListConversations(ctx context.Context, arg postgres.ListConversationsParams) ([]postgres.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id int64, title string) (int64, error)
	TouchConversation(ctx context.Context, id int64) error
	DeleteConversation(ctx context.Context, id int64) (int64, error)
	LockConversation(ctx context.Context, id int64) (int64, error)
	AddMessage(ctx context.Context, arg postgres.AddMessageParams) error
	GetMessages(ctx context.Context, arg postgres.GetMessagesParams) ([]postgres.ConversationMessage, error)
	GetMaxSequenceNumber(ctx context.Context, conversationID int64) (int32, error)
}

// TxRunner executes a function against transactional queries, committing
// on nil and rolling back on error.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(q Querier) error) error
}

// Service manages conversations and their messages.
type Service struct {
	queries Querier
	tx      TxRunner
	logger  log.Logger
}

// NewService creates a conversation service.
func NewService(queries Querier, tx TxRunner, logger log.Logger) *Service {
	return &Service{
		queries: queries,
		tx:      tx,
		logger:  logger.With("component", "conversation"),
	}
}

// TitleFromMessage derives a conversation title from its first message:
// trimmed, capped at 50 characters with an ellipsis, defaulting when blank.
func TitleFromMessage(message string) string {
	title := strings.TrimSpace(message)
	if title == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		runes := []rune(title)
		title = string(runes[:maxTitleLen-3]) + "..."
	}
	return title
}

// ThreadID returns the stable per-conversation identifier handed to the
// answer pipeline.
func ThreadID(conversationID int64) string {
	return fmt.Sprintf("conversation_%d", conversationID)
}

// Create starts a conversation titled after its first message.
func (s *Service) Create(ctx context.Context, projectID int64, firstMessage string) (Conversation, error) {
	row, err := s.queries.CreateConversation(ctx, projectID, TitleFromMessage(firstMessage))
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	s.logger.Info("created conversation", "conversation_id", row.ID, "project_id", projectID)
	return fromRow(row), nil
}

// Get returns the conversation if it belongs to projectID.
func (s *Service) Get(ctx context.Context, projectID, conversationID int64) (Conversation, error) {
	row, err := s.queries.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	if row.ProjectID != projectID {
		return Conversation{}, ErrNotFound
	}
	return fromRow(row), nil
}

// Lookup returns a conversation by ID without a project check. Callers
// must verify ownership of the returned ProjectID themselves.
func (s *Service) Lookup(ctx context.Context, conversationID int64) (Conversation, error) {
	row, err := s.queries.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return fromRow(row), nil
}

// List returns a project's conversations, most recently updated first.
func (s *Service) List(ctx context.Context, projectID int64, limit, offset int32) ([]Conversation, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.queries.ListConversations(ctx, postgres.ListConversationsParams{
		ProjectID:    projectID,
		ResultLimit:  limit,
		ResultOffset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	conversations := make([]Conversation, 0, len(rows))
	for _, row := range rows {
		conversations = append(conversations, fromRow(row))
	}
	return conversations, nil
}

// Rename sets a conversation's title.
func (s *Service) Rename(ctx context.Context, projectID, conversationID int64, title string) error {
	if _, err := s.Get(ctx, projectID, conversationID); err != nil {
		return err
	}

	affected, err := s.queries.UpdateConversationTitle(ctx, conversationID, TitleFromMessage(title))
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a conversation and its messages.
func (s *Service) Delete(ctx context.Context, projectID, conversationID int64) error {
	if _, err := s.Get(ctx, projectID, conversationID); err != nil {
		return err
	}

	affected, err := s.queries.DeleteConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Info("deleted conversation", "conversation_id", conversationID)
	return nil
}

// Messages returns a conversation's history in sequence order.
func (s *Service) Messages(ctx context.Context, projectID, conversationID int64, limit, offset int32) ([]StoredMessage, error) {
	if _, err := s.Get(ctx, projectID, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.queries.GetMessages(ctx, postgres.GetMessagesParams{
		ConversationID: conversationID,
		ResultLimit:    limit,
		ResultOffset:   offset,
	})
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	messages := make([]StoredMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, StoredMessage{
			ID:             row.ID,
			ConversationID: row.ConversationID,
			Role:           row.Role,
			Content:        row.Content,
			SequenceNumber: row.SequenceNumber,
			CreatedAt:      row.CreatedAt,
		})
	}
	return messages, nil
}

// Append atomically adds messages to a conversation with consecutive
// sequence numbers and bumps its updated_at. The row lock serializes
// concurrent appends to the same conversation.
func (s *Service) Append(ctx context.Context, conversationID int64, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	err := s.tx.RunInTx(ctx, func(q Querier) error {
		if _, err := q.LockConversation(ctx, conversationID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock conversation: %w", err)
		}

		seq, err := q.GetMaxSequenceNumber(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("get max sequence: %w", err)
		}

		for _, m := range messages {
			seq++
			err := q.AddMessage(ctx, postgres.AddMessageParams{
				ConversationID: conversationID,
				Role:           m.Role,
				Content:        m.Content,
				SequenceNumber: seq,
			})
			if err != nil {
				return fmt.Errorf("add message: %w", err)
			}
		}

		return q.TouchConversation(ctx, conversationID)
	})
	if err != nil {
		return err
	}

	s.logger.Debug("appended messages", "conversation_id", conversationID, "count", len(messages))
	return nil
}

func fromRow(row postgres.Conversation) Conversation {
	return Conversation{
		ID:        row.ID,
		ProjectID: row.ProjectID,
		Title:     row.Title,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}
