package postgres

import (
	"context"
	"time"
)

// Conversation is a row of the conversations table.
type Conversation struct {
	ID        int64
	ProjectID int64
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConversationMessage is a row of the conversation_messages table.
type ConversationMessage struct {
	ID             int64
	ConversationID int64
	Role           string
	Content        string
	SequenceNumber int32
	CreatedAt      time.Time
}

const createConversation = `
INSERT INTO conversations (project_id, title)
VALUES ($1, $2)
RETURNING id, project_id, title, created_at, updated_at
`

// CreateConversation inserts a new conversation.
func (q *Queries) CreateConversation(ctx context.Context, projectID int64, title string) (Conversation, error) {
	row := q.db.QueryRow(ctx, createConversation, projectID, title)
	var c Conversation
	err := row.Scan(&c.ID, &c.ProjectID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

const getConversation = `
SELECT id, project_id, title, created_at, updated_at
FROM conversations
WHERE id = $1
`

// GetConversation returns the conversation with the given ID.
func (q *Queries) GetConversation(ctx context.Context, id int64) (Conversation, error) {
	row := q.db.QueryRow(ctx, getConversation, id)
	var c Conversation
	err := row.Scan(&c.ID, &c.ProjectID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

const listConversations = `
SELECT id, project_id, title, created_at, updated_at
FROM conversations
WHERE project_id = $1
ORDER BY updated_at DESC
LIMIT $2 OFFSET $3
`

// ListConversationsParams holds the arguments for ListConversations.
type ListConversationsParams struct {
	ProjectID    int64
	ResultLimit  int32
	ResultOffset int32
}

// ListConversations returns a project's conversations, most recently
// updated first.
func (q *Queries) ListConversations(ctx context.Context, arg ListConversationsParams) ([]Conversation, error) {
	rows, err := q.db.Query(ctx, listConversations, arg.ProjectID, arg.ResultLimit, arg.ResultOffset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

const updateConversationTitle = `
UPDATE conversations
SET title = $2, updated_at = now()
WHERE id = $1
`

// UpdateConversationTitle renames a conversation.
func (q *Queries) UpdateConversationTitle(ctx context.Context, id int64, title string) (int64, error) {
	tag, err := q.db.Exec(ctx, updateConversationTitle, id, title)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const touchConversation = `
UPDATE conversations SET updated_at = now() WHERE id = $1
`

// TouchConversation bumps updated_at so the conversation sorts first.
func (q *Queries) TouchConversation(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, touchConversation, id)
	return err
}

const deleteConversation = `
DELETE FROM conversations WHERE id = $1
`

// DeleteConversation deletes a conversation and its messages (CASCADE).
func (q *Queries) DeleteConversation(ctx context.Context, id int64) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteConversation, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const lockConversation = `
SELECT id FROM conversations WHERE id = $1 FOR UPDATE
`

// LockConversation takes a row lock so concurrent appends cannot race on
// sequence numbers. Must run inside a transaction.
func (q *Queries) LockConversation(ctx context.Context, id int64) (int64, error) {
	var lockedID int64
	err := q.db.QueryRow(ctx, lockConversation, id).Scan(&lockedID)
	return lockedID, err
}

const addMessage = `
INSERT INTO conversation_messages (conversation_id, role, content, sequence_number)
VALUES ($1, $2, $3, $4)
`

// AddMessageParams holds the arguments for AddMessage.
type AddMessageParams struct {
	ConversationID int64
	Role           string
	Content        string
	SequenceNumber int32
}

// AddMessage appends one message to a conversation.
func (q *Queries) AddMessage(ctx context.Context, arg AddMessageParams) error {
	_, err := q.db.Exec(ctx, addMessage, arg.ConversationID, arg.Role, arg.Content, arg.SequenceNumber)
	return err
}

const getMessages = `
SELECT id, conversation_id, role, content, sequence_number, created_at
FROM conversation_messages
WHERE conversation_id = $1
ORDER BY sequence_number
LIMIT $2 OFFSET $3
`

// GetMessagesParams holds the arguments for GetMessages.
type GetMessagesParams struct {
	ConversationID int64
	ResultLimit    int32
	ResultOffset   int32
}

// GetMessages returns a conversation's messages in sequence order.
func (q *Queries) GetMessages(ctx context.Context, arg GetMessagesParams) ([]ConversationMessage, error) {
	rows, err := q.db.Query(ctx, getMessages, arg.ConversationID, arg.ResultLimit, arg.ResultOffset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []ConversationMessage
	for rows.Next() {
		var m ConversationMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.SequenceNumber, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

const getMaxSequenceNumber = `
SELECT COALESCE(MAX(sequence_number), 0)
FROM conversation_messages
WHERE conversation_id = $1
`

// GetMaxSequenceNumber returns the highest sequence number in a
// conversation, 0 when empty.
func (q *Queries) GetMaxSequenceNumber(ctx context.Context, conversationID int64) (int32, error) {
	var max int32
	err := q.db.QueryRow(ctx, getMaxSequenceNumber, conversationID).Scan(&max)
	return max, err
}
