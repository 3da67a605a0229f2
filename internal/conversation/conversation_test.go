package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/docchat/docchat/internal/log"
	"github.com/docchat/docchat/internal/postgres"
)

type fakeQuerier struct {
	conversations map[int64]postgres.Conversation
	messages      map[int64][]postgres.ConversationMessage
	nextConvID    int64
	nextMsgID     int64
	failAdd       bool
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{
		conversations: make(map[int64]postgres.Conversation),
		messages:      make(map[int64][]postgres.ConversationMessage),
		nextConvID:    1,
		nextMsgID:     1,
	}
}

func (f *fakeQuerier) CreateConversation(ctx context.Context, projectID int64, title string) (postgres.Conversation, error) {
	c := postgres.Conversation{
		ID:        f.nextConvID,
		ProjectID: projectID,
		Title:     title,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.nextConvID++
	f.conversations[c.ID] = c
	return c, nil
}

func (f *fakeQuerier) GetConversation(ctx context.Context, id int64) (postgres.Conversation, error) {
	c, ok := f.conversations[id]
	if !ok {
		return postgres.Conversation{}, pgx.ErrNoRows
	}
	return c, nil
}

func (f *fakeQuerier) ListConversations(ctx context.Context, arg postgres.ListConversationsParams) ([]postgres.Conversation, error) {
	var out []postgres.Conversation
	for _, c := range f.conversations {
		if c.ProjectID == arg.ProjectID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeQuerier) UpdateConversationTitle(ctx context.Context, id int64, title string) (int64, error) {
	c, ok := f.conversations[id]
	if !ok {
		return 0, nil
	}
	c.Title = title
	c.UpdatedAt = time.Now()
	f.conversations[id] = c
	return 1, nil
}

func (f *fakeQuerier) TouchConversation(ctx context.Context, id int64) error {
	c, ok := f.conversations[id]
	if !ok {
		return nil
	}
	c.UpdatedAt = time.Now()
	f.conversations[id] = c
	return nil
}

func (f *fakeQuerier) DeleteConversation(ctx context.Context, id int64) (int64, error) {
	if _, ok := f.conversations[id]; !ok {
		return 0, nil
	}
	delete(f.conversations, id)
	delete(f.messages, id)
	return 1, nil
}

func (f *fakeQuerier) LockConversation(ctx context.Context, id int64) (int64, error) {
	if _, ok := f.conversations[id]; !ok {
		return 0, pgx.ErrNoRows
	}
	return id, nil
}

func (f *fakeQuerier) AddMessage(ctx context.Context, arg postgres.AddMessageParams) error {
	if f.failAdd {
		return errors.New("insert failed")
	}
	m := postgres.ConversationMessage{
		ID:             f.nextMsgID,
		ConversationID: arg.ConversationID,
		Role:           arg.Role,
		Content:        arg.Content,
		SequenceNumber: arg.SequenceNumber,
		CreatedAt:      time.Now(),
	}
	f.nextMsgID++
	f.messages[arg.ConversationID] = append(f.messages[arg.ConversationID], m)
	return nil
}

func (f *fakeQuerier) GetMessages(ctx context.Context, arg postgres.GetMessagesParams) ([]postgres.ConversationMessage, error) {
	return f.messages[arg.ConversationID], nil
}

func (f *fakeQuerier) GetMaxSequenceNumber(ctx context.Context, conversationID int64) (int32, error) {
	var max int32
	for _, m := range f.messages[conversationID] {
		if m.SequenceNumber > max {
			max = m.SequenceNumber
		}
	}
	return max, nil
}

// fakeTxRunner hands the shared fake querier to fn. On error the fake
// state is NOT rolled back, so failure tests only assert the error.
type fakeTxRunner struct {
	q Querier
}

func (f *fakeTxRunner) RunInTx(ctx context.Context, fn func(q Querier) error) error {
	return fn(f.q)
}

func newService(q *fakeQuerier) *Service {
	return NewService(q, &fakeTxRunner{q: q}, log.NewNop())
}

func TestTitleFromMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short", "What is Go?", "What is Go?"},
		{"trimmed", "  spaces  ", "spaces"},
		{"empty", "", DefaultTitle},
		{"whitespace", "   \n ", DefaultTitle},
		{"exactly 50", strings.Repeat("a", 50), strings.Repeat("a", 50)},
		{"truncated", strings.Repeat("a", 51), strings.Repeat("a", 47) + "..."},
		{"long", strings.Repeat("b", 200), strings.Repeat("b", 47) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TitleFromMessage(tt.in); got != tt.want {
				t.Errorf("TitleFromMessage(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestThreadID(t *testing.T) {
	if got := ThreadID(42); got != "conversation_42" {
		t.Errorf("ThreadID(42) = %q", got)
	}
}

func TestCreateDerivesTitle(t *testing.T) {
	s := newService(newFakeQuerier())

	c, err := s.Create(context.Background(), 1, strings.Repeat("x", 80))
	if err != nil {
		t.Fatal(err)
	}
	if c.Title != strings.Repeat("x", 47)+"..." {
		t.Errorf("title = %q", c.Title)
	}
}

func TestGetWrongProject(t *testing.T) {
	s := newService(newFakeQuerier())
	ctx := context.Background()

	c, err := s.Create(ctx, 1, "hello")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get(ctx, 2, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestAppendSequencesMessages(t *testing.T) {
	q := newFakeQuerier()
	s := newService(q)
	ctx := context.Background()

	c, err := s.Create(ctx, 1, "hi")
	if err != nil {
		t.Fatal(err)
	}

	err = s.Append(ctx, c.ID, []Message{
		{Role: RoleUser, Content: "question one"},
		{Role: RoleAssistant, Content: "answer one"},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = s.Append(ctx, c.ID, []Message{
		{Role: RoleUser, Content: "question two"},
	})
	if err != nil {
		t.Fatal(err)
	}

	msgs, err := s.Messages(ctx, 1, c.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, m := range msgs {
		if m.SequenceNumber != int32(i+1) {
			t.Errorf("message %d sequence = %d, want %d", i, m.SequenceNumber, i+1)
		}
	}
	if msgs[2].Role != RoleUser || msgs[2].Content != "question two" {
		t.Errorf("last message = %+v", msgs[2])
	}
}

func TestAppendMissingConversation(t *testing.T) {
	s := newService(newFakeQuerier())

	err := s.Append(context.Background(), 99, []Message{{Role: RoleUser, Content: "x"}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestAppendEmptyIsNoop(t *testing.T) {
	s := newService(newFakeQuerier())

	if err := s.Append(context.Background(), 99, nil); err != nil {
		t.Fatalf("empty append should be a no-op, got %v", err)
	}
}

func TestAppendBumpsUpdatedAt(t *testing.T) {
	q := newFakeQuerier()
	s := newService(q)
	ctx := context.Background()

	c, err := s.Create(ctx, 1, "hi")
	if err != nil {
		t.Fatal(err)
	}
	before := q.conversations[c.ID].UpdatedAt
	time.Sleep(time.Millisecond)

	if err := s.Append(ctx, c.ID, []Message{{Role: RoleUser, Content: "x"}}); err != nil {
		t.Fatal(err)
	}
	if !q.conversations[c.ID].UpdatedAt.After(before) {
		t.Error("updated_at not bumped by append")
	}
}

func TestRenameAndDelete(t *testing.T) {
	q := newFakeQuerier()
	s := newService(q)
	ctx := context.Background()

	c, err := s.Create(ctx, 1, "hi")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Rename(ctx, 1, c.ID, "Better title"); err != nil {
		t.Fatal(err)
	}
	if q.conversations[c.ID].Title != "Better title" {
		t.Errorf("title = %q", q.conversations[c.ID].Title)
	}

	if err := s.Delete(ctx, 1, c.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, 1, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestRenameWrongProject(t *testing.T) {
	s := newService(newFakeQuerier())
	ctx := context.Background()

	c, err := s.Create(ctx, 1, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Rename(ctx, 2, c.ID, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
