package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/docchat/docchat/internal/ai"
	"github.com/docchat/docchat/internal/auth"
	"github.com/docchat/docchat/internal/conversation"
	"github.com/docchat/docchat/internal/document"
	"github.com/docchat/docchat/internal/log"
	"github.com/docchat/docchat/internal/postgres"
	"github.com/docchat/docchat/internal/project"
	"github.com/docchat/docchat/internal/rag"
	"github.com/docchat/docchat/internal/user"
)

// memBackend is an in-memory stand-in for the Postgres query layer, shared
// by all services in a test server.
type memBackend struct {
	mu            sync.Mutex
	users         map[int64]postgres.User
	projects      map[int64]postgres.Project
	conversations map[int64]postgres.Conversation
	messages      map[int64][]postgres.ConversationMessage
	nextID        int64
}

func newMemBackend() *memBackend {
	return &memBackend{
		users:         make(map[int64]postgres.User),
		projects:      make(map[int64]postgres.Project),
		conversations: make(map[int64]postgres.Conversation),
		messages:      make(map[int64][]postgres.ConversationMessage),
		nextID:        1,
	}
}

func (b *memBackend) id() int64 {
	id := b.nextID
	b.nextID++
	return id
}

func (b *memBackend) CreateUser(ctx context.Context, arg postgres.CreateUserParams) (postgres.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := postgres.User{ID: b.id(), Username: arg.Username, Email: arg.Email, PasswordHash: arg.PasswordHash, CreatedAt: time.Now()}
	b.users[u.ID] = u
	return u, nil
}

func (b *memBackend) GetUserByEmail(ctx context.Context, email string) (postgres.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range b.users {
		if u.Email == email {
			return u, nil
		}
	}
	return postgres.User{}, pgx.ErrNoRows
}

func (b *memBackend) GetUserByID(ctx context.Context, id int64) (postgres.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[id]
	if !ok {
		return postgres.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (b *memBackend) CreateProject(ctx context.Context, arg postgres.CreateProjectParams) (postgres.Project, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := postgres.Project{
		ID: b.id(), UserID: arg.UserID, Title: arg.Title,
		Description: arg.Description, LLMPrompt: arg.LLMPrompt,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	b.projects[p.ID] = p
	return p, nil
}

func (b *memBackend) GetProject(ctx context.Context, id int64) (postgres.Project, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.projects[id]
	if !ok {
		return postgres.Project{}, pgx.ErrNoRows
	}
	return p, nil
}

func (b *memBackend) ListProjectsByUser(ctx context.Context, arg postgres.ListProjectsByUserParams) ([]postgres.Project, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []postgres.Project
	for _, p := range b.projects {
		if p.UserID == arg.UserID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *memBackend) DeleteProject(ctx context.Context, id int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.projects[id]; !ok {
		return 0, nil
	}
	delete(b.projects, id)
	return 1, nil
}

func (b *memBackend) CreateConversation(ctx context.Context, projectID int64, title string) (postgres.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := postgres.Conversation{ID: b.id(), ProjectID: projectID, Title: title, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	b.conversations[c.ID] = c
	return c, nil
}

func (b *memBackend) GetConversation(ctx context.Context, id int64) (postgres.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conversations[id]
	if !ok {
		return postgres.Conversation{}, pgx.ErrNoRows
	}
	return c, nil
}

func (b *memBackend) ListConversations(ctx context.Context, arg postgres.ListConversationsParams) ([]postgres.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []postgres.Conversation
	for _, c := range b.conversations {
		if c.ProjectID == arg.ProjectID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (b *memBackend) UpdateConversationTitle(ctx context.Context, id int64, title string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conversations[id]
	if !ok {
		return 0, nil
	}
	c.Title = title
	c.UpdatedAt = time.Now()
	b.conversations[id] = c
	return 1, nil
}

func (b *memBackend) TouchConversation(ctx context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.conversations[id]; ok {
		c.UpdatedAt = time.Now()
		b.conversations[id] = c
	}
	return nil
}

func (b *memBackend) DeleteConversation(ctx context.Context, id int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.conversations[id]; !ok {
		return 0, nil
	}
	delete(b.conversations, id)
	delete(b.messages, id)
	return 1, nil
}

func (b *memBackend) LockConversation(ctx context.Context, id int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.conversations[id]; !ok {
		return 0, pgx.ErrNoRows
	}
	return id, nil
}

func (b *memBackend) AddMessage(ctx context.Context, arg postgres.AddMessageParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := postgres.ConversationMessage{
		ID: b.id(), ConversationID: arg.ConversationID,
		Role: arg.Role, Content: arg.Content,
		SequenceNumber: arg.SequenceNumber, CreatedAt: time.Now(),
	}
	b.messages[arg.ConversationID] = append(b.messages[arg.ConversationID], m)
	return nil
}

func (b *memBackend) GetMessages(ctx context.Context, arg postgres.GetMessagesParams) ([]postgres.ConversationMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]postgres.ConversationMessage(nil), b.messages[arg.ConversationID]...), nil
}

func (b *memBackend) GetMaxSequenceNumber(ctx context.Context, conversationID int64) (int32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var max int32
	for _, m := range b.messages[conversationID] {
		if m.SequenceNumber > max {
			max = m.SequenceNumber
		}
	}
	return max, nil
}

// memTxRunner satisfies conversation.TxRunner without transactions.
type memTxRunner struct {
	b *memBackend
}

func (r *memTxRunner) RunInTx(ctx context.Context, fn func(q conversation.Querier) error) error {
	return fn(r.b)
}

// fakeFiles is an in-memory FileStore.
type fakeFiles struct {
	mu    sync.Mutex
	files map[int64]map[string]int // projectID -> filename -> chunk count
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{files: make(map[int64]map[string]int)}
}

func (f *fakeFiles) add(projectID int64, filename string, chunks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files[projectID] == nil {
		f.files[projectID] = make(map[string]int)
	}
	f.files[projectID][filename] = chunks
}

func (f *fakeFiles) ListFiles(ctx context.Context, projectID int64) (document.FileList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := document.FileList{Files: []document.FileInfo{}}
	for name, count := range f.files[projectID] {
		list.Files = append(list.Files, document.FileInfo{Filename: name, ChunksCount: count, CreatedAt: time.Now()})
		list.TotalChunks += count
	}
	list.TotalFiles = len(list.Files)
	return list, nil
}

func (f *fakeFiles) DeleteFile(ctx context.Context, projectID int64, filename string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count, ok := f.files[projectID][filename]
	if !ok {
		return 0, document.ErrFileNotFound
	}
	delete(f.files[projectID], filename)
	return int64(count), nil
}

// fakeIngestor records uploads without touching a real PDF parser.
type fakeIngestor struct {
	files  *fakeFiles
	chunks int
}

func (f *fakeIngestor) ProcessPDF(ctx context.Context, projectID int64, filename string, r io.ReaderAt, size int64) (int, error) {
	if f.chunks == 0 {
		f.chunks = 3
	}
	if f.files != nil {
		f.files.add(projectID, filename, f.chunks)
	}
	return f.chunks, nil
}

// fakeAnswerer returns a canned result and records the call.
type fakeAnswerer struct {
	mu      sync.Mutex
	answer  string
	lastQ   string
	history []ai.Message
	prompt  string
}

func (f *fakeAnswerer) Answer(ctx context.Context, projectID int64, question string, history []ai.Message, projectPrompt string) (rag.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQ = question
	f.history = append([]ai.Message(nil), history...)
	f.prompt = projectPrompt
	answer := f.answer
	if answer == "" {
		answer = "canned answer"
	}
	return rag.Result{Answer: answer, Question: question}, nil
}

type testServer struct {
	*httptest.Server
	backend  *memBackend
	files    *fakeFiles
	answerer *fakeAnswerer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	backend := newMemBackend()
	files := newFakeFiles()
	answerer := &fakeAnswerer{}
	logger := log.NewNop()

	srv, err := NewServer(ServerConfig{
		Logger:        logger,
		Users:         user.NewService(backend, logger),
		Projects:      project.NewService(backend, logger),
		Conversations: conversation.NewService(backend, &memTxRunner{b: backend}, logger),
		Files:         files,
		Ingestor:      &fakeIngestor{files: files},
		Answerer:      answerer,
		Tokens:        auth.NewTokenManager("0123456789abcdef0123456789abcdef", time.Hour),
		ModelOptions: ai.Options{
			Provider: ai.ProviderOllama,
			Model:    "qwen3",
		},
		RateLimit: 1000,
		RateBurst: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, backend: backend, files: files, answerer: answerer}
}

// doJSON performs a JSON request and decodes the response body into out
// when non-nil.
func (ts *testServer) doJSON(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

// signup registers a user and returns a bearer token.
func (ts *testServer) signup(t *testing.T, email string) string {
	t.Helper()

	status := ts.doJSON(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "tester",
		"email":    email,
		"password": "long-enough-pw",
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("register status = %d", status)
	}

	var tok tokenResponse
	status = ts.doJSON(t, http.MethodPost, "/api/auth/token", "", map[string]string{
		"email":    email,
		"password": "long-enough-pw",
	}, &tok)
	if status != http.StatusOK || tok.AccessToken == "" {
		t.Fatalf("token status = %d, token = %q", status, tok.AccessToken)
	}
	return tok.AccessToken
}

// createProject creates a project and returns its ID.
func (ts *testServer) createProject(t *testing.T, token, title string) int64 {
	t.Helper()

	var p struct {
		ID int64 `json:"id"`
	}
	status := ts.doJSON(t, http.MethodPost, "/api/projects", token, map[string]string{
		"title": title,
	}, &p)
	if status != http.StatusCreated || p.ID == 0 {
		t.Fatalf("create project status = %d, id = %d", status, p.ID)
	}
	return p.ID
}

// uploadPDF uploads a fake PDF through the multipart endpoint.
func (ts *testServer) uploadPDF(t *testing.T, token string, projectID int64, filename, contentType string) int {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename)}
	hdr["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte("%PDF-1.4 fake content")); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/projects/%d/upload", ts.URL, projectID), &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}
