package document

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/docchat/docchat/internal/log"
	"github.com/docchat/docchat/internal/postgres"
)

type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedder down")
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type storedChunk struct {
	params    postgres.InsertChunkParams
	createdAt time.Time
}

type fakeQuerier struct {
	chunks     []storedChunk
	searchRows []postgres.SearchChunksRow
	lastSearch postgres.SearchChunksParams
	nextID     int64
}

func (f *fakeQuerier) InsertChunk(ctx context.Context, arg postgres.InsertChunkParams) error {
	f.nextID++
	f.chunks = append(f.chunks, storedChunk{params: arg, createdAt: time.Now()})
	return nil
}

func (f *fakeQuerier) SearchChunks(ctx context.Context, arg postgres.SearchChunksParams) ([]postgres.SearchChunksRow, error) {
	f.lastSearch = arg
	return f.searchRows, nil
}

func (f *fakeQuerier) ListChunksByProject(ctx context.Context, projectID int64) ([]postgres.ListChunksByProjectRow, error) {
	var rows []postgres.ListChunksByProjectRow
	for i, c := range f.chunks {
		if c.params.ProjectID != projectID {
			continue
		}
		rows = append(rows, postgres.ListChunksByProjectRow{
			ID:        int64(i + 1),
			Metadata:  c.params.Metadata,
			CreatedAt: c.createdAt,
		})
	}
	return rows, nil
}

func (f *fakeQuerier) DeleteChunksByFilename(ctx context.Context, projectID int64, filename string) (int64, error) {
	var kept []storedChunk
	var deleted int64
	for _, c := range f.chunks {
		var meta Metadata
		_ = json.Unmarshal(c.params.Metadata, &meta)
		if c.params.ProjectID == projectID && meta.Filename == filename {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	f.chunks = kept
	return deleted, nil
}

func (f *fakeQuerier) CountChunksByProject(ctx context.Context, projectID int64) (int64, error) {
	var n int64
	for _, c := range f.chunks {
		if c.params.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}

func mustMeta(t *testing.T, m Metadata) []byte {
	t.Helper()
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestAddChunks(t *testing.T) {
	q := &fakeQuerier{}
	s := NewStore(q, &fakeEmbedder{}, log.NewNop())

	n, err := s.AddChunks(context.Background(), 1, []Chunk{
		{Content: "first", Embedding: []float32{1, 0, 0}, Metadata: Metadata{Filename: "a.pdf", ChunkIndex: 0, TotalChunks: 2}},
		{Content: "second", Embedding: []float32{0, 1, 0}, Metadata: Metadata{Filename: "a.pdf", ChunkIndex: 1, TotalChunks: 2}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(q.chunks) != 2 {
		t.Fatalf("stored %d chunks, want 2", len(q.chunks))
	}

	var meta Metadata
	if err := json.Unmarshal(q.chunks[0].params.Metadata, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Filename != "a.pdf" || meta.TotalChunks != 2 {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestSearchSimilarEmptyQuery(t *testing.T) {
	s := NewStore(&fakeQuerier{}, &fakeEmbedder{}, log.NewNop())

	for _, query := range []string{"", "   ", "\n\t"} {
		if _, err := s.SearchSimilar(context.Background(), 1, query); !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("SearchSimilar(%q) error = %v, want ErrEmptyQuery", query, err)
		}
	}
}

func TestSearchSimilarRoundsAndMaps(t *testing.T) {
	q := &fakeQuerier{
		searchRows: []postgres.SearchChunksRow{
			{ID: 7, Content: "relevant text", Metadata: mustMeta(t, Metadata{Filename: "doc.pdf"}), Similarity: 0.876543},
		},
	}
	s := NewStore(q, &fakeEmbedder{}, log.NewNop())

	matches, err := s.SearchSimilar(context.Background(), 1, "question")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].Similarity != 0.8765 {
		t.Errorf("similarity = %v, want 0.8765 (rounded to 4 decimals)", matches[0].Similarity)
	}
	if matches[0].Metadata.Filename != "doc.pdf" {
		t.Errorf("metadata = %+v", matches[0].Metadata)
	}
}

func TestSearchSimilarUsesConfiguredLimits(t *testing.T) {
	q := &fakeQuerier{}
	s := NewStore(q, &fakeEmbedder{}, log.NewNop(), WithTopK(5), WithThreshold(0.7))

	if _, err := s.SearchSimilar(context.Background(), 3, "question"); err != nil {
		t.Fatal(err)
	}
	if q.lastSearch.ResultLimit != 5 {
		t.Errorf("limit = %d, want 5", q.lastSearch.ResultLimit)
	}
	if q.lastSearch.MinSimilarity != 0.7 {
		t.Errorf("threshold = %v, want 0.7", q.lastSearch.MinSimilarity)
	}
	if q.lastSearch.ProjectID != 3 {
		t.Errorf("project = %d, want 3", q.lastSearch.ProjectID)
	}
}

func TestSearchSimilarDefaultTopK(t *testing.T) {
	q := &fakeQuerier{}
	s := NewStore(q, &fakeEmbedder{}, log.NewNop())

	if _, err := s.SearchSimilar(context.Background(), 1, "question"); err != nil {
		t.Fatal(err)
	}
	if q.lastSearch.ResultLimit != DefaultTopK {
		t.Errorf("limit = %d, want %d", q.lastSearch.ResultLimit, DefaultTopK)
	}
}

func TestSearchSimilarEmbedderError(t *testing.T) {
	s := NewStore(&fakeQuerier{}, &fakeEmbedder{fail: true}, log.NewNop())

	if _, err := s.SearchSimilar(context.Background(), 1, "question"); err == nil {
		t.Fatal("expected error when embedder fails")
	}
}

func TestListFilesGroupsAndSorts(t *testing.T) {
	q := &fakeQuerier{}
	now := time.Now()
	q.chunks = []storedChunk{
		{params: postgres.InsertChunkParams{ProjectID: 1, Metadata: mustMeta(t, Metadata{Filename: "old.pdf"})}, createdAt: now.Add(-2 * time.Hour)},
		{params: postgres.InsertChunkParams{ProjectID: 1, Metadata: mustMeta(t, Metadata{Filename: "old.pdf"})}, createdAt: now.Add(-1 * time.Hour)},
		{params: postgres.InsertChunkParams{ProjectID: 1, Metadata: mustMeta(t, Metadata{Filename: "new.pdf"})}, createdAt: now},
		{params: postgres.InsertChunkParams{ProjectID: 2, Metadata: mustMeta(t, Metadata{Filename: "other.pdf"})}, createdAt: now},
	}
	s := NewStore(q, &fakeEmbedder{}, log.NewNop())

	list, err := s.ListFiles(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if list.TotalFiles != 2 || list.TotalChunks != 3 {
		t.Fatalf("totals = %d files / %d chunks, want 2 / 3", list.TotalFiles, list.TotalChunks)
	}

	// Newest file first.
	if list.Files[0].Filename != "new.pdf" || list.Files[1].Filename != "old.pdf" {
		t.Errorf("order = %s, %s", list.Files[0].Filename, list.Files[1].Filename)
	}
	// A file's timestamp is its earliest chunk.
	if !list.Files[1].CreatedAt.Equal(now.Add(-2 * time.Hour)) {
		t.Errorf("old.pdf created_at = %v, want earliest chunk time", list.Files[1].CreatedAt)
	}
	if list.Files[1].ChunksCount != 2 {
		t.Errorf("old.pdf chunks = %d, want 2", list.Files[1].ChunksCount)
	}
}

func TestListFilesEmpty(t *testing.T) {
	s := NewStore(&fakeQuerier{}, &fakeEmbedder{}, log.NewNop())

	list, err := s.ListFiles(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if list.TotalFiles != 0 || list.TotalChunks != 0 || len(list.Files) != 0 {
		t.Errorf("unexpected list: %+v", list)
	}
}

func TestDeleteFile(t *testing.T) {
	q := &fakeQuerier{}
	q.chunks = []storedChunk{
		{params: postgres.InsertChunkParams{ProjectID: 1, Metadata: mustMeta(t, Metadata{Filename: "a.pdf"})}},
		{params: postgres.InsertChunkParams{ProjectID: 1, Metadata: mustMeta(t, Metadata{Filename: "a.pdf"})}},
		{params: postgres.InsertChunkParams{ProjectID: 1, Metadata: mustMeta(t, Metadata{Filename: "b.pdf"})}},
	}
	s := NewStore(q, &fakeEmbedder{}, log.NewNop())

	deleted, err := s.DeleteFile(context.Background(), 1, "a.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	if len(q.chunks) != 1 {
		t.Errorf("remaining chunks = %d, want 1", len(q.chunks))
	}
}

func TestDeleteFileMissing(t *testing.T) {
	s := NewStore(&fakeQuerier{}, &fakeEmbedder{}, log.NewNop())

	_, err := s.DeleteFile(context.Background(), 1, "ghost.pdf")
	if !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("error = %v, want ErrFileNotFound", err)
	}
}

func TestFormatForLLM(t *testing.T) {
	matches := []Match{
		{Content: "first content", Metadata: Metadata{Filename: "a.pdf"}, Similarity: 0.8765},
		{Content: "second content", Metadata: Metadata{Filename: "b.pdf"}, Similarity: 0.5},
	}

	got := FormatForLLM(matches)

	if !strings.Contains(got, "[Documento 1]") || !strings.Contains(got, "[Documento 2]") {
		t.Errorf("missing document headers:\n%s", got)
	}
	if !strings.Contains(got, "Arquivo: a.pdf") {
		t.Errorf("missing filename:\n%s", got)
	}
	if !strings.Contains(got, "Similaridade: 87.65%") {
		t.Errorf("missing similarity percentage:\n%s", got)
	}
	if !strings.Contains(got, "\n---\n") {
		t.Errorf("missing section separator:\n%s", got)
	}
	if !strings.Contains(got, "Conteúdo:\nfirst content") {
		t.Errorf("missing content block:\n%s", got)
	}
}

func TestFormatForLLMEmpty(t *testing.T) {
	if got := FormatForLLM(nil); got != "Nenhum conteúdo relevante encontrado." {
		t.Errorf("empty format = %q", got)
	}
}

func TestFormatForLLMBoundsContext(t *testing.T) {
	big := strings.Repeat("x", maxContextLen)
	matches := []Match{
		{Content: big, Metadata: Metadata{Filename: "a.pdf"}, Similarity: 0.9},
		{Content: "runner up", Metadata: Metadata{Filename: "b.pdf"}, Similarity: 0.5},
	}

	got := FormatForLLM(matches)

	// The top match always survives, even when it alone exceeds the budget.
	if !strings.Contains(got, "[Documento 1]") {
		t.Error("top match was dropped")
	}
	if strings.Contains(got, "[Documento 2]") {
		t.Error("lower-ranked match kept past the context budget")
	}
}

func TestFormatForLLMUnknownFilename(t *testing.T) {
	got := FormatForLLM([]Match{{Content: "x", Similarity: 1}})
	if !strings.Contains(got, "Arquivo: unknown") {
		t.Errorf("missing unknown filename fallback:\n%s", got)
	}
}
