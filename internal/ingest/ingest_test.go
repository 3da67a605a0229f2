package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/docchat/docchat/internal/chunk"
	"github.com/docchat/docchat/internal/document"
	"github.com/docchat/docchat/internal/log"
)

// fakeEmbedder can fail batches, individual texts, or both.
type fakeEmbedder struct {
	mu         sync.Mutex
	failBatch  bool
	failTexts  map[string]bool
	batchCalls int
	textCalls  int
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textCalls++
	if f.failTexts[text] {
		return nil, errors.New("embed failed")
	}
	return []float32{float32(len(text))}, nil
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if f.failBatch {
		return nil, errors.New("batch failed")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

type fakeStore struct {
	projectID int64
	chunks    []document.Chunk
	fail      bool
}

func (f *fakeStore) AddChunks(ctx context.Context, projectID int64, chunks []document.Chunk) (int, error) {
	if f.fail {
		return 0, errors.New("store down")
	}
	f.projectID = projectID
	f.chunks = append(f.chunks, chunks...)
	return len(chunks), nil
}

func newPipeline(t *testing.T, embedder *fakeEmbedder, store *fakeStore) *Pipeline {
	t.Helper()
	splitter, err := chunk.New(50, 10)
	if err != nil {
		t.Fatal(err)
	}
	return NewPipeline(splitter, embedder, store, log.NewNop(), WithWorkers(2))
}

func TestProcessTextStoresChunks(t *testing.T) {
	embedder := &fakeEmbedder{}
	store := &fakeStore{}
	p := newPipeline(t, embedder, store)

	text := strings.Repeat("some words in a document ", 20)
	n, err := p.ProcessText(context.Background(), 7, "notes.pdf", text)
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 || n != len(store.chunks) {
		t.Fatalf("stored %d chunks, reported %d", len(store.chunks), n)
	}
	if store.projectID != 7 {
		t.Errorf("project = %d, want 7", store.projectID)
	}
	if embedder.batchCalls != 1 || embedder.textCalls != 0 {
		t.Errorf("calls: batch=%d text=%d, want one batch only", embedder.batchCalls, embedder.textCalls)
	}

	for i, c := range store.chunks {
		if c.Metadata.Filename != "notes.pdf" {
			t.Errorf("chunk %d filename = %q", i, c.Metadata.Filename)
		}
		if c.Metadata.ChunkIndex != i {
			t.Errorf("chunk %d index = %d", i, c.Metadata.ChunkIndex)
		}
		if c.Metadata.TotalChunks != len(store.chunks) {
			t.Errorf("chunk %d total = %d, want %d", i, c.Metadata.TotalChunks, len(store.chunks))
		}
		if len(c.Embedding) == 0 {
			t.Errorf("chunk %d has no embedding", i)
		}
	}
}

func TestProcessTextEmpty(t *testing.T) {
	p := newPipeline(t, &fakeEmbedder{}, &fakeStore{})

	for _, text := range []string{"", "   \n\n  "} {
		if _, err := p.ProcessText(context.Background(), 1, "empty.pdf", text); !errors.Is(err, ErrNoText) {
			t.Errorf("ProcessText(%q) error = %v, want ErrNoText", text, err)
		}
	}
}

func TestProcessTextFallbackToIndividual(t *testing.T) {
	embedder := &fakeEmbedder{failBatch: true}
	store := &fakeStore{}
	p := newPipeline(t, embedder, store)

	text := strings.Repeat("fallback path exercise text ", 10)
	n, err := p.ProcessText(context.Background(), 1, "doc.pdf", text)
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		t.Fatal("no chunks stored via fallback")
	}
	if embedder.textCalls == 0 {
		t.Error("fallback did not embed individually")
	}
}

func TestProcessTextFallbackSkipsFailedChunks(t *testing.T) {
	splitter, err := chunk.New(20, 0)
	if err != nil {
		t.Fatal(err)
	}

	text := "alpha beta gamma\n\ndelta epsilon zeta\n\nlast paragraph here"
	pieces := splitter.Split(text)
	if len(pieces) < 2 {
		t.Fatalf("need at least 2 pieces, got %d", len(pieces))
	}

	// Fail exactly one chunk's individual embedding.
	embedder := &fakeEmbedder{
		failBatch: true,
		failTexts: map[string]bool{chunk.Normalize(pieces[0].Text): true},
	}
	store := &fakeStore{}
	p := NewPipeline(splitter, embedder, store, log.NewNop(), WithWorkers(2))

	n, err := p.ProcessText(context.Background(), 1, "doc.pdf", text)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(pieces)-1 {
		t.Errorf("stored %d chunks, want %d (one skipped)", n, len(pieces)-1)
	}
	for _, c := range store.chunks {
		if c.Metadata.TotalChunks != len(pieces) {
			t.Errorf("total_chunks = %d, want original count %d", c.Metadata.TotalChunks, len(pieces))
		}
	}
}

func TestProcessTextAllChunksFail(t *testing.T) {
	splitter, err := chunk.New(20, 0)
	if err != nil {
		t.Fatal(err)
	}

	text := "alpha beta gamma\n\ndelta epsilon zeta"
	failTexts := make(map[string]bool)
	for _, piece := range splitter.Split(text) {
		failTexts[chunk.Normalize(piece.Text)] = true
	}

	embedder := &fakeEmbedder{failBatch: true, failTexts: failTexts}
	p := NewPipeline(splitter, embedder, &fakeStore{}, log.NewNop(), WithWorkers(2))

	_, err = p.ProcessText(context.Background(), 1, "doc.pdf", text)
	if !errors.Is(err, ErrAllChunksFailed) {
		t.Fatalf("error = %v, want ErrAllChunksFailed", err)
	}
}

func TestProcessTextStoreError(t *testing.T) {
	p := newPipeline(t, &fakeEmbedder{}, &fakeStore{fail: true})

	_, err := p.ProcessText(context.Background(), 1, "doc.pdf", "short document text")
	if err == nil {
		t.Fatal("expected store error")
	}
}

func TestExtractPDFInvalid(t *testing.T) {
	data := []byte("this is not a pdf")
	_, err := ExtractPDF(strings.NewReader(string(data)), int64(len(data)))
	if err == nil {
		t.Fatal("expected error for non-PDF input")
	}
}
