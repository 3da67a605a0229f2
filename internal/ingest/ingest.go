// Package ingest turns uploaded documents into stored, embedded chunks.
//
// The pipeline is: extract text, split into overlapping windows, embed the
// windows, and persist them to the document store. Embedding runs as one
// batch call; if the batch fails the pipeline falls back to embedding
// chunks individually on a worker pool, skipping chunks that keep failing
// so one bad chunk does not sink the whole upload.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/docchat/docchat/internal/ai"
	"github.com/docchat/docchat/internal/chunk"
	"github.com/docchat/docchat/internal/document"
	"github.com/docchat/docchat/internal/log"
)

var (
	// ErrNoText indicates the document produced no extractable text.
	ErrNoText = errors.New("document contains no extractable text")

	// ErrAllChunksFailed indicates not a single chunk could be embedded.
	ErrAllChunksFailed = errors.New("embedding failed for every chunk")
)

// DefaultWorkers is the fallback embedding concurrency.
const DefaultWorkers = 4

// ChunkStore persists embedded chunks.
type ChunkStore interface {
	AddChunks(ctx context.Context, projectID int64, chunks []document.Chunk) (int, error)
}

// Pipeline ingests documents for a project.
type Pipeline struct {
	splitter *chunk.Splitter
	embedder ai.Embedder
	store    ChunkStore
	workers  int
	logger   log.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers sets the fallback embedding concurrency.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(splitter *chunk.Splitter, embedder ai.Embedder, store ChunkStore, logger log.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		splitter: splitter,
		embedder: embedder,
		store:    store,
		workers:  DefaultWorkers,
		logger:   logger.With("component", "ingest"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessPDF extracts text from a PDF and ingests it under filename.
// Returns the number of chunks stored.
func (p *Pipeline) ProcessPDF(ctx context.Context, projectID int64, filename string, r io.ReaderAt, size int64) (int, error) {
	text, err := ExtractPDF(r, size)
	if err != nil {
		return 0, err
	}
	return p.ProcessText(ctx, projectID, filename, text)
}

// ProcessText splits, embeds, and stores a text document under filename.
// Returns the number of chunks stored.
func (p *Pipeline) ProcessText(ctx context.Context, projectID int64, filename, text string) (int, error) {
	pieces := p.splitter.Split(text)
	if len(pieces) == 0 {
		return 0, ErrNoText
	}

	// Newlines are collapsed for embedding only; the stored content keeps
	// its formatting for display in answers.
	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = chunk.Normalize(piece.Text)
	}

	vectors, err := p.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		p.logger.Warn("batch embedding failed, retrying per chunk",
			"filename", filename, "chunks", len(texts), "error", err)
		vectors, err = p.embedChunksIndividually(ctx, texts)
		if err != nil {
			return 0, err
		}
	}

	chunks := make([]document.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		if vectors[i] == nil {
			continue
		}
		chunks = append(chunks, document.Chunk{
			Content:   strings.TrimSpace(piece.Text),
			Embedding: vectors[i],
			Metadata: document.Metadata{
				Filename:    filename,
				ChunkIndex:  i,
				TotalChunks: len(pieces),
				StartIndex:  piece.StartIndex,
			},
		})
	}
	if len(chunks) == 0 {
		return 0, ErrAllChunksFailed
	}

	stored, err := p.store.AddChunks(ctx, projectID, chunks)
	if err != nil {
		return 0, fmt.Errorf("store chunks: %w", err)
	}

	p.logger.Info("ingested document",
		"project_id", projectID, "filename", filename,
		"chunks", stored, "skipped", len(pieces)-stored)
	return stored, nil
}

// embedChunksIndividually embeds each text on a worker pool. Failed chunks
// come back as nil vectors; only a total failure is an error.
func (p *Pipeline) embedChunksIndividually(ctx context.Context, texts []string) ([][]float32, error) {
	pool, err := ants.NewPool(p.workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	vectors := make([][]float32, len(texts))
	var wg sync.WaitGroup
	for i, text := range texts {
		i, text := i, text
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			vec, err := p.embedder.EmbedText(ctx, text)
			if err != nil {
				p.logger.Warn("chunk embedding failed", "chunk", i, "error", err)
				return
			}
			vectors[i] = vec
		})
		if submitErr != nil {
			wg.Done()
			return nil, fmt.Errorf("submit embedding task: %w", submitErr)
		}
	}
	wg.Wait()

	for _, vec := range vectors {
		if vec != nil {
			return vectors, nil
		}
	}
	return nil, ErrAllChunksFailed
}
