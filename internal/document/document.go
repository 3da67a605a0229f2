// Package document stores embedded text chunks and retrieves them by
// vector similarity. It is the retrieval half of the question-answering
// pipeline: chunks go in with their embeddings at upload time, and come
// back ranked by cosine similarity to a query embedding.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/docchat/docchat/internal/ai"
	"github.com/docchat/docchat/internal/log"
	"github.com/docchat/docchat/internal/postgres"
	pgvector "github.com/pgvector/pgvector-go"
)

var (
	// ErrEmptyQuery indicates a blank search query.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrFileNotFound indicates no chunks exist for the filename.
	ErrFileNotFound = errors.New("file not found")
)

// DefaultTopK is the number of chunks retrieved per query when the caller
// does not override it.
const DefaultTopK = 2

// emptyContext is returned to the model when retrieval found nothing.
const emptyContext = "Nenhum conteúdo relevante encontrado."

// Metadata describes where a chunk came from.
type Metadata struct {
	Filename    string `json:"filename"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	StartIndex  int    `json:"start_index,omitempty"`
}

// Chunk is one embedded piece of a document, ready for storage.
type Chunk struct {
	Content   string
	Embedding []float32
	Metadata  Metadata
}

// Match is one retrieval result. Similarity is cosine similarity rounded
// to four decimals; higher is closer.
type Match struct {
	ID         int64    `json:"id"`
	Content    string   `json:"content"`
	Metadata   Metadata `json:"metadata"`
	Similarity float64  `json:"similarity_score"`
}

// FileInfo summarizes one uploaded file.
type FileInfo struct {
	Filename    string    `json:"filename"`
	ChunksCount int       `json:"chunks_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// FileList is the per-project file inventory.
type FileList struct {
	Files       []FileInfo `json:"files"`
	TotalFiles  int        `json:"total_files"`
	TotalChunks int        `json:"total_chunks"`
}

// Querier is the subset of store queries the document store needs.
type Querier interface {
	InsertChunk(ctx context.Context, arg postgres.InsertChunkParams) error
	SearchChunks(ctx context.Context, arg postgres.SearchChunksParams) ([]postgres.SearchChunksRow, error)
	ListChunksByProject(ctx context.Context, projectID int64) ([]postgres.ListChunksByProjectRow, error)
	DeleteChunksByFilename(ctx context.Context, projectID int64, filename string) (int64, error)
	CountChunksByProject(ctx context.Context, projectID int64) (int64, error)
}

// Store persists and retrieves document chunks.
type Store struct {
	queries   Querier
	embedder  ai.Embedder
	topK      int32
	threshold float64
	logger    log.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTopK sets how many chunks a search returns.
func WithTopK(k int32) Option {
	return func(s *Store) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithThreshold sets the minimum cosine similarity for search results.
// Zero or negative disables the filter.
func WithThreshold(t float64) Option {
	return func(s *Store) { s.threshold = t }
}

// NewStore creates a document store.
func NewStore(queries Querier, embedder ai.Embedder, logger log.Logger, opts ...Option) *Store {
	s := &Store{
		queries:  queries,
		embedder: embedder,
		topK:     DefaultTopK,
		logger:   logger.With("component", "document"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddChunks inserts embedded chunks for a project and returns the number
// stored.
func (s *Store) AddChunks(ctx context.Context, projectID int64, chunks []Chunk) (int, error) {
	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return i, fmt.Errorf("marshal chunk %d metadata: %w", i, err)
		}
		err = s.queries.InsertChunk(ctx, postgres.InsertChunkParams{
			ProjectID: projectID,
			Content:   c.Content,
			Embedding: pgvector.NewVector(c.Embedding),
			Metadata:  meta,
		})
		if err != nil {
			return i, fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}

	s.logger.Info("stored chunks", "project_id", projectID, "count", len(chunks))
	return len(chunks), nil
}

// SearchSimilar embeds the query and returns the closest chunks, best
// first. Results below the configured similarity threshold are dropped.
func (s *Store) SearchSimilar(ctx context.Context, projectID int64, query string) ([]Match, error) {
	if !hasContent(query) {
		return nil, ErrEmptyQuery
	}

	embedding, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.queries.SearchChunks(ctx, postgres.SearchChunksParams{
		ProjectID:      projectID,
		QueryEmbedding: pgvector.NewVector(embedding),
		ResultLimit:    s.topK,
		MinSimilarity:  s.threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		var meta Metadata
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &meta); err != nil {
				return nil, fmt.Errorf("unmarshal chunk %d metadata: %w", row.ID, err)
			}
		}
		matches = append(matches, Match{
			ID:         row.ID,
			Content:    row.Content,
			Metadata:   meta,
			Similarity: math.Round(row.Similarity*10000) / 10000,
		})
	}

	s.logger.Debug("similarity search", "project_id", projectID, "results", len(matches))
	return matches, nil
}

// ListFiles groups a project's chunks by source filename. Each file
// carries its chunk count and the timestamp of its earliest chunk; files
// are ordered newest first.
func (s *Store) ListFiles(ctx context.Context, projectID int64) (FileList, error) {
	rows, err := s.queries.ListChunksByProject(ctx, projectID)
	if err != nil {
		return FileList{}, fmt.Errorf("list chunks: %w", err)
	}

	type group struct {
		count    int
		earliest time.Time
	}
	groups := make(map[string]*group)
	for _, row := range rows {
		var meta Metadata
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &meta); err != nil {
				return FileList{}, fmt.Errorf("unmarshal chunk %d metadata: %w", row.ID, err)
			}
		}
		name := meta.Filename
		if name == "" {
			name = "unknown"
		}
		g, ok := groups[name]
		if !ok {
			groups[name] = &group{count: 1, earliest: row.CreatedAt}
			continue
		}
		g.count++
		if row.CreatedAt.Before(g.earliest) {
			g.earliest = row.CreatedAt
		}
	}

	list := FileList{Files: make([]FileInfo, 0, len(groups))}
	for name, g := range groups {
		list.Files = append(list.Files, FileInfo{
			Filename:    name,
			ChunksCount: g.count,
			CreatedAt:   g.earliest,
		})
		list.TotalChunks += g.count
	}
	sort.Slice(list.Files, func(i, j int) bool {
		return list.Files[i].CreatedAt.After(list.Files[j].CreatedAt)
	})
	list.TotalFiles = len(list.Files)
	return list, nil
}

// DeleteFile removes every chunk of one uploaded file and returns the
// number of chunks removed.
func (s *Store) DeleteFile(ctx context.Context, projectID int64, filename string) (int64, error) {
	deleted, err := s.queries.DeleteChunksByFilename(ctx, projectID, filename)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	if deleted == 0 {
		return 0, ErrFileNotFound
	}

	s.logger.Info("deleted file", "project_id", projectID, "filename", filename, "chunks", deleted)
	return deleted, nil
}

func hasContent(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}
