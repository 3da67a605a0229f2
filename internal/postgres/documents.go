package postgres

import (
	"context"
	"time"

	"github.com/pgvector/pgvector-go"
)

const insertChunk = `
INSERT INTO document_chunks (project_id, content, embedding, metadata)
VALUES ($1, $2, $3, $4)
`

// InsertChunkParams holds the arguments for InsertChunk.
type InsertChunkParams struct {
	ProjectID int64
	Content   string
	Embedding pgvector.Vector
	Metadata  []byte
}

// InsertChunk inserts a single document chunk.
func (q *Queries) InsertChunk(ctx context.Context, arg InsertChunkParams) error {
	_, err := q.db.Exec(ctx, insertChunk, arg.ProjectID, arg.Content, arg.Embedding, arg.Metadata)
	return err
}

const searchChunks = `
SELECT id, content, metadata, 1 - (embedding <=> $2) AS similarity
FROM document_chunks
WHERE project_id = $1
  AND ($4::float8 <= 0 OR 1 - (embedding <=> $2) >= $4)
ORDER BY embedding <=> $2
LIMIT $3
`

// SearchChunksParams holds the arguments for SearchChunks.
type SearchChunksParams struct {
	ProjectID      int64
	QueryEmbedding pgvector.Vector
	ResultLimit    int32
	// MinSimilarity filters results below the threshold; <= 0 disables it.
	MinSimilarity float64
}

// SearchChunksRow is a vector search result. Similarity is cosine
// similarity (1 - cosine distance), higher is closer.
type SearchChunksRow struct {
	ID         int64
	Content    string
	Metadata   []byte
	Similarity float64
}

// SearchChunks ranks a project's chunks by cosine similarity to the query
// embedding, closest first.
func (q *Queries) SearchChunks(ctx context.Context, arg SearchChunksParams) ([]SearchChunksRow, error) {
	rows, err := q.db.Query(ctx, searchChunks,
		arg.ProjectID, arg.QueryEmbedding, arg.ResultLimit, arg.MinSimilarity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchChunksRow
	for rows.Next() {
		var r SearchChunksRow
		if err := rows.Scan(&r.ID, &r.Content, &r.Metadata, &r.Similarity); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

const listChunksByProject = `
SELECT id, metadata, created_at
FROM document_chunks
WHERE project_id = $1
ORDER BY created_at
`

// ListChunksByProjectRow is a chunk listing entry without content or
// embedding, used for per-file aggregation.
type ListChunksByProjectRow struct {
	ID        int64
	Metadata  []byte
	CreatedAt time.Time
}

// ListChunksByProject lists all chunk metadata for a project.
func (q *Queries) ListChunksByProject(ctx context.Context, projectID int64) ([]ListChunksByProjectRow, error) {
	rows, err := q.db.Query(ctx, listChunksByProject, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ListChunksByProjectRow
	for rows.Next() {
		var r ListChunksByProjectRow
		if err := rows.Scan(&r.ID, &r.Metadata, &r.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

const deleteChunksByFilename = `
DELETE FROM document_chunks
WHERE project_id = $1 AND metadata->>'filename' = $2
`

// DeleteChunksByFilename deletes all chunks of one uploaded file and
// returns the number of chunks removed.
func (q *Queries) DeleteChunksByFilename(ctx context.Context, projectID int64, filename string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteChunksByFilename, projectID, filename)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const countChunksByProject = `
SELECT count(*) FROM document_chunks WHERE project_id = $1
`

// CountChunksByProject returns the number of chunks stored for a project.
func (q *Queries) CountChunksByProject(ctx context.Context, projectID int64) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countChunksByProject, projectID).Scan(&count)
	return count, err
}
