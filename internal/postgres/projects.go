package postgres

import (
	"context"
	"time"
)

// Project is a row of the projects table.
type Project struct {
	ID          int64
	UserID      int64
	Title       string
	Description string
	LLMPrompt   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const createProject = `
INSERT INTO projects (user_id, title, description, llm_prompt)
VALUES ($1, $2, $3, $4)
RETURNING id, user_id, title, description, llm_prompt, created_at, updated_at
`

// CreateProjectParams holds the arguments for CreateProject.
type CreateProjectParams struct {
	UserID      int64
	Title       string
	Description string
	LLMPrompt   string
}

// CreateProject inserts a new project and returns the created row.
func (q *Queries) CreateProject(ctx context.Context, arg CreateProjectParams) (Project, error) {
	row := q.db.QueryRow(ctx, createProject, arg.UserID, arg.Title, arg.Description, arg.LLMPrompt)
	var p Project
	err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.Description, &p.LLMPrompt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

const getProject = `
SELECT id, user_id, title, description, llm_prompt, created_at, updated_at
FROM projects
WHERE id = $1
`

// GetProject returns the project with the given ID.
func (q *Queries) GetProject(ctx context.Context, id int64) (Project, error) {
	row := q.db.QueryRow(ctx, getProject, id)
	var p Project
	err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.Description, &p.LLMPrompt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

const listProjectsByUser = `
SELECT id, user_id, title, description, llm_prompt, created_at, updated_at
FROM projects
WHERE user_id = $1
ORDER BY updated_at DESC
LIMIT $2 OFFSET $3
`

// ListProjectsByUserParams holds the arguments for ListProjectsByUser.
type ListProjectsByUserParams struct {
	UserID       int64
	ResultLimit  int32
	ResultOffset int32
}

// ListProjectsByUser returns the user's projects, most recently updated first.
func (q *Queries) ListProjectsByUser(ctx context.Context, arg ListProjectsByUserParams) ([]Project, error) {
	rows, err := q.db.Query(ctx, listProjectsByUser, arg.UserID, arg.ResultLimit, arg.ResultOffset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.UserID, &p.Title, &p.Description, &p.LLMPrompt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

const deleteProject = `
DELETE FROM projects WHERE id = $1
`

// DeleteProject deletes a project. Chunks and conversations cascade.
func (q *Queries) DeleteProject(ctx context.Context, id int64) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteProject, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
