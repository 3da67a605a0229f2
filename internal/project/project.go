// Package project manages document collections. Every project belongs to
// one user; all access paths check ownership and report a missing project
// for other users' projects, so the API never reveals which IDs exist.
package project

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/docchat/docchat/internal/log"
	"github.com/docchat/docchat/internal/postgres"
)

// ErrNotFound indicates the project does not exist or belongs to another
// user.
var ErrNotFound = errors.New("project not found")

// DefaultListLimit bounds project listings when the caller does not set one.
const DefaultListLimit = 50

// Project is a named document collection.
type Project struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	LLMPrompt   string    `json:"llm_prompt,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Querier is the subset of store queries the service needs.
type Querier interface {
	CreateProject(ctx context.Context, arg postgres.CreateProjectParams) (postgres.Project, error)
	GetProject(ctx context.Context, id int64) (postgres.Project, error)
	ListProjectsByUser(ctx context.Context, arg postgres.ListProjectsByUserParams) ([]postgres.Project, error)
	DeleteProject(ctx context.Context, id int64) (int64, error)
}

// Service manages projects.
type Service struct {
	queries Querier
	logger  log.Logger
}

// NewService creates a project service.
func NewService(queries Querier, logger log.Logger) *Service {
	return &Service{
		queries: queries,
		logger:  logger.With("component", "project"),
	}
}

// Create creates a project owned by userID.
func (s *Service) Create(ctx context.Context, userID int64, title, description, llmPrompt string) (Project, error) {
	row, err := s.queries.CreateProject(ctx, postgres.CreateProjectParams{
		UserID:      userID,
		Title:       title,
		Description: description,
		LLMPrompt:   llmPrompt,
	})
	if err != nil {
		return Project{}, fmt.Errorf("create project: %w", err)
	}

	s.logger.Info("created project", "project_id", row.ID, "user_id", userID)
	return fromRow(row), nil
}

// Get returns the project if it exists and is owned by userID.
func (s *Service) Get(ctx context.Context, userID, projectID int64) (Project, error) {
	row, err := s.queries.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	if row.UserID != userID {
		return Project{}, ErrNotFound
	}
	return fromRow(row), nil
}

// List returns the user's projects, most recently updated first.
func (s *Service) List(ctx context.Context, userID int64, limit, offset int32) ([]Project, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.queries.ListProjectsByUser(ctx, postgres.ListProjectsByUserParams{
		UserID:       userID,
		ResultLimit:  limit,
		ResultOffset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	projects := make([]Project, 0, len(rows))
	for _, row := range rows {
		projects = append(projects, fromRow(row))
	}
	return projects, nil
}

// Delete removes a project owned by userID. Chunks and conversations are
// removed by cascade.
func (s *Service) Delete(ctx context.Context, userID, projectID int64) error {
	if _, err := s.Get(ctx, userID, projectID); err != nil {
		return err
	}

	affected, err := s.queries.DeleteProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Info("deleted project", "project_id", projectID, "user_id", userID)
	return nil
}

func fromRow(row postgres.Project) Project {
	return Project{
		ID:          row.ID,
		UserID:      row.UserID,
		Title:       row.Title,
		Description: row.Description,
		LLMPrompt:   row.LLMPrompt,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}
