// Package user implements account registration and credential checks.
package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/docchat/docchat/internal/auth"
	"github.com/docchat/docchat/internal/log"
	"github.com/docchat/docchat/internal/postgres"
)

var (
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials indicates an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNotFound indicates no such user.
	ErrNotFound = errors.New("user not found")
)

// User is an account without the password hash.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Querier is the subset of store queries the service needs.
type Querier interface {
	CreateUser(ctx context.Context, arg postgres.CreateUserParams) (postgres.User, error)
	GetUserByEmail(ctx context.Context, email string) (postgres.User, error)
	GetUserByID(ctx context.Context, id int64) (postgres.User, error)
}

// Service manages accounts.
type Service struct {
	queries Querier
	logger  log.Logger
}

// NewService creates a user service.
func NewService(queries Querier, logger log.Logger) *Service {
	return &Service{
		queries: queries,
		logger:  logger.With("component", "user"),
	}
}

// Register creates an account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, username, email, password string) (User, error) {
	if _, err := s.queries.GetUserByEmail(ctx, email); err == nil {
		return User{}, ErrEmailTaken
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("check existing email: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return User{}, err
	}

	row, err := s.queries.CreateUser(ctx, postgres.CreateUserParams{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("registered user", "user_id", row.ID, "email", email)
	return fromRow(row), nil
}

// Authenticate verifies email and password. It returns
// ErrInvalidCredentials for both unknown emails and wrong passwords so
// callers cannot probe which emails exist.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	row, err := s.queries.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, fmt.Errorf("look up user: %w", err)
	}

	if err := auth.CheckPassword(row.PasswordHash, password); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return fromRow(row), nil
}

// ByEmail returns the user with the given email.
func (s *Service) ByEmail(ctx context.Context, email string) (User, error) {
	row, err := s.queries.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("look up user: %w", err)
	}
	return fromRow(row), nil
}

// ByID returns the user with the given ID.
func (s *Service) ByID(ctx context.Context, id int64) (User, error) {
	row, err := s.queries.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("look up user: %w", err)
	}
	return fromRow(row), nil
}

func fromRow(row postgres.User) User {
	return User{
		ID:        row.ID,
		Username:  row.Username,
		Email:     row.Email,
		IsAdmin:   row.IsAdmin,
		CreatedAt: row.CreatedAt,
	}
}
