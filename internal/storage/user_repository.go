package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/common-ad-network/internal/models"
	"github.com/common-ad-network/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepository handles user data persistence
type UserRepository struct {
	db *PostgresDB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *PostgresDB) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, email, company_name, company_link, profile_pic, category, karma, is_approved, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		user.ID,
		user.Email,
		user.CompanyName,
		user.CompanyLink,
		user.ProfilePic,
		user.Category,
		user.Karma,
		user.IsApproved,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, email, company_name, company_link, profile_pic, category, karma, is_approved, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var user models.User
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.CompanyName,
		&user.CompanyLink,
		&user.ProfilePic,
		&user.Category,
		&user.Karma,
		&user.IsApproved,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &types.ServiceError{
				Code:    "USER_NOT_FOUND",
				Message: fmt.Sprintf("user not found: %s", id),
			}
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// Exists checks if a user exists by ID
func (r *UserRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`

	err := r.db.Pool().QueryRow(ctx, query, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}

	return exists, nil
}

// ExistsByEmail checks if a user exists by email
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`

	err := r.db.Pool().QueryRow(ctx, query, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence by email: %w", err)
	}

	return exists, nil
}

// GetKarma returns just the karma balance for a user
func (r *UserRepository) GetKarma(ctx context.Context, id string) (int64, error) {
	var karma int64
	query := `SELECT karma FROM users WHERE id = $1`

	err := r.db.Pool().QueryRow(ctx, query, id).Scan(&karma)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, &types.ServiceError{
				Code:    "USER_NOT_FOUND",
				Message: fmt.Sprintf("user not found: %s", id),
			}
		}
		return 0, fmt.Errorf("failed to get user karma: %w", err)
	}

	return karma, nil
}

// AdjustKarma applies a signed delta to a user's karma balance as a
// storage-level atomic increment. Karma has no floor; it may go negative.
func (r *UserRepository) AdjustKarma(ctx context.Context, id string, delta int64) error {
	query := `
		UPDATE users
		SET karma = karma + $2, updated_at = $3
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, delta, time.Now())
	if err != nil {
		return fmt.Errorf("failed to adjust user karma: %w", err)
	}

	if result.RowsAffected() == 0 {
		return &types.ServiceError{
			Code:    "USER_NOT_FOUND",
			Message: fmt.Sprintf("user not found: %s", id),
		}
	}

	return nil
}
