package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/assignment-review-api/internal/models"
)

const userColumns = `id, full_name, email, phone, role, department_id, status, created_at, updated_at`

// UserRepository backs the directory of actors.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// ListReviewers returns active professors and heads of department for a department.
func (r *UserRepository) ListReviewers(ctx context.Context, departmentID string) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
	WHERE department_id = $1 AND role IN ('Professor', 'HOD') AND status = 'active'
	ORDER BY full_name ASC`
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, departmentID); err != nil {
		return nil, fmt.Errorf("list reviewers: %w", err)
	}
	return users, nil
}
