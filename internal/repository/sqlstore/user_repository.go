package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"attendance/internal/model"
	"attendance/internal/repository"
)

// UserRepository implements repository.UserRepository.
type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Upsert inserts the user or, if the enrollment number exists, replaces
// the name unless the new one is empty.
func (r *UserRepository) Upsert(ctx context.Context, u *model.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	query := `
		INSERT INTO users (enrollment_number, name) VALUES (?, ?)
		ON CONFLICT (enrollment_number)
		DO UPDATE SET name = COALESCE(NULLIF(excluded.name, ''), users.name)`
	if r.db.driver == DriverMySQL {
		query = `
		INSERT INTO users (enrollment_number, name) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE name = COALESCE(NULLIF(VALUES(name), ''), name)`
	}

	if _, err := r.db.conn.ExecContext(ctx, r.db.rebind(query), u.EnrollmentNumber, u.Name); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByEnrollment(ctx context.Context, enrollment string) (*model.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var u model.User
	err := r.db.conn.GetContext(ctx, &u, r.db.rebind(`
		SELECT id, enrollment_number, name FROM users WHERE enrollment_number = ?
	`), enrollment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (r *UserRepository) List(ctx context.Context) ([]model.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	users := []model.User{}
	err := r.db.conn.SelectContext(ctx, &users, `
		SELECT id, enrollment_number, name FROM users ORDER BY enrollment_number
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}
