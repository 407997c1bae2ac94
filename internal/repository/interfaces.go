package repository

import (
	"context"
	"errors"

	"attendance/internal/model"
)

var (
	// ErrConflict is returned when an insert collides with a unique key.
	ErrConflict = errors.New("record already exists")
	ErrNotFound = errors.New("record not found")
)

// AttendanceRepository defines the interface for attendance data operations.
type AttendanceRepository interface {
	Exists(ctx context.Context, identity, date, category string) (bool, error)
	// Insert returns ErrConflict if the (identity, date, category) row exists.
	Insert(ctx context.Context, a *model.Attendance) (int64, error)
	List(ctx context.Context, filter model.AttendanceFilter) ([]model.AttendanceEntry, error)
}

// UserRepository defines the interface for enrolled user operations.
type UserRepository interface {
	// Upsert creates the user or updates its name when the new name is set.
	Upsert(ctx context.Context, u *model.User) error
	GetByEnrollment(ctx context.Context, enrollment string) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)
}
