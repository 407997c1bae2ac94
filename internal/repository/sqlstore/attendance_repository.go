package sqlstore

import (
	"context"
	"fmt"

	"attendance/internal/model"
	"attendance/internal/repository"
)

// AttendanceRepository implements repository.AttendanceRepository.
type AttendanceRepository struct {
	db *DB
}

func NewAttendanceRepository(db *DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Exists reports whether the identity is already marked for the date and category.
func (r *AttendanceRepository) Exists(ctx context.Context, identity, date, category string) (bool, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var n int
	err := r.db.conn.GetContext(ctx, &n, r.db.rebind(`
		SELECT COUNT(1) FROM attendance
		WHERE identity = ? AND attendance_date = ? AND category = ?
	`), identity, date, category)
	if err != nil {
		return false, fmt.Errorf("failed to check attendance: %w", err)
	}
	return n > 0, nil
}

// Insert adds an attendance row and returns its id.
func (r *AttendanceRepository) Insert(ctx context.Context, a *model.Attendance) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	const query = `
		INSERT INTO attendance (identity, attendance_date, attendance_time, category, status)
		VALUES (?, ?, ?, ?, ?)`
	args := []any{a.Identity, a.Date, a.Time, a.Category, a.Status}

	var id int64
	if r.db.driver == DriverPostgres {
		err := r.db.conn.QueryRowxContext(ctx, r.db.rebind(query+" RETURNING id"), args...).Scan(&id)
		if err != nil {
			return 0, r.insertError(err)
		}
	} else {
		result, err := r.db.conn.ExecContext(ctx, r.db.rebind(query), args...)
		if err != nil {
			return 0, r.insertError(err)
		}
		if id, err = result.LastInsertId(); err != nil {
			return 0, fmt.Errorf("failed to read attendance id: %w", err)
		}
	}

	a.ID = id
	return id, nil
}

func (r *AttendanceRepository) insertError(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", repository.ErrConflict, err)
	}
	return fmt.Errorf("failed to insert attendance: %w", err)
}

// List returns attendance rows matching the filter joined with user names.
func (r *AttendanceRepository) List(ctx context.Context, filter model.AttendanceFilter) ([]model.AttendanceEntry, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	query := `
		SELECT a.id, a.identity, a.attendance_date, a.attendance_time, a.category, a.status,
			COALESCE(u.name, '') AS name
		FROM attendance a
		LEFT JOIN users u ON u.enrollment_number = a.identity
		WHERE 1=1
	`
	args := []any{}

	if filter.Date != "" {
		query += " AND a.attendance_date = ?"
		args = append(args, filter.Date)
	}
	if filter.Category != "" {
		query += " AND a.category = ?"
		args = append(args, filter.Category)
	}
	query += " ORDER BY a.attendance_date, a.attendance_time, a.id"

	entries := []model.AttendanceEntry{}
	if err := r.db.conn.SelectContext(ctx, &entries, r.db.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list attendance: %w", err)
	}
	return entries, nil
}
