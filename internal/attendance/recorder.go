// Package attendance turns accepted identities into attendance records.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"attendance/internal/model"
	"attendance/internal/repository"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Outcome is the result of a Record call. The zero value is Unknown and is
// only returned together with an error.
type Outcome int

const (
	Unknown Outcome = iota
	Created
	AlreadyMarkedToday
)

func (o Outcome) String() string {
	switch o {
	case Unknown:
		return "unknown"
	case Created:
		return "created"
	case AlreadyMarkedToday:
		return "already_marked_today"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

var ErrInvalidRecord = errors.New("identity and category are required")

// Store is the subset of repository.AttendanceRepository the recorder needs.
type Store interface {
	Exists(ctx context.Context, identity, date, category string) (bool, error)
	Insert(ctx context.Context, a *model.Attendance) (int64, error)
}

// Recorder writes at most one record per (identity, date, category).
type Recorder struct {
	store Store
	loc   *time.Location
}

// NewRecorder creates a recorder that derives dates in loc. A nil loc means local time.
func NewRecorder(store Store, loc *time.Location) *Recorder {
	if loc == nil {
		loc = time.Local
	}
	return &Recorder{store: store, loc: loc}
}

// Record marks identity present in category at now. A duplicate, whether
// seen up front or lost in an insert race, is AlreadyMarkedToday.
func (r *Recorder) Record(ctx context.Context, identity, category string, now time.Time) (Outcome, error) {
	identity = strings.TrimSpace(identity)
	category = strings.TrimSpace(category)
	if identity == "" || category == "" {
		return Unknown, ErrInvalidRecord
	}

	now = now.In(r.loc)
	date := now.Format(DateLayout)

	exists, err := r.store.Exists(ctx, identity, date, category)
	if err != nil {
		return Unknown, fmt.Errorf("check attendance for %s: %w", identity, err)
	}
	if exists {
		return AlreadyMarkedToday, nil
	}

	_, err = r.store.Insert(ctx, &model.Attendance{
		Identity: identity,
		Date:     date,
		Time:     now.Format(TimeLayout),
		Category: category,
		Status:   model.StatusPresent,
	})
	if errors.Is(err, repository.ErrConflict) {
		return AlreadyMarkedToday, nil
	}
	if err != nil {
		return Unknown, fmt.Errorf("record attendance for %s: %w", identity, err)
	}
	return Created, nil
}
