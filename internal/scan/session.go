// Package scan implements the per-attempt scanning state machine that turns
// recognizer guesses into at most one attendance mark.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"attendance/internal/attendance"
	"attendance/internal/recognition"
	"attendance/internal/status"
)

type State int

const (
	Idle State = iota
	Scanning
	Marked
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Marked:
		return "marked"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{Idle, Scanning, Marked} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown scan state %q", text)
}

var ErrSessionClosed = errors.New("scan session closed")

// Recorder persists an accepted identity.
type Recorder interface {
	Record(ctx context.Context, identity, category string, now time.Time) (attendance.Outcome, error)
}

type Config struct {
	Window int
	Voter  recognition.VoterConfig
}

func DefaultConfig() Config {
	return Config{Window: 50, Voter: recognition.DefaultVoterConfig()}
}

// Snapshot is an immutable view of a session.
type Snapshot struct {
	SessionID      string             `json:"session_id"`
	Category       string             `json:"category"`
	State          State              `json:"state"`
	MarkedIdentity string             `json:"marked_identity,omitempty"`
	Outcome        string             `json:"outcome,omitempty"`
	Progress       int                `json:"progress"`
	Total          int                `json:"total"`
	LastReason     recognition.Reason `json:"last_reason,omitempty"`
	Message        string             `json:"message,omitempty"`
}

// Session owns the prediction window for one scanning attempt. It is not
// safe for concurrent use; the capture loop is its only mutator.
type Session struct {
	id       string
	category string
	state    State
	closed   bool

	window   *recognition.Window
	voter    *recognition.Voter
	recorder Recorder
	sink     status.Sink

	markedIdentity string
	outcome        string
	lastReason     recognition.Reason
	message        string
}

func New(category string, cfg Config, recorder Recorder, sink status.Sink) *Session {
	if sink == nil {
		sink = status.Discard
	}
	return &Session{
		id:       uuid.NewString(),
		category: category,
		window:   recognition.NewWindow(cfg.Window),
		voter:    recognition.NewVoter(cfg.Voter),
		recorder: recorder,
		sink:     sink,
	}
}

func (s *Session) ID() string       { return s.id }
func (s *Session) Category() string { return s.category }
func (s *Session) State() State     { return s.state }

// Start arms the session. Starting a Marked session begins the next attempt.
func (s *Session) Start() error {
	return s.arm(false)
}

// Rescan re-arms a session after a mark or clears an attempt in progress.
func (s *Session) Rescan() error {
	return s.arm(true)
}

func (s *Session) arm(rescan bool) error {
	if s.closed {
		return ErrSessionClosed
	}
	s.window.Reset()
	s.state = Scanning
	s.markedIdentity = ""
	s.outcome = ""
	s.lastReason = ""
	s.emit(status.Scanning(s.category, rescan))
	return nil
}

// Close tears the session down. Idle after Close is terminal.
func (s *Session) Close() {
	s.closed = true
	s.state = Idle
	s.window.Reset()
}

func (s *Session) Closed() bool { return s.closed }

// FaceMissing reports a frame without a face.
func (s *Session) FaceMissing() {
	if s.state != Scanning {
		return
	}
	s.window.Reset()
	s.emit(status.FaceMissing())
}

// FaceTooSmall reports a face below the minimum size.
func (s *Session) FaceTooSmall() {
	if s.state != Scanning {
		return
	}
	s.window.Reset()
	s.emit(status.FaceTooSmall())
}

// FrameMissed reports a camera read that yielded no frame. The window is
// cleared because the guesses are no longer consecutive.
func (s *Session) FrameMissed() {
	if s.state != Scanning {
		return
	}
	s.window.Reset()
	s.emit(status.FrameMissed())
}

// Break clears the window after a silent continuity loss such as a
// recognizer timeout.
func (s *Session) Break() {
	if s.state == Scanning {
		s.window.Reset()
	}
}

// Observe feeds one guess. When the window fills it is evaluated and
// cleared. The returned error is a storage failure; the session stays
// Scanning so the attempt can be retried.
func (s *Session) Observe(ctx context.Context, g recognition.Guess, now time.Time) error {
	if s.state != Scanning {
		return nil
	}

	s.window.Push(g)
	if !s.window.IsFull() {
		s.emit(status.Analyzing(s.window.Len(), s.window.Cap()))
		return nil
	}

	verdict := s.voter.Evaluate(s.window)
	s.window.Reset()

	if !verdict.Accepted {
		s.lastReason = verdict.Reason
		s.emit(status.Rejected(verdict.Reason))
		return nil
	}

	outcome, err := s.recorder.Record(ctx, verdict.Label, s.category, now)
	if err == nil && outcome != attendance.Created && outcome != attendance.AlreadyMarkedToday {
		err = fmt.Errorf("recorder returned %s", outcome)
	}
	if err != nil {
		s.emit(status.StorageError(verdict.Label, err))
		return fmt.Errorf("session %s: %w", s.id, err)
	}

	s.state = Marked
	s.markedIdentity = verdict.Label
	s.outcome = outcome.String()
	s.lastReason = recognition.ReasonAccepted
	switch outcome {
	case attendance.AlreadyMarkedToday:
		s.emit(status.AlreadyMarked(verdict.Label, s.category))
	default:
		s.emit(status.Marked(verdict.Label, s.category))
	}
	return nil
}

func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		SessionID:      s.id,
		Category:       s.category,
		State:          s.state,
		MarkedIdentity: s.markedIdentity,
		Outcome:        s.outcome,
		Progress:       s.window.Len(),
		Total:          s.window.Cap(),
		LastReason:     s.lastReason,
		Message:        s.message,
	}
}

func (s *Session) emit(e status.Event) {
	e.SessionID = s.id
	s.message = e.Message
	s.sink.Publish(e)
}
