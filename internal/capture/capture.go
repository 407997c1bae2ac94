// Package capture runs the background frame loop that feeds a scan session.
package capture

import (
	"errors"
	"image"
	"sync/atomic"
	"time"

	"attendance/internal/recognition"
)

var (
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrDeviceLost        = errors.New("capture device stopped delivering frames")
	ErrAlreadyRunning    = errors.New("capture loop already running")
	ErrStopped           = errors.New("capture loop stopped")
)

// Frame is one captured image. The holder of a frame must close it.
type Frame interface {
	Close() error
}

// FrameSource yields frames. Next returns nil when no frame is available.
type FrameSource interface {
	Next() Frame
	Close() error
}

// Opener acquires a frame source, returning ErrDeviceUnavailable when the
// device cannot be opened.
type Opener func() (FrameSource, error)

// Detector locates the face to recognize in a frame.
type Detector interface {
	Locate(f Frame) (image.Rectangle, bool)
}

// Recognizer guesses who the face in region belongs to.
type Recognizer interface {
	Identify(f Frame, region image.Rectangle) recognition.Guess
}

// RecognizerSource returns the recognizer to use for the next frame.
type RecognizerSource interface {
	Current() Recognizer
}

// Previewer renders a frame for the live view.
type Previewer interface {
	Encode(f Frame) ([]byte, error)
}

// EvidenceSaver keeps the image that produced a new attendance mark.
type EvidenceSaver interface {
	Add(jpeg []byte, identity, category string)
}

type Config struct {
	FrameInterval        time.Duration
	FrameTimeout         time.Duration
	RecognizeTimeout     time.Duration
	MinFaceSize          int
	MaxConsecutiveMisses int
}

func DefaultConfig() Config {
	return Config{
		FrameInterval:        time.Second / 30,
		FrameTimeout:         2 * time.Second,
		RecognizeTimeout:     500 * time.Millisecond,
		MinFaceSize:          50,
		MaxConsecutiveMisses: 150,
	}
}

// RecognizerSlot holds the active recognizer and lets it be swapped while
// a loop is running.
type RecognizerSlot struct {
	current atomic.Pointer[recognizerBox]
}

type recognizerBox struct {
	r Recognizer
}

func NewRecognizerSlot(r Recognizer) *RecognizerSlot {
	s := &RecognizerSlot{}
	s.Swap(r)
	return s
}

func (s *RecognizerSlot) Current() Recognizer {
	if b := s.current.Load(); b != nil {
		return b.r
	}
	return nil
}

// Swap installs r and returns the previous recognizer.
func (s *RecognizerSlot) Swap(r Recognizer) Recognizer {
	if old := s.current.Swap(&recognizerBox{r: r}); old != nil {
		return old.r
	}
	return nil
}
