// Package recognition turns per-frame identity guesses into a single
// accept/reject verdict by voting over a fixed-size window.
package recognition

import "strings"

// UnknownIdentity is the label recognizers return when no enrolled identity matches.
const UnknownIdentity = "Unknown"

// zeroLabel is the raw model label some recognizers emit for "no match".
const zeroLabel = "0"

// Guess is one frame's identity classification. Confidence is a distance:
// lower means a stronger match.
type Guess struct {
	Identity   string  `json:"identity"`
	Confidence float64 `json:"confidence"`
}

// IsUnrecognized reports whether label is a "no match" sentinel.
func IsUnrecognized(label string) bool {
	return label == "" || label == zeroLabel || strings.EqualFold(label, UnknownIdentity)
}

// Window is a bounded FIFO of the most recent guesses, in arrival order.
// It is not safe for concurrent use; the capture loop owns it.
type Window struct {
	buf   []Guess
	start int
	size  int
}

// NewWindow returns an empty window holding at most capacity guesses.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]Guess, capacity)}
}

// Push appends g, evicting the oldest guess once the window is at capacity.
func (w *Window) Push(g Guess) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = g
		w.size++
		return
	}
	w.buf[w.start] = g
	w.start = (w.start + 1) % len(w.buf)
}

// IsFull reports whether the window holds exactly Cap guesses.
func (w *Window) IsFull() bool {
	return w.size == len(w.buf)
}

// Reset empties the window.
func (w *Window) Reset() {
	w.start = 0
	w.size = 0
}

func (w *Window) Len() int { return w.size }

func (w *Window) Cap() int { return len(w.buf) }

// Guesses returns a copy of the window contents, oldest first.
func (w *Window) Guesses() []Guess {
	out := make([]Guess, 0, w.size)
	w.each(func(g Guess) { out = append(out, g) })
	return out
}

func (w *Window) each(fn func(Guess)) {
	for i := 0; i < w.size; i++ {
		fn(w.buf[(w.start+i)%len(w.buf)])
	}
}
