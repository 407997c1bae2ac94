package recognition

import (
	"fmt"
	"testing"
)

func TestWindow_NeverExceedsCapacity(t *testing.T) {
	w := NewWindow(50)

	for i := 0; i < 137; i++ {
		w.Push(Guess{Identity: fmt.Sprintf("E%d", i), Confidence: float64(i)})
		if w.Len() > 50 {
			t.Fatalf("after %d pushes Len() = %d, want <= 50", i+1, w.Len())
		}
	}

	if !w.IsFull() {
		t.Fatal("window should be full")
	}

	got := w.Guesses()
	for i, g := range got {
		want := fmt.Sprintf("E%d", 137-50+i)
		if g.Identity != want {
			t.Fatalf("Guesses()[%d] = %s, want %s (most recent 50 in arrival order)", i, g.Identity, want)
		}
	}
}

func TestWindow_FillsInOrder(t *testing.T) {
	w := NewWindow(3)

	w.Push(Guess{Identity: "a"})
	w.Push(Guess{Identity: "b"})
	if w.IsFull() {
		t.Fatal("window with 2/3 guesses must not be full")
	}
	w.Push(Guess{Identity: "c"})
	w.Push(Guess{Identity: "d"})

	got := w.Guesses()
	want := []string{"b", "c", "d"}
	for i := range want {
		if got[i].Identity != want[i] {
			t.Errorf("Guesses()[%d] = %s, want %s", i, got[i].Identity, want[i])
		}
	}
}

func TestWindow_Reset(t *testing.T) {
	w := NewWindow(50)
	for i := 0; i < 70; i++ {
		w.Push(Guess{Identity: "A"})
	}

	w.Reset()

	if w.Len() != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", w.Len())
	}
	if w.IsFull() {
		t.Fatal("reset window must not be full")
	}

	for i := 0; i < 49; i++ {
		w.Push(Guess{Identity: "B"})
		if w.IsFull() {
			t.Fatalf("window full after only %d pushes since reset", i+1)
		}
	}
	w.Push(Guess{Identity: "B"})
	if !w.IsFull() {
		t.Fatal("window should be full after 50 pushes since reset")
	}
	for _, g := range w.Guesses() {
		if g.Identity != "B" {
			t.Fatalf("stale guess %q survived Reset", g.Identity)
		}
	}
}

func TestNewWindow_MinimumCapacity(t *testing.T) {
	w := NewWindow(0)
	if w.Cap() != 1 {
		t.Fatalf("Cap() = %d, want 1", w.Cap())
	}
	w.Push(Guess{Identity: "x"})
	if !w.IsFull() {
		t.Fatal("single slot window should be full after one push")
	}
}

func TestIsUnrecognized(t *testing.T) {
	tests := []struct {
		label string
		want  bool
	}{
		{"Unknown", true},
		{"unknown", true},
		{"0", true},
		{"", true},
		{"E42", false},
		{"10", false},
	}

	for _, tt := range tests {
		if got := IsUnrecognized(tt.label); got != tt.want {
			t.Errorf("IsUnrecognized(%q) = %v, want %v", tt.label, got, tt.want)
		}
	}
}
