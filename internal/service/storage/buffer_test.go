package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"attendance/internal/logger"
)

func newTestBuffer(t *testing.T, limit int) (*SnapshotBuffer, string) {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "snapshot_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	b := NewSnapshotBuffer(tempDir, limit, logger.NewDiscard())
	b.now = func() time.Time { return time.Date(2026, 3, 2, 9, 15, 4, 0, time.UTC) }
	return b, tempDir
}

func TestSnapshotBuffer_FlushWritesFiles(t *testing.T) {
	b, dir := newTestBuffer(t, 5)

	b.Add([]byte("jpeg-1"), "E42", "AI")
	b.Add([]byte("jpeg-2"), "E7", "ERP")

	if n := b.Flush(); n != 2 {
		t.Fatalf("Flush() = %d, want 2", n)
	}
	if b.Len() != 0 {
		t.Errorf("Len() after flush = %d", b.Len())
	}

	path := filepath.Join(dir, "2026-03-02", "2026-03-02_09-15-04.000_AI_E42.jpg")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "jpeg-1" {
		t.Errorf("file content = %q", data)
	}
}

func TestSnapshotBuffer_Limit(t *testing.T) {
	b, _ := newTestBuffer(t, 2)

	for i := 0; i < 5; i++ {
		b.Add([]byte("x"), "E1", "AI")
	}
	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
}

func TestSnapshotBuffer_CopiesInput(t *testing.T) {
	b, dir := newTestBuffer(t, 1)

	data := []byte("abc")
	b.Add(data, "E1", "AI")
	data[0] = 'z'
	b.Flush()

	got, err := os.ReadFile(filepath.Join(dir, "2026-03-02", "2026-03-02_09-15-04.000_AI_E1.jpg"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("buffered data was aliased: %q", got)
	}
}

func TestSnapshotBuffer_RunFlushesOnCancel(t *testing.T) {
	b, _ := newTestBuffer(t, 3)
	b.Add([]byte("x"), "E1", "AI")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, time.Hour) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if b.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after final flush", b.Len())
	}
}

func TestSnapshotFilename_Sanitizes(t *testing.T) {
	name := SnapshotFilename(Snapshot{
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Identity:  "../etc/passwd",
		Category:  "AI",
	})
	if filepath.Base(name) != name {
		t.Fatalf("filename %q contains path separators", name)
	}
}
