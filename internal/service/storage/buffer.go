package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"attendance/internal/logger"
)

const timestampLayout = "2006-01-02_15-04-05.000"

// Snapshot is a buffered evidence image waiting to be written.
type Snapshot struct {
	Timestamp time.Time
	Identity  string
	Category  string
	Data      []byte
}

// SnapshotBuffer buffers the images that produced attendance marks and
// periodically flushes them to disk.
type SnapshotBuffer struct {
	dir    string
	limit  int
	images []Snapshot
	mu     sync.Mutex
	logger *logger.Logger
	now    func() time.Time
}

// NewSnapshotBuffer creates a buffer writing into dir. At most limit images
// are held between flushes; later ones are dropped.
func NewSnapshotBuffer(dir string, limit int, logger *logger.Logger) *SnapshotBuffer {
	if limit < 1 {
		limit = 1
	}
	return &SnapshotBuffer{
		dir:    dir,
		limit:  limit,
		images: make([]Snapshot, 0, limit),
		logger: logger,
		now:    time.Now,
	}
}

// Run flushes the buffer every interval until ctx is cancelled, then
// flushes once more.
func (s *SnapshotBuffer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return nil
		case <-ticker.C:
			s.Flush()
		}
	}
}

// Add buffers a JPEG for identity in category.
func (s *SnapshotBuffer) Add(jpeg []byte, identity, category string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.images) >= s.limit {
		s.logger.Warning("Snapshot buffer full (%d), dropping image for %s", s.limit, identity)
		return
	}

	data := make([]byte, len(jpeg))
	copy(data, jpeg)
	s.images = append(s.images, Snapshot{
		Timestamp: s.now(),
		Identity:  identity,
		Category:  category,
		Data:      data,
	})
	s.logger.Info("Snapshot buffer size: %d/%d", len(s.images), s.limit)
}

// Len returns the number of buffered images.
func (s *SnapshotBuffer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

// Flush writes buffered images to dir/<date>/ and clears the buffer.
// It returns the number of files written.
func (s *SnapshotBuffer) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.images) == 0 {
		return 0
	}

	savedCount := 0
	for _, image := range s.images {
		dayDir := filepath.Join(s.dir, image.Timestamp.Format("2006-01-02"))
		if err := os.MkdirAll(dayDir, 0755); err != nil {
			s.logger.Error("Error creating directory: %v", err)
			continue
		}

		filename := SnapshotFilename(image)
		if err := os.WriteFile(filepath.Join(dayDir, filename), image.Data, 0644); err != nil {
			s.logger.Error("Error saving snapshot %s: %v", filename, err)
			continue
		}
		savedCount++
	}

	s.logger.Info("Flushed %d snapshots to disk", savedCount)
	s.images = s.images[:0]
	return savedCount
}

// SnapshotFilename builds <timestamp>_<category>_<identity>.jpg with path
// separators removed from the user-supplied parts.
func SnapshotFilename(image Snapshot) string {
	return fmt.Sprintf("%s_%s_%s.jpg",
		image.Timestamp.Format(timestampLayout),
		sanitize(image.Category),
		sanitize(image.Identity),
	)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '.', ' ':
			return '-'
		}
		return r
	}, s)
}
