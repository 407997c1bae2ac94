// Package labelmap reads the file that maps recognizer labels to
// enrollment numbers. Each line is "label,enrollment".
package labelmap

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

type Map struct {
	byLabel map[int]string
}

// Load reads a label map file.
func Load(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open label map: %w", err)
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse reads label map records. Blank lines and lines starting with # are
// skipped.
func Parse(r io.Reader) (*Map, error) {
	m := &Map{byLabel: map[int]string{}}

	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read label map: %w", err)
		}
		line, _ := reader.FieldPos(0)

		label, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid label %q", line, record[0])
		}
		enrollment := strings.TrimSpace(record[1])
		if enrollment == "" {
			return nil, fmt.Errorf("line %d: empty enrollment number", line)
		}
		m.byLabel[label] = enrollment
	}
	return m, nil
}

// Lookup returns the enrollment number for a recognizer label.
func (m *Map) Lookup(label int) (string, bool) {
	if m == nil {
		return "", false
	}
	e, ok := m.byLabel[label]
	return e, ok
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.byLabel)
}

// Enrollments returns the distinct enrollment numbers in label order.
func (m *Map) Enrollments() []string {
	if m == nil {
		return nil
	}
	labels := make([]int, 0, len(m.byLabel))
	for l := range m.byLabel {
		labels = append(labels, l)
	}
	sort.Ints(labels)

	seen := map[string]bool{}
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		e := m.byLabel[l]
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}
