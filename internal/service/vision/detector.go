package vision

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"attendance/internal/capture"
)

// CascadeDetector finds faces with a Haar cascade.
type CascadeDetector struct {
	classifier gocv.CascadeClassifier
	mu         sync.Mutex
}

func NewCascadeDetector(cascadePath string) (*CascadeDetector, error) {
	if _, err := os.Stat(cascadePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("cascade file not found: %s", cascadePath)
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cascadePath) {
		classifier.Close()
		return nil, fmt.Errorf("failed to load face cascade classifier from %s", cascadePath)
	}
	return &CascadeDetector{classifier: classifier}, nil
}

// Locate returns the first detected face.
func (d *CascadeDetector) Locate(f capture.Frame) (image.Rectangle, bool) {
	fr, ok := asFrame(f)
	if !ok {
		return image.Rectangle{}, false
	}
	gray, err := fr.Gray()
	if err != nil {
		return image.Rectangle{}, false
	}

	d.mu.Lock()
	faces := d.classifier.DetectMultiScaleWithParams(gray, 1.1, 5, 0, image.Pt(30, 30), image.Pt(0, 0))
	d.mu.Unlock()

	if len(faces) == 0 {
		return image.Rectangle{}, false
	}
	return faces[0], true
}

func (d *CascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}
