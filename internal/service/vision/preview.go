package vision

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"attendance/internal/capture"
)

// JPEGPreviewer encodes frames for the live view.
type JPEGPreviewer struct{}

func (JPEGPreviewer) Encode(f capture.Frame) ([]byte, error) {
	fr, ok := asFrame(f)
	if !ok {
		return nil, errors.New("not a camera frame")
	}

	buf, err := gocv.IMEncode(".jpg", fr.Mat())
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
