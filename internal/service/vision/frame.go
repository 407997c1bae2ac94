// Package vision adapts OpenCV (gocv) to the capture interfaces: camera
// frames, Haar cascade face detection, LBPH recognition and JPEG previews.
package vision

import (
	"fmt"

	"gocv.io/x/gocv"

	"attendance/internal/capture"
)

// Frame is a BGR camera image with a lazily computed grayscale copy.
type Frame struct {
	mat     gocv.Mat
	gray    gocv.Mat
	hasGray bool
}

// NewFrame takes ownership of mat.
func NewFrame(mat gocv.Mat) *Frame {
	return &Frame{mat: mat}
}

func (f *Frame) Mat() gocv.Mat {
	return f.mat
}

// Gray returns the grayscale image. It is owned by the frame.
func (f *Frame) Gray() (gocv.Mat, error) {
	if f.hasGray {
		return f.gray, nil
	}
	gray := gocv.NewMat()
	if err := gocv.CvtColor(f.mat, &gray, gocv.ColorBGRToGray); err != nil {
		gray.Close()
		return gocv.Mat{}, fmt.Errorf("failed to convert image to grayscale: %w", err)
	}
	f.gray = gray
	f.hasGray = true
	return f.gray, nil
}

func (f *Frame) Close() error {
	if f.hasGray {
		f.gray.Close()
		f.hasGray = false
	}
	return f.mat.Close()
}

func asFrame(f capture.Frame) (*Frame, bool) {
	fr, ok := f.(*Frame)
	return fr, ok && fr != nil && !fr.mat.Empty()
}
