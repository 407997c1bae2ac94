package vision

import (
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"

	"attendance/internal/capture"
	"attendance/internal/labelmap"
	"attendance/internal/recognition"
)

// FaceSize is the size faces are scaled to before prediction. It must match
// the size used when the model was trained.
var FaceSize = image.Pt(100, 100)

// LBPHRecognizer predicts enrollment numbers with a trained LBPH model.
type LBPHRecognizer struct {
	model  *contrib.LBPHFaceRecognizer
	labels *labelmap.Map
	mu     sync.Mutex
}

// LoadRecognizer reads the trained model and its label map.
func LoadRecognizer(modelPath, labelMapPath string) (*LBPHRecognizer, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}

	labels, err := labelmap.Load(labelMapPath)
	if err != nil {
		return nil, err
	}

	model := contrib.NewLBPHFaceRecognizer()
	model.LoadFile(modelPath)

	return &LBPHRecognizer{model: model, labels: labels}, nil
}

// RecognizerLoader returns a function that loads a fresh recognizer, used
// for model reloads.
func RecognizerLoader(modelPath, labelMapPath string) func() (capture.Recognizer, error) {
	return func() (capture.Recognizer, error) {
		r, err := LoadRecognizer(modelPath, labelMapPath)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

func (r *LBPHRecognizer) Labels() *labelmap.Map {
	return r.labels
}

// Identify predicts who is in region. Labels missing from the label map are
// reported as unknown at maximum distance.
func (r *LBPHRecognizer) Identify(f capture.Frame, region image.Rectangle) recognition.Guess {
	unknown := recognition.Guess{Identity: recognition.UnknownIdentity, Confidence: math.MaxFloat64}

	fr, ok := asFrame(f)
	if !ok {
		return unknown
	}
	gray, err := fr.Gray()
	if err != nil {
		return unknown
	}

	region = region.Intersect(image.Rect(0, 0, gray.Cols(), gray.Rows()))
	if region.Empty() {
		return unknown
	}

	face := gray.Region(region)
	defer face.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(face, &resized, FaceSize, 0, 0, gocv.InterpolationLinear)

	r.mu.Lock()
	resp := r.model.PredictExtendedResponse(resized)
	r.mu.Unlock()

	enrollment, ok := r.labels.Lookup(int(resp.Label))
	if !ok {
		return unknown
	}
	return recognition.Guess{Identity: enrollment, Confidence: float64(resp.Confidence)}
}
