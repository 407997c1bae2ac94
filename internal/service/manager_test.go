package service

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"attendance/internal/attendance"
	"attendance/internal/capture"
	"attendance/internal/recognition"
	"attendance/internal/scan"
	"attendance/internal/status"
)

type testFrame struct{}

func (testFrame) Close() error { return nil }

type testSource struct {
	closed atomic.Bool
	empty  bool
	// hold, when set, makes Next wait for it to be closed.
	hold chan struct{}
}

func (s *testSource) Next() capture.Frame {
	if s.hold != nil {
		<-s.hold
	}
	if s.empty {
		return nil
	}
	return testFrame{}
}

func (s *testSource) Close() error {
	s.closed.Store(true)
	return nil
}

type faceDetector struct{}

func (faceDetector) Locate(capture.Frame) (image.Rectangle, bool) {
	return image.Rect(0, 0, 120, 120), true
}

type fixedRecognizer struct{ identity string }

func (r fixedRecognizer) Identify(capture.Frame, image.Rectangle) recognition.Guess {
	return recognition.Guess{Identity: r.identity, Confidence: 90}
}

type testRecorder struct {
	mu      sync.Mutex
	calls   int
	block   chan struct{}
	outcome attendance.Outcome
}

func (r *testRecorder) Record(context.Context, string, string, time.Time) (attendance.Outcome, error) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.outcome, nil
}

type testHub struct {
	mu        sync.Mutex
	messages  []status.Event
	delivered []status.Kind
}

func (h *testHub) Broadcast(message []byte) bool {
	var e status.Event
	if err := json.Unmarshal(message, &e); err != nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, e)
	return true
}

func (h *testHub) Deliver(message []byte) bool {
	if !h.Broadcast(message) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delivered = append(h.delivered, h.messages[len(h.messages)-1].Kind)
	return true
}

// wasDelivered reports whether kind went through the non-dropping path.
func (h *testHub) wasDelivered(kind status.Kind) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, k := range h.delivered {
		if k == kind {
			return true
		}
	}
	return false
}

func (h *testHub) has(kind status.Kind) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.messages {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func testOptions() Options {
	return Options{
		Categories: []string{"AI", "ERP"},
		Session:    scan.Config{Window: 5, Voter: recognition.DefaultVoterConfig()},
		Capture: capture.Config{
			FrameInterval:    time.Millisecond,
			FrameTimeout:     50 * time.Millisecond,
			RecognizeTimeout: 50 * time.Millisecond,
			MinFaceSize:      50,
		},
		StopTimeout: time.Second,
	}
}

type fixture struct {
	manager  *Manager
	source   *testSource
	recorder *testRecorder
	hub      *testHub
	slot     *capture.RecognizerSlot
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		source:   &testSource{},
		recorder: &testRecorder{outcome: attendance.Created},
		hub:      &testHub{},
		slot:     capture.NewRecognizerSlot(fixedRecognizer{"E42"}),
	}
	f.manager = NewManager(opts, Deps{
		Opener:      func() (capture.FrameSource, error) { return f.source, nil },
		Detector:    faceDetector{},
		Recognizers: f.slot,
		LoadRecognizer: func() (capture.Recognizer, error) {
			return fixedRecognizer{"E7"}, nil
		},
		Recorder: f.recorder,
		Hub:      f.hub,
	})
	t.Cleanup(func() { f.manager.Shutdown(context.Background()) })
	return f
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManager_FlowMarksAndBroadcasts(t *testing.T) {
	f := newFixture(t, testOptions())
	ctx := context.Background()

	snap, err := f.manager.StartFlow(ctx, "AI")
	if err != nil {
		t.Fatalf("StartFlow() error = %v", err)
	}
	if snap.State != scan.Scanning || snap.Category != "AI" {
		t.Fatalf("StartFlow() snapshot = %+v", snap)
	}

	eventually(t, "marked", func() bool {
		st := f.manager.Status()
		return st.Session != nil && st.Session.State == scan.Marked
	})
	eventually(t, "marked broadcast", func() bool { return f.hub.has(status.KindMarked) })
	if !f.hub.wasDelivered(status.KindMarked) {
		t.Error("marked event must not go through the dropping broadcast path")
	}

	if err := f.manager.StopFlow(ctx); err != nil {
		t.Fatalf("StopFlow() error = %v", err)
	}
	if !f.source.closed.Load() {
		t.Fatal("camera must be closed when StopFlow returns")
	}

	if err := f.manager.StopFlow(ctx); !errors.Is(err, ErrNoFlow) {
		t.Errorf("second StopFlow() error = %v, want ErrNoFlow", err)
	}
	if st := f.manager.Status(); st.Active || st.Session != nil {
		t.Errorf("Status() after stop = %+v", st)
	}
}

func TestManager_OneFlowAtATime(t *testing.T) {
	f := newFixture(t, testOptions())
	ctx := context.Background()

	if _, err := f.manager.StartFlow(ctx, "AI"); err != nil {
		t.Fatalf("StartFlow() error = %v", err)
	}
	if _, err := f.manager.StartFlow(ctx, "ERP"); !errors.Is(err, ErrFlowActive) {
		t.Fatalf("second StartFlow() error = %v, want ErrFlowActive", err)
	}
}

func TestManager_UnknownCategory(t *testing.T) {
	f := newFixture(t, testOptions())

	if _, err := f.manager.StartFlow(context.Background(), "Physics"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("StartFlow() error = %v, want ErrUnknownCategory", err)
	}
}

func TestManager_DeviceUnavailable(t *testing.T) {
	f := newFixture(t, testOptions())
	f.manager.deps.Opener = func() (capture.FrameSource, error) {
		return nil, capture.ErrDeviceUnavailable
	}

	if _, err := f.manager.StartFlow(context.Background(), "AI"); !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("StartFlow() error = %v, want ErrDeviceUnavailable", err)
	}
	if st := f.manager.Status(); st.Active {
		t.Fatal("no flow should be active")
	}
}

func TestManager_NoModel(t *testing.T) {
	f := newFixture(t, testOptions())
	f.slot.Swap(nil)

	if _, err := f.manager.StartFlow(context.Background(), "AI"); !errors.Is(err, ErrNoModel) {
		t.Fatalf("StartFlow() error = %v, want ErrNoModel", err)
	}
}

func TestManager_RescanAfterMark(t *testing.T) {
	f := newFixture(t, testOptions())
	ctx := context.Background()

	if _, err := f.manager.Rescan(ctx); !errors.Is(err, ErrNoFlow) {
		t.Fatalf("Rescan() without flow error = %v, want ErrNoFlow", err)
	}

	if _, err := f.manager.StartFlow(ctx, "AI"); err != nil {
		t.Fatalf("StartFlow() error = %v", err)
	}
	eventually(t, "first mark", func() bool { return f.manager.Status().Session.State == scan.Marked })

	snap, err := f.manager.Rescan(ctx)
	if err != nil {
		t.Fatalf("Rescan() error = %v", err)
	}
	if snap.State != scan.Scanning {
		t.Fatalf("Rescan() state = %s, want scanning", snap.State)
	}
	eventually(t, "second mark", func() bool { return f.manager.Status().Session.State == scan.Marked })

	if _, err := f.manager.Next(ctx); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
}

func TestManager_DeviceLostIsReported(t *testing.T) {
	opts := testOptions()
	opts.Capture.MaxConsecutiveMisses = 3
	f := newFixture(t, opts)
	f.source.empty = true

	if _, err := f.manager.StartFlow(context.Background(), "AI"); err != nil {
		t.Fatalf("StartFlow() error = %v", err)
	}

	eventually(t, "flow end", func() bool { return !f.manager.Status().Active })
	st := f.manager.Status()
	if st.Error == "" {
		t.Fatal("Status() should carry the device error")
	}
	eventually(t, "device error broadcast", func() bool { return f.hub.has(status.KindDeviceError) })

	// A finished flow does not block a new one.
	f.source.empty = false
	if _, err := f.manager.StartFlow(context.Background(), "AI"); err != nil {
		t.Fatalf("StartFlow() after device loss error = %v", err)
	}
}

func TestManager_StopAbandonsStuckLoop(t *testing.T) {
	opts := testOptions()
	opts.StopTimeout = 20 * time.Millisecond
	f := newFixture(t, opts)
	f.recorder.block = make(chan struct{})

	if _, err := f.manager.StartFlow(context.Background(), "AI"); err != nil {
		t.Fatalf("StartFlow() error = %v", err)
	}
	// Five frames fill the window and the recorder call blocks the loop.
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	if err := f.manager.StopFlow(context.Background()); err != nil {
		t.Fatalf("StopFlow() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("StopFlow() took %s", elapsed)
	}

	close(f.recorder.block)
	eventually(t, "camera released", func() bool { return f.source.closed.Load() })
}

func TestManager_StopWaitsForPendingRead(t *testing.T) {
	opts := testOptions()
	opts.Capture.FrameTimeout = 5 * time.Millisecond
	opts.StopTimeout = 2 * time.Second
	f := newFixture(t, opts)
	f.source.hold = make(chan struct{})

	if _, err := f.manager.StartFlow(context.Background(), "AI"); err != nil {
		t.Fatalf("StartFlow() error = %v", err)
	}
	// Let the loop time out on the held read so it is still pending at stop.
	time.Sleep(30 * time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(f.source.hold)
	}()

	if err := f.manager.StopFlow(context.Background()); err != nil {
		t.Fatalf("StopFlow() error = %v", err)
	}
	if !f.source.closed.Load() {
		t.Fatal("StopFlow() returned before the camera was released")
	}
}

func TestManager_ReloadModel(t *testing.T) {
	f := newFixture(t, testOptions())

	if err := f.manager.ReloadModel(); err != nil {
		t.Fatalf("ReloadModel() error = %v", err)
	}
	r, ok := f.slot.Current().(fixedRecognizer)
	if !ok || r.identity != "E7" {
		t.Fatalf("Current() = %#v, want reloaded recognizer", f.slot.Current())
	}

	f.manager.deps.LoadRecognizer = func() (capture.Recognizer, error) {
		return nil, errors.New("model file not found")
	}
	if err := f.manager.ReloadModel(); err == nil {
		t.Fatal("ReloadModel() expected error")
	}
	if _, ok := f.slot.Current().(fixedRecognizer); !ok {
		t.Fatal("failed reload must keep the previous recognizer")
	}
}

func TestManager_Categories(t *testing.T) {
	f := newFixture(t, testOptions())

	got := f.manager.Categories()
	got[0] = "changed"
	if f.manager.Categories()[0] != "AI" {
		t.Fatal("Categories() must return a copy")
	}
}
