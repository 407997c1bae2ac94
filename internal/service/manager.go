package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"attendance/internal/capture"
	"attendance/internal/config"
	"attendance/internal/logger"
	"attendance/internal/recognition"
	"attendance/internal/scan"
	"attendance/internal/status"
)

var (
	ErrFlowActive      = errors.New("a scanning flow is already running")
	ErrNoFlow          = errors.New("no scanning flow is running")
	ErrUnknownCategory = errors.New("unknown category")
	ErrNoModel         = errors.New("recognition model not loaded")
)

// Broadcaster delivers encoded status events to viewers. Broadcast may
// drop when viewers lag; Deliver may not.
type Broadcaster interface {
	Broadcast(message []byte) bool
	Deliver(message []byte) bool
}

type Options struct {
	Categories  []string
	Session     scan.Config
	Capture     capture.Config
	StopTimeout time.Duration
	EventBuffer int
}

// OptionsFromConfig maps the service configuration onto flow options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Categories: cfg.Categories,
		Session: scan.Config{
			Window: cfg.WindowSize,
			Voter: recognition.VoterConfig{
				MajorityRatio:       cfg.MajorityRatio,
				ConfidenceThreshold: cfg.ConfidenceThreshold,
			},
		},
		Capture: capture.Config{
			FrameInterval:        cfg.FrameInterval(),
			FrameTimeout:         cfg.FrameTimeout,
			RecognizeTimeout:     cfg.RecognizeTimeout,
			MinFaceSize:          cfg.MinFaceSize,
			MaxConsecutiveMisses: cfg.MaxConsecutiveMisses,
		},
		StopTimeout: cfg.StopTimeout,
		EventBuffer: 64,
	}
}

type Deps struct {
	Opener         capture.Opener
	Detector       capture.Detector
	Recognizers    *capture.RecognizerSlot
	LoadRecognizer func() (capture.Recognizer, error)
	Previewer      capture.Previewer
	Recorder       scan.Recorder
	Evidence       capture.EvidenceSaver
	Hub            Broadcaster
	Logger         *logger.Logger
}

// FlowStatus describes the current or most recent flow.
type FlowStatus struct {
	Active  bool           `json:"active"`
	Session *scan.Snapshot `json:"session,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// flow is one live camera handle, capture loop and scan session.
type flow struct {
	loop     *capture.Loop
	cancel   context.CancelFunc
	events   *status.Channel
	finished chan struct{}
	err      error
}

func (f *flow) running() bool {
	select {
	case <-f.finished:
		return false
	default:
		return true
	}
}

// Manager owns at most one scanning flow at a time.
type Manager struct {
	opts Options
	deps Deps

	mu   sync.Mutex
	flow *flow
}

func NewManager(opts Options, deps Deps) *Manager {
	if opts.EventBuffer < 1 {
		opts.EventBuffer = 64
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = time.Second
	}
	if deps.Recognizers == nil {
		deps.Recognizers = &capture.RecognizerSlot{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewDiscard()
	}

	deps.Logger.Info("Manager started - categories: %v", opts.Categories)
	return &Manager{opts: opts, deps: deps}
}

func (m *Manager) Categories() []string {
	return append([]string(nil), m.opts.Categories...)
}

func (m *Manager) hasCategory(category string) bool {
	for _, c := range m.opts.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// StartFlow opens the camera and starts scanning for category.
func (m *Manager) StartFlow(ctx context.Context, category string) (scan.Snapshot, error) {
	if !m.hasCategory(category) {
		return scan.Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.flow != nil && m.flow.running() {
		return scan.Snapshot{}, ErrFlowActive
	}
	if m.deps.Recognizers.Current() == nil {
		return scan.Snapshot{}, ErrNoModel
	}

	source, err := m.deps.Opener()
	if err != nil {
		m.deps.Logger.Error("Failed to open camera: %v", err)
		return scan.Snapshot{}, err
	}

	events := status.NewChannel(m.opts.EventBuffer)
	session := scan.New(category, m.opts.Session, m.deps.Recorder, events)
	if err := session.Start(); err != nil {
		source.Close()
		return scan.Snapshot{}, err
	}

	loop := capture.New(m.opts.Capture, session, capture.Deps{
		Source:      source,
		Detector:    m.deps.Detector,
		Recognizers: m.deps.Recognizers,
		Previewer:   m.deps.Previewer,
		Evidence:    m.deps.Evidence,
		Sink:        events,
		Logger:      m.deps.Logger,
	})

	loopCtx, cancel := context.WithCancel(context.Background())
	f := &flow{
		loop:     loop,
		cancel:   cancel,
		events:   events,
		finished: make(chan struct{}),
	}

	go m.forward(f)
	go func() {
		f.err = loop.Run(loopCtx)
		events.Close()
		close(f.finished)
	}()

	m.flow = f
	m.deps.Logger.Info("Scanning flow %s started for %s", session.ID(), category)
	return loop.Snapshot(), nil
}

// forward encodes status events for viewers until the flow's channel closes.
func (m *Manager) forward(f *flow) {
	for e := range f.events.Events() {
		if m.deps.Hub == nil {
			continue
		}
		data, err := json.Marshal(e)
		if err != nil {
			m.deps.Logger.Error("Failed to encode status event: %v", err)
			continue
		}
		if e.Transient() {
			m.deps.Hub.Broadcast(data)
			continue
		}
		if !m.deps.Hub.Deliver(data) {
			m.deps.Logger.Error("Failed to deliver %s event for session %s", e.Kind, e.SessionID)
		}
	}
}

func (m *Manager) active() (*flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flow == nil || !m.flow.running() {
		return nil, ErrNoFlow
	}
	return m.flow, nil
}

// Rescan re-arms the live session after a mark.
func (m *Manager) Rescan(ctx context.Context) (scan.Snapshot, error) {
	return m.command(ctx, (*capture.Loop).Rescan)
}

// Next starts the next attempt in the live flow.
func (m *Manager) Next(ctx context.Context) (scan.Snapshot, error) {
	return m.command(ctx, (*capture.Loop).Start)
}

func (m *Manager) command(ctx context.Context, fn func(*capture.Loop, context.Context) error) (scan.Snapshot, error) {
	f, err := m.active()
	if err != nil {
		return scan.Snapshot{}, err
	}
	if err := fn(f.loop, ctx); err != nil {
		if errors.Is(err, capture.ErrStopped) || errors.Is(err, scan.ErrSessionClosed) {
			return scan.Snapshot{}, ErrNoFlow
		}
		return scan.Snapshot{}, err
	}
	return f.loop.Snapshot(), nil
}

// StopFlow cancels the live flow and waits up to StopTimeout for the loop
// to exit and release the camera. A loop that does not finish in time is
// abandoned; it still closes the camera once its pending call returns.
func (m *Manager) StopFlow(ctx context.Context) error {
	m.mu.Lock()
	f := m.flow
	m.flow = nil
	m.mu.Unlock()

	if f == nil {
		return ErrNoFlow
	}

	f.cancel()

	timer := time.NewTimer(m.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-f.finished:
	case <-timer.C:
		m.deps.Logger.Warning("Capture loop did not stop within %s; abandoned", m.opts.StopTimeout)
		return nil
	case <-ctx.Done():
		m.deps.Logger.Warning("Stop interrupted: %v; capture loop abandoned", ctx.Err())
		return nil
	}

	select {
	case <-f.loop.Released():
		m.deps.Logger.Info("Scanning flow stopped")
	case <-timer.C:
		m.deps.Logger.Warning("Camera not released within %s; closing in background", m.opts.StopTimeout)
	case <-ctx.Done():
		m.deps.Logger.Warning("Stop interrupted: %v; camera closing in background", ctx.Err())
	}
	return nil
}

// Status reports the live flow, or the last flow if it ended by itself.
func (m *Manager) Status() FlowStatus {
	m.mu.Lock()
	f := m.flow
	m.mu.Unlock()

	if f == nil {
		return FlowStatus{}
	}

	snap := f.loop.Snapshot()
	st := FlowStatus{Active: f.running(), Session: &snap}
	if !st.Active && f.err != nil {
		st.Error = f.err.Error()
	}
	return st
}

// ReloadModel loads the recognizer again. A running flow picks it up on
// its next frame.
func (m *Manager) ReloadModel() error {
	if m.deps.LoadRecognizer == nil {
		return ErrNoModel
	}
	r, err := m.deps.LoadRecognizer()
	if err != nil {
		m.deps.Logger.Error("Failed to reload model: %v", err)
		return err
	}
	m.deps.Recognizers.Swap(r)
	m.deps.Logger.Info("Recognition model reloaded")
	return nil
}

// Shutdown stops any live flow.
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := m.StopFlow(ctx); err != nil && !errors.Is(err, ErrNoFlow) {
		return err
	}
	return nil
}
