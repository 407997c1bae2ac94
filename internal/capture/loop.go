package capture

import (
	"context"
	"image"
	"sync/atomic"
	"time"

	"attendance/internal/attendance"
	"attendance/internal/logger"
	"attendance/internal/recognition"
	"attendance/internal/scan"
	"attendance/internal/status"
)

type commandKind int

const (
	cmdStart commandKind = iota
	cmdRescan
)

type command struct {
	kind  commandKind
	reply chan error
}

type identifyResult int

const (
	identified identifyResult = iota
	// busy means an earlier call that timed out has not returned yet.
	busy
	// handedOff means the call timed out and now owns the frame.
	handedOff
)

// Deps are the collaborators of a Loop. Previewer and Evidence are optional.
type Deps struct {
	Source      FrameSource
	Detector    Detector
	Recognizers RecognizerSource
	Previewer   Previewer
	Evidence    EvidenceSaver
	Sink        status.Sink
	Logger      *logger.Logger
	Now         func() time.Time
}

// Loop pulls frames and drives a scan session. It is the only goroutine
// that touches the session while running. A Loop runs once.
type Loop struct {
	cfg     Config
	deps    Deps
	session *scan.Session

	started  atomic.Bool
	commands chan command
	snapshot atomic.Pointer[scan.Snapshot]
	done     chan struct{}
	released chan struct{}

	// Owned by the Run goroutine.
	pendingRead chan Frame
	inflight    chan struct{}
	misses      int
	lastPreview []byte
}

func New(cfg Config, session *scan.Session, deps Deps) *Loop {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultConfig().FrameInterval
	}
	if deps.Sink == nil {
		deps.Sink = status.Discard
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewDiscard()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	l := &Loop{
		cfg:      cfg,
		deps:     deps,
		session:  session,
		commands: make(chan command, 4),
		done:     make(chan struct{}),
		released: make(chan struct{}),
	}
	l.publishSnapshot()
	return l
}

// Run processes frames until ctx is cancelled or the device is lost.
// Cancellation is a clean stop and returns nil.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(l.done)
	defer l.shutdown()

	ticker := time.NewTicker(l.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-l.commands:
			l.apply(cmd)
		case <-ticker.C:
			if err := l.tick(ctx); err != nil {
				l.deps.Logger.Error("Capture loop for session %s stopped: %v", l.session.ID(), err)
				l.publish(status.DeviceError(err))
				return err
			}
		}
	}
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Released is closed once the frame source has been closed. This can be
// after Done when a read or recognizer call was still in flight.
func (l *Loop) Released() <-chan struct{} {
	return l.released
}

// Snapshot returns the session state as of the last processed frame or command.
func (l *Loop) Snapshot() scan.Snapshot {
	if p := l.snapshot.Load(); p != nil {
		return *p
	}
	return scan.Snapshot{}
}

// Start arms the session for the next attempt.
func (l *Loop) Start(ctx context.Context) error {
	return l.send(ctx, cmdStart)
}

// Rescan re-arms the session after a mark.
func (l *Loop) Rescan(ctx context.Context) error {
	return l.send(ctx, cmdRescan)
}

func (l *Loop) send(ctx context.Context, kind commandKind) error {
	cmd := command{kind: kind, reply: make(chan error, 1)}

	select {
	case l.commands <- cmd:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) apply(cmd command) {
	var err error
	switch cmd.kind {
	case cmdStart:
		err = l.session.Start()
	case cmdRescan:
		err = l.session.Rescan()
	}
	l.publishSnapshot()
	cmd.reply <- err
}

func (l *Loop) drainCommands() {
	for {
		select {
		case cmd := <-l.commands:
			l.apply(cmd)
		default:
			return
		}
	}
}

func (l *Loop) tick(ctx context.Context) error {
	l.drainCommands()
	defer l.publishSnapshot()

	frame := l.pull(ctx)
	if frame == nil {
		if ctx.Err() != nil {
			return nil
		}
		l.session.FrameMissed()
		l.misses++
		if l.cfg.MaxConsecutiveMisses > 0 && l.misses >= l.cfg.MaxConsecutiveMisses {
			return ErrDeviceLost
		}
		return nil
	}
	l.misses = 0

	if l.process(ctx, frame) {
		frame.Close()
	}
	return nil
}

// process runs one frame through preview and recognition. It reports
// whether the caller still owns the frame.
func (l *Loop) process(ctx context.Context, frame Frame) bool {
	l.preview(frame)

	if l.session.State() != scan.Scanning {
		return true
	}

	region, ok := l.deps.Detector.Locate(frame)
	if !ok {
		l.session.FaceMissing()
		return true
	}
	if region.Dx() < l.cfg.MinFaceSize || region.Dy() < l.cfg.MinFaceSize {
		l.session.FaceTooSmall()
		return true
	}

	recognizer := l.deps.Recognizers.Current()
	if recognizer == nil {
		l.session.Break()
		return true
	}

	guess, result := l.identify(ctx, recognizer, frame, region)
	switch result {
	case busy:
		l.session.Break()
		return true
	case handedOff:
		l.deps.Logger.Warning("Recognizer exceeded %s for session %s", l.cfg.RecognizeTimeout, l.session.ID())
		l.session.Break()
		return false
	}

	if err := l.session.Observe(ctx, guess, l.deps.Now()); err != nil {
		l.deps.Logger.Error("Failed to record attendance: %v", err)
		return true
	}

	if l.session.State() == scan.Marked {
		l.saveEvidence()
	}
	return true
}

func (l *Loop) preview(frame Frame) {
	if l.deps.Previewer == nil {
		return
	}
	jpeg, err := l.deps.Previewer.Encode(frame)
	if err != nil {
		l.lastPreview = nil
		return
	}
	l.lastPreview = jpeg
	l.publish(status.Frame(jpeg))
}

func (l *Loop) saveEvidence() {
	snap := l.session.Snapshot()
	if l.deps.Evidence == nil || l.lastPreview == nil || snap.Outcome != attendance.Created.String() {
		return
	}
	l.deps.Evidence.Add(l.lastPreview, snap.MarkedIdentity, snap.Category)
}

// pull waits up to FrameTimeout for the next frame. A read that outlives
// the timeout stays pending and is collected by a later call.
func (l *Loop) pull(ctx context.Context) Frame {
	if l.cfg.FrameTimeout <= 0 {
		return l.deps.Source.Next()
	}

	if l.pendingRead == nil {
		ch := make(chan Frame, 1)
		go func() { ch <- l.deps.Source.Next() }()
		l.pendingRead = ch
	}

	timer := time.NewTimer(l.cfg.FrameTimeout)
	defer timer.Stop()

	select {
	case f := <-l.pendingRead:
		l.pendingRead = nil
		return f
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// identify calls the recognizer bounded by RecognizeTimeout. On timeout the
// frame is handed to the running call, which closes it when it returns.
func (l *Loop) identify(ctx context.Context, r Recognizer, frame Frame, region image.Rectangle) (recognition.Guess, identifyResult) {
	if l.inflight != nil {
		select {
		case <-l.inflight:
			l.inflight = nil
		default:
			return recognition.Guess{}, busy
		}
	}

	if l.cfg.RecognizeTimeout <= 0 {
		return r.Identify(frame, region), identified
	}

	ch := make(chan recognition.Guess, 1)
	go func() { ch <- r.Identify(frame, region) }()

	timer := time.NewTimer(l.cfg.RecognizeTimeout)
	defer timer.Stop()

	select {
	case g := <-ch:
		return g, identified
	case <-timer.C:
	case <-ctx.Done():
	}

	finished := make(chan struct{})
	go func() {
		<-ch
		frame.Close()
		close(finished)
	}()
	l.inflight = finished
	return recognition.Guess{}, handedOff
}

func (l *Loop) shutdown() {
	l.session.Close()
	l.publishSnapshot()
	l.publish(status.Stopped())

	read, inflight := l.pendingRead, l.inflight
	l.pendingRead, l.inflight = nil, nil

	if read == nil && inflight == nil {
		l.closeSource()
		return
	}

	l.deps.Logger.Warning("Capture loop for session %s exited with a call in flight; closing the device once it returns", l.session.ID())
	go func() {
		if read != nil {
			if f := <-read; f != nil {
				f.Close()
			}
		}
		if inflight != nil {
			<-inflight
		}
		l.closeSource()
	}()
}

func (l *Loop) closeSource() {
	if err := l.deps.Source.Close(); err != nil {
		l.deps.Logger.Warning("Failed to close capture device: %v", err)
	}
	close(l.released)
}

func (l *Loop) publish(e status.Event) {
	e.SessionID = l.session.ID()
	l.deps.Sink.Publish(e)
}

func (l *Loop) publishSnapshot() {
	snap := l.session.Snapshot()
	l.snapshot.Store(&snap)
}
