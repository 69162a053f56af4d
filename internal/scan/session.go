package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"checkin/internal/camera"
	"checkin/internal/metrics"
	"checkin/internal/notify"
	"checkin/internal/progress"
)

// Snapshot is a point-in-time copy of a session for display.
type Snapshot struct {
	// Seq increases with every state change of the session. Observers may
	// receive snapshots out of order and should keep the highest Seq.
	Seq               uint64    `json:"seq"`
	SessionID         string    `json:"session_id"`
	Flow              string    `json:"flow"`
	Phase             Phase     `json:"phase"`
	Message           string    `json:"message"`
	Progress          int       `json:"progress"`
	Confidence        float64   `json:"confidence"`
	DisplayConfidence float64   `json:"display_confidence"`
	CameraActive      bool      `json:"camera_active"`
	CameraError       string    `json:"camera_error,omitempty"`
	Settling          bool      `json:"settling"`
	Result            *Result   `json:"result,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// StartOptions carries per-attempt input.
type StartOptions struct {
	ImageURL string
	// SubjectID is a claimed identity for matchers that verify 1:1.
	SubjectID string
}

// Option configures a Session.
type Option func(*Session)

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(s progress.Scheduler) Option {
	return func(sess *Session) { sess.sched = s }
}

// WithClock replaces time.Now for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(sess *Session) { sess.now = now }
}

// WithNotifier sets the status event sink.
func WithNotifier(n notify.Notifier) Option {
	return func(sess *Session) { sess.notifier = n }
}

// WithMetrics records attempt metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(sess *Session) { sess.metrics = m }
}

// WithObserver is called with a snapshot after every state change.
func WithObserver(fn func(Snapshot)) Option {
	return func(sess *Session) { sess.observer = fn }
}

// Session is one screen's check-in state: the current attempt and at most
// one live result. Every scheduled callback carries the epoch of the attempt
// that created it and is dropped once the epoch has moved on.
type Session struct {
	id       string
	flow     Flow
	camera   *camera.Manager
	matcher  Matcher
	sched    progress.Scheduler
	now      func() time.Time
	notifier notify.Notifier
	metrics  *metrics.Metrics
	observer func(Snapshot)

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	result     *Result
	epoch      uint64
	startedAt  time.Time
	imageURL   string
	subjectID  string
	seq        uint64
	detect     *progress.Driver
	analyze    *progress.Driver
	timer      progress.Timer
	closed     bool
	lastActive time.Time
	updatedAt  time.Time
}

// NewSession creates an idle session. cam may be nil for flows without a
// camera; an empty id is replaced by a fresh uuid.
func NewSession(id string, flow Flow, cam *camera.Manager, m Matcher, opts ...Option) (*Session, error) {
	if err := flow.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("matcher required")
	}
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		id:       id,
		flow:     flow,
		camera:   cam,
		matcher:  m,
		sched:    progress.System(),
		now:      time.Now,
		notifier: notify.Discard{},
		state:    State{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.lastActive = s.now()
	s.updatedAt = s.lastActive
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Flow() Flow { return s.flow }

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Result returns the live result, if the last attempt completed.
func (s *Session) Result() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return Result{}, false
	}
	return *s.result, true
}

// LastActive is the time of the last user action.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Closed reports whether Close has run.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ActivateCamera acquires the camera and marks it active.
func (s *Session) ActivateCamera(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.lastActive = s.now()
	cam := s.camera
	s.mu.Unlock()

	var err error
	if cam == nil {
		err = &camera.DeviceAccessError{Err: camera.ErrNoDevice}
	} else {
		err = cam.Activate(ctx)
	}
	if err != nil {
		s.metrics.CameraError()
		s.emitCtx(ctx, notify.Event{
			Title:       "Camera Error",
			Description: "Unable to access camera. Please check permissions.",
			Level:       notify.LevelDestructive,
			Attrs:       map[string]string{"error": err.Error()},
		})
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return err
		}
		snap := s.touchLocked()
		s.mu.Unlock()
		s.observe(snap)
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cam.Deactivate()
		return ErrSessionClosed
	}
	// A DeactivateCamera that ran after cam.Activate returned wins.
	if !cam.Active() {
		s.mu.Unlock()
		return ErrCameraReleased
	}
	s.state, _ = Apply(s.flow, s.state, Event{Kind: EventCameraOn})
	snap := s.touchLocked()
	s.mu.Unlock()

	s.emitCtx(ctx, notify.Event{
		Title:       "Camera Activated",
		Description: "Position your face in the center of the frame",
		Level:       notify.LevelInfo,
	})
	s.observe(snap)
	return nil
}

// DeactivateCamera releases the camera. A camera-gated attempt in flight is
// abandoned.
func (s *Session) DeactivateCamera() {
	s.mu.Lock()
	if s.camera != nil {
		s.camera.Deactivate()
	}
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.lastActive = s.now()
	wasInFlight := s.state.Phase.InFlight()
	s.state, _ = Apply(s.flow, s.state, Event{Kind: EventCameraOff})
	if wasInFlight && !s.state.Phase.InFlight() {
		s.epoch++
		s.cancelLocked()
	}
	snap := s.touchLocked()
	s.mu.Unlock()

	s.observe(snap)
}

// Start begins an attempt. started is false when an attempt is already in
// flight; ErrPreconditionFailed is returned when the flow needs an active
// camera and none is held.
//
// ctx bounds only the call itself. Timers and the matcher run on the
// session's context and outlive the request that started them.
func (s *Session) Start(ctx context.Context, opts StartOptions) (started bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrSessionClosed
	}
	s.lastActive = s.now()
	if s.state.Phase.InFlight() {
		s.mu.Unlock()
		return false, nil
	}
	if s.state.CameraActive && s.camera != nil && !s.camera.Active() {
		s.state.CameraActive = false
	}
	next, err := Apply(s.flow, s.state, Event{Kind: EventStart})
	if err != nil {
		s.mu.Unlock()
		s.metrics.Precondition(s.flow.Name)
		s.emitCtx(ctx, notify.Event{
			Title:       "Camera Required",
			Description: "Please activate camera first",
			Level:       notify.LevelDestructive,
		})
		return false, err
	}

	s.epoch++
	s.cancelLocked()
	s.result = nil
	s.state = next
	s.startedAt = s.now()
	s.imageURL = opts.ImageURL
	s.subjectID = opts.SubjectID
	s.launchLocked(s.epoch)
	snap := s.touchLocked()
	s.mu.Unlock()

	s.metrics.AttemptStarted(s.flow.Name)
	s.observe(snap)
	return true, nil
}

// Reset returns to Idle from any phase, dropping pending timers and the
// live result.
func (s *Session) Reset() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.lastActive = s.now()
	s.resetLocked()
	snap := s.touchLocked()
	s.mu.Unlock()

	s.metrics.SessionReset(s.flow.Name)
	s.observe(snap)
}

// Close tears the session down and releases the camera. Safe to call more
// than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.resetLocked()
	s.closed = true
	s.state.CameraActive = false
	snap := s.touchLocked()
	s.mu.Unlock()

	if s.camera != nil {
		s.camera.Deactivate()
	}
	s.cancel()
	s.observe(snap)
}

func (s *Session) resetLocked() {
	s.epoch++
	s.cancelLocked()
	s.result = nil
	s.imageURL = ""
	s.state, _ = Apply(s.flow, s.state, Event{Kind: EventReset})
}

func (s *Session) cancelLocked() {
	if s.detect != nil {
		s.detect.Stop()
		s.detect = nil
	}
	if s.analyze != nil {
		s.analyze.Stop()
		s.analyze = nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) launchLocked(epoch uint64) {
	if s.flow.Variant == ThreePhase {
		s.timer = s.sched.AfterFunc(s.flow.Delay, func() { s.finish(epoch) })
		return
	}
	s.detect = progress.NewDriver(s.sched, s.flow.DetectInterval, s.flow.DetectStep, func(v int) {
		s.advance(epoch, PhaseDetecting, v)
	})
	s.detect.Start(0)
}

// advance applies a driver tick. Ticks from a driver whose phase has passed
// are ignored.
func (s *Session) advance(epoch uint64, source Phase, v int) {
	s.mu.Lock()
	if epoch != s.epoch || s.state.Phase != source {
		s.mu.Unlock()
		return
	}
	next, _ := Apply(s.flow, s.state, Event{Kind: EventProgress, Progress: v})
	s.state = next

	if source == PhaseDetecting && next.Phase == PhaseAnalyzing {
		if s.detect != nil {
			s.detect.Stop()
			s.detect = nil
		}
		if !next.Settling {
			s.analyze = progress.NewDriver(s.sched, s.flow.AnalyzeInterval, s.flow.AnalyzeStep, func(v int) {
				s.advance(epoch, PhaseAnalyzing, v)
			})
			s.analyze.Start(next.Progress)
		}
	}
	if next.Settling && s.timer == nil {
		s.timer = s.sched.AfterFunc(s.flow.SettleDelay, func() { s.finish(epoch) })
	}
	snap := s.touchLocked()
	s.mu.Unlock()

	s.observe(snap)
}

// finish runs the matcher for the attempt and publishes its result.
func (s *Session) finish(epoch uint64) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	req := MatchRequest{
		SessionID: s.id,
		Flow:      s.flow.Name,
		Method:    s.flow.Method,
		ImageURL:  s.imageURL,
		ClaimedID: s.subjectID,
	}
	if s.camera != nil {
		req.StreamID = s.camera.StreamID()
	}
	ctx := s.ctx
	s.mu.Unlock()

	id, matchErr := s.matcher.Match(ctx, req)

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	if matchErr != nil {
		s.epoch++
		s.cancelLocked()
		s.state, _ = Apply(s.flow, s.state, Event{Kind: EventAbort})
		snap := s.touchLocked()
		s.mu.Unlock()

		s.metrics.MatchFailed(s.flow.Name)
		s.emit(notify.Event{
			Title:       "Recognition Failed",
			Description: matchErr.Error(),
			Level:       notify.LevelDestructive,
		})
		s.observe(snap)
		return
	}

	at := s.now()
	res := Synthesize(s.flow, id, at, at.Sub(s.startedAt))
	var conf float64
	if res.Confidence != nil {
		conf = *res.Confidence
	}
	next, err := Apply(s.flow, s.state, Event{Kind: EventComplete, Confidence: conf})
	if err != nil {
		s.mu.Unlock()
		log.Printf("session %s: drop result: %v", s.id, err)
		return
	}
	s.state = next
	s.result = &res
	s.cancelLocked()
	snap := s.touchLocked()
	s.mu.Unlock()

	s.metrics.AttemptCompleted(s.flow.Name, string(res.Method), res.Elapsed)
	s.emit(completionEvent(s.flow, res))
	s.observe(snap)
}

func completionEvent(f Flow, res Result) notify.Event {
	attrs := map[string]string{
		"result_id":    res.ID,
		"subject_id":   res.SubjectID,
		"subject_name": res.SubjectName,
		"subject_code": res.SubjectCode,
		"method":       string(res.Method),
		"timestamp":    res.Timestamp.Format(time.RFC3339),
	}
	if res.Method == MethodQRCode {
		return notify.Event{
			Title:       "Attendance Marked",
			Description: fmt.Sprintf("Successfully marked attendance for %s", res.SubjectName),
			Level:       notify.LevelInfo,
			Attrs:       attrs,
		}
	}
	attrs["confidence"] = strconv.FormatFloat(*res.Confidence, 'f', 1, 64)
	desc := fmt.Sprintf("Successfully identified %s", res.SubjectName)
	if f.Variant == ThreePhase {
		desc = fmt.Sprintf("%s with %s%% confidence", desc, attrs["confidence"])
	}
	return notify.Event{Title: "Face Recognized", Description: desc, Level: notify.LevelInfo, Attrs: attrs}
}

func (s *Session) touchLocked() Snapshot {
	s.updatedAt = s.now()
	s.seq++
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Seq:               s.seq,
		SessionID:         s.id,
		Flow:              s.flow.Name,
		Phase:             s.state.Phase,
		Message:           s.state.Phase.Message(),
		Progress:          s.state.Progress,
		Confidence:        s.state.Confidence,
		DisplayConfidence: clampPercent(s.state.Confidence),
		CameraActive:      s.state.CameraActive,
		Settling:          s.state.Settling,
		UpdatedAt:         s.updatedAt,
	}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}
	if s.camera != nil {
		if err := s.camera.Err(); err != nil {
			snap.CameraError = err.Error()
		}
	}
	return snap
}

func (s *Session) emit(e notify.Event) {
	s.emitCtx(s.ctx, e)
}

func (s *Session) emitCtx(ctx context.Context, e notify.Event) {
	e.SessionID = s.id
	e.Flow = s.flow.Name
	e.At = s.now()
	if err := s.notifier.Notify(ctx, e); err != nil {
		log.Printf("session %s: notify failed: %v", s.id, err)
	}
}

func (s *Session) observe(snap Snapshot) {
	if s.observer != nil {
		s.observer(snap)
	}
}
