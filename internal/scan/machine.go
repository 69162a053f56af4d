package scan

import (
	"errors"
	"fmt"

	"checkin/internal/progress"
)

var (
	// ErrPreconditionFailed is returned when start is invoked without a
	// required active camera. The session state is left unchanged.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrSessionClosed is returned by actions on a torn-down session.
	ErrSessionClosed = errors.New("session closed")
	// ErrCameraReleased is returned by ActivateCamera when the camera was
	// released before activation finished.
	ErrCameraReleased = errors.New("camera released during activation")
	// ErrUnknownFlow is returned for flow names missing from a Catalog.
	ErrUnknownFlow = errors.New("unknown flow")
)

// State is the observable part of a ScanSession.
type State struct {
	Phase        Phase
	Progress     int
	Confidence   float64
	CameraActive bool
	// Settling is set once a four-phase analysis reached 100 and the
	// result is pending.
	Settling bool
}

// EventKind enumerates the inputs of the state machine.
type EventKind int

const (
	EventStart EventKind = iota
	EventProgress
	EventComplete
	EventAbort
	EventReset
	EventCameraOn
	EventCameraOff
)

// Event is one input to Apply.
type Event struct {
	Kind EventKind
	// Progress is the driver value for EventProgress.
	Progress int
	// Confidence is the final confidence for EventComplete.
	Confidence float64
}

// Apply is the pure transition function of flow f. Events that do not apply
// to the current phase leave the state unchanged.
func Apply(f Flow, s State, ev Event) (State, error) {
	switch ev.Kind {
	case EventStart:
		if s.Phase.InFlight() {
			return s, nil
		}
		if f.RequireCamera && !s.CameraActive {
			return s, fmt.Errorf("%w: camera not active", ErrPreconditionFailed)
		}
		return State{Phase: f.firstPhase(), CameraActive: s.CameraActive}, nil

	case EventProgress:
		if f.Variant != FourPhase {
			return s, nil
		}
		v := ev.Progress
		if v > progress.Max {
			v = progress.Max
		}
		if v < s.Progress {
			v = s.Progress
		}
		switch s.Phase {
		case PhaseDetecting:
			s.Progress = v
			if v >= f.DetectThreshold {
				s.Phase = PhaseAnalyzing
				s.Confidence = float64(v) * f.ConfidenceScale
				s.Settling = v >= progress.Max
			}
		case PhaseAnalyzing:
			if s.Settling {
				return s, nil
			}
			s.Progress = v
			s.Confidence = float64(v) * f.ConfidenceScale
			s.Settling = v >= progress.Max
		}
		return s, nil

	case EventComplete:
		ready := (f.Variant == ThreePhase && s.Phase == PhaseScanning) ||
			(f.Variant == FourPhase && s.Phase == PhaseAnalyzing && s.Settling)
		if !ready {
			return s, fmt.Errorf("cannot complete from %s", s.Phase)
		}
		return State{
			Phase:        f.terminalPhase(),
			Progress:     progress.Max,
			Confidence:   ev.Confidence,
			CameraActive: s.CameraActive,
		}, nil

	case EventAbort, EventReset:
		return State{Phase: PhaseIdle, CameraActive: s.CameraActive}, nil

	case EventCameraOn:
		s.CameraActive = true
		return s, nil

	case EventCameraOff:
		s.CameraActive = false
		if f.RequireCamera && s.Phase.InFlight() {
			return State{Phase: PhaseIdle}, nil
		}
		return s, nil
	}
	return s, fmt.Errorf("unknown event %d", ev.Kind)
}
