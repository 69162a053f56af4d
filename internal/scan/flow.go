package scan

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Phase is a state of the check-in state machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseDetecting Phase = "detecting"
	PhaseAnalyzing Phase = "analyzing"
	PhaseComplete  Phase = "complete"
	PhaseScanning  Phase = "scanning"
	PhaseDone      Phase = "done"
)

// InFlight reports whether an attempt is running in this phase.
func (p Phase) InFlight() bool {
	return p == PhaseDetecting || p == PhaseAnalyzing || p == PhaseScanning
}

// Terminal reports whether the phase ends an attempt.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseDone
}

// Message is the status line shown for the phase.
func (p Phase) Message() string {
	switch p {
	case PhaseDetecting:
		return "Detecting face..."
	case PhaseAnalyzing:
		return "Analyzing facial features..."
	case PhaseComplete:
		return "Recognition complete!"
	case PhaseScanning:
		return "Scanning..."
	case PhaseDone:
		return "Attendance marked"
	}
	return "Ready to scan"
}

// Method is how a subject was identified.
type Method string

const (
	MethodQRCode          Method = "QR_CODE"
	MethodFaceRecognition Method = "FACE_RECOGNITION"
)

// Label is the human form used in notifications.
func (m Method) Label() string {
	if m == MethodQRCode {
		return "QR Code"
	}
	return "Facial Recognition"
}

// Variant selects the phase set a flow runs through.
type Variant int

const (
	// ThreePhase is Idle -> Scanning -> Done after a fixed delay.
	ThreePhase Variant = 3
	// FourPhase is Idle -> Detecting -> Analyzing -> Complete.
	FourPhase Variant = 4
)

// Flow parameterizes one check-in screen.
type Flow struct {
	Name          string
	Variant       Variant
	Method        Method
	RequireCamera bool

	// ThreePhase timing.
	Delay time.Duration

	// FourPhase timing.
	DetectInterval  time.Duration
	DetectStep      int
	DetectThreshold int
	AnalyzeInterval time.Duration
	AnalyzeStep     int
	SettleDelay     time.Duration
	ConfidenceScale float64

	// FinalConfidence is the confidence reported with a face result when the
	// matcher supplies none.
	FinalConfidence float64
}

func (f Flow) firstPhase() Phase {
	if f.Variant == FourPhase {
		return PhaseDetecting
	}
	return PhaseScanning
}

func (f Flow) terminalPhase() Phase {
	if f.Variant == FourPhase {
		return PhaseComplete
	}
	return PhaseDone
}

// Validate checks that the flow can be driven.
func (f Flow) Validate() error {
	if f.Name == "" {
		return errors.New("flow name required")
	}
	if f.Method != MethodQRCode && f.Method != MethodFaceRecognition {
		return fmt.Errorf("flow %s: unknown method %q", f.Name, f.Method)
	}
	switch f.Variant {
	case ThreePhase:
		if f.Delay <= 0 {
			return fmt.Errorf("flow %s: delay must be positive", f.Name)
		}
	case FourPhase:
		if f.DetectInterval <= 0 || f.AnalyzeInterval <= 0 {
			return fmt.Errorf("flow %s: tick intervals must be positive", f.Name)
		}
		if f.DetectStep < 1 || f.AnalyzeStep < 1 {
			return fmt.Errorf("flow %s: steps must be at least 1", f.Name)
		}
		if f.DetectThreshold < 1 || f.DetectThreshold > 100 {
			return fmt.Errorf("flow %s: detect threshold must be in 1..100", f.Name)
		}
		if f.SettleDelay < 0 {
			return fmt.Errorf("flow %s: settle delay must not be negative", f.Name)
		}
	default:
		return fmt.Errorf("flow %s: unknown variant %d", f.Name, f.Variant)
	}
	return nil
}

// Timings carries the configurable delays of the built-in flows.
type Timings struct {
	QRDelay         time.Duration
	FaceDelay       time.Duration
	DetectInterval  time.Duration
	DetectStep      int
	DetectThreshold int
	AnalyzeInterval time.Duration
	AnalyzeStep     int
	SettleDelay     time.Duration
	ConfidenceScale float64
	FinalConfidence float64
}

// DefaultTimings reproduces the demo screens.
func DefaultTimings() Timings {
	return Timings{
		QRDelay:         2000 * time.Millisecond,
		FaceDelay:       3000 * time.Millisecond,
		DetectInterval:  100 * time.Millisecond,
		DetectStep:      1,
		DetectThreshold: 30,
		AnalyzeInterval: 50 * time.Millisecond,
		AnalyzeStep:     2,
		SettleDelay:     500 * time.Millisecond,
		ConfidenceScale: 3.2,
		FinalConfidence: 97.8,
	}
}

// Names of the built-in flows.
const (
	FlowQR              = "qr"
	FlowFace            = "face"
	FlowFaceRecognition = "face-recognition"
)

// Catalog holds the flows a deployment offers.
type Catalog map[string]Flow

// NewCatalog builds the built-in flows from t.
func NewCatalog(t Timings) Catalog {
	return Catalog{
		FlowQR: {
			Name:    FlowQR,
			Variant: ThreePhase,
			Method:  MethodQRCode,
			Delay:   t.QRDelay,
		},
		FlowFace: {
			Name:            FlowFace,
			Variant:         ThreePhase,
			Method:          MethodFaceRecognition,
			RequireCamera:   true,
			Delay:           t.FaceDelay,
			FinalConfidence: 98.5,
		},
		FlowFaceRecognition: {
			Name:            FlowFaceRecognition,
			Variant:         FourPhase,
			Method:          MethodFaceRecognition,
			RequireCamera:   true,
			DetectInterval:  t.DetectInterval,
			DetectStep:      t.DetectStep,
			DetectThreshold: t.DetectThreshold,
			AnalyzeInterval: t.AnalyzeInterval,
			AnalyzeStep:     t.AnalyzeStep,
			SettleDelay:     t.SettleDelay,
			ConfidenceScale: t.ConfidenceScale,
			FinalConfidence: t.FinalConfidence,
		},
	}
}

// Lookup returns the named flow.
func (c Catalog) Lookup(name string) (Flow, error) {
	f, ok := c[name]
	if !ok {
		return Flow{}, fmt.Errorf("%w: %s", ErrUnknownFlow, name)
	}
	return f, nil
}

// Names returns the flow names in sorted order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
