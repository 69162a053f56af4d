package scan

import (
	"errors"
	"testing"
	"time"
)

func fourPhase() Flow {
	return NewCatalog(DefaultTimings())[FlowFaceRecognition]
}

func TestApplyStartRequiresCamera(t *testing.T) {
	f := fourPhase()
	s := State{Phase: PhaseIdle}
	next, err := Apply(f, s, Event{Kind: EventStart})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	if next != s {
		t.Fatalf("expected state unchanged, got %+v", next)
	}

	s.CameraActive = true
	next, err = Apply(f, s, Event{Kind: EventStart})
	if err != nil || next.Phase != PhaseDetecting {
		t.Fatalf("expected detecting, got %+v (%v)", next, err)
	}
}

func TestApplyStartWhileInFlightIsNoop(t *testing.T) {
	f := fourPhase()
	for _, phase := range []Phase{PhaseDetecting, PhaseAnalyzing} {
		s := State{Phase: phase, Progress: 42, Confidence: 134.4, CameraActive: true}
		next, err := Apply(f, s, Event{Kind: EventStart})
		if err != nil || next != s {
			t.Fatalf("phase %s: expected no-op, got %+v (%v)", phase, next, err)
		}
	}
}

func TestApplyDetectingThreshold(t *testing.T) {
	f := fourPhase()
	s := State{Phase: PhaseDetecting, CameraActive: true}
	for v := 1; v < 30; v++ {
		s, _ = Apply(f, s, Event{Kind: EventProgress, Progress: v})
		if s.Phase != PhaseDetecting {
			t.Fatalf("expected detecting at %d, got %s", v, s.Phase)
		}
		if s.Confidence != 0 {
			t.Fatalf("expected no confidence while detecting, got %v", s.Confidence)
		}
	}
	s, _ = Apply(f, s, Event{Kind: EventProgress, Progress: 30})
	if s.Phase != PhaseAnalyzing {
		t.Fatalf("expected analyzing at threshold, got %s", s.Phase)
	}
	if s.Confidence != float64(30)*3.2 {
		t.Fatalf("expected confidence %v, got %v", float64(30)*3.2, s.Confidence)
	}
}

func TestApplyAnalyzingConfidenceAndSettle(t *testing.T) {
	f := fourPhase()
	s := State{Phase: PhaseAnalyzing, Progress: 30, CameraActive: true}
	for v := 32; v <= 100; v += 2 {
		s, _ = Apply(f, s, Event{Kind: EventProgress, Progress: v})
		if s.Confidence != float64(v)*3.2 {
			t.Fatalf("expected confidence %v at %d, got %v", float64(v)*3.2, v, s.Confidence)
		}
	}
	if !s.Settling || s.Phase != PhaseAnalyzing {
		t.Fatalf("expected settling analysis at 100, got %+v", s)
	}

	frozen := s
	s, _ = Apply(f, s, Event{Kind: EventProgress, Progress: 100})
	if s != frozen {
		t.Fatalf("expected settling state frozen, got %+v", s)
	}

	s, err := Apply(f, s, Event{Kind: EventComplete, Confidence: 97.8})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if s.Phase != PhaseComplete || s.Confidence != 97.8 || s.Progress != 100 {
		t.Fatalf("expected complete at 97.8, got %+v", s)
	}
}

func TestApplyProgressIsMonotonic(t *testing.T) {
	f := fourPhase()
	s := State{Phase: PhaseAnalyzing, Progress: 60}
	s, _ = Apply(f, s, Event{Kind: EventProgress, Progress: 40})
	if s.Progress != 60 {
		t.Fatalf("expected progress to stay at 60, got %d", s.Progress)
	}
	s, _ = Apply(f, s, Event{Kind: EventProgress, Progress: 250})
	if s.Progress != 100 {
		t.Fatalf("expected progress capped at 100, got %d", s.Progress)
	}
}

func TestApplyCompleteRejectedEarly(t *testing.T) {
	f := fourPhase()
	if _, err := Apply(f, State{Phase: PhaseAnalyzing, Progress: 50}, Event{Kind: EventComplete}); err == nil {
		t.Fatalf("expected completion before settling to be rejected")
	}
	qr := NewCatalog(DefaultTimings())[FlowQR]
	if _, err := Apply(qr, State{Phase: PhaseIdle}, Event{Kind: EventComplete}); err == nil {
		t.Fatalf("expected completion from idle to be rejected")
	}
}

func TestApplyResetFromEveryPhase(t *testing.T) {
	f := fourPhase()
	for _, phase := range []Phase{PhaseIdle, PhaseDetecting, PhaseAnalyzing, PhaseComplete} {
		s := State{Phase: phase, Progress: 77, Confidence: 246.4, CameraActive: true, Settling: true}
		next, err := Apply(f, s, Event{Kind: EventReset})
		if err != nil {
			t.Fatalf("reset from %s: %v", phase, err)
		}
		want := State{Phase: PhaseIdle, CameraActive: true}
		if next != want {
			t.Fatalf("reset from %s: expected %+v, got %+v", phase, want, next)
		}
	}
}

func TestApplyCameraOffAbortsGatedAttempt(t *testing.T) {
	f := fourPhase()
	next, _ := Apply(f, State{Phase: PhaseAnalyzing, Progress: 50, CameraActive: true}, Event{Kind: EventCameraOff})
	if next != (State{Phase: PhaseIdle}) {
		t.Fatalf("expected abort to idle, got %+v", next)
	}

	qr := NewCatalog(DefaultTimings())[FlowQR]
	next, _ = Apply(qr, State{Phase: PhaseScanning, CameraActive: true}, Event{Kind: EventCameraOff})
	if next.Phase != PhaseScanning || next.CameraActive {
		t.Fatalf("expected qr scan to continue without camera, got %+v", next)
	}
}

func TestThreePhaseIgnoresProgress(t *testing.T) {
	qr := NewCatalog(DefaultTimings())[FlowQR]
	s := State{Phase: PhaseScanning}
	next, _ := Apply(qr, s, Event{Kind: EventProgress, Progress: 50})
	if next != s {
		t.Fatalf("expected progress ignored, got %+v", next)
	}
	next, err := Apply(qr, s, Event{Kind: EventComplete})
	if err != nil || next.Phase != PhaseDone {
		t.Fatalf("expected done, got %+v (%v)", next, err)
	}
}

func TestCatalogValidates(t *testing.T) {
	c := NewCatalog(DefaultTimings())
	for _, name := range c.Names() {
		if err := c[name].Validate(); err != nil {
			t.Fatalf("flow %s invalid: %v", name, err)
		}
	}
	if _, err := c.Lookup("nfc"); !errors.Is(err, ErrUnknownFlow) {
		t.Fatalf("expected ErrUnknownFlow, got %v", err)
	}

	bad := c[FlowQR]
	bad.Delay = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected zero delay to be invalid")
	}
	bad = c[FlowFaceRecognition]
	bad.DetectThreshold = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected zero threshold to be invalid")
	}
}

func TestSynthesizeConfidenceByMethod(t *testing.T) {
	c := NewCatalog(DefaultTimings())
	at := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)

	qr := Synthesize(c[FlowQR], Identity{SubjectID: "STU001"}, at, 2*time.Second)
	if qr.Confidence != nil {
		t.Fatalf("expected no confidence for qr, got %v", *qr.Confidence)
	}
	reported := 88.0
	qr = Synthesize(c[FlowQR], Identity{SubjectID: "STU001", Confidence: &reported}, at, 0)
	if qr.Confidence != nil {
		t.Fatalf("expected qr to drop matcher confidence")
	}

	face := Synthesize(c[FlowFace], Identity{SubjectID: "STU002"}, at, 3*time.Second)
	if face.Confidence == nil || *face.Confidence != 98.5 {
		t.Fatalf("expected 98.5, got %v", face.Confidence)
	}
	over := 140.0
	face = Synthesize(c[FlowFace], Identity{Confidence: &over}, at, 0)
	if *face.Confidence != 100 {
		t.Fatalf("expected confidence clamped to 100, got %v", *face.Confidence)
	}
	if face.ID == "" || face.Method != MethodFaceRecognition || !face.Timestamp.Equal(at) {
		t.Fatalf("unexpected result %+v", face)
	}
}
