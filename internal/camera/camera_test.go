package camera

import (
	"context"
	"errors"
	"testing"
)

type recordingSurface struct {
	attached Stream
	detached int
}

func (s *recordingSurface) Attach(st Stream) { s.attached = st }
func (s *recordingSurface) Detach()          { s.attached = nil; s.detached++ }

func TestActivateGrantsStream(t *testing.T) {
	dev := NewSimulated(ModeGrant)
	surface := &recordingSurface{}
	m := NewManager(dev, DefaultConstraints(), surface)

	if err := m.Activate(context.Background()); err != nil {
		t.Fatalf("expected activation to succeed, got %v", err)
	}
	if !m.Active() {
		t.Fatalf("expected manager active")
	}
	if surface.attached == nil || surface.attached.ID() != m.StreamID() {
		t.Fatalf("expected stream attached to surface")
	}
	opened := dev.Opened()
	if len(opened) != 1 {
		t.Fatalf("expected 1 stream opened, got %d", len(opened))
	}
	if opened[0].Constraints != DefaultConstraints() {
		t.Fatalf("expected default constraints, got %+v", opened[0].Constraints)
	}

	if err := m.Activate(context.Background()); err != nil {
		t.Fatalf("expected repeat activation to be a no-op, got %v", err)
	}
	if len(dev.Opened()) != 1 {
		t.Fatalf("expected no second stream")
	}
}

func TestDeactivateStopsTracks(t *testing.T) {
	dev := NewSimulated(ModeGrant)
	surface := &recordingSurface{}
	m := NewManager(dev, DefaultConstraints(), surface)
	if err := m.Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	stream := dev.Opened()[0]

	m.Deactivate()
	if m.Active() {
		t.Fatalf("expected manager inactive")
	}
	if stream.Live() {
		t.Fatalf("expected every track stopped")
	}
	if surface.detached != 1 {
		t.Fatalf("expected surface detached once, got %d", surface.detached)
	}

	m.Deactivate()
	if surface.detached != 1 {
		t.Fatalf("expected second deactivate to be a no-op")
	}
}

func TestActivateFailures(t *testing.T) {
	cases := map[Mode]error{
		ModeDeny:   ErrPermissionDenied,
		ModeAbsent: ErrNoDevice,
	}
	for mode, want := range cases {
		m := NewManager(NewSimulated(mode), DefaultConstraints(), nil)
		err := m.Activate(context.Background())
		var accessErr *DeviceAccessError
		if !errors.As(err, &accessErr) {
			t.Fatalf("mode %s: expected DeviceAccessError, got %v", mode, err)
		}
		if !errors.Is(err, want) {
			t.Fatalf("mode %s: expected %v, got %v", mode, want, err)
		}
		if m.Active() {
			t.Fatalf("mode %s: expected inactive", mode)
		}
		if m.Err() == nil {
			t.Fatalf("mode %s: expected error recorded", mode)
		}
	}
}

func TestRetryAfterDenialRecovers(t *testing.T) {
	dev := NewSimulated(ModeDeny)
	m := NewManager(dev, DefaultConstraints(), nil)
	if err := m.Activate(context.Background()); err == nil {
		t.Fatalf("expected denial")
	}
	dev.Mode = ModeGrant
	if err := m.Activate(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if m.Err() != nil {
		t.Fatalf("expected error cleared after success")
	}
}

func TestNilDevice(t *testing.T) {
	m := NewManager(nil, DefaultConstraints(), nil)
	if err := m.Activate(context.Background()); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"": ModeGrant, "grant": ModeGrant, "deny": ModeDeny, "absent": ModeAbsent}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("expected %s for %q, got %s (%v)", want, in, got, err)
		}
	}
	if _, err := ParseMode("webcam"); err == nil {
		t.Fatalf("expected unknown mode to error")
	}
}
