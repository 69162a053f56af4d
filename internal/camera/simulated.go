package camera

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Mode selects how a Simulated device answers Open.
type Mode string

const (
	ModeGrant  Mode = "grant"
	ModeDeny   Mode = "deny"
	ModeAbsent Mode = "absent"
)

// ParseMode maps a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeGrant, ModeDeny, ModeAbsent:
		return Mode(s), nil
	case "":
		return ModeGrant, nil
	}
	return "", fmt.Errorf("unknown camera mode %q", s)
}

// Simulated is a Device that hands out frameless streams.
type Simulated struct {
	Mode Mode

	mu     sync.Mutex
	opened []*SimStream
}

// NewSimulated returns a device answering in the given mode.
func NewSimulated(mode Mode) *Simulated {
	return &Simulated{Mode: mode}
}

// Open grants, denies or fails per Mode.
func (d *Simulated) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch d.Mode {
	case ModeDeny:
		return nil, ErrPermissionDenied
	case ModeAbsent:
		return nil, ErrNoDevice
	}
	s := &SimStream{
		id:          uuid.NewString(),
		Constraints: c,
		tracks:      []*SimTrack{{kind: "video"}},
	}
	d.mu.Lock()
	d.opened = append(d.opened, s)
	d.mu.Unlock()
	return s, nil
}

// Opened returns every stream handed out so far.
func (d *Simulated) Opened() []*SimStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*SimStream(nil), d.opened...)
}

// SimStream is the stream produced by Simulated.
type SimStream struct {
	id          string
	Constraints Constraints
	tracks      []*SimTrack
}

func (s *SimStream) ID() string { return s.id }

func (s *SimStream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

// Live reports whether any track is still running.
func (s *SimStream) Live() bool {
	for _, t := range s.tracks {
		if !t.Stopped() {
			return true
		}
	}
	return false
}

// SimTrack records whether it was stopped.
type SimTrack struct {
	kind string

	mu      sync.Mutex
	stopped bool
}

func (t *SimTrack) Kind() string { return t.kind }

func (t *SimTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *SimTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
