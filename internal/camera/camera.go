package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrPermissionDenied is returned by devices when the user refuses access.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrNoDevice is returned when no video input is present.
	ErrNoDevice = errors.New("no camera device")
)

// Facing selects the front or rear camera.
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

// Constraints describe the requested video input.
type Constraints struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Facing Facing `json:"facing"`
}

// DefaultConstraints matches the front camera at 640x480.
func DefaultConstraints() Constraints {
	return Constraints{Width: 640, Height: 480, Facing: FacingUser}
}

// Track is a single media track of an acquired stream.
type Track interface {
	Kind() string
	Stop()
}

// Stream is a live video input handle.
type Stream interface {
	ID() string
	Tracks() []Track
}

// Device acquires streams from the host environment.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Surface displays a live stream.
type Surface interface {
	Attach(s Stream)
	Detach()
}

// DeviceAccessError reports that acquisition was denied or impossible.
type DeviceAccessError struct {
	Err error
}

func (e *DeviceAccessError) Error() string {
	return fmt.Sprintf("camera unavailable: %v", e.Err)
}

func (e *DeviceAccessError) Unwrap() error { return e.Err }

// Manager owns at most one acquired stream.
type Manager struct {
	device      Device
	constraints Constraints
	surface     Surface

	mu     sync.Mutex
	stream Stream
	err    error
}

// NewManager creates a manager for the device. surface may be nil.
func NewManager(device Device, c Constraints, surface Surface) *Manager {
	return &Manager{device: device, constraints: c, surface: surface}
}

// Activate acquires a stream. Activating an active manager is a no-op.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return nil
	}
	if m.device == nil {
		m.err = &DeviceAccessError{Err: ErrNoDevice}
		return m.err
	}
	stream, err := m.device.Open(ctx, m.constraints)
	if err != nil {
		m.err = &DeviceAccessError{Err: err}
		return m.err
	}
	m.stream = stream
	m.err = nil
	if m.surface != nil {
		m.surface.Attach(stream)
	}
	return nil
}

// Deactivate stops every track of the current stream.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return
	}
	for _, t := range m.stream.Tracks() {
		t.Stop()
	}
	if m.surface != nil {
		m.surface.Detach()
	}
	m.stream = nil
}

// Active reports whether a stream is held.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil
}

// Err returns the error from the last failed activation, cleared on success.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// StreamID returns the id of the held stream, or "".
func (m *Manager) StreamID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return ""
	}
	return m.stream.ID()
}
