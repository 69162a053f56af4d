package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"checkin/internal/camera"
	"checkin/internal/metrics"
	"checkin/internal/notify"
	"checkin/internal/progress"
	"checkin/internal/scan"
)

// Deps are shared by every session the registry creates.
type Deps struct {
	Catalog     scan.Catalog
	Matcher     scan.Matcher
	Device      camera.Device
	Constraints camera.Constraints
	Notifier    notify.Notifier
	Metrics     *metrics.Metrics
	// Scheduler and Now default to wall-clock time.
	Scheduler progress.Scheduler
	Now       func() time.Time
}

type entry struct {
	sess *scan.Session
	hub  *Hub
}

// Registry tracks the open sessions, one per screen instance.
type Registry struct {
	deps Deps

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry(d Deps) *Registry {
	if d.Notifier == nil {
		d.Notifier = notify.Discard{}
	}
	if d.Constraints == (camera.Constraints{}) {
		d.Constraints = camera.DefaultConstraints()
	}
	return &Registry{deps: d, entries: make(map[string]*entry)}
}

// Catalog returns the flows sessions can be opened for.
func (r *Registry) Catalog() scan.Catalog { return r.deps.Catalog }

// Create opens a session for the named flow.
func (r *Registry) Create(flowName string) (*scan.Session, error) {
	flow, err := r.deps.Catalog.Lookup(flowName)
	if err != nil {
		return nil, err
	}
	hub := NewHub()
	opts := []scan.Option{
		scan.WithNotifier(r.deps.Notifier),
		scan.WithMetrics(r.deps.Metrics),
		scan.WithObserver(hub.Publish),
	}
	if r.deps.Scheduler != nil {
		opts = append(opts, scan.WithScheduler(r.deps.Scheduler))
	}
	if r.deps.Now != nil {
		opts = append(opts, scan.WithClock(r.deps.Now))
	}
	cam := camera.NewManager(r.deps.Device, r.deps.Constraints, nil)
	sess, err := scan.NewSession(uuid.NewString(), flow, cam, r.deps.Matcher, opts...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.entries[sess.ID()] = &entry{sess: sess, hub: hub}
	r.mu.Unlock()
	r.deps.Metrics.SessionOpened()
	return sess, nil
}

// Get returns the session and its snapshot hub.
func (r *Registry) Get(id string) (*scan.Session, *Hub, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, nil, false
	}
	return e.sess, e.hub, true
}

// Close tears a session down and forgets it.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.sess.Close()
	e.hub.Close()
	r.deps.Metrics.SessionClosed()
	return true
}

// Reap closes sessions with no user action since cutoff.
func (r *Registry) Reap(cutoff time.Time) int {
	r.mu.RLock()
	var stale []string
	for id, e := range r.entries {
		if e.sess.LastActive().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	n := 0
	for _, id := range stale {
		if r.Close(id) {
			n++
		}
	}
	return n
}

// CloseAll tears every session down.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Close(id)
	}
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// StartJanitor reaps idle sessions every interval until ctx ends.
func StartJanitor(ctx context.Context, r *Registry, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	now := r.deps.Now
	if now == nil {
		now = time.Now
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.Reap(now().Add(-ttl)); n > 0 {
					log.Printf("janitor closed %d idle sessions", n)
				}
			}
		}
	}()
}
