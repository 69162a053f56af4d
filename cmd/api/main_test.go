package main

import (
	"context"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"checkin/internal/camera"
	"checkin/internal/config"
	"checkin/internal/match"
	"checkin/internal/scan"
)

type countingWriter struct{ n atomic.Int64 }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n.Add(1)
	return len(p), nil
}

func TestMemoryNotifierKeepsDraining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &countingWriter{}
	notifier := newNotifier(ctx, config.App{QueueBackend: "memory"}, nil, log.New(out, "", 0))

	flow := scan.NewCatalog(scan.DefaultTimings())[scan.FlowFace]
	cam := camera.NewManager(camera.NewSimulated(camera.ModeGrant), camera.DefaultConstraints(), nil)
	sess, err := scan.NewSession("", flow, cam, match.Demo(), scan.WithNotifier(notifier))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer sess.Close()

	const rounds = 200
	done := make(chan error, 1)
	go func() {
		for i := 0; i < rounds; i++ {
			if err := sess.ActivateCamera(context.Background()); err != nil {
				done <- err
				return
			}
			sess.DeactivateCamera()
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("activate: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("camera activation stalled behind the notification queue")
	}

	deadline := time.Now().Add(2 * time.Second)
	for out.n.Load() < rounds {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d drained notifications, got %d", rounds, out.n.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBuildMatcher(t *testing.T) {
	for _, name := range []string{"", "fixed", "face"} {
		if _, err := buildMatcher(config.App{Matcher: name, FaceSkip: true}); err != nil {
			t.Fatalf("matcher %q: %v", name, err)
		}
	}
	if _, err := buildMatcher(config.App{Matcher: "nfc"}); err == nil {
		t.Fatalf("expected unknown matcher to error")
	}
}
