package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordsAttempts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.AttemptStarted("qr")
	m.AttemptStarted("qr")
	m.AttemptCompleted("qr", "QR_CODE", 2*time.Second)
	m.Precondition("face")
	m.CameraError()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	if got := testutil.ToFloat64(m.Started.WithLabelValues("qr")); got != 2 {
		t.Fatalf("expected 2 starts, got %v", got)
	}
	if got := testutil.ToFloat64(m.Completed.WithLabelValues("qr", "QR_CODE")); got != 1 {
		t.Fatalf("expected 1 completion, got %v", got)
	}
	if got := testutil.ToFloat64(m.PreconditionFailed.WithLabelValues("face")); got != 1 {
		t.Fatalf("expected 1 precondition failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.CameraErrors); got != 1 {
		t.Fatalf("expected 1 camera error, got %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Fatalf("expected 1 active session, got %v", got)
	}
	if n := testutil.CollectAndCount(m.Duration); n != 1 {
		t.Fatalf("expected 1 duration series, got %d", n)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.AttemptStarted("qr")
	m.AttemptCompleted("qr", "QR_CODE", time.Second)
	m.SessionReset("qr")
	m.Precondition("qr")
	m.MatchFailed("qr")
	m.CameraError()
	m.SessionOpened()
	m.SessionClosed()
}
