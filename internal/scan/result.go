package scan

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Identity is the subject a matcher resolved an attempt to.
type Identity struct {
	SubjectID   string
	SubjectName string
	SubjectCode string
	// Confidence overrides the flow's final confidence when set.
	Confidence *float64
}

// MatchRequest describes a finished attempt awaiting identification.
type MatchRequest struct {
	SessionID string
	Flow      string
	Method    Method
	StreamID  string
	// ImageURL points at a captured frame, when the caller supplied one.
	ImageURL string
	// ClaimedID is the subject the caller claims to be, if any.
	ClaimedID string
}

// Matcher resolves a finished attempt to an identity. This is where a real
// QR decoder or face embedding comparison plugs in.
type Matcher interface {
	Match(ctx context.Context, req MatchRequest) (Identity, error)
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(ctx context.Context, req MatchRequest) (Identity, error)

func (f MatcherFunc) Match(ctx context.Context, req MatchRequest) (Identity, error) {
	return f(ctx, req)
}

// Result is the immutable record of a completed attempt.
type Result struct {
	ID          string        `json:"id"`
	Flow        string        `json:"flow"`
	SubjectID   string        `json:"subject_id"`
	SubjectName string        `json:"subject_name"`
	SubjectCode string        `json:"subject_code"`
	Timestamp   time.Time     `json:"timestamp"`
	Method      Method        `json:"method"`
	Confidence  *float64      `json:"confidence,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Synthesize builds the result for flow f. QR results never carry a
// confidence; face results always do.
func Synthesize(f Flow, id Identity, at time.Time, elapsed time.Duration) Result {
	res := Result{
		ID:          uuid.NewString(),
		Flow:        f.Name,
		SubjectID:   id.SubjectID,
		SubjectName: id.SubjectName,
		SubjectCode: id.SubjectCode,
		Timestamp:   at,
		Method:      f.Method,
		Elapsed:     elapsed,
	}
	if f.Method == MethodFaceRecognition {
		c := f.FinalConfidence
		if id.Confidence != nil {
			c = *id.Confidence
		}
		c = clampPercent(c)
		res.Confidence = &c
	}
	return res
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
