// Package match holds the Matcher implementations that turn a finished
// check-in attempt into an identity.
package match

import (
	"context"
	"errors"
	"fmt"

	"checkin/internal/faceclient"
	"checkin/internal/scan"
)

// ErrNoMatch is returned when no enrolled subject matches the captured image.
var ErrNoMatch = errors.New("no matching subject")

// Fixed answers every attempt of a flow with a pre-declared identity. It
// performs no analysis of camera input.
type Fixed map[string]scan.Identity

// Demo returns the identities bound to the built-in flows.
func Demo() Fixed {
	return Fixed{
		scan.FlowQR:              {SubjectID: "STU001", SubjectName: "John Doe", SubjectCode: "CS21007"},
		scan.FlowFace:            {SubjectID: "STU002", SubjectName: "Jane Smith", SubjectCode: "CS21008"},
		scan.FlowFaceRecognition: {SubjectID: "STU003", SubjectName: "Alex Johnson", SubjectCode: "CS21009"},
	}
}

func (f Fixed) Match(_ context.Context, req scan.MatchRequest) (scan.Identity, error) {
	id, ok := f[req.Flow]
	if !ok {
		return scan.Identity{}, fmt.Errorf("%w: no fixed identity for flow %s", ErrNoMatch, req.Flow)
	}
	return id, nil
}

// ErrNotVerified is returned when a claimed subject does not match the face.
var ErrNotVerified = errors.New("face does not match claimed subject")

// FaceService identifies faces through the recognition microservice. A
// request carrying a claimed subject is verified 1:1; otherwise the gallery
// is searched.
type FaceService struct {
	Client    *faceclient.Client
	TopK      int
	Threshold float64
}

func (m FaceService) Match(ctx context.Context, req scan.MatchRequest) (scan.Identity, error) {
	if m.Client == nil {
		return scan.Identity{}, errors.New("face client not configured")
	}
	if req.ClaimedID != "" {
		return m.verify(ctx, req)
	}
	topK := m.TopK
	if topK <= 0 {
		topK = 1
	}
	res, err := m.Client.Search(ctx, req.ImageURL, topK, m.Threshold)
	if err != nil {
		return scan.Identity{}, fmt.Errorf("face search: %w", err)
	}
	if len(res.Matches) == 0 {
		return scan.Identity{}, ErrNoMatch
	}
	best := res.Matches[0]
	for _, cand := range res.Matches[1:] {
		if cand.Similarity > best.Similarity {
			best = cand
		}
	}
	conf := best.Similarity * 100
	return scan.Identity{
		SubjectID:   best.UserID,
		SubjectName: best.Name,
		SubjectCode: best.Code,
		Confidence:  &conf,
	}, nil
}

func (m FaceService) verify(ctx context.Context, req scan.MatchRequest) (scan.Identity, error) {
	res, err := m.Client.Verify(ctx, req.ClaimedID, req.ImageURL)
	if err != nil {
		return scan.Identity{}, fmt.Errorf("face verify: %w", err)
	}
	if !res.Verified {
		return scan.Identity{}, fmt.Errorf("%w: %s (similarity %.2f)", ErrNotVerified, req.ClaimedID, res.Similarity)
	}
	name := res.Name
	if name == "" {
		name = res.UserID
	}
	conf := res.Similarity * 100
	return scan.Identity{
		SubjectID:   res.UserID,
		SubjectName: name,
		SubjectCode: res.Code,
		Confidence:  &conf,
	}, nil
}

// ByMethod routes requests to a matcher per identification method.
type ByMethod map[scan.Method]scan.Matcher

func (b ByMethod) Match(ctx context.Context, req scan.MatchRequest) (scan.Identity, error) {
	m, ok := b[req.Method]
	if !ok {
		return scan.Identity{}, fmt.Errorf("no matcher for method %s", req.Method)
	}
	return m.Match(ctx, req)
}
