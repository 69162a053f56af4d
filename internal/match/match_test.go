package match

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"checkin/internal/faceclient"
	"checkin/internal/scan"
)

func TestDemoIdentities(t *testing.T) {
	cases := map[string]string{
		scan.FlowQR:              "STU001",
		scan.FlowFace:            "STU002",
		scan.FlowFaceRecognition: "STU003",
	}
	m := Demo()
	for flow, want := range cases {
		id, err := m.Match(context.Background(), scan.MatchRequest{Flow: flow})
		if err != nil {
			t.Fatalf("flow %s: %v", flow, err)
		}
		if id.SubjectID != want {
			t.Fatalf("flow %s: expected %s, got %s", flow, want, id.SubjectID)
		}
		if id.Confidence != nil {
			t.Fatalf("flow %s: expected fixed identity to leave confidence to the flow", flow)
		}
	}
	if _, err := m.Match(context.Background(), scan.MatchRequest{Flow: "nfc"}); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
}

func TestFaceServicePicksBestMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"matches":[
			{"user_id":"STU004","similarity":0.61,"name":"David Wilson","code":"CS21004"},
			{"user_id":"STU005","similarity":0.93,"name":"Emma Brown","code":"CS21005"}
		],"faces_detected":1}`))
	}))
	defer srv.Close()

	m := FaceService{Client: faceclient.New(srv.URL, false), TopK: 2}
	id, err := m.Match(context.Background(), scan.MatchRequest{ImageURL: "https://cdn.example/f.jpg"})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if id.SubjectID != "STU005" || id.SubjectCode != "CS21005" {
		t.Fatalf("expected STU005, got %+v", id)
	}
	if id.Confidence == nil || math.Abs(*id.Confidence-93) > 1e-9 {
		t.Fatalf("expected confidence 93, got %v", id.Confidence)
	}
}

func TestFaceServiceNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"matches":[],"faces_detected":0}`))
	}))
	defer srv.Close()

	m := FaceService{Client: faceclient.New(srv.URL, false)}
	if _, err := m.Match(context.Background(), scan.MatchRequest{ImageURL: "x"}); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
}

func TestByMethodRoutes(t *testing.T) {
	face := scan.MatcherFunc(func(context.Context, scan.MatchRequest) (scan.Identity, error) {
		return scan.Identity{SubjectID: "face"}, nil
	})
	m := ByMethod{
		scan.MethodQRCode:          Demo(),
		scan.MethodFaceRecognition: face,
	}
	id, err := m.Match(context.Background(), scan.MatchRequest{Flow: scan.FlowQR, Method: scan.MethodQRCode})
	if err != nil || id.SubjectID != "STU001" {
		t.Fatalf("expected qr routed to fixed identity, got %+v (%v)", id, err)
	}
	id, err = m.Match(context.Background(), scan.MatchRequest{Method: scan.MethodFaceRecognition})
	if err != nil || id.SubjectID != "face" {
		t.Fatalf("expected face routed, got %+v (%v)", id, err)
	}
	if _, err := (ByMethod{}).Match(context.Background(), scan.MatchRequest{Method: scan.MethodQRCode}); err == nil {
		t.Fatalf("expected missing route to error")
	}
}

func TestFaceServiceVerifiesClaimedSubject(t *testing.T) {
	var gotPath, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotUser = body["user_id"]
		_, _ = w.Write([]byte(`{"user_id":"STU002","verified":true,"similarity":0.9,"threshold":0.45,"name":"Jane Smith","code":"CS21008"}`))
	}))
	defer srv.Close()

	m := FaceService{Client: faceclient.New(srv.URL, false)}
	id, err := m.Match(context.Background(), scan.MatchRequest{ImageURL: "frame.jpg", ClaimedID: "STU002"})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if gotPath != "/verify" || gotUser != "STU002" {
		t.Fatalf("expected /verify for STU002, got %s %q", gotPath, gotUser)
	}
	if id.SubjectName != "Jane Smith" || id.SubjectCode != "CS21008" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if id.Confidence == nil || math.Abs(*id.Confidence-90) > 1e-9 {
		t.Fatalf("expected confidence 90, got %v", id.Confidence)
	}
}

func TestFaceServiceRejectsUnverifiedClaim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"user_id":"STU002","verified":false,"similarity":0.2,"threshold":0.45}`))
	}))
	defer srv.Close()

	m := FaceService{Client: faceclient.New(srv.URL, false)}
	_, err := m.Match(context.Background(), scan.MatchRequest{ImageURL: "frame.jpg", ClaimedID: "STU002"})
	if !errors.Is(err, ErrNotVerified) {
		t.Fatalf("expected ErrNotVerified, got %v", err)
	}
}
