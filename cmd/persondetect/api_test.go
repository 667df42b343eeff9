package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/auth"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/database"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/health"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/pipeline"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/stream"
)

type fixedStats pipeline.Stats

func (f fixedStats) Stats() pipeline.Stats { return pipeline.Stats(f) }

type fakeLister struct {
	gotLimit int
	gotSince *time.Time
	records  []*database.AlertRecord
}

func (f *fakeLister) ListAlerts(_ context.Context, since *time.Time, limit int) ([]*database.AlertRecord, error) {
	f.gotLimit, f.gotSince = limit, since
	return f.records, nil
}

func testServer(t *testing.T, authEnabled bool, lister alertLister) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authn, err := auth.NewAuthenticator(auth.Config{Enabled: authEnabled, Password: "pw", JWTSecret: "test"})
	if err != nil {
		t.Fatal(err)
	}
	a := &api{
		stats:   fixedStats{RunID: "run-1", FramesProcessed: 9, Inferences: 3},
		journal: lister,
		auth:    authn,
		logger:  logger,
	}
	rt := routes{
		health: health.New(),
		stream: stream.NewServer(stream.NewSnapshotBuffer(), nil, logger),
		api:    a,
		auth:   authn,
	}
	srv := httptest.NewServer(rt.handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func login(t *testing.T, base, user, pass string) *http.Response {
	t.Helper()
	body := `{"username":"` + user + `","password":"` + pass + `"}`
	resp, err := http.Post(base+"/api/auth/login", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAuthProtectsAPIButNotHealth(t *testing.T) {
	srv := testServer(t, true, nil)

	if resp := get(t, srv.URL+"/healthz", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz = %d", resp.StatusCode)
	}
	for _, path := range []string{"/api/stats", "/snapshot.jpg", "/api/alerts"} {
		if resp := get(t, srv.URL+path, ""); resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s without token = %d, want 401", path, resp.StatusCode)
		}
	}

	if resp := login(t, srv.URL, "admin", "nope"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad login = %d", resp.StatusCode)
	}
	resp := login(t, srv.URL, "admin", "pw")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login = %d", resp.StatusCode)
	}
	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil || lr.Token == "" {
		t.Fatalf("login body: %+v %v", lr, err)
	}

	stats := get(t, srv.URL+"/api/stats", lr.Token)
	if stats.StatusCode != http.StatusOK {
		t.Fatalf("/api/stats with token = %d", stats.StatusCode)
	}
	var st pipeline.Stats
	if err := json.NewDecoder(stats.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.RunID != "run-1" || st.FramesProcessed != 9 {
		t.Errorf("stats = %+v", st)
	}

	// query-string token, no frame captured yet
	if resp := get(t, srv.URL+"/snapshot.jpg?token="+lr.Token, ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/snapshot.jpg = %d, want 503", resp.StatusCode)
	}
}

func TestLoginWhenAuthDisabled(t *testing.T) {
	srv := testServer(t, false, nil)
	if resp := login(t, srv.URL, "admin", "pw"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("login = %d, want 400", resp.StatusCode)
	}
	if resp := get(t, srv.URL+"/api/stats", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("/api/stats = %d with auth disabled", resp.StatusCode)
	}
}

func TestAlertsEndpoint(t *testing.T) {
	fired := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{records: []*database.AlertRecord{
		{ID: "a1", RunID: "run-1", FrameID: 42, FiredAt: fired, Persons: 1, TopScore: 0.8},
	}}
	srv := testServer(t, false, lister)

	resp := get(t, srv.URL+"/api/alerts?limit=5&since=2026-03-01T00:00:00Z", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got []alertView
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].FrameID != 42 || got[0].Boxes == nil {
		t.Errorf("alerts = %+v", got)
	}
	if lister.gotLimit != 5 || lister.gotSince == nil {
		t.Errorf("lister called with limit=%d since=%v", lister.gotLimit, lister.gotSince)
	}

	for _, q := range []string{"limit=0", "limit=abc", "limit=5000", "since=yesterday"} {
		if resp := get(t, srv.URL+"/api/alerts?"+q, ""); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("?%s = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestAlertsJournalDisabled(t *testing.T) {
	srv := testServer(t, false, nil)
	if resp := get(t, srv.URL+"/api/alerts", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
