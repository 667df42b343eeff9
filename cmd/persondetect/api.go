package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/auth"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/database"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/pipeline"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 1000
)

type statsSource interface {
	Stats() pipeline.Stats
}

type alertLister interface {
	ListAlerts(ctx context.Context, since *time.Time, limit int) ([]*database.AlertRecord, error)
}

type api struct {
	stats   statsSource
	journal alertLister
	auth    *auth.Authenticator
	logger  *slog.Logger
}

func newAPI(stats statsSource, db *database.Database, authenticator *auth.Authenticator, logger *slog.Logger) *api {
	a := &api{stats: stats, auth: authenticator, logger: logger.With("component", "api")}
	if db != nil {
		a.journal = db
	}
	return a
}

type alertView struct {
	ID          string               `json:"id"`
	RunID       string               `json:"run_id"`
	FrameID     uint64               `json:"frame_id"`
	FiredAt     time.Time            `json:"fired_at"`
	Persons     int                  `json:"persons"`
	TopScore    float64              `json:"top_score"`
	Boxes       []database.BoxRecord `json:"boxes"`
	InferenceMs float64              `json:"inference_ms"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (a *api) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.stats.Stats())
}

// handleAlerts lists journaled alerts, newest first. Query: limit (1-1000),
// since (RFC 3339).
func (a *api) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, http.StatusNotFound, "alert journal disabled")
		return
	}

	limit := defaultAlertLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxAlertLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	var since *time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = &t
	}

	records, err := a.journal.ListAlerts(r.Context(), since, limit)
	if err != nil {
		a.logger.Error("failed to list alerts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}

	out := make([]alertView, 0, len(records))
	for _, rec := range records {
		boxes := rec.Boxes
		if boxes == nil {
			boxes = []database.BoxRecord{}
		}
		out = append(out, alertView{
			ID:          rec.ID,
			RunID:       rec.RunID,
			FrameID:     rec.FrameID,
			FiredAt:     rec.FiredAt,
			Persons:     rec.Persons,
			TopScore:    rec.TopScore,
			Boxes:       boxes,
			InferenceMs: rec.InferenceMs,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, expiresAt, err := a.auth.Authenticate(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrAuthDisabled):
		writeError(w, http.StatusBadRequest, "authentication is disabled")
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		a.logger.Warn("failed login", "username", req.Username)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	case err != nil:
		a.logger.Error("failed to issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
