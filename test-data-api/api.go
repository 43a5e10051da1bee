package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JezSurfaceIT/secdevops-cicd-pipeline/internal/dbstate"
	"github.com/JezSurfaceIT/secdevops-cicd-pipeline/internal/platform/httpserver"
)

type pinger interface {
	PingContext(ctx context.Context) error
}

type stateAPI struct {
	logger      *slog.Logger
	db          pinger
	engine      *dbstate.Engine
	detector    *dbstate.Detector
	backups     *dbstate.BackupManager
	pingTimeout time.Duration
	now         func() time.Time
}

func newStateAPI(logger *slog.Logger, db pinger, engine *dbstate.Engine, detector *dbstate.Detector, backups *dbstate.BackupManager, pingTimeout time.Duration) *stateAPI {
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	return &stateAPI{
		logger:      logger,
		db:          db,
		engine:      engine,
		detector:    detector,
		backups:     backups,
		pingTimeout: pingTimeout,
		now:         time.Now,
	}
}

func (api *stateAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", api.handleHealth)
	mux.HandleFunc("GET /api/test/db-state", api.handleGetState)
	mux.HandleFunc("POST /api/test/db-state", api.handleSetState)
	mux.HandleFunc("POST /api/test/db-reset", api.handleReset)
	mux.HandleFunc("POST /api/test/db-backup", api.handleBackup)
}

func (api *stateAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	database := "connected"
	pingCtx, cancel := context.WithTimeout(r.Context(), api.pingTimeout)
	defer cancel()
	if err := api.db.PingContext(pingCtx); err != nil {
		api.logger.Warn("database ping failed", "error", err)
		database = "disconnected"
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"database":  database,
		"timestamp": formatTime(api.now()),
	})
}

type stateResponse struct {
	CurrentState       string                 `json:"current_state"`
	AvailableStates    []string               `json:"available_states"`
	StateDescriptions  map[string]string      `json:"state_descriptions"`
	LastChange         *string                `json:"last_change"`
	TrackedState       string                 `json:"tracked_state"`
	TransitionInFlight bool                   `json:"transition_in_flight"`
	Refreshed          *bool                  `json:"refreshed,omitempty"`
	Introspection      *dbstate.Introspection `json:"introspection,omitempty"`
}

func (api *stateAPI) handleGetState(w http.ResponseWriter, r *http.Request) {
	var (
		observed  dbstate.Observed
		details   dbstate.Introspection
		refreshed *bool
	)
	switch {
	case queryBool(r, "refresh"):
		o, persisted := api.engine.Refresh(r.Context())
		observed = o
		refreshed = &persisted
	default:
		observed, details = api.detector.DetectWithDetails(r.Context())
	}

	snap := api.engine.State()
	catalog := api.engine.Catalog()
	resp := stateResponse{
		CurrentState:       observed.Name(),
		AvailableStates:    catalog.Available(),
		StateDescriptions:  catalog.Descriptions(),
		TrackedState:       snap.Current.Name(),
		TransitionInFlight: snap.TransitionInFlight,
		Refreshed:          refreshed,
	}
	if !snap.LastChange.IsZero() {
		ts := formatTime(snap.LastChange)
		resp.LastChange = &ts
	}
	if queryBool(r, "details") && refreshed == nil {
		resp.Introspection = &details
	}
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

type setStateRequest struct {
	State string `json:"state"`
}

func (api *stateAPI) handleSetState(w http.ResponseWriter, r *http.Request) {
	var req setStateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		api.writeError(w, r, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	target := strings.TrimSpace(req.State)
	if target == "" {
		api.writeError(w, r, http.StatusBadRequest, "Missing state parameter")
		return
	}

	res, err := api.engine.Transition(r.Context(), target)
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"status":           "success",
		"new_state":        string(res.State.Name),
		"duration_seconds": res.Duration.Seconds(),
		"timestamp":        formatTime(res.At),
	})
}

func (api *stateAPI) handleReset(w http.ResponseWriter, r *http.Request) {
	res, err := api.engine.Reset(r.Context())
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"status":           "success",
		"state":            string(res.State.Name),
		"duration_seconds": res.Duration.Seconds(),
		"timestamp":        formatTime(res.At),
	})
}

func (api *stateAPI) handleBackup(w http.ResponseWriter, r *http.Request) {
	art, err := api.backups.Backup(r.Context())
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}
	body := map[string]any{
		"status":       "success",
		"backup_file":  art.Path,
		"timestamp":    formatTime(art.CreatedAt),
		"source_state": art.SourceState.Name(),
	}
	if art.ObjectKey != "" {
		body["object_key"] = art.ObjectKey
	}
	httpserver.WriteJSON(w, http.StatusOK, body)
}

func statusForError(err error) int {
	switch dbstate.KindOf(err) {
	case dbstate.KindValidation, dbstate.KindPrecondition:
		return http.StatusBadRequest
	case dbstate.KindDatabaseUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure maps core errors to responses. Only the caller-safe message is
// returned; the cause is logged.
func (api *stateAPI) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	msg := dbstate.Message(err)
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	if status < 500 {
		api.writeError(w, r, status, msg)
		return
	}

	api.logger.Error("request failed", "request_id", requestID, "path", r.URL.Path, "kind", dbstate.KindOf(err), "error", err)
	body := map[string]any{
		"status":     "failed",
		"error":      msg,
		"request_id": requestID,
	}
	if kind := dbstate.KindOf(err); kind == dbstate.KindTransition || kind == dbstate.KindConfiguration {
		// The script may not have been transaction-safe; report what is there now.
		body["current_state"] = api.detector.Detect(r.Context()).Name()
	}
	httpserver.WriteJSON(w, status, body)
}

func (api *stateAPI) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	httpserver.WriteJSON(w, status, map[string]any{
		"error":      msg,
		"request_id": requestID,
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func queryBool(r *http.Request, key string) bool {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
