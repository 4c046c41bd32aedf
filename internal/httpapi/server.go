// Package httpapi exposes the orchestration layer over HTTP and WebSocket.
//
// Routes:
//
//	POST   /v1/chat                      one coordination cycle
//	GET    /v1/chat/ws                   WebSocket chat, JSON frames
//	GET    /v1/workouts                  recent workouts
//	GET    /v1/workouts/{id}             single workout
//	DELETE /v1/workouts/{id}             delete a workout
//	PATCH  /v1/workouts/{id}/complete    mark a workout completed
//	GET    /v1/stats                     aggregate workout statistics
//	GET    /healthz, /readyz, /metrics   probes and Prometheus scrape
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roamfit/roamfit/internal/coordinator"
	"github.com/roamfit/roamfit/internal/health"
	"github.com/roamfit/roamfit/internal/observe"
	"github.com/roamfit/roamfit/internal/store"
	"github.com/roamfit/roamfit/pkg/types"
)

// defaultWorkoutLimit caps GET /v1/workouts when no limit is given.
const defaultWorkoutLimit = 20

// ChatRunner runs one coordination cycle. Implemented by
// [coordinator.Coordinator]; tests substitute deterministic runners.
type ChatRunner interface {
	Run(ctx context.Context, req *coordinator.Request) *coordinator.AggregatedResponse
}

// Sessions is the session tracking the chat endpoints depend on.
type Sessions interface {
	Acquire(id string) (sessionID string, history []types.Message)
	Append(id string, userMessage, assistantReply string)
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	runner   ChatRunner
	sessions Sessions
	store    store.Store // nil disables the workout endpoints
	health   *health.Handler
	metrics  *observe.Metrics
	log      *slog.Logger
}

// New creates a server. st may be nil, in which case the workout endpoints
// answer 503.
func New(runner ChatRunner, sessions Sessions, st store.Store, h *health.Handler, m *observe.Metrics) *Server {
	return &Server{
		runner:   runner,
		sessions: sessions,
		store:    st,
		health:   h,
		metrics:  m,
		log:      slog.With("component", "httpapi"),
	}
}

// Routes returns the full handler with observability middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/chat/ws", s.handleChatWS)
	mux.HandleFunc("GET /v1/workouts", s.handleListWorkouts)
	mux.HandleFunc("GET /v1/workouts/{id}", s.handleGetWorkout)
	mux.HandleFunc("DELETE /v1/workouts/{id}", s.handleDeleteWorkout)
	mux.HandleFunc("PATCH /v1/workouts/{id}/complete", s.handleCompleteWorkout)
	mux.HandleFunc("GET /v1/stats", s.handleStats)

	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	if s.metrics != nil {
		return observe.Middleware(s.metrics)(mux)
	}
	return mux
}

// chatRequest is the JSON body of POST /v1/chat and of WebSocket frames.
type chatRequest struct {
	Message     string `json:"message"`
	ImageBase64 string `json:"image_base64,omitempty"`
	Location    string `json:"location,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

// chatResponse mirrors [coordinator.AggregatedResponse] plus the session id.
type chatResponse struct {
	Response    string                   `json:"response"`
	Plan        *types.WorkoutPlan       `json:"plan,omitempty"`
	WorkoutID   int64                    `json:"workout_id,omitempty"`
	SessionID   string                   `json:"session_id"`
	Invocations []coordinator.Invocation `json:"invocations"`
	Partial     bool                     `json:"partial,omitempty"`
	ErrorKind   string                   `json:"error_kind,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resp, status := s.runChat(r.Context(), &req)
	writeJSON(w, status, resp)
}

// runChat validates the request, runs one cycle, and records the turn on the
// session. Shared between the POST and WebSocket paths.
func (s *Server) runChat(ctx context.Context, req *chatRequest) (*chatResponse, int) {
	if strings.TrimSpace(req.Message) == "" {
		return &chatResponse{Response: "message must not be empty", ErrorKind: "bad_request"},
			http.StatusBadRequest
	}

	var images [][]byte
	if req.ImageBase64 != "" {
		img, err := decodeImage(req.ImageBase64)
		if err != nil {
			return &chatResponse{Response: "image_base64 is not valid base64", ErrorKind: "bad_request"},
				http.StatusBadRequest
		}
		images = [][]byte{img}
	}

	sessionID, history := s.sessions.Acquire(req.SessionID)

	start := time.Now()
	result := s.runner.Run(ctx, &coordinator.Request{
		Message:  req.Message,
		Images:   images,
		Location: req.Location,
		History:  history,
	})

	s.sessions.Append(sessionID, req.Message, result.Text)
	if s.metrics != nil {
		s.metrics.RecordCycle(ctx, cycleStatus(result), time.Since(start).Seconds())
	}

	return &chatResponse{
		Response:    result.Text,
		Plan:        result.Plan,
		WorkoutID:   result.WorkoutID,
		SessionID:   sessionID,
		Invocations: result.Invocations,
		Partial:     result.Partial,
		ErrorKind:   result.ErrorKind,
	}, http.StatusOK
}

func cycleStatus(resp *coordinator.AggregatedResponse) string {
	switch {
	case resp.State == coordinator.StateFailed:
		return "failed"
	case resp.Partial:
		return "partial"
	default:
		return "finalized"
	}
}

// ── workout management ──

func (s *Server) handleListWorkouts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	limit := defaultWorkoutLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	workouts, err := s.store.RecentWorkouts(r.Context(), limit)
	if err != nil {
		s.log.Error("list workouts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list workouts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workouts": workouts})
}

func (s *Server) handleGetWorkout(w http.ResponseWriter, r *http.Request) {
	id, ok := s.workoutID(w, r)
	if !ok {
		return
	}
	workout, err := s.store.GetWorkout(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "get workout")
		return
	}
	writeJSON(w, http.StatusOK, workout)
}

func (s *Server) handleDeleteWorkout(w http.ResponseWriter, r *http.Request) {
	id, ok := s.workoutID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteWorkout(r.Context(), id); err != nil {
		s.storeError(w, err, "delete workout")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompleteWorkout(w http.ResponseWriter, r *http.Request) {
	id, ok := s.workoutID(w, r)
	if !ok {
		return
	}
	if err := s.store.MarkCompleted(r.Context(), id); err != nil {
		s.storeError(w, err, "complete workout")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.log.Error("stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ── helpers ──

// workoutID parses the {id} path value; on failure it writes the error
// response and returns ok=false.
func (s *Server) workoutID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return 0, false
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) storeError(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "workout not found")
		return
	}
	s.log.Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, "store operation failed")
}

// decodeImage strips an optional data-URI prefix and decodes the payload.
func decodeImage(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:image") {
		_, after, found := strings.Cut(raw, ",")
		if !found {
			return nil, errors.New("malformed data URI")
		}
		raw = after
	}
	return base64.StdEncoding.DecodeString(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
