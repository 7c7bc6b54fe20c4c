// Package api exposes the trigger surfaces and the read-side run API
// over HTTP.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/han0110/zkevm-chain/internal/domain"
	"github.com/han0110/zkevm-chain/internal/transport/channel"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Emitter forwards accepted trigger events to the orchestrator.
type Emitter interface {
	Emit(ctx context.Context, event domain.TriggerEvent) error
}

type Store interface {
	InsertEvent(ctx context.Context, event domain.TriggerEvent) error
	GetRun(ctx context.Context, runID uuid.UUID) (domain.PipelineRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]domain.PipelineRun, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	emitter       Emitter
	webhookSecret string
	store         Store         // optional, nil = run history disabled
	db            HealthChecker // optional, nil = plain health only
	clock         func() time.Time
}

func NewHandler(emitter Emitter, webhookSecret string) *Handler {
	return &Handler{
		emitter:       emitter,
		webhookSecret: webhookSecret,
		clock:         time.Now,
	}
}

// WithStore enables event persistence and the run history endpoints.
func (h *Handler) WithStore(store Store) *Handler {
	h.store = store
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithClock overrides the time source. Used in tests.
func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/trigger" && r.Method == http.MethodPost:
		h.trigger(w, r)

	case path == "/webhook" && r.Method == http.MethodPost:
		h.webhook(w, r)

	case path == "/runs" && r.Method == http.MethodGet:
		h.listRuns(w, r)

	case strings.HasPrefix(path, "/runs/") && r.Method == http.MethodGet:
		h.getRun(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateTrigger(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	event := domain.TriggerEvent{
		ID:         uuid.New(),
		Kind:       domain.EventKindManual,
		Ref:        req.Ref,
		ReceivedAt: h.clock().UTC(),
	}

	h.accept(w, r, event)
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !VerifySignature(h.webhookSecret, body, r.Header.Get(SignatureHeader)) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	if event := r.Header.Get(EventHeader); event != "" && event != "pull_request" {
		// Not a pull request event; acknowledge and ignore.
		writeJSON(w, http.StatusOK, EventResponse{Status: "ignored"})
		return
	}

	var payload pullRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validateWebhook(payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	labels := make([]string, len(payload.PullRequest.Labels))
	for i, l := range payload.PullRequest.Labels {
		labels[i] = l.Name
	}

	event := domain.TriggerEvent{
		ID:         uuid.New(),
		Kind:       domain.EventKindPullRequest,
		Action:     domain.PullRequestAction(payload.Action),
		Labels:     labels,
		PRNumber:   payload.PullRequest.Number,
		Ref:        payload.PullRequest.Head.Ref,
		ReceivedAt: h.clock().UTC(),
	}

	h.accept(w, r, event)
}

// accept persists and emits an event. Emission failure is the caller's
// problem (retry); persistence failure is not.
func (h *Handler) accept(w http.ResponseWriter, r *http.Request, event domain.TriggerEvent) {
	if h.store != nil {
		if err := h.store.InsertEvent(r.Context(), event); err != nil {
			log.Printf("api: event=%s failed to persist: %v", event.ID, err)
		}
	}

	if err := h.emitter.Emit(r.Context(), event); err != nil {
		log.Printf("api: event=%s emit error: %v", event.ID, err)
		if errors.Is(err, channel.ErrBufferFull) {
			writeError(w, http.StatusServiceUnavailable, "event buffer full, retry later")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to accept event")
		return
	}

	writeJSON(w, http.StatusAccepted, EventResponse{
		EventID: event.ID.String(),
		Status:  "accepted",
	})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run history disabled")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		log.Printf("api: list runs error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := ListRunsResponse{Runs: make([]RunResponse, len(runs))}
	for i, run := range runs {
		resp.Runs[i] = toRunResponse(run)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run history disabled")
		return
	}

	// Extract run ID from path: /runs/{id}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "runs" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	runID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		if err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		log.Printf("api: get run error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(run))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
