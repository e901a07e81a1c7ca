// ABOUTME: HTTP API for submitting, inspecting and cancelling jobs and for agent oversight
// ABOUTME: chi router with public health/metrics and JWT-guarded /api routes

package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/coven-conclave/internal/auth"
	"github.com/2389/coven-conclave/internal/jobs"
)

// SubmitJobRequest is the JSON request body for POST /api/jobs.
type SubmitJobRequest struct {
	UserID      string `json:"user_id"`
	ChatID      string `json:"chat_id,omitempty"`
	TriggerText string `json:"trigger_text"`
	TriggerID   string `json:"trigger_id,omitempty"`
	Letters     string `json:"letters"`
}

// StepResponse is one resolved step of a job.
type StepResponse struct {
	AgentID      string `json:"agent_id,omitempty"`
	AgentName    string `json:"agent_name,omitempty"`
	AbilityKey   string `json:"ability_key"`
	AbilityLabel string `json:"ability_label,omitempty"`
	Value        int    `json:"value"`
	Critical     bool   `json:"critical"`
	Status       string `json:"status"`
	At           string `json:"at"`
}

// JobResponse is the JSON response for job endpoints.
type JobResponse struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	ChatID     string         `json:"chat_id,omitempty"`
	Letters    string         `json:"letters"`
	CreatedAt  string         `json:"created_at"`
	MessageID  string         `json:"message_id,omitempty"`
	Expected   int            `json:"expected"`
	Completed  int            `json:"completed"`
	TotalValue int            `json:"total_value"`
	Pending    []string       `json:"pending"`
	Steps      []StepResponse `json:"steps"`
}

// AgentResponse is the JSON response for GET /api/agents.
type AgentResponse struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Role           string   `json:"role"`
	State          string   `json:"state"`
	OwnerID        string   `json:"owner_id,omitempty"`
	Resource       int      `json:"resource"`
	Virtual        int      `json:"virtual"`
	Capabilities   []string `json:"capabilities"`
	Temporary      string   `json:"temporary,omitempty"`
	TemporaryUntil string   `json:"temporary_until,omitempty"`
	Attempts       int      `json:"attempts"`
	Successes      int      `json:"successes"`
	Observer       bool     `json:"observer,omitempty"`
}

// ResourceRequest is the JSON request body for POST /api/agents/{agentID}/resource.
// Exactly one of Value and Virtual should be set.
type ResourceRequest struct {
	Value   *int `json:"value,omitempty"`
	Virtual *int `json:"virtual,omitempty"`
}

// EnabledRequest is the JSON request body for POST /api/agents/{agentID}/enabled.
type EnabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (e *Engine) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", e.handleHealth)
	r.Get("/ready", e.handleReady)
	if e.cfg.Metrics.Enabled {
		r.Handle(e.cfg.Metrics.Path, e.metrics.Handler())
	}

	if e.verifier == nil {
		return r
	}
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.HTTPAuthMiddleware(e.verifier))

		r.Post("/jobs", e.handleSubmitJob)
		r.Get("/jobs/{userID}", e.handleGetJob)
		r.Delete("/jobs/{userID}", e.handleCancelJob)
		r.Get("/outcomes/{userID}", e.handleListOutcomes)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireOperatorHTTP())
			r.Get("/agents", e.handleListAgents)
			r.Post("/agents/{agentID}/resource", e.handleSetResource)
			r.Post("/agents/{agentID}/enabled", e.handleSetEnabled)
			r.Get("/outcomes", e.handleListOutcomes)
		})
	})
	return r
}

// handleSubmitJob handles POST /api/jobs. A missing user_id defaults to the
// token subject; only operators may submit for someone else.
func (e *Engine) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		if claims, ok := auth.FromContext(r.Context()); ok {
			req.UserID = claims.Subject
		}
	}
	if req.UserID == "" || req.TriggerText == "" {
		writeJSONError(w, http.StatusBadRequest, "user_id and trigger_text are required")
		return
	}
	if !auth.CanActFor(r.Context(), req.UserID) {
		writeJSONError(w, http.StatusForbidden, "cannot submit for another user")
		return
	}

	job, err := e.Submit(r.Context(), Request{
		UserID:      req.UserID,
		ChatID:      req.ChatID,
		TriggerText: req.TriggerText,
		TriggerID:   req.TriggerID,
		Letters:     req.Letters,
	})
	switch {
	case errors.Is(err, ErrNoLetters):
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, jobs.ErrJobActive):
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status, ok := e.Status(job.UserID)
	if !ok {
		// finished before we looked
		writeJSON(w, http.StatusCreated, JobResponse{
			ID: job.ID, UserID: job.UserID, ChatID: job.ChatID, Letters: job.Letters,
			CreatedAt: job.CreatedAt.Format(time.RFC3339), Pending: []string{}, Steps: []StepResponse{},
		})
		return
	}
	writeJSON(w, http.StatusCreated, jobResponse(status))
}

// handleGetJob handles GET /api/jobs/{userID}.
func (e *Engine) handleGetJob(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !auth.CanActFor(r.Context(), userID) {
		writeJSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	status, ok := e.Status(userID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no active job")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(status))
}

// handleCancelJob handles DELETE /api/jobs/{userID}.
func (e *Engine) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !auth.CanActFor(r.Context(), userID) {
		writeJSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	if !e.Cancel(userID) {
		writeJSONError(w, http.StatusNotFound, "no active job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListOutcomes handles GET /api/outcomes and GET /api/outcomes/{userID}.
// Supports an optional ?limit=N query parameter.
func (e *Engine) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID != "" && !auth.CanActFor(r.Context(), userID) {
		writeJSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := e.ledger.ListOutcomes(r.Context(), userID, limit)
	if err != nil {
		e.logger.Error("listing outcomes failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list outcomes")
		return
	}
	steps := make([]StepResponse, 0, len(records))
	for _, rec := range records {
		steps = append(steps, StepResponse{
			AgentID:      rec.AgentID,
			AgentName:    rec.AgentName,
			AbilityKey:   rec.AbilityKey,
			AbilityLabel: rec.AbilityLabel,
			Value:        rec.Value,
			Critical:     rec.Critical,
			Status:       rec.Status,
			At:           rec.At.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, steps)
}

// handleListAgents handles GET /api/agents.
func (e *Engine) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := e.registry.All()
	response := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		res, virtual := a.Resource()
		attempts, successes := a.Counters()
		item := AgentResponse{
			ID:           a.ID,
			Name:         a.Name,
			Role:         string(a.Role),
			State:        agentState(a),
			OwnerID:      a.OwnerID(),
			Resource:     res,
			Virtual:      virtual,
			Capabilities: a.Capabilities(),
			Attempts:     attempts,
			Successes:    successes,
			Observer:     a.IsObserver(),
		}
		if grant, ok := a.TemporaryCapability(); ok {
			item.Temporary = grant.Key
			item.TemporaryUntil = grant.ExpiresAt.Format(time.RFC3339)
		}
		response = append(response, item)
	}
	writeJSON(w, http.StatusOK, response)
}

// handleSetResource handles POST /api/agents/{agentID}/resource.
func (e *Engine) handleSetResource(w http.ResponseWriter, r *http.Request) {
	a, ok := e.registry.Get(chi.URLParam(r, "agentID"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "agent not found")
		return
	}
	var req ResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch {
	case req.Value != nil && *req.Value >= 0:
		a.SetResourceManual(*req.Value)
	case req.Virtual != nil && *req.Virtual > 0:
		a.GrantVirtualResource(*req.Virtual)
	default:
		writeJSONError(w, http.StatusBadRequest, "value (>= 0) or virtual (> 0) is required")
		return
	}
	e.logger.Info("resource set by operator", "agent_id", a.ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleSetEnabled handles POST /api/agents/{agentID}/enabled.
func (e *Engine) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	a, ok := e.registry.Get(chi.URLParam(r, "agentID"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "agent not found")
		return
	}
	var req EnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	a.SetEnabled(req.Enabled)
	e.logger.Info("agent toggled by operator", "agent_id", a.ID, "enabled", req.Enabled)
	w.WriteHeader(http.StatusNoContent)
}

func jobResponse(s JobStatus) JobResponse {
	pending := s.Pending
	if pending == nil {
		pending = []string{}
	}
	steps := make([]StepResponse, 0, len(s.Result.Steps))
	for _, st := range s.Result.Steps {
		steps = append(steps, StepResponse{
			AgentID:      st.AgentID,
			AgentName:    st.AgentName,
			AbilityKey:   st.AbilityKey,
			AbilityLabel: st.AbilityLabel,
			Value:        st.Value,
			Critical:     st.Critical,
			Status:       st.Status,
			At:           st.At.Format(time.RFC3339),
		})
	}
	return JobResponse{
		ID:         s.Job.ID,
		UserID:     s.Job.UserID,
		ChatID:     s.Job.ChatID,
		Letters:    s.Job.Letters,
		CreatedAt:  s.Job.CreatedAt.Format(time.RFC3339),
		MessageID:  s.MessageID,
		Expected:   s.Result.Expected,
		Completed:  s.Result.Completed,
		TotalValue: s.Result.TotalValue,
		Pending:    pending,
		Steps:      steps,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
