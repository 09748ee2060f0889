package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtr002/jobpulse/internal/auth"
	"github.com/mtr002/jobpulse/internal/interfaces"
	"github.com/mtr002/jobpulse/internal/jobs"
	"github.com/mtr002/jobpulse/internal/logger"
	"github.com/mtr002/jobpulse/internal/users"
)

// JobService is the subset of jobs.Manager the HTTP layer needs
type JobService interface {
	SubmitJob(ctx context.Context, ownerID, jobType string, input map[string]any) (*interfaces.Job, error)
	GetOwnedJob(ctx context.Context, ownerID, id string) (*interfaces.Job, error)
	ListOwnerJobs(ctx context.Context, ownerID string, skip, limit int) ([]*interfaces.Job, error)
	DeleteOwnedJob(ctx context.Context, ownerID, id string) error
}

// UserService is the subset of users.Service the HTTP layer needs
type UserService interface {
	Register(ctx context.Context, in *interfaces.UserCreate) (*interfaces.User, error)
	Me(ctx context.Context, authID string) (*interfaces.User, error)
	Get(ctx context.Context, id string) (*interfaces.User, error)
	Update(ctx context.Context, authID, id string, u *interfaces.UserUpdate) (*interfaces.User, error)
	List(ctx context.Context, skip, limit int) ([]*interfaces.User, error)
}

// Options wires the router. Users, Push, Limiter, Checks and CORSOrigins
// are optional.
type Options struct {
	Service     string
	Jobs        JobService
	Users       UserService
	Verifier    auth.Verifier
	Push        http.Handler
	Limiter     RateLimiter
	Checks      map[string]interfaces.Pinger
	CORSOrigins []string
}

type JobRequest struct {
	JobType   string         `json:"job_type"`
	InputData map[string]any `json:"input_data"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// NewRouter builds the HTTP surface: job and user endpoints under /api/v1,
// the push endpoint, metrics and health probes
func NewRouter(o Options) http.Handler {
	mux := http.NewServeMux()
	h := &handlers{jobs: o.Jobs, users: o.Users}
	hc := &health{service: o.Service, checks: o.Checks}

	create := requireOwner(o.Verifier, rateLimited(o.Limiter, h.createJob))
	mux.HandleFunc("POST /api/v1/jobs", create)
	mux.HandleFunc("POST /api/v1/jobs/generate", create)
	mux.HandleFunc("GET /api/v1/jobs", requireOwner(o.Verifier, h.listJobs))
	mux.HandleFunc("GET /api/v1/jobs/{id}", requireOwner(o.Verifier, h.getJob))
	mux.HandleFunc("DELETE /api/v1/jobs/{id}", requireOwner(o.Verifier, h.deleteJob))

	if o.Users != nil {
		mux.HandleFunc("POST /api/v1/users", h.createUser)
		mux.HandleFunc("GET /api/v1/users", requireOwner(o.Verifier, h.listUsers))
		mux.HandleFunc("GET /api/v1/users/me", requireOwner(o.Verifier, h.getMe))
		mux.HandleFunc("GET /api/v1/users/{id}", requireOwner(o.Verifier, h.getUser))
		mux.HandleFunc("PUT /api/v1/users/{id}", requireOwner(o.Verifier, h.updateUser))
	}

	if o.Push != nil {
		mux.Handle("GET /ws", o.Push)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", hc.handleHealth)
	mux.HandleFunc("GET /health/ready", hc.handleReadiness)
	mux.HandleFunc("GET /health/live", hc.handleLiveness)
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": o.Service + " is running"})
	})

	return withCorrelation(withCORS(o.CORSOrigins, mux))
}

type handlers struct {
	jobs  JobService
	users UserService
}

func (h *handlers) createJob(w http.ResponseWriter, r *http.Request) {
	log := logger.WithCorrelationID(correlationID(r.Context()))

	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn().Err(err).Msg("Invalid JSON request")
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if req.JobType == "" {
		writeError(w, http.StatusBadRequest, "job_type is required")
		return
	}

	job, err := h.jobs.SubmitJob(r.Context(), auth.OwnerFrom(r.Context()), req.JobType, req.InputData)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", jobs.DefaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.jobs.ListOwnerJobs(r.Context(), auth.OwnerFrom(r.Context()), skip, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*interfaces.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetOwnedJob(r.Context(), auth.OwnerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handlers) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.DeleteOwnedJob(r.Context(), auth.OwnerFrom(r.Context()), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps domain errors onto HTTP status codes
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, interfaces.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, interfaces.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, interfaces.ErrUserExists):
		writeError(w, http.StatusBadRequest, "User already exists")
	case errors.Is(err, users.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrForbidden), errors.Is(err, users.ErrForbidden):
		writeError(w, http.StatusForbidden, "Access denied")
	case errors.Is(err, jobs.ErrUnknownJobType):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.WithCorrelationID(correlationID(r.Context())).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, errorResponse{Detail: detail})
}
