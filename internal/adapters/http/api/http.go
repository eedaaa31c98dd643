// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/ascend/internal/adapters/mq/queue"
	service "github.com/okian/ascend/internal/app"
	"github.com/okian/ascend/internal/domain/progression"
	"github.com/okian/ascend/internal/domain/scoring"
)

const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	ApplyReward(ctx context.Context, userID, submissionID string, m scoring.Metrics) (progression.Outcome, error)

	// Enqueue pushes a submission for async processing. Returns
	// service.ErrBackpressure when the queue is full.
	Enqueue(ctx context.Context, r queue.Request) error

	Onboard(ctx context.Context, userID string) (progression.State, error)
	Progression(ctx context.Context, userID string) (service.Snapshot, error)
	Realign(ctx context.Context, userID string) (progression.State, *progression.TierChange, error)
	TierHistory(ctx context.Context, userID string) ([]progression.TierRecord, error)

	Tiers() []progression.Tier
	BandWidth() int
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	progressionHandler *ProgressionHandler
	submissionHandler  *SubmissionHandler
	tiersHandler       *TiersHandler

	limiter *RateLimiter
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithRateLimit limits each client to rps submissions per second with the
// given burst. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = NewRateLimiter(rps, burst)
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		progressionHandler: NewProgressionHandler(deps),
		submissionHandler:  NewSubmissionHandler(deps),
		tiersHandler:       NewTiersHandler(deps),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.statsHandler.limiter = s.limiter
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /tiers", MetricsMiddleware(s.tiersHandler.HandleGetTiers, "tiers"))

	mux.HandleFunc("POST /progressions", MetricsMiddleware(s.progressionHandler.HandleCreate, "progressions"))
	mux.HandleFunc("GET /progressions/{user_id}", MetricsMiddleware(s.progressionHandler.HandleGet, "progression"))
	mux.HandleFunc("POST /progressions/{user_id}/realign", MetricsMiddleware(s.progressionHandler.HandleRealign, "realign"))
	mux.HandleFunc("GET /progressions/{user_id}/tiers/history", MetricsMiddleware(s.progressionHandler.HandleHistory, "tier_history"))

	mux.HandleFunc("POST /submissions", MetricsMiddleware(s.limit(s.submissionHandler.HandleApply, "submissions"), "submissions"))
	mux.HandleFunc("POST /submissions/async", MetricsMiddleware(s.limit(s.submissionHandler.HandleEnqueue, "submissions_async"), "submissions_async"))
}

func (s *Server) limit(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return s.limiter.Middleware(next, endpoint)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError translates a service error into its HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, service.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already_exists", err)
	case errors.Is(err, service.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, ErrBackpressure), errors.Is(err, service.ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	case errors.Is(err, service.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

// decode reads a JSON body of at most maxBodyBytes into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err //nolint:wrapcheck // wrapped by the caller with its op
	}
	return nil
}
