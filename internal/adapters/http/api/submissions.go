package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/ascend/internal/adapters/mq/queue"
	"github.com/okian/ascend/internal/domain/progression"
	"github.com/okian/ascend/internal/domain/scoring"
)

// SubmissionDependencies defines the interface for applying submissions.
type SubmissionDependencies interface {
	ApplyReward(ctx context.Context, userID, submissionID string, m scoring.Metrics) (progression.Outcome, error)
	Enqueue(ctx context.Context, r queue.Request) error
}

// SubmissionHandler handles submission requests.
type SubmissionHandler struct {
	deps SubmissionDependencies
}

// NewSubmissionHandler creates a new submission handler.
func NewSubmissionHandler(deps SubmissionDependencies) *SubmissionHandler {
	return &SubmissionHandler{deps: deps}
}

// submissionRequest mirrors the OpenAPI schema for POST /submissions.
type submissionRequest struct {
	UserID       string           `json:"user_id"`
	SubmissionID string           `json:"submission_id"`
	Metrics      *scoring.Metrics `json:"metrics"`
}

func (s submissionRequest) validate() error {
	switch {
	case strings.TrimSpace(s.UserID) == "":
		return errMissing("user_id")
	case strings.TrimSpace(s.SubmissionID) == "":
		return errMissing("submission_id")
	case s.Metrics == nil:
		return errMissing("metrics")
	}
	return nil
}

type ackResponse struct {
	Status       string `json:"status"`
	SubmissionID string `json:"submission_id"`
}

// HandleApply handles POST /submissions requests.
func (h *SubmissionHandler) HandleApply(w http.ResponseWriter, r *http.Request) {
	const op = "api.apply_submission"
	req, err := readSubmission(w, r)
	if err != nil {
		writeServiceError(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	o, err := h.deps.ApplyReward(r.Context(), req.UserID, req.SubmissionID, *req.Metrics)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// HandleEnqueue handles POST /submissions/async requests.
func (h *SubmissionHandler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	const op = "api.enqueue_submission"
	req, err := readSubmission(w, r)
	if err != nil {
		writeServiceError(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	err = h.deps.Enqueue(r.Context(), queue.Request{
		UserID:       req.UserID,
		SubmissionID: req.SubmissionID,
		Metrics:      *req.Metrics,
	})
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", SubmissionID: req.SubmissionID})
}

func readSubmission(w http.ResponseWriter, r *http.Request) (submissionRequest, error) {
	var req submissionRequest
	if err := decode(w, r, &req); err != nil {
		return req, fmt.Errorf("decode body: %w", err)
	}
	if err := req.validate(); err != nil {
		return req, err
	}
	return req, nil
}

func errMissing(field string) error {
	return errors.New("missing " + field)
}
