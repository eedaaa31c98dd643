package api

import (
	"context"
	"net/http"
	"strings"

	service "github.com/okian/ascend/internal/app"
	"github.com/okian/ascend/internal/domain/progression"
)

// ProgressionDependencies defines the operations on progression records.
type ProgressionDependencies interface {
	Onboard(ctx context.Context, userID string) (progression.State, error)
	Progression(ctx context.Context, userID string) (service.Snapshot, error)
	Realign(ctx context.Context, userID string) (progression.State, *progression.TierChange, error)
	TierHistory(ctx context.Context, userID string) ([]progression.TierRecord, error)
}

// ProgressionHandler handles progression requests.
type ProgressionHandler struct {
	deps ProgressionDependencies
}

// NewProgressionHandler creates a new progression handler.
func NewProgressionHandler(deps ProgressionDependencies) *ProgressionHandler {
	return &ProgressionHandler{deps: deps}
}

type createRequest struct {
	UserID string `json:"user_id"`
}

type realignResponse struct {
	State      progression.State       `json:"state"`
	TierChange *progression.TierChange `json:"tier_change,omitempty"`
}

type historyResponse struct {
	UserID  string                   `json:"user_id"`
	History []progression.TierRecord `json:"history"`
}

// HandleCreate handles POST /progressions requests.
func (h *ProgressionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_progression"
	var req createRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeServiceError(w, WrapKind(op, ErrBadRequest, errMissing("user_id")))
		return
	}

	st, err := h.deps.Onboard(r.Context(), req.UserID)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// HandleGet handles GET /progressions/{user_id} requests.
func (h *ProgressionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_progression"
	snap, err := h.deps.Progression(r.Context(), r.PathValue("user_id"))
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleRealign handles POST /progressions/{user_id}/realign requests.
func (h *ProgressionHandler) HandleRealign(w http.ResponseWriter, r *http.Request) {
	const op = "api.realign_progression"
	st, change, err := h.deps.Realign(r.Context(), r.PathValue("user_id"))
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, realignResponse{State: st, TierChange: change})
}

// HandleHistory handles GET /progressions/{user_id}/tiers/history requests.
func (h *ProgressionHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.tier_history"
	userID := r.PathValue("user_id")
	history, err := h.deps.TierHistory(r.Context(), userID)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{UserID: userID, History: history})
}
