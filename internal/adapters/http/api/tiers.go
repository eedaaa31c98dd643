package api

import (
	"net/http"

	"github.com/okian/ascend/internal/domain/progression"
)

// TierDependencies exposes the tier table.
type TierDependencies interface {
	Tiers() []progression.Tier
	BandWidth() int
}

// TiersHandler handles tier table requests.
type TiersHandler struct {
	deps TierDependencies
}

// NewTiersHandler creates a new tiers handler.
func NewTiersHandler(deps TierDependencies) *TiersHandler {
	return &TiersHandler{deps: deps}
}

type tierEntry struct {
	Index          int    `json:"index"`
	Name           string `json:"name"`
	PromotionCoins int64  `json:"promotion_coins"`
	MinLevel       int    `json:"min_level"`
	MaxLevel       *int   `json:"max_level,omitempty"` // nil for the open-ended top tier
}

type tiersResponse struct {
	BandWidth int         `json:"band_width"`
	Tiers     []tierEntry `json:"tiers"`
}

// HandleGetTiers handles GET /tiers requests.
func (h *TiersHandler) HandleGetTiers(w http.ResponseWriter, r *http.Request) {
	width := h.deps.BandWidth()
	tiers := h.deps.Tiers()

	resp := tiersResponse{BandWidth: width, Tiers: make([]tierEntry, len(tiers))}
	for i, t := range tiers {
		e := tierEntry{
			Index:          i,
			Name:           t.Name,
			PromotionCoins: t.PromotionCoins,
			MinLevel:       max(i*width, 1),
		}
		if i < len(tiers)-1 {
			maxLevel := (i+1)*width - 1
			e.MaxLevel = &maxLevel
		}
		resp.Tiers[i] = e
	}
	writeJSON(w, http.StatusOK, resp)
}
