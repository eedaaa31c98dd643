package api

import (
	"maps"
	"net/http"
)

// StatsProvider defines the interface for getting service statistics.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatsHandler handles stats requests.
type StatsHandler struct {
	statsProvider StatsProvider
	limiter       *RateLimiter
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(statsProvider StatsProvider) *StatsHandler {
	return &StatsHandler{statsProvider: statsProvider}
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.statsProvider.GetStats()
	if h.limiter != nil {
		// copy so the provider's map is never mutated
		out := make(map[string]interface{}, len(stats)+1)
		maps.Copy(out, stats)
		out["rateLimiterClients"] = h.limiter.Clients()
		stats = out
	}
	writeJSON(w, http.StatusOK, stats)
}
