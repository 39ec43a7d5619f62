package api

import (
	"net/http"

	"github.com/common-ad-network/internal/logging"
)

// handleGetAnalytics handles GET /api/analytics requests for the caller's
// dashboard summary.
func (s *Server) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	userID := s.requireUserID(w, r)
	if userID == "" {
		return
	}

	analytics, err := s.analyticsService.GetUserAnalytics(r.Context(), userID)
	if err != nil {
		status, code, message := mapServiceError(err)
		if status >= http.StatusInternalServerError {
			logging.FromContext(r.Context()).WithError(err).Error("Analytics query failed")
		}
		respondError(w, status, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, analytics)
}
