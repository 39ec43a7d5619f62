package api

import (
	"net/http"

	"github.com/common-ad-network/internal/geo"
	"github.com/common-ad-network/internal/logging"
	"github.com/common-ad-network/internal/service"
	"github.com/gorilla/mux"
)

// handleServeAd handles GET /api/embed/ad requests from the embed script.
func (s *Server) handleServeAd(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	input := &service.ServeAdInput{
		SiteID:  query.Get("site"),
		Cluster: query.Get("cluster"),
		Index:   query.Get("index"),
	}

	ad, err := s.adSelector.SelectAd(r.Context(), input)
	if err != nil {
		status, code, message := mapServiceError(err)
		if status >= http.StatusInternalServerError {
			logging.FromContext(r.Context()).WithError(err).Error("Ad serve failed")
		}
		respondError(w, status, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, ad)
}

// handleClick handles GET /api/embed/click/{adId} requests. The visitor is
// always redirected, whatever happens to the click itself.
func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			logging.GetGlobalLogger().WithField("panic", err).Error("Recovered from panic in click handler")
			http.Redirect(w, r, s.config.FallbackRedirectURL, http.StatusFound)
		}
	}()

	vars := mux.Vars(r)

	input := &service.RecordClickInput{
		AdID:      vars["adId"],
		SiteID:    r.URL.Query().Get("site"),
		IPAddress: geo.ClientIP(r),
		UserAgent: r.UserAgent(),
	}

	result := s.clickService.RecordClick(r.Context(), input)

	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}
