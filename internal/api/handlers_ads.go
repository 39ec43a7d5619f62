package api

import (
	"net/http"
	"strconv"

	"github.com/common-ad-network/internal/logging"
	"github.com/common-ad-network/internal/models"
	"github.com/gorilla/mux"
)

// requireUserID extracts the authenticated user from the X-User-ID header.
// Returns an empty string after writing a 401 when the header is missing.
func (s *Server) requireUserID(w http.ResponseWriter, r *http.Request) string {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID header is required", nil)
		return ""
	}
	return userID
}

// CreateAdRequest represents an ad creation request.
type CreateAdRequest struct {
	Headline    string  `json:"headline"`
	Description string  `json:"description"`
	ImageURL    *string `json:"imageUrl"`
	LinkURL     *string `json:"linkUrl"`
	Category    *string `json:"category"`
}

// UpdateAdRequest represents an ad update request.
type UpdateAdRequest struct {
	IsActive *bool `json:"isActive"`
}

// handleCreateAd handles POST /api/ads requests.
func (s *Server) handleCreateAd(w http.ResponseWriter, r *http.Request) {
	userID := s.requireUserID(w, r)
	if userID == "" {
		return
	}

	var req CreateAdRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if req.Headline == "" || req.Description == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "headline and description are required", nil)
		return
	}
	if req.LinkURL == nil || *req.LinkURL == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "linkUrl is required", nil)
		return
	}

	exists, err := s.userRepo.Exists(r.Context(), userID)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("User lookup failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred", nil)
		return
	}
	if !exists {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "user not found", nil)
		return
	}

	ad := &models.Ad{
		UserID:      userID,
		Headline:    req.Headline,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		LinkURL:     req.LinkURL,
		Category:    req.Category,
	}

	if err := s.adRepo.Create(r.Context(), ad); err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Ad creation failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred", nil)
		return
	}

	respondJSON(w, http.StatusCreated, ad)
}

// handleListAds handles GET /api/ads requests. Authenticated callers see
// their own ads including inactive ones; anonymous callers get the public
// active listing.
func (s *Server) handleListAds(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	var (
		ads []*models.Ad
		err error
	)
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		ads, err = s.adRepo.ListByUser(r.Context(), userID, limit, offset)
	} else {
		ads, err = s.adRepo.ListActive(r.Context(), limit, offset)
	}
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Ad listing failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred", nil)
		return
	}

	if ads == nil {
		ads = []*models.Ad{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ads":    ads,
		"limit":  limit,
		"offset": offset,
	})
}

// parsePagination extracts limit/offset query params with sane bounds.
// Invalid values fall back to defaults rather than erroring.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}

	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}

	return limit, offset
}

// handleUpdateAd handles PATCH /api/ads/{id} requests. Only the active flag
// is mutable after creation.
func (s *Server) handleUpdateAd(w http.ResponseWriter, r *http.Request) {
	userID := s.requireUserID(w, r)
	if userID == "" {
		return
	}

	adID := mux.Vars(r)["id"]

	var req UpdateAdRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.IsActive == nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "isActive is required", nil)
		return
	}

	if err := s.adRepo.SetActive(r.Context(), adID, userID, *req.IsActive); err != nil {
		status, code, message := mapServiceError(err)
		if status >= http.StatusInternalServerError {
			logging.FromContext(r.Context()).WithError(err).Error("Ad update failed")
		}
		respondError(w, status, code, message, nil)
		return
	}

	ad, err := s.adRepo.GetByID(r.Context(), adID)
	if err != nil {
		status, code, message := mapServiceError(err)
		respondError(w, status, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, ad)
}

// handleDeleteAd handles DELETE /api/ads/{id} requests (soft delete).
func (s *Server) handleDeleteAd(w http.ResponseWriter, r *http.Request) {
	userID := s.requireUserID(w, r)
	if userID == "" {
		return
	}

	adID := mux.Vars(r)["id"]

	if err := s.adRepo.SoftDelete(r.Context(), adID, userID); err != nil {
		status, code, message := mapServiceError(err)
		if status >= http.StatusInternalServerError {
			logging.FromContext(r.Context()).WithError(err).Error("Ad deletion failed")
		}
		respondError(w, status, code, message, nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
