package api

import (
	"net/http"
	"strings"

	"github.com/common-ad-network/internal/logging"
	"github.com/common-ad-network/internal/models"
	"github.com/gorilla/mux"
)

// CreateUserRequest represents a user signup request.
type CreateUserRequest struct {
	Email       string  `json:"email"`
	CompanyName string  `json:"companyName"`
	CompanyLink *string `json:"companyLink"`
	ProfilePic  *string `json:"profilePic"`
	Category    *string `json:"category"`
}

// handleCreateUser handles POST /api/users requests.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "a valid email is required", nil)
		return
	}
	if req.CompanyName == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "companyName is required", nil)
		return
	}

	taken, err := s.userRepo.ExistsByEmail(r.Context(), req.Email)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Email lookup failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred", nil)
		return
	}
	if taken {
		respondError(w, http.StatusConflict, ErrCodeConflict, "email already registered", nil)
		return
	}

	user := &models.User{
		Email:       req.Email,
		CompanyName: req.CompanyName,
		CompanyLink: req.CompanyLink,
		ProfilePic:  req.ProfilePic,
		Category:    req.Category,
		Karma:       s.config.SignupBonus,
	}

	if err := s.userRepo.Create(r.Context(), user); err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("User creation failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred", nil)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

// handleGetUser handles GET /api/users/{id} requests.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	user, err := s.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		status, code, message := mapServiceError(err)
		if status >= http.StatusInternalServerError {
			logging.FromContext(r.Context()).WithError(err).Error("User lookup failed")
		}
		respondError(w, status, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, user)
}
