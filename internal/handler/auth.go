package handler

import (
	"net/http"
	"time"

	"github.com/jarvis-labs/operator-console/internal/middleware"
	"github.com/jarvis-labs/operator-console/pkg/logger"
)

// AuthHandler mints development tokens. Not mounted behind auth; intended
// for local use only.
type AuthHandler struct {
	jwtSecret  string
	expiration time.Duration
	logger     *logger.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(jwtSecret string, expiration time.Duration, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		jwtSecret:  jwtSecret,
		expiration: expiration,
		logger:     log,
	}
}

// MintToken handles POST /auth/token
func (h *AuthHandler) MintToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateUserID(req.UserID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := middleware.MintToken(h.jwtSecret, req.UserID, h.expiration)
	if err != nil {
		h.logger.Error("failed to mint token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to mint token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
