package handler

import (
	"net/http"
	"strings"
	"time"

	"contest-core/internal/domain"
	apperrors "contest-core/pkg/errors"
	"contest-core/pkg/logger"
)

const devTokenTTL = 12 * time.Hour

// TokenIssuer signs service tokens
type TokenIssuer interface {
	IssueToken(identity *domain.Identity, ttl time.Duration) (string, error)
}

// TestingHandler handles development-only requests
type TestingHandler struct {
	responder
	issuer      TokenIssuer
	environment string
}

// NewTestingHandler creates a new testing handler
func NewTestingHandler(issuer TokenIssuer, environment string, logger *logger.Logger) *TestingHandler {
	return &TestingHandler{
		responder:   responder{logger: logger},
		issuer:      issuer,
		environment: environment,
	}
}

// IssueTokenRequest names the identity a development token is issued for
type IssueTokenRequest struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Admin   bool   `json:"admin"`
}

// IssueTokenResponse carries a signed development token
type IssueTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken handles POST /api/testing/token
// This endpoint is only available in development environment
func (h *TestingHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	if h.environment != "development" {
		h.logger.Warn("Attempted to access testing endpoint in non-development environment")
		h.respondError(w, r, apperrors.NewAuthorizationError("This endpoint is only available in development environment"))
		return
	}

	var req IssueTokenRequest
	if err := h.decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		h.respondError(w, r, domain.Invalid("sub is required"))
		return
	}

	token, err := h.issuer.IssueToken(&domain.Identity{
		Subject: req.Subject,
		Email:   req.Email,
		Name:    req.Name,
		IsAdmin: req.Admin,
	}, devTokenTTL)
	if err != nil {
		h.respondError(w, r, apperrors.NewInternalError("Failed to issue token", err))
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"sub":   req.Subject,
		"admin": req.Admin,
	}).Info("Testing: development token issued")

	h.respondJSON(w, http.StatusOK, IssueTokenResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(devTokenTTL),
	})
}
