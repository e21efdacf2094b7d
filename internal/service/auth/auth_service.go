package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"contest-core/internal/domain"
	"contest-core/internal/service"
	"contest-core/pkg/errors"
	"contest-core/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// Config configures token validation
type Config struct {
	JWTSecret      string
	GoogleClientID string
	AdminSubjects  []string
	// TokenInfoURL overrides Google's tokeninfo endpoint
	TokenInfoURL string
}

// Service implements the AuthService interface
type Service struct {
	secret       []byte
	clientID     string
	admins       map[string]bool
	tokenInfoURL string
	httpClient   *http.Client
	logger       *logger.Logger
}

// NewService creates a new auth service
func NewService(cfg Config, logger *logger.Logger) *Service {
	admins := make(map[string]bool, len(cfg.AdminSubjects))
	for _, sub := range cfg.AdminSubjects {
		admins[sub] = true
	}
	tokenInfoURL := cfg.TokenInfoURL
	if tokenInfoURL == "" {
		tokenInfoURL = defaultTokenInfoURL
	}
	return &Service{
		secret:       []byte(cfg.JWTSecret),
		clientID:     cfg.GoogleClientID,
		admins:       admins,
		tokenInfoURL: tokenInfoURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

var _ service.AuthService = (*Service)(nil)

// ValidateToken accepts either a service-issued HS256 JWT or a Google
// access token
func (s *Service) ValidateToken(ctx context.Context, token string) (*domain.Identity, error) {
	if isGoogleAccessToken(token) {
		s.logger.Debug("Token identified as Google access token")
		return s.validateGoogleAccessToken(ctx, token)
	}

	if isJWTToken(token) {
		s.logger.Debug("Token identified as JWT")
		return s.validateJWT(token)
	}

	s.logger.Warn("Unrecognized token format")
	return nil, errors.NewAuthenticationError("Unrecognized token format")
}

// validateGoogleAccessToken validates a Google OAuth access token
func (s *Service) validateGoogleAccessToken(ctx context.Context, token string) (*domain.Identity, error) {
	endpoint := s.tokenInfoURL + "?access_token=" + url.QueryEscape(token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		s.logger.WithError(err).Error("Failed to create tokeninfo request")
		return nil, errors.NewInternalError("Failed to create validation request", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.WithError(err).Error("Failed to call Google tokeninfo endpoint")
		return nil, errors.NewAuthenticationError("Failed to validate token")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		s.logger.WithFields(map[string]interface{}{
			"status_code":   resp.StatusCode,
			"response_body": string(body),
		}).Warn("Google tokeninfo rejected token")
		return nil, errors.NewAuthenticationError("Invalid or expired Google token")
	}

	var tokenInfo map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&tokenInfo); err != nil {
		s.logger.WithError(err).Error("Failed to decode tokeninfo response")
		return nil, errors.NewInternalError("Failed to decode token information", err)
	}

	// Access tokens may omit aud; when present it must be ours
	if aud := getStringValue(tokenInfo, "aud"); aud != "" && s.clientID != "" && aud != s.clientID {
		s.logger.WithFields(map[string]interface{}{
			"expected_audience": s.clientID,
			"actual_audience":   aud,
		}).Warn("Token audience mismatch")
		return nil, errors.NewAuthenticationError("Token not intended for this application")
	}

	identity := &domain.Identity{
		Subject: getStringValue(tokenInfo, "sub"),
		Email:   getStringValue(tokenInfo, "email"),
		Name:    getStringValue(tokenInfo, "name"),
	}
	if identity.Subject == "" {
		s.logger.Warn("No user identifier found in token response")
		return nil, errors.NewAuthenticationError("Invalid token: no user identifier")
	}
	identity.IsAdmin = s.admins[identity.Subject]

	s.logger.WithField("user_id", identity.Subject).Debug("Google access token validated")
	return identity, nil
}

// validateJWT validates a service JWT signed with the shared secret
func (s *Service) validateJWT(tokenString string) (*domain.Identity, error) {
	if len(s.secret) == 0 {
		s.logger.Error("JWT_SECRET not configured")
		return nil, errors.NewAuthenticationError("JWT validation not configured")
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		s.logger.WithError(err).Debug("Failed to validate JWT")
		return nil, errors.NewAuthenticationError("Invalid JWT token")
	}

	identity := &domain.Identity{
		Subject: getStringValue(claims, "sub"),
		Email:   getStringValue(claims, "email"),
		Name:    getStringValue(claims, "name"),
	}
	if identity.Subject == "" {
		return nil, errors.NewAuthenticationError("Invalid JWT token: no user identifier")
	}
	identity.IsAdmin = getStringValue(claims, "role") == "admin" || s.admins[identity.Subject]

	s.logger.WithField("user_id", identity.Subject).Debug("JWT validated")
	return identity, nil
}

// IssueToken signs a service JWT for identity
func (s *Service) IssueToken(identity *domain.Identity, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", fmt.Errorf("JWT_SECRET not configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   identity.Subject,
		"email": identity.Email,
		"name":  identity.Name,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	if identity.IsAdmin {
		claims["role"] = "admin"
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Helper functions for token format detection
func isGoogleAccessToken(token string) bool {
	// Google access tokens start with "ya29."
	return len(token) > 5 && token[:5] == "ya29."
}

func isJWTToken(token string) bool {
	// JWT tokens have exactly 3 segments separated by dots
	if len(token) == 0 {
		return false
	}

	dotCount := 0
	for _, char := range token {
		if char == '.' {
			dotCount++
		}
	}
	return dotCount == 2
}

func getStringValue(m map[string]interface{}, key string) string {
	if val, ok := m[key].(string); ok {
		return val
	}
	return ""
}
