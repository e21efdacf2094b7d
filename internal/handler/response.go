package handler

import (
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"contest-core/internal/domain"
	"contest-core/internal/middleware"
	apperrors "contest-core/pkg/errors"
	"contest-core/pkg/logger"
)

const maxBodyBytes = 1 << 20

// responder carries the JSON helpers every handler shares
type responder struct {
	logger *logger.Logger
}

func (h responder) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

// respondError translates err into the error envelope. Domain errors keep
// their kind as the code; anything else is an opaque 500.
func (h responder) respondError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(w, r, toAppError(err), h.logger)
}

// decodeJSON reads a bounded JSON body into dst
func (h responder) decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Invalid(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

func generateETag(data interface{}) string {
	jsonData, _ := json.Marshal(data)
	hash := md5.Sum(jsonData)
	return fmt.Sprintf(`"%x"`, hash)
}

func toAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	kind := domain.KindOf(err)
	switch kind {
	case "":
		return apperrors.NewInternalError("Internal server error", err)
	case domain.KindNotFound:
		return apperrors.NewNotFoundError(err.Error())
	case domain.KindInvalidInput:
		return apperrors.NewValidationError(err.Error(), nil)
	case domain.KindRateLimited:
		return apperrors.NewRateLimitError(err.Error()).WithCode(string(kind))
	case domain.KindProviderUnavailable:
		return apperrors.NewUnavailableError(domain.ErrProviderUnavailable.Message, err).WithCode(string(kind))
	case domain.KindProviderRejected:
		appErr := apperrors.NewExternalError(domain.ErrProviderRejected.Message, err).WithCode(string(kind))
		appErr.StatusCode = http.StatusPaymentRequired
		return appErr
	case domain.KindPaymentExpired:
		appErr := apperrors.NewConflictError(string(kind), err.Error())
		appErr.StatusCode = http.StatusGone
		return appErr
	case domain.KindInvalidTransition,
		domain.KindContestNotAcceptingEntries,
		domain.KindDuplicateEntry,
		domain.KindAlreadyModerated,
		domain.KindEntryNotApproved,
		domain.KindContestClosed,
		domain.KindContestNotActive,
		domain.KindDuplicatePayment:
		return apperrors.NewConflictError(string(kind), err.Error())
	default:
		return apperrors.NewInternalError("Internal server error", err)
	}
}

// identity returns the authenticated caller or nil
func identity(r *http.Request) *domain.Identity {
	return middleware.IdentityFrom(r.Context())
}

func requireIdentity(r *http.Request) (*domain.Identity, error) {
	id := identity(r)
	if id == nil || id.Subject == "" {
		return nil, apperrors.NewAuthenticationError("Authentication required")
	}
	return id, nil
}
