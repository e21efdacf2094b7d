package handler

import (
	"net/http"

	"contest-core/internal/domain"
	"contest-core/internal/service"
	"contest-core/pkg/logger"

	"github.com/go-chi/chi/v5"
)

// PaymentHandler serves vote package purchases
type PaymentHandler struct {
	responder
	payments *service.PaymentService
}

func NewPaymentHandler(payments *service.PaymentService, logger *logger.Logger) *PaymentHandler {
	return &PaymentHandler{
		responder: responder{logger: logger},
		payments:  payments,
	}
}

// ListPackages handles GET /api/v1/payments/packages
func (h *PaymentHandler) ListPackages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"packages": h.payments.ListPackages(),
	})
}

// CreateOrder handles POST /api/v1/payments/orders
func (h *PaymentHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	caller, err := requireIdentity(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req domain.BeginPurchaseRequest
	if err := h.decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.EntryID == "" || req.PackageID == "" {
		h.respondError(w, r, domain.Invalid("entry_id and package_id are required"))
		return
	}

	purchase, err := h.payments.BeginPurchase(r.Context(), caller.Subject, req.EntryID, req.PackageID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, purchase)
}

// GetOrder handles GET /api/v1/payments/orders/{ref}
func (h *PaymentHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	intent, err := h.ownedIntent(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, intent)
}

// CaptureOrder handles POST /api/v1/payments/orders/{ref}/capture. It is
// safe to retry: every call for the same order returns the same outcome.
func (h *PaymentHandler) CaptureOrder(w http.ResponseWriter, r *http.Request) {
	intent, err := h.ownedIntent(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	result, err := h.payments.ConfirmCapture(r.Context(), intent.OrderRef)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// ownedIntent loads the intent named in the path. Other voters' intents are
// reported as missing unless the caller is an admin.
func (h *PaymentHandler) ownedIntent(r *http.Request) (*domain.PaymentIntent, error) {
	caller, err := requireIdentity(r)
	if err != nil {
		return nil, err
	}

	intent, err := h.payments.GetIntent(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		return nil, err
	}
	if intent.Voter != caller.Subject && !caller.IsAdmin {
		h.logger.WithFields(map[string]interface{}{
			"user_id":   caller.Subject,
			"order_ref": intent.OrderRef,
		}).Warn("Caller attempted to access another voter's order")
		return nil, domain.ErrPaymentNotFound
	}
	return intent, nil
}
