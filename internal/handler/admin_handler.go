package handler

import (
	"net/http"

	"contest-core/internal/domain"
	"contest-core/internal/service"
	"contest-core/pkg/logger"

	"github.com/go-chi/chi/v5"
)

// AdminHandler serves contest administration and moderation
type AdminHandler struct {
	responder
	lifecycle   *service.LifecycleService
	submissions *service.SubmissionService
	ledger      *service.LedgerService
	payments    *service.PaymentService
}

func NewAdminHandler(lifecycle *service.LifecycleService, submissions *service.SubmissionService, ledger *service.LedgerService, payments *service.PaymentService, logger *logger.Logger) *AdminHandler {
	return &AdminHandler{
		responder:   responder{logger: logger},
		lifecycle:   lifecycle,
		submissions: submissions,
		ledger:      ledger,
		payments:    payments,
	}
}

// TransitionRequest is the body of the transition endpoint
type TransitionRequest struct {
	Target domain.ContestStatus `json:"target"`
	Force  bool                 `json:"force"`
}

// ListContests handles GET /api/v1/admin/contests?include_archived=true
func (h *AdminHandler) ListContests(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	contests, err := h.lifecycle.List(r.Context(), includeArchived)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"contests": contests,
	})
}

// CreateContest handles POST /api/v1/admin/contests
func (h *AdminHandler) CreateContest(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateContestRequest
	if err := h.decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	contest, err := h.lifecycle.Create(r.Context(), &req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, contest)
}

// TransitionContest handles POST /api/v1/admin/contests/{id}/transition
func (h *AdminHandler) TransitionContest(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := h.decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	contest, err := h.lifecycle.Transition(r.Context(), chi.URLParam(r, "id"), req.Target, req.Force, identity(r).Subject)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, contest)
}

// ArchiveContest handles POST /api/v1/admin/contests/{id}/archive
func (h *AdminHandler) ArchiveContest(w http.ResponseWriter, r *http.Request) {
	contest, err := h.lifecycle.Archive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, contest)
}

// DeleteContest handles DELETE /api/v1/admin/contests/{id}
func (h *AdminHandler) DeleteContest(w http.ResponseWriter, r *http.Request) {
	if err := h.lifecycle.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEntries handles GET /api/v1/admin/contests/{id}/entries?state=
func (h *AdminHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	var filter *domain.ModerationState
	if raw := r.URL.Query().Get("state"); raw != "" {
		state, err := domain.ParseModerationState(raw)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		filter = &state
	}

	entries, err := h.submissions.ListEntries(r.Context(), chi.URLParam(r, "id"), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
	})
}

// ModerateEntry handles POST /api/v1/admin/entries/{id}/moderate
func (h *AdminHandler) ModerateEntry(w http.ResponseWriter, r *http.Request) {
	var req domain.ModerateRequest
	if err := h.decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	entry, err := h.submissions.Moderate(r.Context(), chi.URLParam(r, "id"), req.Decision, identity(r).Subject)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, entry)
}

// EntryLedger handles GET /api/v1/admin/entries/{id}/ledger
func (h *AdminHandler) EntryLedger(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "id")
	records, err := h.ledger.History(r.Context(), entryID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var total int64
	for _, rec := range records {
		total += rec.Amount
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entry_id":   entryID,
		"vote_total": total,
		"records":    records,
	})
}

// Reconciliation handles GET /api/v1/admin/reconciliation
func (h *AdminHandler) Reconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := h.payments.ReconciliationReport(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}
