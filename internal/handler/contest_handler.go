package handler

import (
	"net/http"

	"contest-core/internal/domain"
	"contest-core/internal/service"
	"contest-core/pkg/logger"

	"github.com/go-chi/chi/v5"
)

// ContestHandler serves the public contest, entry and ranking endpoints
type ContestHandler struct {
	responder
	lifecycle   *service.LifecycleService
	submissions *service.SubmissionService
	ranking     *service.RankingService
}

func NewContestHandler(lifecycle *service.LifecycleService, submissions *service.SubmissionService, ranking *service.RankingService, logger *logger.Logger) *ContestHandler {
	return &ContestHandler{
		responder:   responder{logger: logger},
		lifecycle:   lifecycle,
		submissions: submissions,
		ranking:     ranking,
	}
}

// ListContests handles GET /api/v1/contests
func (h *ContestHandler) ListContests(w http.ResponseWriter, r *http.Request) {
	contests, err := h.lifecycle.List(r.Context(), false)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"contests": contests,
	})
}

// GetContest handles GET /api/v1/contests/{id}
func (h *ContestHandler) GetContest(w http.ResponseWriter, r *http.Request) {
	contest, err := h.lifecycle.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if contest.ArchivedAt != nil {
		h.respondError(w, r, domain.ErrContestNotFound)
		return
	}
	h.respondJSON(w, http.StatusOK, contest)
}

// SubmitEntry handles POST /api/v1/contests/{id}/entries
func (h *ContestHandler) SubmitEntry(w http.ResponseWriter, r *http.Request) {
	caller, err := requireIdentity(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req domain.SubmitEntryRequest
	if err := h.decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	entry, err := h.submissions.Submit(r.Context(), chi.URLParam(r, "id"), caller.Subject, &req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, entry)
}

// ListEntries handles GET /api/v1/contests/{id}/entries. Only approved
// entries are public.
func (h *ContestHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	approved := domain.ModerationApproved
	entries, err := h.submissions.ListEntries(r.Context(), chi.URLParam(r, "id"), &approved)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
	})
}

// GetRanking handles GET /api/v1/contests/{id}/ranking (polling endpoint)
func (h *ContestHandler) GetRanking(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.ranking.Rank(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	// ComputedAt changes on every recompute, so it stays out of the ETag
	etag := generateETag(struct {
		Entries   []domain.RankedEntry
		Total     int64
		Finalized bool
	}{snapshot.Entries, snapshot.TotalCredits, snapshot.Finalized})

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	if snapshot.Finalized {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=5")
	}
	h.respondJSON(w, http.StatusOK, snapshot)
}
