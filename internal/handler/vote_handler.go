package handler

import (
	"net/http"
	"strings"

	"contest-core/internal/domain"
	"contest-core/internal/service"
	apperrors "contest-core/pkg/errors"
	"contest-core/pkg/logger"
)

const minVoterTokenLength = 16

// VoteHandler serves free votes
type VoteHandler struct {
	responder
	ledger         *service.LedgerService
	allowAnonymous bool
}

func NewVoteHandler(ledger *service.LedgerService, allowAnonymous bool, logger *logger.Logger) *VoteHandler {
	return &VoteHandler{
		responder:      responder{logger: logger},
		ledger:         ledger,
		allowAnonymous: allowAnonymous,
	}
}

// FreeVote handles POST /api/v1/votes/free
func (h *VoteHandler) FreeVote(w http.ResponseWriter, r *http.Request) {
	var req domain.FreeVoteRequest
	if err := h.decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if strings.TrimSpace(req.EntryID) == "" {
		h.respondError(w, r, domain.Invalid("entry_id is required"))
		return
	}

	voter, err := h.voterFor(r, req.VoterToken)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	response, err := h.ledger.CreditFree(r.Context(), req.EntryID, voter, 1)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, response)
}

// voterFor resolves the ledger voter identity. Authenticated callers vote as
// their subject; anonymous callers need a client-held token when enabled.
func (h *VoteHandler) voterFor(r *http.Request, voterToken string) (string, error) {
	if caller := identity(r); caller != nil {
		return caller.Subject, nil
	}
	if !h.allowAnonymous {
		return "", apperrors.NewAuthenticationError("Authentication required")
	}
	token := strings.TrimSpace(voterToken)
	if len(token) < minVoterTokenLength {
		return "", domain.Invalid("voter_token is required for anonymous votes")
	}
	return domain.AnonymousVoterPrefix + token, nil
}
