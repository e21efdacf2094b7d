package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"contest-core/internal/domain"
	"contest-core/internal/middleware"
	"contest-core/internal/repository/memory"
	"contest-core/internal/service"
	apperrors "contest-core/pkg/errors"
	"contest-core/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	mu     sync.Mutex
	orders int
}

func (p *stubProvider) CreateOrder(context.Context, service.CreateOrderRequest) (*service.ProviderOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders++
	return &service.ProviderOrder{OrderRef: fmt.Sprintf("ORDER-%d", p.orders)}, nil
}

func (p *stubProvider) CaptureOrder(_ context.Context, orderRef string) (*service.ProviderCapture, error) {
	return &service.ProviderCapture{CaptureID: "CAP-" + orderRef}, nil
}

type apiEnv struct {
	t          *testing.T
	router     chi.Router
	lifecycle  *service.LifecycleService
	submission *service.SubmissionService
}

var (
	alice = &domain.Identity{Subject: "alice"}
	bob   = &domain.Identity{Subject: "bob"}
	admin = &domain.Identity{Subject: "root", IsAdmin: true}
)

// asCaller injects the identity named by the X-Test-User header
func asCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, id := range []*domain.Identity{alice, bob, admin} {
			if r.Header.Get("X-Test-User") == id.Subject {
				r = r.WithContext(middleware.WithIdentity(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func newAPIEnv(t *testing.T, allowAnonymous bool) *apiEnv {
	log := logger.Nop()
	clock := service.SystemClock{}
	repos := memory.NewStore().Repositories()

	ranking := service.NewRankingService(repos, nil, clock, log)
	ledger := service.NewLedgerService(repos, 24*time.Hour, clock, log)
	lifecycle := service.NewLifecycleService(repos, ranking, clock, log)
	submission := service.NewSubmissionService(repos, clock, log)
	payments := service.NewPaymentService(repos, ledger, &stubProvider{}, service.PaymentConfig{
		Packages: []domain.VotePackage{
			{ID: "starter", Price: decimal.RequireFromString("1.00"), Currency: "USD", Credits: 10},
		},
		IntentTTL:       30 * time.Minute,
		ProviderTimeout: time.Second,
	}, clock, log)

	contests := NewContestHandler(lifecycle, submission, ranking, log)
	votes := NewVoteHandler(ledger, allowAnonymous, log)
	payHandler := NewPaymentHandler(payments, log)
	adminHandler := NewAdminHandler(lifecycle, submission, ledger, payments, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID(log))
	r.Use(asCaller)
	r.Get("/contests/{id}", contests.GetContest)
	r.Get("/contests/{id}/entries", contests.ListEntries)
	r.Get("/contests/{id}/ranking", contests.GetRanking)
	r.Post("/contests/{id}/entries", contests.SubmitEntry)
	r.Post("/votes/free", votes.FreeVote)
	r.Post("/orders", payHandler.CreateOrder)
	r.Get("/orders/{ref}", payHandler.GetOrder)
	r.Post("/orders/{ref}/capture", payHandler.CaptureOrder)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdmin(log))
		r.Post("/admin/contests", adminHandler.CreateContest)
		r.Post("/admin/contests/{id}/transition", adminHandler.TransitionContest)
		r.Get("/admin/contests/{id}/entries", adminHandler.ListEntries)
		r.Post("/admin/entries/{id}/moderate", adminHandler.ModerateEntry)
		r.Get("/admin/entries/{id}/ledger", adminHandler.EntryLedger)
		r.Get("/admin/reconciliation", adminHandler.Reconciliation)
	})

	return &apiEnv{t: t, router: r, lifecycle: lifecycle, submission: submission}
}

func (e *apiEnv) do(method, path, user string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *apiEnv) activeContestWithEntry() (contestID, entryID string) {
	e.t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	c, err := e.lifecycle.Create(ctx, &domain.CreateContestRequest{
		Title:   "Live",
		StartAt: now.Add(-time.Hour),
		EndAt:   now.Add(time.Hour),
	})
	require.NoError(e.t, err)
	_, err = e.lifecycle.Transition(ctx, c.ID, domain.ContestActive, false, "root")
	require.NoError(e.t, err)

	entry, err := e.submission.Submit(ctx, c.ID, "carol", &domain.SubmitEntryRequest{Title: "Clip", MediaRef: "media://clip"})
	require.NoError(e.t, err)
	_, err = e.submission.Moderate(ctx, entry.ID, domain.DecisionApprove, "root")
	require.NoError(e.t, err)
	return c.ID, entry.ID
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.ErrorResponse {
	t.Helper()
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestToAppError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrContestNotFound, http.StatusNotFound, ""},
		{domain.Invalid("bad"), http.StatusBadRequest, ""},
		{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{fmt.Errorf("%w: timeout", domain.ErrProviderUnavailable), http.StatusServiceUnavailable, "provider_unavailable"},
		{domain.ErrProviderRejected, http.StatusPaymentRequired, "provider_rejected"},
		{domain.ErrPaymentExpired, http.StatusGone, "payment_expired"},
		{domain.ErrContestClosed, http.StatusConflict, "contest_closed"},
		{domain.ErrDuplicateEntry, http.StatusConflict, "duplicate_entry"},
		{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{apperrors.NewAuthorizationError("no"), http.StatusForbidden, ""},
		{errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			appErr := toAppError(tt.err)
			assert.Equal(t, tt.status, appErr.StatusCode)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}

	// Internal details never reach the client
	assert.Equal(t, "Internal server error", toAppError(errors.New("pq: password leaked")).Message)
}

func TestFreeVote(t *testing.T) {
	env := newAPIEnv(t, false)
	_, entryID := env.activeContestWithEntry()

	rec := env.do(http.MethodPost, "/votes/free", "alice", domain.FreeVoteRequest{EntryID: entryID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp domain.CreditResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.VoteTotal)

	rec = env.do(http.MethodPost, "/votes/free", "alice", domain.FreeVoteRequest{EntryID: entryID}, "X-Request-ID", "req-42")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	errResp := decodeError(t, rec)
	assert.Equal(t, "rate_limited", errResp.Error.Code)
	assert.Equal(t, "req-42", errResp.Error.RequestID)

	rec = env.do(http.MethodPost, "/votes/free", "", domain.FreeVoteRequest{EntryID: entryID, VoterToken: "0123456789abcdef"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/votes/free", "alice", map[string]string{"entry": entryID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFreeVote_Anonymous(t *testing.T) {
	env := newAPIEnv(t, true)
	_, entryID := env.activeContestWithEntry()

	rec := env.do(http.MethodPost, "/votes/free", "", domain.FreeVoteRequest{EntryID: entryID, VoterToken: "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	token := "0123456789abcdef"
	rec = env.do(http.MethodPost, "/votes/free", "", domain.FreeVoteRequest{EntryID: entryID, VoterToken: token})
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(http.MethodPost, "/votes/free", "", domain.FreeVoteRequest{EntryID: entryID, VoterToken: token})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = env.do(http.MethodGet, "/admin/entries/"+entryID+"/ledger", "root", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ledger struct {
		VoteTotal int64                 `json:"vote_total"`
		Records   []domain.LedgerRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ledger))
	assert.Equal(t, int64(1), ledger.VoteTotal)
	require.Len(t, ledger.Records, 1)
	assert.Equal(t, domain.AnonymousVoterPrefix+token, ledger.Records[0].Voter)
}

func TestGetRanking_ETag(t *testing.T) {
	env := newAPIEnv(t, false)
	contestID, entryID := env.activeContestWithEntry()

	rec := env.do(http.MethodGet, "/contests/"+contestID+"/ranking", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.Equal(t, "public, max-age=5", rec.Header().Get("Cache-Control"))

	rec = env.do(http.MethodGet, "/contests/"+contestID+"/ranking", "", nil, "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	env.do(http.MethodPost, "/votes/free", "bob", domain.FreeVoteRequest{EntryID: entryID})

	rec = env.do(http.MethodGet, "/contests/"+contestID+"/ranking", "", nil, "If-None-Match", etag)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, etag, rec.Header().Get("ETag"))

	var snapshot domain.RankingSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	require.Len(t, snapshot.Entries, 1)
	assert.Equal(t, int64(1), snapshot.Entries[0].VoteCount)

	rec = env.do(http.MethodGet, "/contests/missing/ranking", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitEntry(t *testing.T) {
	env := newAPIEnv(t, false)
	contestID, _ := env.activeContestWithEntry()
	body := domain.SubmitEntryRequest{Title: "My clip", MediaRef: "media://mine"}

	rec := env.do(http.MethodPost, "/contests/"+contestID+"/entries", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/contests/"+contestID+"/entries", "alice", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var entry domain.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "alice", entry.ParticipantID)

	rec = env.do(http.MethodPost, "/contests/"+contestID+"/entries", "alice", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_entry", decodeError(t, rec).Error.Code)

	// Pending entries are not public
	rec = env.do(http.MethodGet, "/contests/"+contestID+"/entries", "", nil)
	var list struct {
		Entries []domain.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Entries, 1)
}

func TestPaymentFlow_Ownership(t *testing.T) {
	env := newAPIEnv(t, false)
	_, entryID := env.activeContestWithEntry()

	rec := env.do(http.MethodPost, "/orders", "alice", domain.BeginPurchaseRequest{EntryID: entryID, PackageID: "starter"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var purchase domain.PurchaseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &purchase))

	rec = env.do(http.MethodPost, "/orders/"+purchase.OrderRef+"/capture", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/orders/"+purchase.OrderRef, "root", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	for i := 0; i < 2; i++ {
		rec = env.do(http.MethodPost, "/orders/"+purchase.OrderRef+"/capture", "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var result domain.CaptureResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, int64(10), result.VoteTotal)
		assert.Equal(t, i == 1, result.Replayed)
	}

	rec = env.do(http.MethodPost, "/orders", "alice", domain.BeginPurchaseRequest{EntryID: entryID, PackageID: "mega"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	env := newAPIEnv(t, false)
	now := time.Now().UTC()
	create := domain.CreateContestRequest{
		Title:   "Summer",
		StartAt: now.Add(time.Hour),
		EndAt:   now.Add(48 * time.Hour),
	}

	rec := env.do(http.MethodPost, "/admin/contests", "", create)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(http.MethodPost, "/admin/contests", "alice", create)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodPost, "/admin/contests", "root", create)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var contest domain.Contest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &contest))
	assert.Equal(t, domain.ContestDraft, contest.Status)

	rec = env.do(http.MethodPost, "/admin/contests/"+contest.ID+"/transition", "root", TransitionRequest{Target: domain.ContestCompleted})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeError(t, rec).Error.Code)

	rec = env.do(http.MethodPost, "/admin/contests/"+contest.ID+"/transition", "root", TransitionRequest{Target: domain.ContestUpcoming})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPost, "/contests/"+contest.ID+"/entries", "bob", domain.SubmitEntryRequest{Title: "Early", MediaRef: "media://early"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var entry domain.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))

	rec = env.do(http.MethodGet, "/admin/contests/"+contest.ID+"/entries?state=pending", "root", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodGet, "/admin/contests/"+contest.ID+"/entries?state=weird", "root", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/admin/entries/"+entry.ID+"/moderate", "root", domain.ModerateRequest{Decision: domain.DecisionApprove})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodPost, "/admin/entries/"+entry.ID+"/moderate", "root", domain.ModerateRequest{Decision: domain.DecisionReject})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_moderated", decodeError(t, rec).Error.Code)

	// Voting is not open before the contest starts
	rec = env.do(http.MethodPost, "/votes/free", "alice", domain.FreeVoteRequest{EntryID: entry.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "contest_not_active", decodeError(t, rec).Error.Code)

	rec = env.do(http.MethodGet, "/admin/reconciliation", "root", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report domain.ReconciliationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Healthy)
}
