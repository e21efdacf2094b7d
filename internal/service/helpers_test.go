package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"contest-core/internal/domain"
	"contest-core/internal/repository"
	"contest-core/internal/repository/memory"
	"contest-core/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeProvider scripts provider outcomes and counts calls
type fakeProvider struct {
	mu          sync.Mutex
	orders      int
	captures    atomic.Int64
	createErr   error
	captureErr  error
	captureWait time.Duration
}

func (p *fakeProvider) CreateOrder(_ context.Context, req CreateOrderRequest) (*ProviderOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.orders++
	return &ProviderOrder{OrderRef: fmt.Sprintf("ORDER-%d", p.orders), ApproveURL: "https://pay.example/approve"}, nil
}

func (p *fakeProvider) CaptureOrder(ctx context.Context, orderRef string) (*ProviderCapture, error) {
	p.captures.Add(1)
	p.mu.Lock()
	wait, err := p.captureWait, p.captureErr
	p.mu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &ProviderCapture{CaptureID: "CAP-" + orderRef}, nil
}

func (p *fakeProvider) setCaptureErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captureErr = err
}

var testPackages = []domain.VotePackage{
	{ID: "starter", Price: decimal.RequireFromString("1.00"), Currency: "USD", Credits: 10},
	{ID: "fan", Price: decimal.RequireFromString("4.00"), Currency: "USD", Credits: 50},
}

// testEnv wires every service over the in-memory store
type testEnv struct {
	t          *testing.T
	clock      *fakeClock
	repos      *repository.Repositories
	provider   *fakeProvider
	ranking    *RankingService
	ledger     *LedgerService
	lifecycle  *LifecycleService
	submission *SubmissionService
	payments   *PaymentService
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithCache(t, nil)
}

func newTestEnvWithCache(t *testing.T, cache SnapshotCache) *testEnv {
	t.Helper()
	log := logger.Nop()
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	repos := memory.NewStore().Repositories()
	provider := &fakeProvider{}

	ranking := NewRankingService(repos, cache, clock, log)
	ledger := NewLedgerService(repos, 24*time.Hour, clock, log)
	env := &testEnv{
		t:          t,
		clock:      clock,
		repos:      repos,
		provider:   provider,
		ranking:    ranking,
		ledger:     ledger,
		lifecycle:  NewLifecycleService(repos, ranking, clock, log),
		submission: NewSubmissionService(repos, clock, log),
		payments: NewPaymentService(repos, ledger, provider, PaymentConfig{
			Packages:        testPackages,
			IntentTTL:       30 * time.Minute,
			ProviderTimeout: time.Second,
			PollInterval:    5 * time.Millisecond,
		}, clock, log),
	}
	return env
}

// activeContest creates a contest running from an hour ago to an hour from now
func (e *testEnv) activeContest() *domain.Contest {
	e.t.Helper()
	ctx := context.Background()
	now := e.clock.Now()
	c, err := e.lifecycle.Create(ctx, &domain.CreateContestRequest{
		Title:       "Contest",
		StartAt:     now.Add(-time.Hour),
		EndAt:       now.Add(time.Hour),
		PrizeAmount: decimal.NewFromInt(100),
	})
	require.NoError(e.t, err)
	c, err = e.lifecycle.Transition(ctx, c.ID, domain.ContestActive, false, "admin")
	require.NoError(e.t, err)
	return c
}

// approvedEntry submits and approves an entry for participant
func (e *testEnv) approvedEntry(contestID, participant string) *domain.Entry {
	e.t.Helper()
	entry := e.pendingEntry(contestID, participant)
	approved, err := e.submission.Moderate(context.Background(), entry.ID, domain.DecisionApprove, "moderator")
	require.NoError(e.t, err)
	return approved
}

func (e *testEnv) pendingEntry(contestID, participant string) *domain.Entry {
	e.t.Helper()
	entry, err := e.submission.Submit(context.Background(), contestID, participant, &domain.SubmitEntryRequest{
		Title:    "Entry by " + participant,
		MediaRef: "media://" + participant,
	})
	require.NoError(e.t, err)
	return entry
}
