package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"contest-core/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) purchase(entryID, packageID string) *domain.PurchaseResponse {
	e.t.Helper()
	resp, err := e.payments.BeginPurchase(context.Background(), "buyer", entryID, packageID)
	require.NoError(e.t, err)
	return resp
}

func TestPaymentService_BeginPurchase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeContest()
	entry := env.approvedEntry(c.ID, "alice")

	resp := env.purchase(entry.ID, "fan")
	assert.Equal(t, "ORDER-1", resp.OrderRef)
	assert.Equal(t, int64(50), resp.Credits)
	assert.Equal(t, "4", resp.Amount.String())
	assert.Equal(t, env.clock.Now().Add(30*time.Minute), resp.ExpiresAt)

	intent, err := env.payments.GetIntent(ctx, resp.OrderRef)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCreated, intent.Status)
	assert.Equal(t, "buyer", intent.Voter)
	assert.Equal(t, c.ID, intent.ContestID)

	_, err = env.payments.BeginPurchase(ctx, "buyer", entry.ID, "whale")
	assert.ErrorIs(t, err, domain.ErrPackageNotFound)

	_, err = env.payments.BeginPurchase(ctx, "", entry.ID, "fan")
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))

	pending := env.pendingEntry(c.ID, "bob")
	_, err = env.payments.BeginPurchase(ctx, "buyer", pending.ID, "fan")
	assert.ErrorIs(t, err, domain.ErrEntryNotApproved)

	_, err = env.payments.GetIntent(ctx, "ORDER-404")
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestPaymentService_BeginPurchaseProviderFailurePersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeContest()
	entry := env.approvedEntry(c.ID, "alice")

	env.provider.createErr = errors.New("connection reset")
	_, err := env.payments.BeginPurchase(ctx, "buyer", entry.ID, "starter")
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)

	for _, status := range []domain.PaymentStatus{domain.PaymentCreated, domain.PaymentFailed} {
		intents, err := env.repos.Payment.ListByStatus(ctx, status)
		require.NoError(t, err)
		assert.Empty(t, intents)
	}
}

func TestPaymentService_ConfirmCapture(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeContest()
	entry := env.approvedEntry(c.ID, "alice")
	order := env.purchase(entry.ID, "starter")

	result, err := env.payments.ConfirmCapture(ctx, order.OrderRef)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCaptured, result.Status)
	assert.Equal(t, int64(10), result.CreditedAmount)
	assert.Equal(t, int64(10), result.VoteTotal)
	assert.False(t, result.Replayed)

	replay, err := env.payments.ConfirmCapture(ctx, order.OrderRef)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, result.LedgerRecordID, replay.LedgerRecordID)
	assert.Equal(t, int64(10), replay.VoteTotal)
	assert.Equal(t, int64(1), env.provider.captures.Load())

	intent, err := env.payments.GetIntent(ctx, order.OrderRef)
	require.NoError(t, err)
	assert.Equal(t, "CAP-"+order.OrderRef, intent.CaptureID)
}

func TestPaymentService_ConcurrentCaptureCreditsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeContest()
	entry := env.approvedEntry(c.ID, "alice")
	order := env.purchase(entry.ID, "fan")
	env.provider.captureWait = 50 * time.Millisecond

	var wg sync.WaitGroup
	results := make(chan *domain.CaptureResult, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := env.payments.ConfirmCapture(ctx, order.OrderRef)
			if assert.NoError(t, err) {
				results <- r
			}
		}()
	}
	wg.Wait()
	close(results)

	fresh := 0
	for r := range results {
		assert.Equal(t, int64(50), r.VoteTotal)
		if !r.Replayed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, int64(1), env.provider.captures.Load())

	history, err := env.ledger.History(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, order.OrderRef, history[0].PaymentRef)
}

func TestPaymentService_DeclinedCapture(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeContest()
	entry := env.approvedEntry(c.ID, "alice")
	order := env.purchase(entry.ID, "starter")

	env.provider.setCaptureErr(fmt.Errorf("%w: INSTRUMENT_DECLINED", domain.ErrProviderRejected))
	result, err := env.payments.ConfirmCapture(ctx, order.OrderRef)
	assert.ErrorIs(t, err, domain.ErrProviderRejected)
	require.NotNil(t, result)
	assert.Equal(t, domain.PaymentFailed, result.Status)

	// A failed intent stays failed even if the provider would now accept
	env.provider.setCaptureErr(nil)
	_, err = env.payments.ConfirmCapture(ctx, order.OrderRef)
	assert.ErrorIs(t, err, domain.ErrProviderRejected)
	assert.Equal(t, int64(1), env.provider.captures.Load())

	total, err := env.ledger.EntryTotal(ctx, entry.ID)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestPaymentService_UnavailableProviderReleasesClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeContest()
	entry := env.approvedEntry(c.ID, "alice")
	order := env.purchase(entry.ID, "starter")

	env.provider.setCaptureErr(errors.New("503 from provider"))
	_, err := env.payments.ConfirmCapture(ctx, order.OrderRef)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)

	intent, err := env.payments.GetIntent(ctx, order.OrderRef)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCreated, intent.Status)
	assert.Nil(t, intent.CaptureClaimedAt)

	env.provider.setCaptureErr(nil)
	result, err := env.payments.ConfirmCapture(ctx, order.OrderRef)
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.VoteTotal)
}

func TestPaymentService_ExpiredIntent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeContest()
	entry := env.approvedEntry(c.ID, "alice")
	order := env.purchase(entry.ID, "starter")

	env.clock.Advance(31 * time.Minute)
	_, err := env.payments.ConfirmCapture(ctx, order.OrderRef)
	assert.ErrorIs(t, err, domain.ErrPaymentExpired)
	assert.Zero(t, env.provider.captures.Load())

	report, err := env.payments.ReconciliationReport(ctx)
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, domain.AlertLateCaptureOnExpired, report.Alerts[0].Kind)
	assert.Equal(t, order.OrderRef, report.Alerts[0].OrderRef)
}

func TestPaymentService_StaleClaimPastExpiryIsNotCaptured(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeContest()
	entry := env.approvedEntry(c.ID, "alice")
	order := env.purchase(entry.ID, "starter")

	// A capture holder that died before recording an outcome
	claimed, err := env.repos.Payment.ClaimCapture(ctx, order.OrderRef, env.clock.Now(), time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	env.clock.Advance(31 * time.Minute)

	_, err = env.payments.ConfirmCapture(ctx, order.OrderRef)
	assert.ErrorIs(t, err, domain.ErrPaymentExpired)
	assert.Zero(t, env.provider.captures.Load())

	n, err := env.payments.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	total, err := env.ledger.EntryTotal(ctx, entry.ID)
	require.NoError(t, err)
	assert.Zero(t, total)

	report, err := env.payments.ReconciliationReport(ctx)
	require.NoError(t, err)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, domain.AlertCaptureStuck, report.Alerts[0].Kind)
	assert.Equal(t, order.OrderRef, report.Alerts[0].OrderRef)
}

func TestPaymentService_ExpireStale(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeContest()
	entry := env.approvedEntry(c.ID, "alice")

	old := env.purchase(entry.ID, "starter")
	env.clock.Advance(20 * time.Minute)
	recent := env.purchase(entry.ID, "starter")
	env.clock.Advance(15 * time.Minute)

	n, err := env.payments.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	intent, err := env.payments.GetIntent(ctx, old.OrderRef)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentExpired, intent.Status)

	intent, err = env.payments.GetIntent(ctx, recent.OrderRef)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCreated, intent.Status)

	// Expiry without a capture attempt is not an inconsistency
	report, err := env.payments.ReconciliationReport(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy)
}

func TestPaymentService_CaptureAfterContestClosed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeContest()
	entry := env.approvedEntry(c.ID, "alice")
	order := env.purchase(entry.ID, "starter")

	_, err := env.lifecycle.Transition(ctx, c.ID, domain.ContestCompleted, false, "admin")
	require.NoError(t, err)

	_, err = env.payments.ConfirmCapture(ctx, order.OrderRef)
	assert.ErrorIs(t, err, domain.ErrContestClosed)

	report, err := env.payments.ReconciliationReport(ctx)
	require.NoError(t, err)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, domain.AlertCapturedWithoutCredit, report.Alerts[0].Kind)
	assert.Equal(t, int64(10), report.Alerts[0].Credits)
}

func TestPaymentService_ListPackages(t *testing.T) {
	env := newTestEnv(t)

	packages := env.payments.ListPackages()
	require.Len(t, packages, 2)
	packages[0].Credits = 999

	assert.Equal(t, int64(10), env.payments.ListPackages()[0].Credits)
}

func TestExpiryWorker_StartStop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeContest()
	entry := env.approvedEntry(c.ID, "alice")
	order := env.purchase(entry.ID, "starter")
	env.clock.Advance(time.Hour)

	worker := NewExpiryWorker(env.payments, time.Hour, env.payments.logger)
	require.NoError(t, worker.Start(ctx))
	require.NoError(t, worker.Start(ctx))

	assert.Eventually(t, func() bool {
		intent, err := env.payments.GetIntent(ctx, order.OrderRef)
		return err == nil && intent.Status == domain.PaymentExpired
	}, time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, worker.Stop(stopCtx))
	require.NoError(t, worker.Stop(stopCtx))
}
