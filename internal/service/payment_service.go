package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"contest-core/internal/domain"
	"contest-core/internal/repository"
	"contest-core/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// PaymentConfig holds the payment timing rules
type PaymentConfig struct {
	Packages        []domain.VotePackage
	IntentTTL       time.Duration
	ProviderTimeout time.Duration
	// PollInterval is how often a caller that lost the capture claim checks
	// for the winner's outcome.
	PollInterval time.Duration
}

// PaymentService turns provider orders into ledger credits. The intent is
// the authority: a paid credit only happens for a captured intent, keyed by
// its order reference.
type PaymentService struct {
	contests repository.ContestRepository
	entries  repository.EntryRepository
	payments repository.PaymentRepository
	records  repository.LedgerRepository
	ledger   *LedgerService
	provider PaymentProvider
	cfg      PaymentConfig
	packages map[string]domain.VotePackage
	clock    Clock
	logger   *logger.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(repos *repository.Repositories, ledger *LedgerService, provider PaymentProvider, cfg PaymentConfig, clock Clock, logger *logger.Logger) *PaymentService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	packages := make(map[string]domain.VotePackage, len(cfg.Packages))
	for _, p := range cfg.Packages {
		packages[p.ID] = p
	}
	return &PaymentService{
		contests: repos.Contest,
		entries:  repos.Entry,
		payments: repos.Payment,
		records:  repos.Ledger,
		ledger:   ledger,
		provider: provider,
		cfg:      cfg,
		packages: packages,
		clock:    clock,
		logger:   logger,
	}
}

// ListPackages returns the configured vote packages
func (s *PaymentService) ListPackages() []domain.VotePackage {
	return append([]domain.VotePackage(nil), s.cfg.Packages...)
}

// GetIntent returns a payment intent by order reference
func (s *PaymentService) GetIntent(ctx context.Context, orderRef string) (*domain.PaymentIntent, error) {
	intent, err := s.payments.GetByOrderRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return intent, nil
}

// BeginPurchase opens a provider order for a package of votes on an entry.
// Nothing is persisted when the provider call fails.
func (s *PaymentService) BeginPurchase(ctx context.Context, voter, entryID, packageID string) (*domain.PurchaseResponse, error) {
	if voter == "" {
		return nil, domain.Invalid("voter identity is required")
	}
	pkg, ok := s.packages[packageID]
	if !ok {
		return nil, domain.ErrPackageNotFound
	}

	entry, err := s.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, domain.ErrEntryNotFound
	}
	contest, err := s.contests.GetByID(ctx, entry.ContestID)
	if err != nil {
		return nil, err
	}
	if contest == nil {
		return nil, domain.ErrContestNotFound
	}

	now := s.clock.Now()
	if err := domain.CheckCredit(contest, entry, now); err != nil {
		return nil, err
	}

	intentID := uuid.NewString()
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	order, err := s.provider.CreateOrder(pctx, CreateOrderRequest{
		IntentID:    intentID,
		ReferenceID: entry.ID,
		Description: fmt.Sprintf("%d votes for %s", pkg.Credits, entry.Title),
		Amount:      pkg.Price,
		Currency:    pkg.Currency,
	})
	cancel()
	if err != nil {
		return nil, s.providerError("create_order", "", err)
	}

	intent := &domain.PaymentIntent{
		ID:        intentID,
		Voter:     voter,
		ContestID: contest.ID,
		EntryID:   entry.ID,
		Package:   pkg,
		OrderRef:  order.OrderRef,
		Status:    domain.PaymentCreated,
		ExpiresAt: now.Add(s.cfg.IntentTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.payments.Create(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to persist payment intent: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"intent_id": intentID,
		"order_ref": order.OrderRef,
		"entry_id":  entry.ID,
		"package":   pkg.ID,
	}).Info("Payment order created")

	return &domain.PurchaseResponse{
		IntentID:   intentID,
		OrderRef:   order.OrderRef,
		ApproveURL: order.ApproveURL,
		Amount:     pkg.Price,
		Currency:   pkg.Currency,
		Credits:    pkg.Credits,
		ExpiresAt:  intent.ExpiresAt,
	}, nil
}

// ConfirmCapture captures an order and credits its votes exactly once.
// Repeated and concurrent calls for the same order return the same outcome.
func (s *PaymentService) ConfirmCapture(ctx context.Context, orderRef string) (*domain.CaptureResult, error) {
	intent, err := s.GetIntent(ctx, orderRef)
	if err != nil {
		return nil, err
	}

	for {
		switch intent.Status {
		case domain.PaymentCaptured:
			return s.credit(ctx, intent, true)
		case domain.PaymentFailed:
			return failedResult(intent), fmt.Errorf("%w: %s", domain.ErrProviderRejected, intent.FailureReason)
		case domain.PaymentExpired:
			return nil, s.lateCapture(ctx, intent)
		case domain.PaymentCreated:
		default:
			return nil, fmt.Errorf("payment intent %s has unknown status %q", intent.ID, intent.Status)
		}

		now := s.clock.Now()
		if intent.Expired(now) {
			if intent.CaptureClaimedAt == nil {
				expired, err := s.payments.Complete(ctx, orderRef, domain.PaymentExpired, "", "expired before capture", now)
				if err != nil {
					return nil, err
				}
				intent = expired
				continue
			}
			// A stale claim past expiry is never re-driven: the holder may
			// have captured at the provider before dying. The intent stays
			// claimed and shows up as stuck in the reconciliation report.
			if now.Sub(*intent.CaptureClaimedAt) >= s.staleClaimAfter() {
				return nil, s.lateCapture(ctx, intent)
			}
		}

		claimed, err := s.payments.ClaimCapture(ctx, orderRef, now, s.staleClaimAfter())
		if err != nil {
			return nil, err
		}
		if claimed {
			return s.capture(ctx, intent)
		}

		intent, err = s.awaitOutcome(ctx, orderRef)
		if err != nil {
			return nil, err
		}
		if intent.Status == domain.PaymentCreated {
			// The claim holder gave up on a provider error
			return nil, fmt.Errorf("%w: capture in progress elsewhere did not complete", domain.ErrProviderUnavailable)
		}
	}
}

// capture runs with the claim held. Once the provider has answered, state
// changes are persisted even if the caller's context is gone.
func (s *PaymentService) capture(ctx context.Context, intent *domain.PaymentIntent) (*domain.CaptureResult, error) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	captured, err := s.provider.CaptureOrder(pctx, intent.OrderRef)
	cancel()

	persistCtx := context.WithoutCancel(ctx)
	now := s.clock.Now()

	if err != nil {
		if errors.Is(err, domain.ErrProviderRejected) {
			failed, cerr := s.payments.Complete(persistCtx, intent.OrderRef, domain.PaymentFailed, "", err.Error(), now)
			if cerr != nil {
				return nil, fmt.Errorf("failed to record declined capture: %w", cerr)
			}
			s.logger.WithError(err).WithField("order_ref", intent.OrderRef).Warn("Payment capture declined")
			return failedResult(failed), err
		}

		if rerr := s.payments.ReleaseClaim(persistCtx, intent.OrderRef); rerr != nil {
			s.logger.WithError(rerr).WithField("order_ref", intent.OrderRef).Error("Failed to release capture claim")
		}
		return nil, s.providerError("capture_order", intent.OrderRef, err)
	}

	completed, err := s.payments.Complete(persistCtx, intent.OrderRef, domain.PaymentCaptured, captured.CaptureID, "", now)
	if err != nil {
		return nil, fmt.Errorf("failed to record capture: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"order_ref":  intent.OrderRef,
		"capture_id": captured.CaptureID,
	}).Info("Payment captured")

	return s.credit(persistCtx, completed, false)
}

// credit (re)drives the paid credit of a captured intent. CreditPaid is
// insert-if-absent on the order reference, so re-driving is always safe.
func (s *PaymentService) credit(ctx context.Context, intent *domain.PaymentIntent, replay bool) (*domain.CaptureResult, error) {
	record, inserted, err := s.ledger.CreditPaid(ctx, intent.EntryID, intent.OrderRef, intent.Voter, intent.Package.Credits)
	if err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"order_ref": intent.OrderRef,
			"entry_id":  intent.EntryID,
		}).Error("Captured payment could not be credited")
		return nil, err
	}

	total, err := s.ledger.EntryTotal(ctx, intent.EntryID)
	if err != nil {
		return nil, err
	}

	return &domain.CaptureResult{
		OrderRef:       intent.OrderRef,
		Status:         domain.PaymentCaptured,
		EntryID:        intent.EntryID,
		CreditedAmount: record.Amount,
		VoteTotal:      total,
		LedgerRecordID: record.ID,
		Replayed:       replay || !inserted,
	}, nil
}

// awaitOutcome polls until the claim holder finishes or gives up
func (s *PaymentService) awaitOutcome(ctx context.Context, orderRef string) (*domain.PaymentIntent, error) {
	deadline := time.NewTimer(s.staleClaimAfter())
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: capture still in progress", domain.ErrProviderUnavailable)
		case <-ticker.C:
		}

		intent, err := s.GetIntent(ctx, orderRef)
		if err != nil {
			return nil, err
		}
		if intent.Status.IsTerminal() || intent.CaptureClaimedAt == nil {
			return intent, nil
		}
	}
}

func (s *PaymentService) lateCapture(ctx context.Context, intent *domain.PaymentIntent) error {
	if err := s.payments.MarkLateCapture(ctx, intent.OrderRef, s.clock.Now()); err != nil {
		s.logger.WithError(err).WithField("order_ref", intent.OrderRef).Error("Failed to mark late capture")
	}
	s.logger.WithFields(map[string]interface{}{
		"order_ref":  intent.OrderRef,
		"expired_at": intent.ExpiresAt,
	}).Warn("Capture attempted on expired payment intent")
	return domain.ErrPaymentExpired
}

// ExpireStale expires created intents past their expiry that nobody is capturing
func (s *PaymentService) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.payments.ExpireStale(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.WithField("count", n).Info("Expired stale payment intents")
	}
	return n, nil
}

// ReconciliationReport lists payment/ledger inconsistencies for an admin.
// It never corrects anything.
func (s *PaymentService) ReconciliationReport(ctx context.Context) (*domain.ReconciliationReport, error) {
	now := s.clock.Now()
	var uncredited, late, stuck []domain.ReconciliationAlert

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		captured, err := s.payments.ListByStatus(gctx, domain.PaymentCaptured)
		if err != nil {
			return err
		}
		for _, p := range captured {
			record, err := s.records.GetByPaymentRef(gctx, p.OrderRef)
			if err != nil {
				return err
			}
			if record == nil {
				uncredited = append(uncredited, alertFor(p, domain.AlertCapturedWithoutCredit, "captured at provider but no ledger record"))
			}
		}
		return nil
	})

	g.Go(func() error {
		expired, err := s.payments.ListByStatus(gctx, domain.PaymentExpired)
		if err != nil {
			return err
		}
		for _, p := range expired {
			if p.LateCaptureAt != nil {
				late = append(late, alertFor(p, domain.AlertLateCaptureOnExpired, "capture attempted after expiry; check the provider for a completed payment"))
			}
		}
		return nil
	})

	g.Go(func() error {
		claimed, err := s.payments.ListClaimedBefore(gctx, now.Add(-s.staleClaimAfter()))
		if err != nil {
			return err
		}
		for _, p := range claimed {
			stuck = append(stuck, alertFor(p, domain.AlertCaptureStuck, "capture claimed but never completed"))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to build reconciliation report: %w", err)
	}

	alerts := make([]domain.ReconciliationAlert, 0, len(uncredited)+len(late)+len(stuck))
	alerts = append(alerts, uncredited...)
	alerts = append(alerts, late...)
	alerts = append(alerts, stuck...)
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].UpdatedAt.Before(alerts[j].UpdatedAt) })

	if len(alerts) > 0 {
		s.logger.WithField("alerts", len(alerts)).Warn("Reconciliation found inconsistencies")
	}

	return &domain.ReconciliationReport{
		GeneratedAt: now,
		Alerts:      alerts,
		Healthy:     len(alerts) == 0,
	}, nil
}

// staleClaimAfter bounds how long a claim can be held by a live capture
func (s *PaymentService) staleClaimAfter() time.Duration {
	return 2 * s.cfg.ProviderTimeout
}

func (s *PaymentService) providerError(op, orderRef string, err error) error {
	if errors.Is(err, domain.ErrProviderRejected) {
		return err
	}
	s.logger.WithError(err).WithFields(map[string]interface{}{
		"operation": op,
		"order_ref": orderRef,
	}).Error("Payment provider unavailable")
	if errors.Is(err, domain.ErrProviderUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
}

func failedResult(intent *domain.PaymentIntent) *domain.CaptureResult {
	return &domain.CaptureResult{
		OrderRef: intent.OrderRef,
		Status:   intent.Status,
		EntryID:  intent.EntryID,
	}
}

func alertFor(p domain.PaymentIntent, kind domain.ReconciliationAlertKind, detail string) domain.ReconciliationAlert {
	return domain.ReconciliationAlert{
		Kind:      kind,
		IntentID:  p.ID,
		OrderRef:  p.OrderRef,
		EntryID:   p.EntryID,
		Credits:   p.Package.Credits,
		Detail:    detail,
		UpdatedAt: p.UpdatedAt,
	}
}
