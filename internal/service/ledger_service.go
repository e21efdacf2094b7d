package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"contest-core/internal/domain"
	"contest-core/internal/repository"
	"contest-core/pkg/logger"

	"github.com/google/uuid"
)

// LedgerService writes vote credits. Admission rules run inside the
// repository's per-contest critical section, never before it.
type LedgerService struct {
	entries  repository.EntryRepository
	ledger   repository.LedgerRepository
	cooldown time.Duration
	clock    Clock
	logger   *logger.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(repos *repository.Repositories, cooldown time.Duration, clock Clock, logger *logger.Logger) *LedgerService {
	return &LedgerService{
		entries:  repos.Entry,
		ledger:   repos.Ledger,
		cooldown: cooldown,
		clock:    clock,
		logger:   logger,
	}
}

// CreditFree records a free vote. A voter gets one free credit per entry per
// cool-down window.
func (s *LedgerService) CreditFree(ctx context.Context, entryID, voter string, amount int64) (*domain.CreditResponse, error) {
	if err := validateCredit(voter, amount); err != nil {
		return nil, err
	}

	entry, err := s.lookupEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	record := &domain.LedgerRecord{
		ID:        uuid.NewString(),
		ContestID: entry.ContestID,
		EntryID:   entry.ID,
		Voter:     voter,
		Amount:    amount,
		Source:    domain.SourceFree,
		CreatedAt: now,
	}

	stored, _, err := s.ledger.Append(ctx, record, func(state domain.CreditState) error {
		if err := domain.CheckCredit(state.Contest, state.Entry, now); err != nil {
			return err
		}
		if last := state.LastFreeCreditAt; last != nil && now.Sub(*last) < s.cooldown {
			return domain.ErrRateLimited
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	total, err := s.ledger.EntryTotal(ctx, entryID)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"entry_id":   entryID,
		"contest_id": stored.ContestID,
		"record_id":  stored.ID,
		"amount":     amount,
	}).Info("Free vote credited")

	return &domain.CreditResponse{
		RecordID:  stored.ID,
		EntryID:   entryID,
		Amount:    stored.Amount,
		Source:    stored.Source,
		VoteTotal: total,
		Timestamp: stored.CreatedAt,
	}, nil
}

// CreditPaid records purchased credits keyed by paymentRef. A reference
// that was already credited returns the stored record with inserted=false
// and never credits twice. Reusing a reference for another entry or amount
// fails with ErrDuplicatePayment.
func (s *LedgerService) CreditPaid(ctx context.Context, entryID, paymentRef, voter string, amount int64) (*domain.LedgerRecord, bool, error) {
	if strings.TrimSpace(paymentRef) == "" {
		return nil, false, domain.Invalid("payment reference is required")
	}
	if err := validateCredit(voter, amount); err != nil {
		return nil, false, err
	}

	entry, err := s.lookupEntry(ctx, entryID)
	if err != nil {
		return nil, false, err
	}

	now := s.clock.Now()
	record := &domain.LedgerRecord{
		ID:         uuid.NewString(),
		ContestID:  entry.ContestID,
		EntryID:    entry.ID,
		Voter:      voter,
		Amount:     amount,
		Source:     domain.SourcePaid,
		PaymentRef: paymentRef,
		CreatedAt:  now,
	}

	stored, inserted, err := s.ledger.Append(ctx, record, func(state domain.CreditState) error {
		return domain.CheckCredit(state.Contest, state.Entry, now)
	})
	if err != nil {
		return nil, false, err
	}

	if !inserted {
		if stored.EntryID != entry.ID || stored.Amount != amount {
			s.logger.WithFields(map[string]interface{}{
				"payment_ref":    paymentRef,
				"record_id":      stored.ID,
				"credited_entry": stored.EntryID,
			}).Error("Payment reference reused for a different credit")
			return nil, false, domain.ErrDuplicatePayment
		}
		s.logger.WithFields(map[string]interface{}{
			"payment_ref": paymentRef,
			"record_id":   stored.ID,
		}).Info("Payment reference already credited")
		return stored, false, nil
	}

	s.logger.WithFields(map[string]interface{}{
		"entry_id":    entryID,
		"contest_id":  stored.ContestID,
		"payment_ref": paymentRef,
		"amount":      amount,
	}).Info("Paid votes credited")
	return stored, true, nil
}

// EntryTotal returns the vote count of an entry
func (s *LedgerService) EntryTotal(ctx context.Context, entryID string) (int64, error) {
	if _, err := s.lookupEntry(ctx, entryID); err != nil {
		return 0, err
	}
	return s.ledger.EntryTotal(ctx, entryID)
}

// History lists the ledger records of an entry for audit
func (s *LedgerService) History(ctx context.Context, entryID string) ([]domain.LedgerRecord, error) {
	if _, err := s.lookupEntry(ctx, entryID); err != nil {
		return nil, err
	}
	return s.ledger.ListByEntry(ctx, entryID)
}

func (s *LedgerService) lookupEntry(ctx context.Context, entryID string) (*domain.Entry, error) {
	entry, err := s.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	if entry == nil {
		return nil, domain.ErrEntryNotFound
	}
	return entry, nil
}

func validateCredit(voter string, amount int64) error {
	if strings.TrimSpace(voter) == "" {
		return domain.Invalid("voter identity is required")
	}
	if amount < 1 {
		return domain.Invalid("credit amount must be at least 1")
	}
	return nil
}
