package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the state of a PaymentIntent.
type PaymentStatus string

const (
	PaymentCreated  PaymentStatus = "created"
	PaymentCaptured PaymentStatus = "captured"
	PaymentFailed   PaymentStatus = "failed"
	PaymentExpired  PaymentStatus = "expired"
)

// IsTerminal reports whether the intent can no longer change.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentCaptured, PaymentFailed, PaymentExpired:
		return true
	case PaymentCreated:
		return false
	default:
		return false
	}
}

// VotePackage is a purchasable bundle of vote credits.
type VotePackage struct {
	ID       string          `json:"id"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Credits  int64           `json:"credits"`
}

// PaymentIntent tracks one purchase from order creation to capture. It is
// the sole authority for whether a paid ledger write may happen.
type PaymentIntent struct {
	ID        string        `json:"id"`
	Voter     string        `json:"voter"`
	ContestID string        `json:"contest_id"`
	EntryID   string        `json:"entry_id"`
	Package   VotePackage   `json:"package"`
	OrderRef  string        `json:"order_ref"`
	Status    PaymentStatus `json:"status"`
	CaptureID string        `json:"capture_id,omitempty"`
	// FailureReason holds the provider's decline reason for failed intents.
	FailureReason    string     `json:"failure_reason,omitempty"`
	CaptureClaimedAt *time.Time `json:"-"`
	LateCaptureAt    *time.Time `json:"late_capture_at,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Expired reports whether a created intent has outlived its expiry.
func (p *PaymentIntent) Expired(now time.Time) bool {
	return p.Status == PaymentCreated && !now.Before(p.ExpiresAt)
}

// BeginPurchaseRequest is the body of the order creation endpoint.
type BeginPurchaseRequest struct {
	EntryID   string `json:"entry_id"`
	PackageID string `json:"package_id"`
}

// PurchaseResponse returns the provider order reference for checkout.
type PurchaseResponse struct {
	IntentID   string          `json:"intent_id"`
	OrderRef   string          `json:"order_ref"`
	ApproveURL string          `json:"approve_url,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Credits    int64           `json:"credits"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// CaptureResult is returned for every capture confirmation, including
// replays of an already-terminal intent.
type CaptureResult struct {
	OrderRef       string        `json:"order_ref"`
	Status         PaymentStatus `json:"status"`
	EntryID        string        `json:"entry_id"`
	CreditedAmount int64         `json:"credited_amount"`
	VoteTotal      int64         `json:"vote_total"`
	LedgerRecordID string        `json:"ledger_record_id,omitempty"`
	Replayed       bool          `json:"replayed"`
}

// ReconciliationAlertKind classifies reconciliation findings.
type ReconciliationAlertKind string

const (
	AlertCapturedWithoutCredit ReconciliationAlertKind = "captured_without_credit"
	AlertLateCaptureOnExpired  ReconciliationAlertKind = "late_capture_on_expired"
	AlertCaptureStuck          ReconciliationAlertKind = "capture_stuck"
)

// ReconciliationAlert is one data-integrity finding for admin review.
type ReconciliationAlert struct {
	Kind      ReconciliationAlertKind `json:"kind"`
	IntentID  string                  `json:"intent_id"`
	OrderRef  string                  `json:"order_ref"`
	EntryID   string                  `json:"entry_id"`
	Credits   int64                   `json:"credits"`
	Detail    string                  `json:"detail"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// ReconciliationReport lists alerts; nothing in it is auto-corrected.
type ReconciliationReport struct {
	GeneratedAt time.Time             `json:"generated_at"`
	Alerts      []ReconciliationAlert `json:"alerts"`
	Healthy     bool                  `json:"healthy"`
}
