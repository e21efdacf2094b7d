package service

import (
	"context"
	"time"

	"contest-core/internal/domain"

	"github.com/shopspring/decimal"
)

// AuthService resolves bearer tokens into identities
type AuthService interface {
	// ValidateToken validates a service JWT or a Google access token
	ValidateToken(ctx context.Context, token string) (*domain.Identity, error)
}

// CreateOrderRequest is what the payment provider needs to open an order
type CreateOrderRequest struct {
	IntentID    string
	ReferenceID string
	Description string
	Amount      decimal.Decimal
	Currency    string
}

// ProviderOrder is an order opened at the payment provider
type ProviderOrder struct {
	OrderRef   string
	ApproveURL string
}

// ProviderCapture is a successful capture at the payment provider
type ProviderCapture struct {
	CaptureID string
}

// PaymentProvider is the external create-order / capture-order API.
// Implementations return errors wrapping domain.ErrProviderRejected for
// definitive declines; any other error is treated as retryable.
type PaymentProvider interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*ProviderOrder, error)
	CaptureOrder(ctx context.Context, orderRef string) (*ProviderCapture, error)
}

// SnapshotCache stores ranking snapshots keyed by the contest's ledger
// version. Get and GetFinal return nil, nil on a miss.
type SnapshotCache interface {
	Get(ctx context.Context, contestID string, version int64) (*domain.RankingSnapshot, error)
	Put(ctx context.Context, snapshot *domain.RankingSnapshot) error
	GetFinal(ctx context.Context, contestID string) (*domain.RankingSnapshot, error)
	PutFinal(ctx context.Context, snapshot *domain.RankingSnapshot) error
	DropFinal(ctx context.Context, contestID string) error
}

// Clock abstracts time for the lifecycle and payment rules
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Worker is a periodic background job started and stopped with the server
type Worker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
