package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kanisahub/giving-backend/internal/models"
)

// ErrNotFound is returned by all stores for missing rows/documents so
// callers never depend on driver-specific sentinels.
var ErrNotFound = errors.New("not found")

type Campaigns interface {
	Create(ctx context.Context, c models.Campaign) (models.Campaign, error)
	GetByID(ctx context.Context, id string) (models.Campaign, error)
	List(ctx context.Context) ([]models.Campaign, error)
	ListIDs(ctx context.Context) ([]string, error)
	UpdateStatus(ctx context.Context, id string, status models.CampaignStatus) error
	// SetCurrentAmount overwrites the derived total. Aggregator only.
	SetCurrentAmount(ctx context.Context, id string, amount int64) error
}

type Pledges interface {
	Create(ctx context.Context, p models.Pledge) (models.Pledge, error)
	GetByID(ctx context.Context, id string) (models.Pledge, error)
	ListByCampaign(ctx context.Context, campaignID string, limit, offset int) ([]models.Pledge, error)
	ListActiveIDs(ctx context.Context) ([]string, error)
	// SetDerived overwrites paid_amount and status. Aggregator only.
	SetDerived(ctx context.Context, id string, paid int64, status models.PledgeStatus) error
	Cancel(ctx context.Context, id string) error
}

type Contributions interface {
	Create(ctx context.Context, c models.Contribution) (models.Contribution, error)
	GetByID(ctx context.Context, id string) (models.Contribution, error)
	ListByCampaign(ctx context.Context, campaignID string, limit, offset int) ([]models.Contribution, error)
	// SetStatus moves a pending contribution to the given status. Returns
	// false when the row was not pending.
	SetStatus(ctx context.Context, id string, status models.ContributionStatus) (bool, error)
	// MarkVerified moves a pending contribution to verified. Returns false
	// when the row was not pending: someone else already settled it and the
	// caller must not record the settlement again.
	MarkVerified(ctx context.Context, id string, receiptNo *string, at time.Time) (bool, error)
	SumVerifiedByCampaign(ctx context.Context, campaignID string) (int64, error)
	SumVerifiedByPledge(ctx context.Context, pledgeID string) (int64, error)
}

type Intents interface {
	Create(ctx context.Context, it models.PaymentIntent) error
	Get(ctx context.Context, checkoutRef string) (models.PaymentIntent, error)
	MarkAwaiting(ctx context.Context, checkoutRef string) error
	// Finalize moves a non-terminal intent to the given terminal state.
	// Returns false when the intent was already terminal: the caller lost
	// the race and must treat the call as a no-op.
	Finalize(ctx context.Context, checkoutRef string, to models.IntentState) (bool, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.PaymentIntent, error)
	// ListStuck returns failed/expired intents whose contribution is still
	// pending: the intent transition committed but the contribution write
	// was lost. The sweeper re-drives these until they converge.
	ListStuck(ctx context.Context, limit int) ([]models.PaymentIntent, error)
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
}
