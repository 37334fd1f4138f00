package repository

import (
	"context"
	"time"

	"github.com/brycehammond/allowance-sub012/internal/models"
)

// GiftApprovalResult reports the effects of one approval: at most one
// spendable transaction, an optional savings transaction for a percentage
// split, or a goal contribution for a goal-targeted gift.
type GiftApprovalResult struct {
	Gift               *models.Gift
	Transaction        *models.Transaction
	SavingsTransaction *models.SavingsTransaction
	Contribution       *ContributionResult
}

type GiftRepository interface {
	Create(ctx context.Context, gift *models.Gift) error
	GetByID(ctx context.Context, id int64) (*models.Gift, error)
	GetByReference(ctx context.Context, reference string) (*models.Gift, error)
	ListPendingByChild(ctx context.Context, childID int64) ([]models.Gift, error)

	// Approve allocates a pending gift in one atomic unit. savingsAmount is
	// the precomputed savings slice for a percentage allocation (0 when the
	// whole amount goes to spendable or to a goal).
	Approve(ctx context.Context, giftID int64, savingsAmount int64, now time.Time, actor models.Actor) (*GiftApprovalResult, error)
	Reject(ctx context.Context, giftID int64, actor models.Actor) (*models.Gift, error)
	ExpireStale(ctx context.Context, olderThan time.Time) (int64, error)
}
