package service

import (
	"context"
	"testing"
	"time"

	"github.com/brycehammond/allowance-sub012/internal/events"
	"github.com/brycehammond/allowance-sub012/internal/models"
	"github.com/brycehammond/allowance-sub012/internal/repository"
	pkgerrors "github.com/brycehammond/allowance-sub012/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGiftRepo struct {
	gifts map[int64]*models.Gift

	approveSavingsAmount int64
	approveErr           error
	approveResult        *repository.GiftApprovalResult
	expireCutoff         time.Time
}

func newFakeGiftRepo() *fakeGiftRepo {
	return &fakeGiftRepo{gifts: make(map[int64]*models.Gift)}
}

func (r *fakeGiftRepo) Create(_ context.Context, gift *models.Gift) error {
	gift.ID = int64(len(r.gifts) + 1)
	gift.CreatedAt = time.Now()
	r.gifts[gift.ID] = gift
	return nil
}

func (r *fakeGiftRepo) GetByID(_ context.Context, id int64) (*models.Gift, error) {
	g, ok := r.gifts[id]
	if !ok {
		return nil, pkgerrors.ErrGiftNotFound
	}
	return g, nil
}

func (r *fakeGiftRepo) GetByReference(_ context.Context, reference string) (*models.Gift, error) {
	for _, g := range r.gifts {
		if g.Reference == reference {
			return g, nil
		}
	}
	return nil, pkgerrors.ErrGiftNotFound
}

func (r *fakeGiftRepo) ListPendingByChild(context.Context, int64) ([]models.Gift, error) {
	return nil, nil
}

func (r *fakeGiftRepo) Approve(_ context.Context, giftID int64, savingsAmount int64, now time.Time,
	actor models.Actor) (*repository.GiftApprovalResult, error) {
	if r.approveErr != nil {
		return nil, r.approveErr
	}
	r.approveSavingsAmount = savingsAmount
	g := r.gifts[giftID]
	g.Status = models.GiftApproved
	if r.approveResult != nil {
		return r.approveResult, nil
	}
	return &repository.GiftApprovalResult{Gift: g}, nil
}

func (r *fakeGiftRepo) Reject(_ context.Context, giftID int64, actor models.Actor) (*models.Gift, error) {
	g, ok := r.gifts[giftID]
	if !ok {
		return nil, pkgerrors.ErrGiftNotFound
	}
	g.Status = models.GiftRejected
	return g, nil
}

func (r *fakeGiftRepo) ExpireStale(_ context.Context, olderThan time.Time) (int64, error) {
	r.expireCutoff = olderThan
	return 3, nil
}

var _ repository.GiftRepository = (*fakeGiftRepo)(nil)

func newGiftFixture(repo *fakeGiftRepo) (*giftService, *recordingPublisher) {
	publisher := &recordingPublisher{}
	svc := NewGiftService(repo, publisher, newFakeRedis(), 720*time.Hour)
	return svc, publisher
}

func TestSubmitGift(t *testing.T) {
	ctx := context.Background()

	t.Run("AssignsReferenceAndPendingStatus", func(t *testing.T) {
		svc, _ := newGiftFixture(newFakeGiftRepo())
		gift := &models.Gift{ChildID: 1, GiverName: "Grandma", Amount: 5000}
		require.NoError(t, svc.Submit(ctx, gift))
		assert.NotEmpty(t, gift.Reference)
		assert.Equal(t, models.GiftPending, gift.Status)
	})

	t.Run("Validation", func(t *testing.T) {
		svc, _ := newGiftFixture(newFakeGiftRepo())
		assert.ErrorIs(t, svc.Submit(ctx, nil), pkgerrors.ErrNilGift)
		assert.ErrorIs(t, svc.Submit(ctx, &models.Gift{ChildID: 1, GiverName: "Grandma"}), pkgerrors.ErrInvalidAmount)
		assert.ErrorIs(t, svc.Submit(ctx, &models.Gift{ChildID: 1, Amount: 100}), pkgerrors.ErrInvalidConfiguration)

		goalID := int64(2)
		pct := decimal.NewFromInt(50)
		assert.ErrorIs(t, svc.Submit(ctx, &models.Gift{
			ChildID: 1, GiverName: "Grandma", Amount: 100,
			Allocation: models.GiftAllocation{GoalID: &goalID, SavingsPercentage: &pct},
		}), pkgerrors.ErrInvalidConfiguration)

		over := decimal.NewFromInt(110)
		assert.ErrorIs(t, svc.Submit(ctx, &models.Gift{
			ChildID: 1, GiverName: "Grandma", Amount: 100,
			Allocation: models.GiftAllocation{SavingsPercentage: &over},
		}), pkgerrors.ErrInvalidConfiguration)
	})
}

func TestApproveGift(t *testing.T) {
	ctx := context.Background()
	actor := models.Actor{Kind: models.ActorUser, ID: 5}

	t.Run("PercentageSplitIsPrecomputed", func(t *testing.T) {
		repo := newFakeGiftRepo()
		svc, publisher := newGiftFixture(repo)

		pct := decimal.NewFromInt(40)
		gift := &models.Gift{
			ChildID: 1, GiverName: "Grandma", Amount: 5000,
			Allocation: models.GiftAllocation{SavingsPercentage: &pct},
		}
		require.NoError(t, svc.Submit(ctx, gift))

		_, err := svc.Approve(ctx, gift.ID, actor)
		require.NoError(t, err)
		assert.Equal(t, int64(2000), repo.approveSavingsAmount)
		assert.Len(t, publisher.ofType(events.GiftApproved), 1)
	})

	t.Run("GoalAllocationSendsNoSavingsSplit", func(t *testing.T) {
		repo := newFakeGiftRepo()
		svc, _ := newGiftFixture(repo)

		goalID := int64(9)
		gift := &models.Gift{
			ChildID: 1, GiverName: "Grandma", Amount: 5000,
			Allocation: models.GiftAllocation{GoalID: &goalID},
		}
		require.NoError(t, svc.Submit(ctx, gift))
		repo.approveResult = &repository.GiftApprovalResult{
			Gift: gift,
			Contribution: &repository.ContributionResult{
				Goal:         &models.SavingsGoal{ID: 9, ChildID: 1, Name: "bike"},
				Contribution: &models.SavingsContribution{ID: 4, Amount: 5000},
				Completed:    true,
			},
		}

		_, err := svc.Approve(ctx, gift.ID, actor)
		require.NoError(t, err)
		assert.Equal(t, int64(0), repo.approveSavingsAmount)
	})

	t.Run("GoalCompletionByGiftIsPublished", func(t *testing.T) {
		repo := newFakeGiftRepo()
		svc, publisher := newGiftFixture(repo)

		goalID := int64(9)
		gift := &models.Gift{
			ChildID: 1, GiverName: "Grandma", Amount: 5000,
			Allocation: models.GiftAllocation{GoalID: &goalID},
		}
		require.NoError(t, svc.Submit(ctx, gift))
		repo.approveResult = &repository.GiftApprovalResult{
			Gift: gift,
			Contribution: &repository.ContributionResult{
				Goal:               &models.SavingsGoal{ID: 9, ChildID: 1, Name: "bike"},
				Contribution:       &models.SavingsContribution{ID: 4, Amount: 5000},
				MilestonesAchieved: []models.GoalMilestone{{ID: 2, Percent: 100}},
				Completed:          true,
			},
		}

		_, err := svc.Approve(ctx, gift.ID, actor)
		require.NoError(t, err)
		assert.Len(t, publisher.ofType(events.MilestoneAchieved), 1)
		assert.Len(t, publisher.ofType(events.GoalCompleted), 1)
	})

	t.Run("AlreadyProcessed", func(t *testing.T) {
		repo := newFakeGiftRepo()
		svc, publisher := newGiftFixture(repo)

		gift := &models.Gift{ChildID: 1, GiverName: "Grandma", Amount: 5000}
		require.NoError(t, svc.Submit(ctx, gift))
		repo.approveErr = pkgerrors.ErrGiftAlreadyProcessed

		_, err := svc.Approve(ctx, gift.ID, actor)
		assert.ErrorIs(t, err, pkgerrors.ErrGiftAlreadyProcessed)
		assert.Empty(t, publisher.events)
	})

	t.Run("NotFound", func(t *testing.T) {
		svc, _ := newGiftFixture(newFakeGiftRepo())
		_, err := svc.Approve(ctx, 99, actor)
		assert.ErrorIs(t, err, pkgerrors.ErrGiftNotFound)
	})
}

func TestExpireStaleUsesConfiguredWindow(t *testing.T) {
	repo := newFakeGiftRepo()
	svc, _ := newGiftFixture(repo)

	before := time.Now().UTC().Add(-720 * time.Hour)
	expired, err := svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), expired)
	assert.WithinDuration(t, before, repo.expireCutoff, time.Minute)
}
