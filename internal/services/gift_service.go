package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/brycehammond/allowance-sub012/internal/events"
	"github.com/brycehammond/allowance-sub012/internal/infrastructure/redis"
	"github.com/brycehammond/allowance-sub012/internal/models"
	"github.com/brycehammond/allowance-sub012/internal/repository"
	pkgerrors "github.com/brycehammond/allowance-sub012/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

type GiftService interface {
	// Submit records a pending gift and returns it with its public
	// reference, shareable with the giver before any approval happens.
	Submit(ctx context.Context, gift *models.Gift) error
	GetByReference(ctx context.Context, reference string) (*models.Gift, error)
	ListPending(ctx context.Context, childID int64) ([]models.Gift, error)

	Approve(ctx context.Context, giftID int64, actor models.Actor) (*repository.GiftApprovalResult, error)
	Reject(ctx context.Context, giftID int64, actor models.Actor) (*models.Gift, error)

	// ExpireStale marks pending gifts older than the configured window as
	// expired and returns how many were affected.
	ExpireStale(ctx context.Context) (int64, error)
}

type giftService struct {
	giftRepo    repository.GiftRepository
	publisher   events.Publisher
	redisClient redis.RedisClient
	expiry      time.Duration
	now         func() time.Time
}

func NewGiftService(giftRepo repository.GiftRepository, publisher events.Publisher,
	redisClient redis.RedisClient, expiry time.Duration) *giftService {
	return &giftService{
		giftRepo:    giftRepo,
		publisher:   publisher,
		redisClient: redisClient,
		expiry:      expiry,
		now:         time.Now,
	}
}

func (s *giftService) Submit(ctx context.Context, gift *models.Gift) error {
	tracer := otel.Tracer("gift-service")
	ctx, span := tracer.Start(ctx, "Submit")
	defer span.End()

	if gift == nil {
		return pkgerrors.ErrNilGift
	}
	if gift.Amount <= 0 {
		return pkgerrors.ErrInvalidAmount
	}
	if gift.GiverName == "" {
		return pkgerrors.ErrInvalidConfiguration
	}
	if pct := gift.Allocation.SavingsPercentage; pct != nil {
		if gift.Allocation.GoalID != nil {
			return pkgerrors.ErrInvalidConfiguration
		}
		if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return pkgerrors.ErrInvalidConfiguration
		}
	}

	gift.Reference = uuid.NewString()
	gift.Status = models.GiftPending
	if err := s.giftRepo.Create(ctx, gift); err != nil {
		return err
	}
	slog.Info("gift submitted", "gift_id", gift.ID, "child_id", gift.ChildID,
		"amount", gift.Amount, "reference", gift.Reference)
	return nil
}

func (s *giftService) GetByReference(ctx context.Context, reference string) (*models.Gift, error) {
	return s.giftRepo.GetByReference(ctx, reference)
}

func (s *giftService) ListPending(ctx context.Context, childID int64) ([]models.Gift, error) {
	return s.giftRepo.ListPendingByChild(ctx, childID)
}

func (s *giftService) Approve(ctx context.Context, giftID int64, actor models.Actor) (*repository.GiftApprovalResult, error) {
	tracer := otel.Tracer("gift-service")
	ctx, span := tracer.Start(ctx, "Approve")
	defer span.End()

	gift, err := s.giftRepo.GetByID(ctx, giftID)
	if err != nil {
		return nil, err
	}

	// The split is computed from the immutable gift amount, so reading it
	// outside the approval transaction is safe.
	var savingsAmount int64
	if pct := gift.Allocation.SavingsPercentage; pct != nil && gift.Allocation.GoalID == nil {
		savingsAmount = ComputeTransfer(gift.Amount, models.TransferPercentage, *pct)
	}

	res, err := s.giftRepo.Approve(ctx, giftID, savingsAmount, s.now().UTC(), actor)
	if err != nil {
		return nil, err
	}
	invalidateBalances(ctx, s.redisClient, res.Gift.ChildID)

	s.publisher.Publish(ctx, events.Event{
		Type:    events.GiftApproved,
		ChildID: res.Gift.ChildID,
		Amount:  res.Gift.Amount,
		Detail: map[string]any{
			"gift_id":    res.Gift.ID,
			"giver_name": res.Gift.GiverName,
			"reference":  res.Gift.Reference,
		},
	})
	if res.Contribution != nil {
		publishContributionEvents(ctx, s.publisher, res.Contribution)
	}
	return res, nil
}

func (s *giftService) Reject(ctx context.Context, giftID int64, actor models.Actor) (*models.Gift, error) {
	tracer := otel.Tracer("gift-service")
	ctx, span := tracer.Start(ctx, "Reject")
	defer span.End()

	return s.giftRepo.Reject(ctx, giftID, actor)
}

func (s *giftService) ExpireStale(ctx context.Context) (int64, error) {
	tracer := otel.Tracer("gift-service")
	ctx, span := tracer.Start(ctx, "ExpireStale")
	defer span.End()

	expired, err := s.giftRepo.ExpireStale(ctx, s.now().UTC().Add(-s.expiry))
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		slog.Info("expired stale gifts", "count", expired)
	}
	return expired, nil
}
