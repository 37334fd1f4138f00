package service

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/brycehammond/allowance-sub012/internal/events"
	"github.com/brycehammond/allowance-sub012/internal/infrastructure/observability"
	"github.com/brycehammond/allowance-sub012/internal/infrastructure/redis"
	"github.com/brycehammond/allowance-sub012/internal/models"
	"github.com/brycehammond/allowance-sub012/internal/repository"
	pkgerrors "github.com/brycehammond/allowance-sub012/pkg/errors"
	"go.opentelemetry.io/otel"
)

const (
	sweepLockKey = "allowance:sweep:lock"
	sweepLockTTL = 10 * time.Minute
)

type SweepError struct {
	ChildID int64  `json:"child_id"`
	Message string `json:"message"`
}

// SweepResult summarizes one pass over all children.
type SweepResult struct {
	Processed int          `json:"processed"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Errors    []SweepError `json:"errors,omitempty"`
}

type AllowanceService interface {
	// PayAllowance pays one child if they are due and runs savings
	// automation on the result.
	PayAllowance(ctx context.Context, childID int64, actor models.Actor) (*models.Transaction, error)

	// ProcessAllPendingAllowances sweeps every child. A child that is not
	// yet due is a skip, never an error, so the sweep can run on any
	// schedule and any number of replicas.
	ProcessAllPendingAllowances(ctx context.Context, actor models.Actor) (*SweepResult, error)
}

type allowanceService struct {
	childRepo   repository.ChildRepository
	ledger      repository.LedgerRepository
	automator   *SavingsAutomator
	publisher   events.Publisher
	redisClient redis.RedisClient
	now         func() time.Time
}

func NewAllowanceService(childRepo repository.ChildRepository, ledger repository.LedgerRepository,
	automator *SavingsAutomator, publisher events.Publisher, redisClient redis.RedisClient) *allowanceService {
	return &allowanceService{
		childRepo:   childRepo,
		ledger:      ledger,
		automator:   automator,
		publisher:   publisher,
		redisClient: redisClient,
		now:         time.Now,
	}
}

func (s *allowanceService) PayAllowance(ctx context.Context, childID int64, actor models.Actor) (*models.Transaction, error) {
	tracer := otel.Tracer("allowance-service")
	ctx, span := tracer.Start(ctx, "PayAllowance")
	defer span.End()

	t, err := s.ledger.PayAllowance(ctx, childID, s.now().UTC(), actor)
	if err != nil {
		return nil, err
	}
	invalidateBalances(ctx, s.redisClient, childID)
	observability.AllowancesPaid.Inc()

	slog.Info("allowance paid", "child_id", childID, "amount", t.Amount, "transaction_id", t.ID, "actor", actor.String())

	s.publisher.Publish(ctx, events.Event{
		Type:    events.AllowancePaid,
		ChildID: childID,
		Amount:  t.Amount,
		Detail:  map[string]any{"transaction_id": t.ID},
	})

	// The payment is committed at this point. An automation failure is
	// logged and left for the next manual transfer, never bubbled up as a
	// payment failure.
	child, err := s.childRepo.GetByID(ctx, childID)
	if err != nil {
		slog.Error("failed to load child for savings automation", "child_id", childID, "error", err)
		return t, nil
	}
	if err := s.automator.ProcessAutoTransfer(ctx, child, t); err != nil {
		slog.Error("auto transfer failed", "child_id", childID, "transaction_id", t.ID, "error", err)
	} else {
		invalidateBalances(ctx, s.redisClient, childID)
	}
	return t, nil
}

func (s *allowanceService) ProcessAllPendingAllowances(ctx context.Context, actor models.Actor) (*SweepResult, error) {
	tracer := otel.Tracer("allowance-service")
	ctx, span := tracer.Start(ctx, "ProcessAllPendingAllowances")
	defer span.End()

	// Advisory only. The eligibility predicate in the store is what makes
	// concurrent sweeps safe; the lock just avoids duplicate work.
	acquired, err := s.redisClient.SetNX(ctx, sweepLockKey, s.now().Unix(), sweepLockTTL)
	if err != nil {
		slog.Error("failed to acquire sweep lock, proceeding without it", "error", err)
	} else if !acquired {
		slog.Info("allowance sweep already running elsewhere, skipping")
		return &SweepResult{}, nil
	} else {
		defer func() {
			if err := s.redisClient.Del(ctx, sweepLockKey); err != nil {
				slog.Error("failed to release sweep lock", "error", err)
			}
		}()
	}

	ids, err := s.childRepo.ListIDs(ctx)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	for _, id := range ids {
		_, err := s.PayAllowance(ctx, id, actor)
		switch {
		case err == nil:
			result.Processed++
			observability.SweepChildren.WithLabelValues("processed").Inc()
		case stderrors.Is(err, pkgerrors.ErrAllowanceNotDue):
			result.Skipped++
			observability.SweepChildren.WithLabelValues("skipped").Inc()
		default:
			result.Failed++
			result.Errors = append(result.Errors, SweepError{ChildID: id, Message: err.Error()})
			observability.SweepChildren.WithLabelValues("failed").Inc()
			slog.Error("allowance sweep failed for child", "child_id", id, "error", err)
		}
	}

	slog.Info("allowance sweep finished",
		"processed", result.Processed, "skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}
