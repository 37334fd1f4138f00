package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/brycehammond/allowance-sub012/internal/events"
	"github.com/brycehammond/allowance-sub012/internal/models"
	"github.com/brycehammond/allowance-sub012/internal/repository"
	pkgerrors "github.com/brycehammond/allowance-sub012/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

// defaultMilestonePercents seeds every new goal that does not bring its own
// milestone list.
var defaultMilestonePercents = []int{25, 50, 75, 100}

type GoalService interface {
	CreateGoal(ctx context.Context, goal *models.SavingsGoal) error
	GetGoal(ctx context.Context, goalID int64) (*models.SavingsGoal, error)
	ListGoals(ctx context.Context, childID int64) ([]models.SavingsGoal, error)

	Contribute(ctx context.Context, goalID, amount int64, cType models.ContributionType,
		description string, actor models.Actor) (*repository.ContributionResult, error)
	Withdraw(ctx context.Context, goalID, amount int64, reason string, actor models.Actor) (*models.SavingsContribution, error)
	ListContributions(ctx context.Context, goalID int64) ([]models.SavingsContribution, error)

	SetMatchingRule(ctx context.Context, rule *models.ParentMatchingRule) error
	StartChallenge(ctx context.Context, challenge *models.GoalChallenge) error
	EvaluateChallenge(ctx context.Context, goalID int64, actor models.Actor) (*repository.ChallengeResult, error)

	// EvaluateDueChallenges resolves every active challenge that has either
	// hit its target or run out of time.
	EvaluateDueChallenges(ctx context.Context, actor models.Actor) (int, error)
}

type goalService struct {
	goalRepo  repository.GoalRepository
	publisher events.Publisher
	now       func() time.Time
}

func NewGoalService(goalRepo repository.GoalRepository, publisher events.Publisher) *goalService {
	return &goalService{goalRepo: goalRepo, publisher: publisher, now: time.Now}
}

func (s *goalService) CreateGoal(ctx context.Context, goal *models.SavingsGoal) error {
	tracer := otel.Tracer("goal-service")
	ctx, span := tracer.Start(ctx, "CreateGoal")
	defer span.End()

	if goal == nil || goal.Name == "" || goal.TargetAmount <= 0 {
		return pkgerrors.ErrInvalidConfiguration
	}
	if len(goal.Milestones) == 0 {
		for _, p := range defaultMilestonePercents {
			goal.Milestones = append(goal.Milestones, models.GoalMilestone{Percent: p})
		}
	}
	for _, m := range goal.Milestones {
		if m.Percent <= 0 || m.Percent > 100 || m.BonusAmount < 0 {
			return pkgerrors.ErrInvalidConfiguration
		}
	}
	return s.goalRepo.Create(ctx, goal)
}

func (s *goalService) GetGoal(ctx context.Context, goalID int64) (*models.SavingsGoal, error) {
	return s.goalRepo.GetByID(ctx, goalID)
}

func (s *goalService) ListGoals(ctx context.Context, childID int64) ([]models.SavingsGoal, error) {
	return s.goalRepo.ListByChild(ctx, childID)
}

func (s *goalService) Contribute(ctx context.Context, goalID, amount int64,
	cType models.ContributionType, description string, actor models.Actor) (*repository.ContributionResult, error) {

	tracer := otel.Tracer("goal-service")
	ctx, span := tracer.Start(ctx, "Contribute")
	defer span.End()

	switch cType {
	case models.ContributionChildDeposit, models.ContributionAutoTransfer, models.ContributionParentGift:
	default:
		// Matches, bonuses, gift credits and withdrawals are produced by
		// the engine itself, never accepted from callers.
		return nil, pkgerrors.ErrInvalidContribution
	}

	res, err := s.goalRepo.Contribute(ctx, goalID, amount, cType, description, s.now().UTC(), actor)
	if err != nil {
		return nil, err
	}
	publishContributionEvents(ctx, s.publisher, res)
	return res, nil
}

func (s *goalService) Withdraw(ctx context.Context, goalID, amount int64, reason string, actor models.Actor) (*models.SavingsContribution, error) {
	tracer := otel.Tracer("goal-service")
	ctx, span := tracer.Start(ctx, "Withdraw")
	defer span.End()

	return s.goalRepo.Withdraw(ctx, goalID, amount, reason, actor)
}

func (s *goalService) ListContributions(ctx context.Context, goalID int64) ([]models.SavingsContribution, error) {
	return s.goalRepo.ListContributions(ctx, goalID)
}

func (s *goalService) SetMatchingRule(ctx context.Context, rule *models.ParentMatchingRule) error {
	tracer := otel.Tracer("goal-service")
	ctx, span := tracer.Start(ctx, "SetMatchingRule")
	defer span.End()

	if rule == nil {
		return pkgerrors.ErrInvalidConfiguration
	}
	switch rule.Type {
	case models.MatchRatio, models.MatchPercentage:
	default:
		return pkgerrors.ErrInvalidConfiguration
	}
	if !rule.MatchRatio.IsPositive() {
		return pkgerrors.ErrInvalidConfiguration
	}
	if rule.Type == models.MatchPercentage && rule.MatchRatio.GreaterThan(decimal.NewFromInt(100)) {
		return pkgerrors.ErrInvalidConfiguration
	}
	if rule.MaxMatchAmount != nil && *rule.MaxMatchAmount <= 0 {
		return pkgerrors.ErrInvalidConfiguration
	}
	if rule.ExpiresAt != nil && rule.ExpiresAt.Before(s.now()) {
		return pkgerrors.ErrInvalidConfiguration
	}
	rule.Active = true
	return s.goalRepo.SetMatchingRule(ctx, rule)
}

func (s *goalService) StartChallenge(ctx context.Context, challenge *models.GoalChallenge) error {
	tracer := otel.Tracer("goal-service")
	ctx, span := tracer.Start(ctx, "StartChallenge")
	defer span.End()

	if challenge == nil || challenge.TargetAmount <= 0 || challenge.BonusAmount < 0 {
		return pkgerrors.ErrInvalidConfiguration
	}
	if challenge.StartsAt.IsZero() {
		challenge.StartsAt = s.now().UTC()
	}
	if !challenge.EndsAt.After(challenge.StartsAt) {
		return pkgerrors.ErrInvalidConfiguration
	}
	challenge.Status = models.ChallengeActive
	return s.goalRepo.StartChallenge(ctx, challenge)
}

func (s *goalService) EvaluateChallenge(ctx context.Context, goalID int64, actor models.Actor) (*repository.ChallengeResult, error) {
	tracer := otel.Tracer("goal-service")
	ctx, span := tracer.Start(ctx, "EvaluateChallenge")
	defer span.End()

	res, err := s.goalRepo.EvaluateChallenge(ctx, goalID, s.now().UTC(), actor)
	if err != nil {
		return nil, err
	}
	s.publishChallengeEvents(ctx, goalID, res)
	return res, nil
}

func (s *goalService) EvaluateDueChallenges(ctx context.Context, actor models.Actor) (int, error) {
	tracer := otel.Tracer("goal-service")
	ctx, span := tracer.Start(ctx, "EvaluateDueChallenges")
	defer span.End()

	ids, err := s.goalRepo.ListDueChallengeGoalIDs(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, goalID := range ids {
		if _, err := s.EvaluateChallenge(ctx, goalID, actor); err != nil {
			slog.Error("failed to evaluate challenge", "goal_id", goalID, "error", err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

func publishContributionEvents(ctx context.Context, publisher events.Publisher, res *repository.ContributionResult) {
	for _, m := range res.MilestonesAchieved {
		publisher.Publish(ctx, events.Event{
			Type:    events.MilestoneAchieved,
			ChildID: res.Goal.ChildID,
			GoalID:  res.Goal.ID,
			Amount:  m.BonusAmount,
			Detail:  map[string]any{"percent": m.Percent, "milestone_id": m.ID},
		})
	}
	if res.Completed {
		publisher.Publish(ctx, events.Event{
			Type:    events.GoalCompleted,
			ChildID: res.Goal.ChildID,
			GoalID:  res.Goal.ID,
			Amount:  res.Goal.CurrentAmount,
			Detail:  map[string]any{"name": res.Goal.Name},
		})
	}
}

func (s *goalService) publishChallengeEvents(ctx context.Context, goalID int64, res *repository.ChallengeResult) {
	if res == nil || res.Challenge == nil {
		return
	}
	switch res.Challenge.Status {
	case models.ChallengeCompleted:
		var childID int64
		if res.Bonus != nil && res.Bonus.Goal != nil {
			childID = res.Bonus.Goal.ChildID
		}
		s.publisher.Publish(ctx, events.Event{
			Type:    events.ChallengeCompleted,
			ChildID: childID,
			GoalID:  goalID,
			Amount:  res.Challenge.BonusAmount,
			Detail:  map[string]any{"challenge_id": res.Challenge.ID},
		})
		if res.Bonus != nil {
			publishContributionEvents(ctx, s.publisher, res.Bonus)
		}
	case models.ChallengeFailed:
		s.publisher.Publish(ctx, events.Event{
			Type:   events.ChallengeFailed,
			GoalID: goalID,
			Detail: map[string]any{"challenge_id": res.Challenge.ID},
		})
	}
}
