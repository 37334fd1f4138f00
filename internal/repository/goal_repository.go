package repository

import (
	"context"
	"time"

	"github.com/brycehammond/allowance-sub012/internal/models"
)

// ContributionResult reports everything a single contribution caused inside
// its transaction: the contribution itself, milestone crossings and their
// bonus contributions, the parent match if a rule fired, and whether the goal
// just completed.
type ContributionResult struct {
	Goal               *models.SavingsGoal
	Contribution       *models.SavingsContribution
	Match              *models.SavingsContribution
	Bonuses            []models.SavingsContribution
	MilestonesAchieved []models.GoalMilestone
	Completed          bool
}

// ChallengeResult reports a challenge evaluation. Bonus is set only when the
// challenge just completed and its bonus was contributed.
type ChallengeResult struct {
	Challenge *models.GoalChallenge
	Bonus     *ContributionResult
}

type GoalRepository interface {
	Create(ctx context.Context, goal *models.SavingsGoal) error
	GetByID(ctx context.Context, id int64) (*models.SavingsGoal, error)
	ListByChild(ctx context.Context, childID int64) ([]models.SavingsGoal, error)

	Contribute(ctx context.Context, goalID, amount int64, cType models.ContributionType,
		description string, now time.Time, actor models.Actor) (*ContributionResult, error)
	Withdraw(ctx context.Context, goalID, amount int64, reason string, actor models.Actor) (*models.SavingsContribution, error)
	ListContributions(ctx context.Context, goalID int64) ([]models.SavingsContribution, error)

	SetMatchingRule(ctx context.Context, rule *models.ParentMatchingRule) error
	StartChallenge(ctx context.Context, challenge *models.GoalChallenge) error
	EvaluateChallenge(ctx context.Context, goalID int64, now time.Time, actor models.Actor) (*ChallengeResult, error)
	ListDueChallengeGoalIDs(ctx context.Context, now time.Time) ([]int64, error)
}
