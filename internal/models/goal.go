package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalPurchased GoalStatus = "purchased"
	GoalCancelled GoalStatus = "cancelled"
	GoalPaused    GoalStatus = "paused"
)

// SavingsGoal tracks one savings target. CurrentAmount always equals the sum
// of all contribution amounts for the goal (withdrawals negative).
type SavingsGoal struct {
	ID            int64      `json:"id"`
	ChildID       int64      `json:"child_id"`
	Name          string     `json:"name"`
	TargetAmount  int64      `json:"target_amount"`
	CurrentAmount int64      `json:"current_amount"`
	Category      string     `json:"category,omitempty"`
	Status        GoalStatus `json:"status"`
	Priority      int        `json:"priority"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`

	Milestones []GoalMilestone `json:"milestones,omitempty"`
}

// GoalMilestone is a percent-of-target checkpoint. Once achieved it never
// reverts, even if withdrawals later drop the goal below the threshold.
type GoalMilestone struct {
	ID           int64      `json:"id"`
	GoalID       int64      `json:"goal_id"`
	Percent      int        `json:"percent"`
	TargetAmount int64      `json:"target_amount"`
	BonusAmount  int64      `json:"bonus_amount"`
	IsAchieved   bool       `json:"is_achieved"`
	AchievedAt   *time.Time `json:"achieved_at,omitempty"`
}

type MatchType string

const (
	MatchRatio          MatchType = "ratio"
	MatchPercentage     MatchType = "percentage"
	MatchMilestoneBonus MatchType = "milestone_bonus"
)

// ParentMatchingRule multiplies the child's own savings deposits, up to an
// optional lifetime cap. At most one active rule per goal.
type ParentMatchingRule struct {
	ID                 int64           `json:"id"`
	GoalID             int64           `json:"goal_id"`
	Type               MatchType       `json:"type"`
	MatchRatio         decimal.Decimal `json:"match_ratio"`
	MaxMatchAmount     *int64          `json:"max_match_amount,omitempty"`
	TotalMatchedAmount int64           `json:"total_matched_amount"`
	Active             bool            `json:"active"`
	ExpiresAt          *time.Time      `json:"expires_at,omitempty"`
}

// MatchFor returns the match earned by one triggering deposit, already capped
// by the remaining headroom under MaxMatchAmount. Zero when the rule is
// inactive, expired, or of a type that does not match per deposit.
func (r *ParentMatchingRule) MatchFor(amount int64, now time.Time) int64 {
	if r == nil || !r.Active || amount <= 0 {
		return 0
	}
	if r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
		return 0
	}

	var match int64
	switch r.Type {
	case MatchRatio:
		match = decimal.NewFromInt(amount).Mul(r.MatchRatio).Round(0).IntPart()
	case MatchPercentage:
		match = decimal.NewFromInt(amount).Mul(r.MatchRatio).Div(decimal.NewFromInt(100)).Round(0).IntPart()
	default:
		return 0
	}

	if r.MaxMatchAmount != nil {
		remaining := *r.MaxMatchAmount - r.TotalMatchedAmount
		if remaining <= 0 {
			return 0
		}
		if match > remaining {
			match = remaining
		}
	}
	if match < 0 {
		return 0
	}
	return match
}

type ChallengeStatus string

const (
	ChallengeActive    ChallengeStatus = "active"
	ChallengeCompleted ChallengeStatus = "completed"
	ChallengeFailed    ChallengeStatus = "failed"
	ChallengeCancelled ChallengeStatus = "cancelled"
)

// GoalChallenge is a time-boxed target carrying its own bonus. It completes
// only if the goal reaches TargetAmount strictly before EndsAt, and fails once
// EndsAt passes first.
type GoalChallenge struct {
	ID           int64           `json:"id"`
	GoalID       int64           `json:"goal_id"`
	TargetAmount int64           `json:"target_amount"`
	BonusAmount  int64           `json:"bonus_amount"`
	StartsAt     time.Time       `json:"starts_at"`
	EndsAt       time.Time       `json:"ends_at"`
	Status       ChallengeStatus `json:"status"`
}

type ContributionType string

const (
	ContributionChildDeposit   ContributionType = "child_deposit"
	ContributionAutoTransfer   ContributionType = "auto_transfer"
	ContributionParentMatch    ContributionType = "parent_match"
	ContributionParentGift     ContributionType = "parent_gift"
	ContributionChallengeBonus ContributionType = "challenge_bonus"
	ContributionWithdrawal     ContributionType = "withdrawal"
	ContributionExternalGift   ContributionType = "external_gift"
)

// Matchable reports whether a contribution of this type triggers an active
// matching rule. Only the child's own savings do; matches, bonuses and gifts
// never re-match, which bounds the reward recursion.
func (t ContributionType) Matchable() bool {
	return t == ContributionChildDeposit || t == ContributionAutoTransfer
}

// SavingsContribution is one immutable goal mutation. GoalBalanceAfter is the
// goal's CurrentAmount strictly after this row.
type SavingsContribution struct {
	ID               int64            `json:"id"`
	GoalID           int64            `json:"goal_id"`
	Amount           int64            `json:"amount"`
	Type             ContributionType `json:"type"`
	Description      string           `json:"description,omitempty"`
	GoalBalanceAfter int64            `json:"goal_balance_after"`
	MatchingRuleID   *int64           `json:"matching_rule_id,omitempty"`
	CreatedBy        string           `json:"created_by"`
	CreatedAt        time.Time        `json:"created_at"`
}
