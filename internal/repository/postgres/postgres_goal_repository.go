package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brycehammond/allowance-sub012/internal/models"
	appr "github.com/brycehammond/allowance-sub012/internal/repository"
	pkgerrors "github.com/brycehammond/allowance-sub012/pkg/errors"
)

type PostgresGoalRepository struct {
	db *sql.DB
}

func NewPostgresGoalRepository(db *sql.DB) *PostgresGoalRepository {
	return &PostgresGoalRepository{db: db}
}

// Create inserts the goal and its milestones. Milestone target amounts are
// derived from the goal target here so they never drift.
func (r *PostgresGoalRepository) Create(ctx context.Context, goal *models.SavingsGoal) (err error) {
	ctx, done := observe(ctx, "goal-repository", "CreateGoal")
	defer func() { done(err) }()

	if goal.TargetAmount <= 0 {
		return pkgerrors.ErrInvalidAmount
	}
	if goal.Status == "" {
		goal.Status = models.GoalActive
	}

	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `INSERT INTO savings_goals (child_id, name, target_amount, category, status, priority)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`
		if err := tx.QueryRowContext(ctx, query,
			goal.ChildID, goal.Name, goal.TargetAmount, goal.Category, goal.Status, goal.Priority,
		).Scan(&goal.ID, &goal.CreatedAt); err != nil {
			return fmt.Errorf("failed to create goal: %w", err)
		}

		for i := range goal.Milestones {
			m := &goal.Milestones[i]
			if m.Percent <= 0 || m.Percent > 100 {
				return pkgerrors.ErrInvalidConfiguration
			}
			m.GoalID = goal.ID
			m.TargetAmount = goal.TargetAmount * int64(m.Percent) / 100
			if err := tx.QueryRowContext(ctx,
				`INSERT INTO goal_milestones (goal_id, percent, target_amount, bonus_amount) VALUES ($1, $2, $3, $4) RETURNING id`,
				m.GoalID, m.Percent, m.TargetAmount, m.BonusAmount,
			).Scan(&m.ID); err != nil {
				return fmt.Errorf("failed to create milestone: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("goal created", "goal_id", goal.ID, "child_id", goal.ChildID,
		"target_amount", goal.TargetAmount, "milestones", len(goal.Milestones))
	return nil
}

func (r *PostgresGoalRepository) GetByID(ctx context.Context, id int64) (*models.SavingsGoal, error) {
	query := `SELECT id, child_id, name, target_amount, current_amount, category, status, priority, completed_at, created_at
		FROM savings_goals WHERE id = $1`
	var g models.SavingsGoal
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&g.ID, &g.ChildID, &g.Name, &g.TargetAmount, &g.CurrentAmount,
		&g.Category, &g.Status, &g.Priority, &g.CompletedAt, &g.CreatedAt,
	)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrGoalNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get goal: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, goal_id, percent, target_amount, bonus_amount, is_achieved, achieved_at
		FROM goal_milestones WHERE goal_id = $1 ORDER BY percent`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load milestones: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m models.GoalMilestone
		if err := rows.Scan(&m.ID, &m.GoalID, &m.Percent, &m.TargetAmount, &m.BonusAmount, &m.IsAchieved, &m.AchievedAt); err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		g.Milestones = append(g.Milestones, m)
	}
	return &g, rows.Err()
}

func (r *PostgresGoalRepository) ListByChild(ctx context.Context, childID int64) ([]models.SavingsGoal, error) {
	query := `SELECT id, child_id, name, target_amount, current_amount, category, status, priority, completed_at, created_at
		FROM savings_goals WHERE child_id = $1 ORDER BY priority, id`
	rows, err := r.db.QueryContext(ctx, query, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	defer rows.Close()

	var out []models.SavingsGoal
	for rows.Next() {
		var g models.SavingsGoal
		if err := rows.Scan(&g.ID, &g.ChildID, &g.Name, &g.TargetAmount, &g.CurrentAmount,
			&g.Category, &g.Status, &g.Priority, &g.CompletedAt, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan goal: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Contribute runs the whole reward evaluation (milestones, matching,
// completion) in one transaction under the goal row lock.
func (r *PostgresGoalRepository) Contribute(ctx context.Context, goalID, amount int64,
	cType models.ContributionType, description string, now time.Time,
	actor models.Actor) (res *appr.ContributionResult, err error) {

	ctx, done := observe(ctx, "goal-repository", "Contribute")
	defer func() { done(err) }()

	if cType == models.ContributionWithdrawal {
		return nil, pkgerrors.ErrInvalidContribution
	}

	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		goal, err := lockGoal(ctx, tx, goalID)
		if err != nil {
			return err
		}
		milestones, err := loadMilestones(ctx, tx, goalID)
		if err != nil {
			return err
		}
		rule, err := loadActiveRule(ctx, tx, goalID)
		if err != nil {
			return err
		}
		res, err = applyContribution(ctx, tx, goal, milestones, rule, amount, cType, description, now, actor)
		return err
	})
	if err != nil {
		slog.Error("contribution failed", "goal_id", goalID, "amount", amount, "type", cType, "error", err)
		return nil, err
	}

	slog.Info("contribution applied",
		"goal_id", goalID, "contribution_id", res.Contribution.ID, "amount", amount, "type", cType,
		"current_amount", res.Goal.CurrentAmount, "milestones_achieved", len(res.MilestonesAchieved),
		"matched", res.Match != nil, "completed", res.Completed, "actor", actor.String())
	return res, nil
}

// Withdraw reduces the goal without touching milestones or a completed
// status; those are one-way.
func (r *PostgresGoalRepository) Withdraw(ctx context.Context, goalID, amount int64, reason string,
	actor models.Actor) (c *models.SavingsContribution, err error) {

	ctx, done := observe(ctx, "goal-repository", "Withdraw")
	defer func() { done(err) }()

	if amount <= 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}

	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		goal, err := lockGoal(ctx, tx, goalID)
		if err != nil {
			return err
		}
		if amount > goal.CurrentAmount {
			return pkgerrors.ErrAmountExceedsBalance
		}

		newAmount := goal.CurrentAmount - amount
		if _, err := tx.ExecContext(ctx,
			`UPDATE savings_goals SET current_amount = $1 WHERE id = $2`, newAmount, goalID); err != nil {
			return fmt.Errorf("failed to update goal: %w", err)
		}

		c = &models.SavingsContribution{
			GoalID:           goalID,
			Amount:           -amount,
			Type:             models.ContributionWithdrawal,
			Description:      reason,
			GoalBalanceAfter: newAmount,
			CreatedBy:        actor.String(),
		}
		return insertContribution(ctx, tx, c)
	})
	if err != nil {
		slog.Error("withdrawal failed", "goal_id", goalID, "amount", amount, "error", err)
		return nil, err
	}

	slog.Info("withdrawal applied", "goal_id", goalID, "contribution_id", c.ID,
		"amount", amount, "balance_after", c.GoalBalanceAfter, "actor", actor.String())
	return c, nil
}

func (r *PostgresGoalRepository) ListContributions(ctx context.Context, goalID int64) ([]models.SavingsContribution, error) {
	query := `SELECT id, goal_id, amount, type, description, goal_balance_after, matching_rule_id, created_by, created_at
		FROM savings_contributions WHERE goal_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, goalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}
	defer rows.Close()

	var out []models.SavingsContribution
	for rows.Next() {
		var c models.SavingsContribution
		if err := rows.Scan(&c.ID, &c.GoalID, &c.Amount, &c.Type, &c.Description,
			&c.GoalBalanceAfter, &c.MatchingRuleID, &c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetMatchingRule deactivates any current rule and installs the new one; at
// most one rule per goal is active.
func (r *PostgresGoalRepository) SetMatchingRule(ctx context.Context, rule *models.ParentMatchingRule) (err error) {
	ctx, done := observe(ctx, "goal-repository", "SetMatchingRule")
	defer func() { done(err) }()

	if rule.MatchRatio.IsNegative() {
		return pkgerrors.ErrInvalidConfiguration
	}
	if rule.MaxMatchAmount != nil && *rule.MaxMatchAmount < 0 {
		return pkgerrors.ErrInvalidConfiguration
	}

	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := lockGoal(ctx, tx, rule.GoalID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE matching_rules SET active = FALSE WHERE goal_id = $1 AND active`, rule.GoalID); err != nil {
			return fmt.Errorf("failed to deactivate matching rules: %w", err)
		}
		rule.Active = true
		return tx.QueryRowContext(ctx,
			`INSERT INTO matching_rules (goal_id, type, match_ratio, max_match_amount, active, expires_at)
			VALUES ($1, $2, $3, $4, TRUE, $5) RETURNING id`,
			rule.GoalID, rule.Type, rule.MatchRatio.String(), rule.MaxMatchAmount, rule.ExpiresAt,
		).Scan(&rule.ID)
	})
	if err != nil {
		return err
	}

	slog.Info("matching rule set", "goal_id", rule.GoalID, "rule_id", rule.ID,
		"type", rule.Type, "ratio", rule.MatchRatio.String())
	return nil
}

func (r *PostgresGoalRepository) StartChallenge(ctx context.Context, challenge *models.GoalChallenge) (err error) {
	ctx, done := observe(ctx, "goal-repository", "StartChallenge")
	defer func() { done(err) }()

	if challenge.TargetAmount <= 0 || !challenge.EndsAt.After(challenge.StartsAt) {
		return pkgerrors.ErrInvalidConfiguration
	}

	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := lockGoal(ctx, tx, challenge.GoalID); err != nil {
			return err
		}
		challenge.Status = models.ChallengeActive
		return tx.QueryRowContext(ctx,
			`INSERT INTO goal_challenges (goal_id, target_amount, bonus_amount, starts_at, ends_at, status)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			challenge.GoalID, challenge.TargetAmount, challenge.BonusAmount,
			challenge.StartsAt, challenge.EndsAt, challenge.Status,
		).Scan(&challenge.ID)
	})
	if err != nil {
		return err
	}

	slog.Info("challenge started", "goal_id", challenge.GoalID, "challenge_id", challenge.ID,
		"target_amount", challenge.TargetAmount, "ends_at", challenge.EndsAt)
	return nil
}

// EvaluateChallenge settles the active challenge: completed with its bonus
// contributed once if the target was reached strictly before the deadline,
// failed once the deadline has passed, otherwise left running.
func (r *PostgresGoalRepository) EvaluateChallenge(ctx context.Context, goalID int64, now time.Time,
	actor models.Actor) (res *appr.ChallengeResult, err error) {

	ctx, done := observe(ctx, "goal-repository", "EvaluateChallenge")
	defer func() { done(err) }()

	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		goal, err := lockGoal(ctx, tx, goalID)
		if err != nil {
			return err
		}

		var ch models.GoalChallenge
		scanErr := tx.QueryRowContext(ctx,
			`SELECT id, goal_id, target_amount, bonus_amount, starts_at, ends_at, status
			FROM goal_challenges WHERE goal_id = $1 AND status = 'active'`, goalID).Scan(
			&ch.ID, &ch.GoalID, &ch.TargetAmount, &ch.BonusAmount, &ch.StartsAt, &ch.EndsAt, &ch.Status)
		if stderrors.Is(scanErr, sql.ErrNoRows) {
			return pkgerrors.ErrChallengeNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("failed to load challenge: %w", scanErr)
		}

		res = &appr.ChallengeResult{Challenge: &ch}

		// the sweep may only get here after the deadline, so the win is dated
		// by when the balance first reached the target, not by the clock now
		won := false
		if goal.CurrentAmount >= ch.TargetAmount {
			var reachedAt time.Time
			crossErr := tx.QueryRowContext(ctx,
				`SELECT created_at FROM savings_contributions
				WHERE goal_id = $1 AND goal_balance_after >= $2
				ORDER BY id LIMIT 1`, goalID, ch.TargetAmount).Scan(&reachedAt)
			switch {
			case stderrors.Is(crossErr, sql.ErrNoRows):
				won = now.Before(ch.EndsAt)
			case crossErr != nil:
				return fmt.Errorf("failed to find target crossing: %w", crossErr)
			default:
				won = reachedAt.Before(ch.EndsAt)
			}
		}

		switch {
		case won:
			ch.Status = models.ChallengeCompleted
			if _, err := tx.ExecContext(ctx,
				`UPDATE goal_challenges SET status = $1 WHERE id = $2`, ch.Status, ch.ID); err != nil {
				return fmt.Errorf("failed to complete challenge: %w", err)
			}
			// a goal cancelled or purchased after winning keeps its completed
			// challenge but cannot take the bonus contribution
			if ch.BonusAmount > 0 && goal.Status != models.GoalCancelled && goal.Status != models.GoalPurchased {
				milestones, err := loadMilestones(ctx, tx, goalID)
				if err != nil {
					return err
				}
				bonus, err := applyContribution(ctx, tx, goal, milestones, nil, ch.BonusAmount,
					models.ContributionChallengeBonus, "challenge bonus", now, actor)
				if err != nil {
					return err
				}
				res.Bonus = bonus
			}
		case !now.Before(ch.EndsAt):
			ch.Status = models.ChallengeFailed
			if _, err := tx.ExecContext(ctx,
				`UPDATE goal_challenges SET status = $1 WHERE id = $2`, ch.Status, ch.ID); err != nil {
				return fmt.Errorf("failed to fail challenge: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("challenge evaluated", "goal_id", goalID,
		"challenge_id", res.Challenge.ID, "status", res.Challenge.Status)
	return res, nil
}

// ListDueChallengeGoalIDs finds goals whose active challenge needs settling:
// the deadline has passed, or the target is already reached.
func (r *PostgresGoalRepository) ListDueChallengeGoalIDs(ctx context.Context, now time.Time) ([]int64, error) {
	query := `SELECT c.goal_id FROM goal_challenges c
		JOIN savings_goals g ON g.id = c.goal_id
		WHERE c.status = 'active' AND (c.ends_at <= $1 OR g.current_amount >= c.target_amount)
		ORDER BY c.goal_id`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due challenges: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan goal id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
