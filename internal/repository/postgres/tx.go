package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/brycehammond/allowance-sub012/internal/infrastructure/observability"
	"github.com/brycehammond/allowance-sub012/internal/models"
	appr "github.com/brycehammond/allowance-sub012/internal/repository"
	pkgerrors "github.com/brycehammond/allowance-sub012/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// withTx runs fn inside one database transaction; any error rolls the whole
// unit back so no partial balance/audit state is ever persisted.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	dbTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(dbTx); err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
		}
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// observe wraps a repository call with a span and the call/duration metrics.
// The returned func must be deferred with the method's final error.
func observe(ctx context.Context, tracerName, method string) (context.Context, func(err error)) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, method)
	start := time.Now()
	return ctx, func(err error) {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues(method, status).Inc()
		observability.RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		span.End()
	}
}

// lockChild takes the row lock that serializes all balance mutations for one
// child. Operations on different children proceed in parallel.
func lockChild(ctx context.Context, tx *sql.Tx, childID int64) (spendable, savings int64, allowDebt bool, err error) {
	query := `SELECT spendable_balance, savings_balance, allow_debt FROM children WHERE id = $1 FOR UPDATE`
	err = tx.QueryRowContext(ctx, query, childID).Scan(&spendable, &savings, &allowDebt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, pkgerrors.ErrChildNotFound
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to lock child row: %w", err)
	}
	return spendable, savings, allowDebt, nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t *models.Transaction) error {
	query := `INSERT INTO transactions (child_id, amount, type, category, description, balance_after, related_transaction_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at`
	err := tx.QueryRowContext(ctx, query,
		t.ChildID, t.Amount, t.Type, t.Category, t.Description, t.BalanceAfter, t.RelatedTransactionID, t.CreatedBy,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func insertSavingsTransaction(ctx context.Context, tx *sql.Tx, t *models.SavingsTransaction) error {
	query := `INSERT INTO savings_transactions (child_id, amount, type, balance_after, is_automatic, source_transaction_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`
	err := tx.QueryRowContext(ctx, query,
		t.ChildID, t.Amount, t.Type, t.BalanceAfter, t.IsAutomatic, t.SourceTransactionID, t.CreatedBy,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create savings transaction: %w", err)
	}
	return nil
}

// applySpendable mutates the spendable balance and appends its audit row
// under the child row lock. amount must be positive; the sign comes from the
// transaction type.
func applySpendable(ctx context.Context, tx *sql.Tx, childID, amount int64, txType models.TransactionType,
	category models.TransactionCategory, description string, relatedTxID *int64, actor models.Actor) (*models.Transaction, error) {

	if amount <= 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}

	spendable, _, allowDebt, err := lockChild(ctx, tx, childID)
	if err != nil {
		return nil, err
	}

	delta := amount
	if txType == models.TypeDebit {
		delta = -amount
	}
	newBalance := spendable + delta
	if delta < 0 && newBalance < 0 && !allowDebt {
		return nil, pkgerrors.ErrInsufficientFunds
	}

	if _, err := tx.ExecContext(ctx, `UPDATE children SET spendable_balance = $1 WHERE id = $2`, newBalance, childID); err != nil {
		return nil, fmt.Errorf("failed to update spendable balance: %w", err)
	}

	t := &models.Transaction{
		ChildID:              childID,
		Amount:               delta,
		Type:                 txType,
		Category:             category,
		Description:          description,
		BalanceAfter:         newBalance,
		RelatedTransactionID: relatedTxID,
		CreatedBy:            actor.String(),
	}
	if err := insertTransaction(ctx, tx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// applySavings is the savings-balance counterpart. Savings never go negative;
// an overdraw fails with ErrAmountExceedsBalance.
func applySavings(ctx context.Context, tx *sql.Tx, childID, amount int64, txType models.SavingsTransactionType,
	isAutomatic bool, sourceTxID *int64, actor models.Actor) (*models.SavingsTransaction, error) {

	if amount <= 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}

	_, savings, _, err := lockChild(ctx, tx, childID)
	if err != nil {
		return nil, err
	}

	delta := amount
	if txType == models.SavingsWithdrawal {
		delta = -amount
	}
	newBalance := savings + delta
	if newBalance < 0 {
		return nil, pkgerrors.ErrAmountExceedsBalance
	}

	if _, err := tx.ExecContext(ctx, `UPDATE children SET savings_balance = $1 WHERE id = $2`, newBalance, childID); err != nil {
		return nil, fmt.Errorf("failed to update savings balance: %w", err)
	}

	t := &models.SavingsTransaction{
		ChildID:             childID,
		Amount:              delta,
		Type:                txType,
		BalanceAfter:        newBalance,
		IsAutomatic:         isAutomatic,
		SourceTransactionID: sourceTxID,
		CreatedBy:           actor.String(),
	}
	if err := insertSavingsTransaction(ctx, tx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func lockGoal(ctx context.Context, tx *sql.Tx, goalID int64) (*models.SavingsGoal, error) {
	query := `SELECT id, child_id, name, target_amount, current_amount, category, status, priority, completed_at, created_at
		FROM savings_goals WHERE id = $1 FOR UPDATE`
	var g models.SavingsGoal
	err := tx.QueryRowContext(ctx, query, goalID).Scan(
		&g.ID, &g.ChildID, &g.Name, &g.TargetAmount, &g.CurrentAmount,
		&g.Category, &g.Status, &g.Priority, &g.CompletedAt, &g.CreatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrGoalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock goal row: %w", err)
	}
	return &g, nil
}

func loadMilestones(ctx context.Context, tx *sql.Tx, goalID int64) ([]models.GoalMilestone, error) {
	query := `SELECT id, goal_id, percent, target_amount, bonus_amount, is_achieved, achieved_at
		FROM goal_milestones WHERE goal_id = $1 ORDER BY percent`
	rows, err := tx.QueryContext(ctx, query, goalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load milestones: %w", err)
	}
	defer rows.Close()

	var out []models.GoalMilestone
	for rows.Next() {
		var m models.GoalMilestone
		if err := rows.Scan(&m.ID, &m.GoalID, &m.Percent, &m.TargetAmount, &m.BonusAmount, &m.IsAchieved, &m.AchievedAt); err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func loadActiveRule(ctx context.Context, tx *sql.Tx, goalID int64) (*models.ParentMatchingRule, error) {
	query := `SELECT id, goal_id, type, match_ratio, max_match_amount, total_matched_amount, active, expires_at
		FROM matching_rules WHERE goal_id = $1 AND active`
	var r models.ParentMatchingRule
	var ratio string
	err := tx.QueryRowContext(ctx, query, goalID).Scan(
		&r.ID, &r.GoalID, &r.Type, &ratio, &r.MaxMatchAmount, &r.TotalMatchedAmount, &r.Active, &r.ExpiresAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load matching rule: %w", err)
	}
	r.MatchRatio, err = decimal.NewFromString(ratio)
	if err != nil {
		return nil, fmt.Errorf("invalid match ratio %q: %w", ratio, err)
	}
	return &r, nil
}

func insertContribution(ctx context.Context, tx *sql.Tx, c *models.SavingsContribution) error {
	query := `INSERT INTO savings_contributions (goal_id, amount, type, description, goal_balance_after, matching_rule_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`
	err := tx.QueryRowContext(ctx, query,
		c.GoalID, c.Amount, c.Type, c.Description, c.GoalBalanceAfter, c.MatchingRuleID, c.CreatedBy,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create contribution: %w", err)
	}
	return nil
}

// applyContribution runs the contribution engine against an already-locked
// goal: append the triggering contribution, sweep milestones (bonuses via a
// worklist that re-runs the sweep but is bounded by the milestone count),
// apply the matching rule to the triggering contribution only, then flip the
// goal to completed when the target is reached. Everything happens on the
// caller's transaction.
func applyContribution(ctx context.Context, tx *sql.Tx, goal *models.SavingsGoal, milestones []models.GoalMilestone,
	rule *models.ParentMatchingRule, amount int64, cType models.ContributionType, description string,
	now time.Time, actor models.Actor) (*appr.ContributionResult, error) {

	if amount <= 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}
	// completed goals still accept gift allocations; cancelled and purchased
	// goals are terminal
	if goal.Status == models.GoalCancelled || goal.Status == models.GoalPurchased {
		return nil, pkgerrors.ErrGoalNotActive
	}

	res := &appr.ContributionResult{}

	apply := func(amt int64, typ models.ContributionType, desc string, ruleID *int64) (*models.SavingsContribution, error) {
		goal.CurrentAmount += amt
		c := &models.SavingsContribution{
			GoalID:           goal.ID,
			Amount:           amt,
			Type:             typ,
			Description:      desc,
			GoalBalanceAfter: goal.CurrentAmount,
			MatchingRuleID:   ruleID,
			CreatedBy:        actor.String(),
		}
		if err := insertContribution(ctx, tx, c); err != nil {
			return nil, err
		}
		return c, nil
	}

	sweepMilestones := func() error {
		for progressed := true; progressed; {
			progressed = false
			for i := range milestones {
				m := &milestones[i]
				if m.IsAchieved || m.TargetAmount > goal.CurrentAmount {
					continue
				}
				m.IsAchieved = true
				at := now
				m.AchievedAt = &at
				if _, err := tx.ExecContext(ctx,
					`UPDATE goal_milestones SET is_achieved = TRUE, achieved_at = $1 WHERE id = $2`,
					now, m.ID); err != nil {
					return fmt.Errorf("failed to mark milestone achieved: %w", err)
				}
				res.MilestonesAchieved = append(res.MilestonesAchieved, *m)
				if m.BonusAmount > 0 {
					b, err := apply(m.BonusAmount, models.ContributionChallengeBonus,
						fmt.Sprintf("%d%% milestone bonus", m.Percent), nil)
					if err != nil {
						return err
					}
					res.Bonuses = append(res.Bonuses, *b)
				}
				progressed = true
			}
		}
		return nil
	}

	c, err := apply(amount, cType, description, nil)
	if err != nil {
		return nil, err
	}
	res.Contribution = c

	if err := sweepMilestones(); err != nil {
		return nil, err
	}

	if rule != nil && cType.Matchable() {
		if match := rule.MatchFor(amount, now); match > 0 {
			mc, err := apply(match, models.ContributionParentMatch, "parent match", &rule.ID)
			if err != nil {
				return nil, err
			}
			res.Match = mc
			rule.TotalMatchedAmount += match
			if _, err := tx.ExecContext(ctx,
				`UPDATE matching_rules SET total_matched_amount = $1 WHERE id = $2`,
				rule.TotalMatchedAmount, rule.ID); err != nil {
				return nil, fmt.Errorf("failed to update matched total: %w", err)
			}
			if err := sweepMilestones(); err != nil {
				return nil, err
			}
		}
	}

	if goal.Status == models.GoalActive && goal.CurrentAmount >= goal.TargetAmount {
		goal.Status = models.GoalCompleted
		at := now
		goal.CompletedAt = &at
		res.Completed = true
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE savings_goals SET current_amount = $1, status = $2, completed_at = $3 WHERE id = $4`,
		goal.CurrentAmount, goal.Status, goal.CompletedAt, goal.ID); err != nil {
		return nil, fmt.Errorf("failed to update goal: %w", err)
	}

	goal.Milestones = milestones
	res.Goal = goal
	return res, nil
}
