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
	"github.com/shopspring/decimal"
)

type PostgresGiftRepository struct {
	db *sql.DB
}

func NewPostgresGiftRepository(db *sql.DB) *PostgresGiftRepository {
	return &PostgresGiftRepository{db: db}
}

const giftColumns = `id, child_id, reference, giver_name, giver_email, amount, occasion, message,
	status, goal_id, savings_percentage, transaction_id, processed_by, processed_at, created_at`

func scanGift(row *sql.Row) (*models.Gift, error) {
	var g models.Gift
	var pct sql.NullString
	var processedBy sql.NullString
	err := row.Scan(&g.ID, &g.ChildID, &g.Reference, &g.GiverName, &g.GiverEmail, &g.Amount,
		&g.Occasion, &g.Message, &g.Status, &g.Allocation.GoalID, &pct,
		&g.TransactionID, &processedBy, &g.ProcessedAt, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	if pct.Valid {
		d, err := decimal.NewFromString(pct.String)
		if err != nil {
			return nil, fmt.Errorf("invalid savings percentage %q: %w", pct.String, err)
		}
		g.Allocation.SavingsPercentage = &d
	}
	g.ProcessedBy = processedBy.String
	return &g, nil
}

func (r *PostgresGiftRepository) Create(ctx context.Context, gift *models.Gift) error {
	if gift == nil {
		return pkgerrors.ErrNilGift
	}
	if gift.Amount <= 0 {
		return pkgerrors.ErrInvalidAmount
	}
	if gift.GiverName == "" {
		return fmt.Errorf("giver name is required")
	}

	var pct *string
	if gift.Allocation.SavingsPercentage != nil {
		s := gift.Allocation.SavingsPercentage.String()
		pct = &s
	}

	gift.Status = models.GiftPending
	query := `INSERT INTO gifts (child_id, reference, giver_name, giver_email, amount, occasion, message, status, goal_id, savings_percentage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		gift.ChildID, gift.Reference, gift.GiverName, gift.GiverEmail, gift.Amount,
		gift.Occasion, gift.Message, gift.Status, gift.Allocation.GoalID, pct,
	).Scan(&gift.ID, &gift.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create gift: %w", err)
	}

	slog.Info("gift submitted", "gift_id", gift.ID, "child_id", gift.ChildID,
		"reference", gift.Reference, "amount", gift.Amount, "giver", gift.GiverName)
	return nil
}

func (r *PostgresGiftRepository) GetByID(ctx context.Context, id int64) (*models.Gift, error) {
	g, err := scanGift(r.db.QueryRowContext(ctx,
		`SELECT `+giftColumns+` FROM gifts WHERE id = $1`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrGiftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gift: %w", err)
	}
	return g, nil
}

func (r *PostgresGiftRepository) GetByReference(ctx context.Context, reference string) (*models.Gift, error) {
	g, err := scanGift(r.db.QueryRowContext(ctx,
		`SELECT `+giftColumns+` FROM gifts WHERE reference = $1`, reference))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrGiftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gift: %w", err)
	}
	return g, nil
}

func (r *PostgresGiftRepository) ListPendingByChild(ctx context.Context, childID int64) ([]models.Gift, error) {
	query := `SELECT id, child_id, reference, giver_name, giver_email, amount, occasion, message, status, created_at
		FROM gifts WHERE child_id = $1 AND status = 'pending' ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending gifts: %w", err)
	}
	defer rows.Close()

	var out []models.Gift
	for rows.Next() {
		var g models.Gift
		if err := rows.Scan(&g.ID, &g.ChildID, &g.Reference, &g.GiverName, &g.GiverEmail,
			&g.Amount, &g.Occasion, &g.Message, &g.Status, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan gift: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Approve allocates a pending gift in one transaction: a goal target gets the
// full amount as a goal contribution, a savings percentage is split between
// savings and spendable, otherwise everything lands on spendable. At most one
// spendable transaction is created and linked back to the gift. The gift row
// lock plus the pending check make double approval impossible.
func (r *PostgresGiftRepository) Approve(ctx context.Context, giftID int64, savingsAmount int64,
	now time.Time, actor models.Actor) (res *appr.GiftApprovalResult, err error) {

	ctx, done := observe(ctx, "gift-repository", "ApproveGift")
	defer func() { done(err) }()

	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		gift, err := lockGift(ctx, tx, giftID)
		if err != nil {
			return err
		}
		if gift.Status != models.GiftPending {
			return pkgerrors.ErrGiftAlreadyProcessed
		}
		if savingsAmount < 0 || savingsAmount > gift.Amount {
			return pkgerrors.ErrInvalidConfiguration
		}

		res = &appr.GiftApprovalResult{Gift: gift}
		description := fmt.Sprintf("gift from %s", gift.GiverName)

		switch {
		case gift.Allocation.GoalID != nil:
			goal, err := lockGoal(ctx, tx, *gift.Allocation.GoalID)
			if err != nil {
				return err
			}
			if goal.ChildID != gift.ChildID {
				return pkgerrors.ErrGoalNotFound
			}
			milestones, err := loadMilestones(ctx, tx, goal.ID)
			if err != nil {
				return err
			}
			rule, err := loadActiveRule(ctx, tx, goal.ID)
			if err != nil {
				return err
			}
			res.Contribution, err = applyContribution(ctx, tx, goal, milestones, rule,
				gift.Amount, models.ContributionExternalGift, description, now, actor)
			if err != nil {
				return err
			}

		case gift.Allocation.SavingsPercentage != nil:
			spendablePart := gift.Amount - savingsAmount
			if spendablePart > 0 {
				res.Transaction, err = applySpendable(ctx, tx, gift.ChildID, spendablePart,
					models.TypeCredit, models.CategoryGift, description, nil, actor)
				if err != nil {
					return err
				}
				gift.TransactionID = &res.Transaction.ID
			}
			if savingsAmount > 0 {
				var sourceID *int64
				if res.Transaction != nil {
					sourceID = &res.Transaction.ID
				}
				res.SavingsTransaction, err = applySavings(ctx, tx, gift.ChildID, savingsAmount,
					models.SavingsDeposit, false, sourceID, actor)
				if err != nil {
					return err
				}
			}

		default:
			res.Transaction, err = applySpendable(ctx, tx, gift.ChildID, gift.Amount,
				models.TypeCredit, models.CategoryGift, description, nil, actor)
			if err != nil {
				return err
			}
			gift.TransactionID = &res.Transaction.ID
		}

		gift.Status = models.GiftApproved
		gift.ProcessedBy = actor.String()
		at := now
		gift.ProcessedAt = &at
		if _, err := tx.ExecContext(ctx,
			`UPDATE gifts SET status = $1, transaction_id = $2, processed_by = $3, processed_at = $4 WHERE id = $5`,
			gift.Status, gift.TransactionID, gift.ProcessedBy, gift.ProcessedAt, gift.ID); err != nil {
			return fmt.Errorf("failed to update gift: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.Error("gift approval failed", "gift_id", giftID, "error", err)
		return nil, err
	}

	slog.Info("gift approved", "gift_id", giftID, "child_id", res.Gift.ChildID,
		"amount", res.Gift.Amount, "actor", actor.String())
	return res, nil
}

func (r *PostgresGiftRepository) Reject(ctx context.Context, giftID int64, actor models.Actor) (g *models.Gift, err error) {
	ctx, done := observe(ctx, "gift-repository", "RejectGift")
	defer func() { done(err) }()

	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		gift, err := lockGift(ctx, tx, giftID)
		if err != nil {
			return err
		}
		if gift.Status != models.GiftPending {
			return pkgerrors.ErrGiftAlreadyProcessed
		}
		gift.Status = models.GiftRejected
		gift.ProcessedBy = actor.String()
		now := time.Now().UTC()
		gift.ProcessedAt = &now
		if _, err := tx.ExecContext(ctx,
			`UPDATE gifts SET status = $1, processed_by = $2, processed_at = $3 WHERE id = $4`,
			gift.Status, gift.ProcessedBy, gift.ProcessedAt, gift.ID); err != nil {
			return fmt.Errorf("failed to update gift: %w", err)
		}
		g = gift
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("gift rejected", "gift_id", giftID, "actor", actor.String())
	return g, nil
}

func (r *PostgresGiftRepository) ExpireStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE gifts SET status = 'expired', processed_at = now() WHERE status = 'pending' AND created_at < $1`,
		olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to expire gifts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		slog.Info("stale gifts expired", "count", n, "older_than", olderThan)
	}
	return n, nil
}

func lockGift(ctx context.Context, tx *sql.Tx, giftID int64) (*models.Gift, error) {
	var g models.Gift
	var pct sql.NullString
	var processedBy sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT `+giftColumns+` FROM gifts WHERE id = $1 FOR UPDATE`, giftID).Scan(
		&g.ID, &g.ChildID, &g.Reference, &g.GiverName, &g.GiverEmail, &g.Amount,
		&g.Occasion, &g.Message, &g.Status, &g.Allocation.GoalID, &pct,
		&g.TransactionID, &processedBy, &g.ProcessedAt, &g.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrGiftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock gift row: %w", err)
	}
	if pct.Valid {
		d, err := decimal.NewFromString(pct.String)
		if err != nil {
			return nil, fmt.Errorf("invalid savings percentage %q: %w", pct.String, err)
		}
		g.Allocation.SavingsPercentage = &d
	}
	g.ProcessedBy = processedBy.String
	return &g, nil
}
