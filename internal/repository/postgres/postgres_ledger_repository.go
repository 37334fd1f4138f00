package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/brycehammond/allowance-sub012/internal/models"
	pkgerrors "github.com/brycehammond/allowance-sub012/pkg/errors"
)

// PostgresLedgerRepository is the single write path to both balances. Every
// mutation locks the child row, writes the balance and its audit record in
// one transaction, and rolls back as a unit on any failure.
type PostgresLedgerRepository struct {
	db *sql.DB
}

func NewPostgresLedgerRepository(db *sql.DB) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{db: db}
}

func (r *PostgresLedgerRepository) ApplyBalanceChange(ctx context.Context, childID, amount int64,
	txType models.TransactionType, category models.TransactionCategory, description string,
	relatedTxID *int64, actor models.Actor) (t *models.Transaction, err error) {

	ctx, done := observe(ctx, "ledger-repository", "ApplyBalanceChange")
	defer func() { done(err) }()

	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		t, err = applySpendable(ctx, tx, childID, amount, txType, category, description, relatedTxID, actor)
		return err
	})
	if err != nil {
		slog.Error("balance change failed", "child_id", childID, "amount", amount, "type", txType, "error", err)
		return nil, err
	}

	slog.Info("balance change applied",
		"child_id", childID, "transaction_id", t.ID, "amount", t.Amount,
		"category", category, "balance_after", t.BalanceAfter, "actor", actor.String())
	return t, nil
}

func (r *PostgresLedgerRepository) ApplySavingsChange(ctx context.Context, childID, amount int64,
	txType models.SavingsTransactionType, isAutomatic bool, sourceTxID *int64,
	actor models.Actor) (t *models.SavingsTransaction, err error) {

	ctx, done := observe(ctx, "ledger-repository", "ApplySavingsChange")
	defer func() { done(err) }()

	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		t, err = applySavings(ctx, tx, childID, amount, txType, isAutomatic, sourceTxID, actor)
		return err
	})
	if err != nil {
		slog.Error("savings change failed", "child_id", childID, "amount", amount, "type", txType, "error", err)
		return nil, err
	}

	slog.Info("savings change applied",
		"child_id", childID, "savings_transaction_id", t.ID, "amount", t.Amount,
		"balance_after", t.BalanceAfter, "actor", actor.String())
	return t, nil
}

// TransferToSavings debits spendable and credits savings under one child row
// lock. A partial transfer can never be observed: both audit rows and both
// balance writes commit together or not at all.
func (r *PostgresLedgerRepository) TransferToSavings(ctx context.Context, childID, amount int64,
	sourceTxID *int64, actor models.Actor) (t *models.Transaction, st *models.SavingsTransaction, err error) {

	ctx, done := observe(ctx, "ledger-repository", "TransferToSavings")
	defer func() { done(err) }()

	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		// a transfer never creates debt, even for allow-debt children
		spendable, _, _, lockErr := lockChild(ctx, tx, childID)
		if lockErr != nil {
			return lockErr
		}
		if spendable < amount {
			return pkgerrors.ErrInsufficientFunds
		}
		t, err = applySpendable(ctx, tx, childID, amount, models.TypeDebit,
			models.CategoryAutoTransfer, "transfer to savings", sourceTxID, actor)
		if err != nil {
			return err
		}
		st, err = applySavings(ctx, tx, childID, amount, models.SavingsAutoTransfer, true, sourceTxID, actor)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	slog.Info("savings transfer applied",
		"child_id", childID, "amount", amount,
		"transaction_id", t.ID, "savings_transaction_id", st.ID, "actor", actor.String())
	return t, st, nil
}

// PayAllowance closes the scheduler-replica race: the eligibility predicate
// and the last_allowance_date write are one conditional UPDATE on the child
// row, so two concurrent callers serialize and the loser sees not-due. The
// credit and its audit record commit in the same transaction.
//
// Eligibility: weekly_allowance_amount > 0 and, when allowance_day_of_week is
// set, today is that weekday and no payment was made today yet (the fixed day
// overrides the rolling window); otherwise at least 7 days since the last
// payment.
func (r *PostgresLedgerRepository) PayAllowance(ctx context.Context, childID int64, now time.Time,
	actor models.Actor) (t *models.Transaction, err error) {

	ctx, done := observe(ctx, "ledger-repository", "PayAllowance")
	defer func() { done(err) }()

	dow := int(now.Weekday())

	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
		UPDATE children SET last_allowance_date = $2
		WHERE id = $1 AND weekly_allowance_amount > 0
		AND (
			(allowance_day_of_week IS NULL AND (last_allowance_date IS NULL OR last_allowance_date <= $2 - INTERVAL '7 days'))
			OR
			(allowance_day_of_week = $3 AND (last_allowance_date IS NULL OR date_trunc('day', last_allowance_date) < date_trunc('day', $2::timestamptz)))
		)
		RETURNING weekly_allowance_amount, spendable_balance
		`
		var amount, spendable int64
		scanErr := tx.QueryRowContext(ctx, query, childID, now, dow).Scan(&amount, &spendable)
		if scanErr == sql.ErrNoRows {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM children WHERE id = $1)`, childID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check child existence: %w", err)
			}
			if !exists {
				return pkgerrors.ErrChildNotFound
			}
			return pkgerrors.ErrAllowanceNotDue
		}
		if scanErr != nil {
			return fmt.Errorf("failed to claim allowance payment: %w", scanErr)
		}

		newBalance := spendable + amount
		if _, err := tx.ExecContext(ctx, `UPDATE children SET spendable_balance = $1 WHERE id = $2`, newBalance, childID); err != nil {
			return fmt.Errorf("failed to update spendable balance: %w", err)
		}

		t = &models.Transaction{
			ChildID:      childID,
			Amount:       amount,
			Type:         models.TypeCredit,
			Category:     models.CategoryAllowance,
			Description:  "weekly allowance",
			BalanceAfter: newBalance,
			CreatedBy:    actor.String(),
		}
		return insertTransaction(ctx, tx, t)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("allowance paid",
		"child_id", childID, "transaction_id", t.ID, "amount", t.Amount,
		"balance_after", t.BalanceAfter, "actor", actor.String())
	return t, nil
}

func (r *PostgresLedgerRepository) ListTransactions(ctx context.Context, childID int64) ([]models.Transaction, error) {
	query := `SELECT id, child_id, amount, type, category, description, balance_after, related_transaction_id, created_by, created_at
		FROM transactions WHERE child_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.ChildID, &t.Amount, &t.Type, &t.Category, &t.Description,
			&t.BalanceAfter, &t.RelatedTransactionID, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresLedgerRepository) ListSavingsTransactions(ctx context.Context, childID int64) ([]models.SavingsTransaction, error) {
	query := `SELECT id, child_id, amount, type, balance_after, is_automatic, source_transaction_id, created_by, created_at
		FROM savings_transactions WHERE child_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to list savings transactions: %w", err)
	}
	defer rows.Close()

	var out []models.SavingsTransaction
	for rows.Next() {
		var t models.SavingsTransaction
		if err := rows.Scan(&t.ID, &t.ChildID, &t.Amount, &t.Type, &t.BalanceAfter,
			&t.IsAutomatic, &t.SourceTransactionID, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan savings transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
