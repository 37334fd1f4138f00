package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/brycehammond/allowance-sub012/internal/models"
	pkgerrors "github.com/brycehammond/allowance-sub012/pkg/errors"
	"github.com/shopspring/decimal"
)

type PostgresChildRepository struct {
	db *sql.DB
}

func NewPostgresChildRepository(db *sql.DB) *PostgresChildRepository {
	return &PostgresChildRepository{db: db}
}

func (r *PostgresChildRepository) Create(ctx context.Context, child *models.Child) error {
	if child == nil {
		return pkgerrors.ErrNilChild
	}
	if child.Name == "" {
		return fmt.Errorf("name is required")
	}
	if child.WeeklyAllowanceAmount < 0 {
		return pkgerrors.ErrInvalidAmount
	}

	query := `
	INSERT INTO children (family_id, name, weekly_allowance_amount, allowance_day_of_week, allow_debt, transfer_type, transfer_value)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id, created_at
	`
	if child.TransferType == "" {
		child.TransferType = models.TransferNone
	}
	err := r.db.QueryRowContext(ctx, query,
		child.FamilyID,
		child.Name,
		child.WeeklyAllowanceAmount,
		child.AllowanceDayOfWeek,
		child.AllowDebt,
		child.TransferType,
		child.TransferValue.String(),
	).Scan(&child.ID, &child.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create child: %w", err)
	}
	return nil
}

func (r *PostgresChildRepository) GetByID(ctx context.Context, id int64) (*models.Child, error) {
	query := `SELECT id, family_id, name, spendable_balance, savings_balance, weekly_allowance_amount,
		last_allowance_date, allowance_day_of_week, allow_debt, transfer_type, transfer_value, created_at
		FROM children WHERE id = $1`

	var child models.Child
	var transferValue string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&child.ID,
		&child.FamilyID,
		&child.Name,
		&child.SpendableBalance,
		&child.SavingsBalance,
		&child.WeeklyAllowanceAmount,
		&child.LastAllowanceDate,
		&child.AllowanceDayOfWeek,
		&child.AllowDebt,
		&child.TransferType,
		&transferValue,
		&child.CreatedAt,
	)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrChildNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get child: %w", err)
	}

	child.TransferValue, err = decimal.NewFromString(transferValue)
	if err != nil {
		return nil, fmt.Errorf("invalid transfer value %q: %w", transferValue, err)
	}
	return &child, nil
}

// ListIDs returns every child id for the sweep. The sweep re-checks
// eligibility per child inside the payment transaction, so a stale listing is
// harmless.
func (r *PostgresChildRepository) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM children ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan child id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresChildRepository) UpdateAllowanceConfig(ctx context.Context, childID int64, weeklyAmount int64, dayOfWeek *int) error {
	if weeklyAmount < 0 {
		return pkgerrors.ErrInvalidAmount
	}
	if dayOfWeek != nil && (*dayOfWeek < 0 || *dayOfWeek > 6) {
		return pkgerrors.ErrInvalidConfiguration
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE children SET weekly_allowance_amount = $1, allowance_day_of_week = $2 WHERE id = $3`,
		weeklyAmount, dayOfWeek, childID)
	if err != nil {
		return fmt.Errorf("failed to update allowance config: %w", err)
	}
	return requireRow(res, pkgerrors.ErrChildNotFound)
}

func (r *PostgresChildRepository) UpdateTransferConfig(ctx context.Context, childID int64, transferType models.TransferType, value decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE children SET transfer_type = $1, transfer_value = $2 WHERE id = $3`,
		transferType, value.String(), childID)
	if err != nil {
		return fmt.Errorf("failed to update transfer config: %w", err)
	}
	return requireRow(res, pkgerrors.ErrChildNotFound)
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
