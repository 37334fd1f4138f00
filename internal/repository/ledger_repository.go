package repository

import (
	"context"
	"time"

	"github.com/brycehammond/allowance-sub012/internal/models"
)

// LedgerRepository is the only path that writes balances. Every method is one
// atomic unit: the balance write and its audit record commit or roll back
// together.
type LedgerRepository interface {
	ApplyBalanceChange(ctx context.Context, childID, amount int64, txType models.TransactionType,
		category models.TransactionCategory, description string, relatedTxID *int64, actor models.Actor) (*models.Transaction, error)
	ApplySavingsChange(ctx context.Context, childID, amount int64, txType models.SavingsTransactionType,
		isAutomatic bool, sourceTxID *int64, actor models.Actor) (*models.SavingsTransaction, error)

	// TransferToSavings debits spendable and credits savings in one unit,
	// linking both audit rows to the originating transaction.
	TransferToSavings(ctx context.Context, childID, amount int64, sourceTxID *int64, actor models.Actor) (*models.Transaction, *models.SavingsTransaction, error)

	// PayAllowance performs the eligibility check, the last_allowance_date
	// update and the credit in one unit, so concurrent schedulers racing on
	// the same child serialize and exactly one wins.
	PayAllowance(ctx context.Context, childID int64, now time.Time, actor models.Actor) (*models.Transaction, error)

	ListTransactions(ctx context.Context, childID int64) ([]models.Transaction, error)
	ListSavingsTransactions(ctx context.Context, childID int64) ([]models.SavingsTransaction, error)
}
