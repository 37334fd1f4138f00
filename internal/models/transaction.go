package models

import "time"

type TransactionType string

const (
	TypeCredit TransactionType = "credit"
	TypeDebit  TransactionType = "debit"
)

type TransactionCategory string

const (
	CategoryAllowance    TransactionCategory = "allowance"
	CategoryAutoTransfer TransactionCategory = "auto_transfer"
	CategoryGift         TransactionCategory = "gift"
	CategorySpending     TransactionCategory = "spending"
	CategoryAdjustment   TransactionCategory = "adjustment"
)

// Transaction is one immutable spendable-balance mutation. BalanceAfter is the
// spendable balance strictly after this row; replaying all rows for a child in
// creation order must reproduce the current balance.
type Transaction struct {
	ID                   int64               `json:"id"`
	ChildID              int64               `json:"child_id"`
	Amount               int64               `json:"amount"`
	Type                 TransactionType     `json:"type"`
	Category             TransactionCategory `json:"category"`
	Description          string              `json:"description,omitempty"`
	BalanceAfter         int64               `json:"balance_after"`
	RelatedTransactionID *int64              `json:"related_transaction_id,omitempty"`
	CreatedBy            string              `json:"created_by"`
	CreatedAt            time.Time           `json:"created_at"`
}

type SavingsTransactionType string

const (
	SavingsDeposit      SavingsTransactionType = "deposit"
	SavingsWithdrawal   SavingsTransactionType = "withdrawal"
	SavingsAutoTransfer SavingsTransactionType = "auto_transfer"
)

// SavingsTransaction is one immutable savings-balance mutation.
// SourceTransactionID links an automatic transfer back to the allowance
// payment that produced it.
type SavingsTransaction struct {
	ID                  int64                  `json:"id"`
	ChildID             int64                  `json:"child_id"`
	Amount              int64                  `json:"amount"`
	Type                SavingsTransactionType `json:"type"`
	BalanceAfter        int64                  `json:"balance_after"`
	IsAutomatic         bool                   `json:"is_automatic"`
	SourceTransactionID *int64                 `json:"source_transaction_id,omitempty"`
	CreatedBy           string                 `json:"created_by"`
	CreatedAt           time.Time              `json:"created_at"`
}
