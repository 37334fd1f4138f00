package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransferType string

const (
	TransferNone        TransferType = "none"
	TransferFixedAmount TransferType = "fixed"
	TransferPercentage  TransferType = "percentage"
)

// Child owns the two balances. All amounts are integer cents.
// SpendableBalance may go negative only when AllowDebt is set;
// SavingsBalance never does.
type Child struct {
	ID                    int64           `json:"id"`
	FamilyID              int64           `json:"family_id"`
	Name                  string          `json:"name"`
	SpendableBalance      int64           `json:"spendable_balance"`
	SavingsBalance        int64           `json:"savings_balance"`
	WeeklyAllowanceAmount int64           `json:"weekly_allowance_amount"`
	LastAllowanceDate     *time.Time      `json:"last_allowance_date,omitempty"`
	AllowanceDayOfWeek    *int            `json:"allowance_day_of_week,omitempty"` // 0=Sunday..6, nil = rolling 7-day window
	AllowDebt             bool            `json:"allow_debt"`
	TransferType          TransferType    `json:"transfer_type"`
	TransferValue         decimal.Decimal `json:"transfer_value"`
	CreatedAt             time.Time       `json:"created_at"`
}
