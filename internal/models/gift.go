package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type GiftStatus string

const (
	GiftPending  GiftStatus = "pending"
	GiftApproved GiftStatus = "approved"
	GiftRejected GiftStatus = "rejected"
	GiftExpired  GiftStatus = "expired"
)

// GiftAllocation directs where an approved gift lands. A goal target takes the
// whole amount; otherwise an optional percentage goes to savings and the
// remainder to spendable; empty means everything to spendable.
type GiftAllocation struct {
	GoalID            *int64           `json:"goal_id,omitempty"`
	SavingsPercentage *decimal.Decimal `json:"savings_percentage,omitempty"`
}

// Gift is a pending external contribution. It transitions exactly once from
// pending to approved, rejected or expired.
type Gift struct {
	ID            int64          `json:"id"`
	ChildID       int64          `json:"child_id"`
	Reference     string         `json:"reference"`
	GiverName     string         `json:"giver_name"`
	GiverEmail    string         `json:"giver_email,omitempty"`
	Amount        int64          `json:"amount"`
	Occasion      string         `json:"occasion,omitempty"`
	Message       string         `json:"message,omitempty"`
	Status        GiftStatus     `json:"status"`
	Allocation    GiftAllocation `json:"allocation"`
	TransactionID *int64         `json:"transaction_id,omitempty"`
	ProcessedBy   string         `json:"processed_by,omitempty"`
	ProcessedAt   *time.Time     `json:"processed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
