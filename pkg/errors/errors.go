package errors

import "errors"

var (
	ErrChildNotFound        = errors.New("child not found")
	ErrGoalNotFound         = errors.New("goal not found")
	ErrGiftNotFound         = errors.New("gift not found")
	ErrChallengeNotFound    = errors.New("no active challenge for goal")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrAllowanceNotDue      = errors.New("allowance not due")
	ErrInvalidConfiguration = errors.New("invalid transfer configuration")
	ErrAmountExceedsBalance = errors.New("amount exceeds available balance")
	ErrGiftAlreadyProcessed = errors.New("gift already processed")
	ErrGoalNotActive        = errors.New("goal is not active")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrNilChild             = errors.New("child is nil")
	ErrNilGift              = errors.New("gift is nil")
	ErrInvalidContribution  = errors.New("invalid contribution type")
)
