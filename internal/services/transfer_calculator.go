package service

import (
	"github.com/brycehammond/allowance-sub012/internal/models"
	pkgerrors "github.com/brycehammond/allowance-sub012/pkg/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ComputeTransfer returns the slice of sourceAmount (cents) moved to savings
// under the given configuration. Percentage amounts round half-up to the
// nearest cent. Pure: no side effects, no failures; configuration is
// validated separately before it is stored.
func ComputeTransfer(sourceAmount int64, transferType models.TransferType, value decimal.Decimal) int64 {
	switch transferType {
	case models.TransferFixedAmount:
		return value.Round(0).IntPart()
	case models.TransferPercentage:
		if sourceAmount <= 0 {
			return 0
		}
		return decimal.NewFromInt(sourceAmount).Mul(value).Div(hundred).Round(0).IntPart()
	default:
		return 0
	}
}

// ValidateTransferConfig rejects configurations before they reach storage:
// percentages outside [0,100] and negative fixed amounts.
func ValidateTransferConfig(transferType models.TransferType, value decimal.Decimal) error {
	switch transferType {
	case models.TransferNone:
		return nil
	case models.TransferFixedAmount:
		if value.IsNegative() {
			return pkgerrors.ErrInvalidConfiguration
		}
		return nil
	case models.TransferPercentage:
		if value.IsNegative() || value.GreaterThan(hundred) {
			return pkgerrors.ErrInvalidConfiguration
		}
		return nil
	default:
		return pkgerrors.ErrInvalidConfiguration
	}
}
