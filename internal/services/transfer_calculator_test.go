package service

import (
	"testing"

	"github.com/brycehammond/allowance-sub012/internal/models"
	pkgerrors "github.com/brycehammond/allowance-sub012/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestComputeTransfer(t *testing.T) {
	tests := []struct {
		name         string
		sourceAmount int64
		transferType models.TransferType
		value        string
		want         int64
	}{
		{"None", 1000, models.TransferNone, "0", 0},
		{"FixedWholeCents", 1000, models.TransferFixedAmount, "200", 200},
		{"FixedLargerThanSource", 500, models.TransferFixedAmount, "800", 800},
		{"TwentyPercentOfTenDollars", 1000, models.TransferPercentage, "20", 200},
		{"PercentageRoundsHalfUp", 999, models.TransferPercentage, "25", 250},
		{"PercentageSmallAmount", 3, models.TransferPercentage, "50", 2},
		{"HundredPercent", 1234, models.TransferPercentage, "100", 1234},
		{"ZeroPercent", 1000, models.TransferPercentage, "0", 0},
		{"UnknownType", 1000, models.TransferType("weird"), "50", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := decimal.NewFromString(tt.value)
			assert.NoError(t, err)
			got := ComputeTransfer(tt.sourceAmount, tt.transferType, value)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateTransferConfig(t *testing.T) {
	t.Run("NoneIgnoresValue", func(t *testing.T) {
		assert.NoError(t, ValidateTransferConfig(models.TransferNone, decimal.NewFromInt(-5)))
	})

	t.Run("PercentageInRange", func(t *testing.T) {
		assert.NoError(t, ValidateTransferConfig(models.TransferPercentage, decimal.NewFromInt(20)))
		assert.NoError(t, ValidateTransferConfig(models.TransferPercentage, decimal.NewFromInt(0)))
		assert.NoError(t, ValidateTransferConfig(models.TransferPercentage, decimal.NewFromInt(100)))
	})

	t.Run("PercentageOutOfRange", func(t *testing.T) {
		assert.ErrorIs(t, ValidateTransferConfig(models.TransferPercentage, decimal.NewFromInt(101)), pkgerrors.ErrInvalidConfiguration)
		assert.ErrorIs(t, ValidateTransferConfig(models.TransferPercentage, decimal.NewFromInt(-1)), pkgerrors.ErrInvalidConfiguration)
	})

	t.Run("FixedNegative", func(t *testing.T) {
		assert.ErrorIs(t, ValidateTransferConfig(models.TransferFixedAmount, decimal.NewFromInt(-100)), pkgerrors.ErrInvalidConfiguration)
	})

	t.Run("UnknownType", func(t *testing.T) {
		assert.ErrorIs(t, ValidateTransferConfig(models.TransferType("weird"), decimal.NewFromInt(1)), pkgerrors.ErrInvalidConfiguration)
	})
}
