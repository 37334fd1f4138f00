package repository

import (
	"context"

	"github.com/brycehammond/allowance-sub012/internal/models"
	"github.com/shopspring/decimal"
)

type ChildRepository interface {
	Create(ctx context.Context, child *models.Child) error
	GetByID(ctx context.Context, id int64) (*models.Child, error)
	ListIDs(ctx context.Context) ([]int64, error)
	UpdateAllowanceConfig(ctx context.Context, childID int64, weeklyAmount int64, dayOfWeek *int) error
	UpdateTransferConfig(ctx context.Context, childID int64, transferType models.TransferType, value decimal.Decimal) error
}
