package service

import (
	"context"

	"github.com/brycehammond/allowance-sub012/internal/models"
	"github.com/brycehammond/allowance-sub012/internal/repository"
	pkgerrors "github.com/brycehammond/allowance-sub012/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

type ChildService interface {
	CreateChild(ctx context.Context, child *models.Child) error
	GetChild(ctx context.Context, childID int64) (*models.Child, error)
	UpdateAllowanceConfig(ctx context.Context, childID int64, weeklyAmount int64, dayOfWeek *int) error
	UpdateTransferConfig(ctx context.Context, childID int64, transferType models.TransferType, value decimal.Decimal) error
}

type childService struct {
	childRepo repository.ChildRepository
}

func NewChildService(childRepo repository.ChildRepository) *childService {
	return &childService{childRepo: childRepo}
}

func (s *childService) CreateChild(ctx context.Context, child *models.Child) error {
	tracer := otel.Tracer("child-service")
	ctx, span := tracer.Start(ctx, "CreateChild")
	defer span.End()

	if child == nil {
		return pkgerrors.ErrNilChild
	}
	if child.WeeklyAllowanceAmount < 0 {
		return pkgerrors.ErrInvalidAmount
	}
	if child.TransferType == "" {
		child.TransferType = models.TransferNone
	}
	if err := ValidateTransferConfig(child.TransferType, child.TransferValue); err != nil {
		return err
	}
	if d := child.AllowanceDayOfWeek; d != nil && (*d < 0 || *d > 6) {
		return pkgerrors.ErrInvalidConfiguration
	}
	return s.childRepo.Create(ctx, child)
}

func (s *childService) GetChild(ctx context.Context, childID int64) (*models.Child, error) {
	return s.childRepo.GetByID(ctx, childID)
}

func (s *childService) UpdateAllowanceConfig(ctx context.Context, childID int64, weeklyAmount int64, dayOfWeek *int) error {
	tracer := otel.Tracer("child-service")
	ctx, span := tracer.Start(ctx, "UpdateAllowanceConfig")
	defer span.End()

	if weeklyAmount < 0 {
		return pkgerrors.ErrInvalidAmount
	}
	if dayOfWeek != nil && (*dayOfWeek < 0 || *dayOfWeek > 6) {
		return pkgerrors.ErrInvalidConfiguration
	}
	return s.childRepo.UpdateAllowanceConfig(ctx, childID, weeklyAmount, dayOfWeek)
}

func (s *childService) UpdateTransferConfig(ctx context.Context, childID int64, transferType models.TransferType, value decimal.Decimal) error {
	tracer := otel.Tracer("child-service")
	ctx, span := tracer.Start(ctx, "UpdateTransferConfig")
	defer span.End()

	if err := ValidateTransferConfig(transferType, value); err != nil {
		return err
	}
	return s.childRepo.UpdateTransferConfig(ctx, childID, transferType, value)
}
