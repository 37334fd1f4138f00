package service

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/brycehammond/allowance-sub012/internal/events"
	"github.com/brycehammond/allowance-sub012/internal/models"
	"github.com/brycehammond/allowance-sub012/internal/repository"
	pkgerrors "github.com/brycehammond/allowance-sub012/pkg/errors"
	"go.opentelemetry.io/otel"
)

// SavingsAutomator moves the configured slice of each allowance payment into
// savings.
type SavingsAutomator struct {
	ledger    repository.LedgerRepository
	publisher events.Publisher
}

func NewSavingsAutomator(ledger repository.LedgerRepository, publisher events.Publisher) *SavingsAutomator {
	return &SavingsAutomator{ledger: ledger, publisher: publisher}
}

// ProcessAutoTransfer runs after an allowance payment. Disabled automation
// and an insufficient spendable balance are both expected steady-state
// no-ops, not errors; anything else is reported to the caller.
func (s *SavingsAutomator) ProcessAutoTransfer(ctx context.Context, child *models.Child, sourceTx *models.Transaction) error {
	tracer := otel.Tracer("allowance-service")
	ctx, span := tracer.Start(ctx, "ProcessAutoTransfer")
	defer span.End()

	if child.TransferType == models.TransferNone {
		return nil
	}

	amount := ComputeTransfer(sourceTx.Amount, child.TransferType, child.TransferValue)
	if amount <= 0 {
		return nil
	}

	t, st, err := s.ledger.TransferToSavings(ctx, child.ID, amount, &sourceTx.ID, models.SystemActor)
	if stderrors.Is(err, pkgerrors.ErrInsufficientFunds) {
		slog.Info("auto transfer skipped, insufficient spendable balance",
			"child_id", child.ID, "amount", amount, "source_transaction_id", sourceTx.ID)
		return nil
	}
	if err != nil {
		return err
	}

	s.publisher.Publish(ctx, events.Event{
		Type:    events.AutoTransferCompleted,
		ChildID: child.ID,
		Amount:  amount,
		Detail: map[string]any{
			"source_transaction_id":  sourceTx.ID,
			"transaction_id":         t.ID,
			"savings_transaction_id": st.ID,
		},
	})
	return nil
}
