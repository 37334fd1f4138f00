package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brycehammond/allowance-sub012/internal/infrastructure/redis"
	"github.com/brycehammond/allowance-sub012/internal/models"
	"github.com/brycehammond/allowance-sub012/internal/repository"
	pkgerrors "github.com/brycehammond/allowance-sub012/pkg/errors"
	"go.opentelemetry.io/otel"
)

const balanceCacheTTL = 5 * time.Minute

type Balances struct {
	Spendable int64 `json:"spendable"`
	Savings   int64 `json:"savings"`
}

// LedgerService fronts the ledger store for manual credits, debits and
// history reads, with a short-lived balance cache.
type LedgerService interface {
	ApplyBalanceChange(ctx context.Context, childID, amount int64, txType models.TransactionType,
		category models.TransactionCategory, description string, actor models.Actor) (*models.Transaction, error)
	ApplySavingsChange(ctx context.Context, childID, amount int64, txType models.SavingsTransactionType,
		actor models.Actor) (*models.SavingsTransaction, error)
	GetBalances(ctx context.Context, childID int64) (*Balances, error)
	GetTransactionHistory(ctx context.Context, childID int64) ([]models.Transaction, error)
	GetSavingsHistory(ctx context.Context, childID int64) ([]models.SavingsTransaction, error)
}

type ledgerService struct {
	childRepo   repository.ChildRepository
	ledger      repository.LedgerRepository
	redisClient redis.RedisClient
}

func NewLedgerService(childRepo repository.ChildRepository, ledger repository.LedgerRepository,
	redisClient redis.RedisClient) *ledgerService {
	return &ledgerService{childRepo: childRepo, ledger: ledger, redisClient: redisClient}
}

func balanceKey(childID int64) string {
	return fmt.Sprintf("child:%d:balances", childID)
}

func invalidateBalances(ctx context.Context, client redis.RedisClient, childID int64) {
	if err := client.Del(ctx, balanceKey(childID)); err != nil {
		slog.Error("failed to invalidate balance cache", "child_id", childID, "error", err)
	}
}

func (s *ledgerService) ApplyBalanceChange(ctx context.Context, childID, amount int64,
	txType models.TransactionType, category models.TransactionCategory, description string,
	actor models.Actor) (*models.Transaction, error) {

	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "ApplyBalanceChange")
	defer span.End()

	if amount <= 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}

	t, err := s.ledger.ApplyBalanceChange(ctx, childID, amount, txType, category, description, nil, actor)
	if err != nil {
		return nil, err
	}
	invalidateBalances(ctx, s.redisClient, childID)
	return t, nil
}

func (s *ledgerService) ApplySavingsChange(ctx context.Context, childID, amount int64,
	txType models.SavingsTransactionType, actor models.Actor) (*models.SavingsTransaction, error) {

	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "ApplySavingsChange")
	defer span.End()

	if amount <= 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}

	t, err := s.ledger.ApplySavingsChange(ctx, childID, amount, txType, false, nil, actor)
	if err != nil {
		return nil, err
	}
	invalidateBalances(ctx, s.redisClient, childID)
	return t, nil
}

func (s *ledgerService) GetBalances(ctx context.Context, childID int64) (*Balances, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "GetBalances")
	defer span.End()

	key := balanceKey(childID)
	if cached, err := s.redisClient.Get(ctx, key); err == nil {
		var b Balances
		if err := json.Unmarshal([]byte(cached), &b); err == nil {
			return &b, nil
		}
		slog.Error("failed to unmarshal cached balances", "child_id", childID)
	}

	child, err := s.childRepo.GetByID(ctx, childID)
	if err != nil {
		return nil, err
	}
	b := &Balances{Spendable: child.SpendableBalance, Savings: child.SavingsBalance}

	if payload, err := json.Marshal(b); err == nil {
		if err := s.redisClient.Set(ctx, key, string(payload), balanceCacheTTL); err != nil {
			slog.Error("failed to cache balances", "child_id", childID, "error", err)
		}
	}
	return b, nil
}

func (s *ledgerService) GetTransactionHistory(ctx context.Context, childID int64) ([]models.Transaction, error) {
	return s.ledger.ListTransactions(ctx, childID)
}

func (s *ledgerService) GetSavingsHistory(ctx context.Context, childID int64) ([]models.SavingsTransaction, error) {
	return s.ledger.ListSavingsTransactions(ctx, childID)
}
