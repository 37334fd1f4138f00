package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/brycehammond/allowance-sub012/internal/events"
	"github.com/brycehammond/allowance-sub012/internal/infrastructure/redis"
	"github.com/brycehammond/allowance-sub012/internal/models"
	"github.com/brycehammond/allowance-sub012/internal/repository"
	pkgerrors "github.com/brycehammond/allowance-sub012/pkg/errors"
	"github.com/shopspring/decimal"
)

// memStore backs the ledger and child fakes with the same data so a payment
// made through one is visible through the other, mirroring the shared
// database underneath the real repositories.
type memStore struct {
	mu           sync.Mutex
	children     map[int64]*models.Child
	transactions []models.Transaction
	savings      []models.SavingsTransaction
	nextTxID     int64
	failPay      map[int64]error
}

func newMemStore() *memStore {
	return &memStore{
		children: make(map[int64]*models.Child),
		failPay:  make(map[int64]error),
	}
}

func (s *memStore) addChild(c *models.Child) {
	s.children[c.ID] = c
}

type fakeChildRepo struct {
	store *memStore
}

func (r *fakeChildRepo) Create(_ context.Context, child *models.Child) error {
	r.store.addChild(child)
	return nil
}

func (r *fakeChildRepo) GetByID(_ context.Context, id int64) (*models.Child, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.children[id]
	if !ok {
		return nil, pkgerrors.ErrChildNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeChildRepo) ListIDs(context.Context) ([]int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var ids []int64
	for id := range r.store.children {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *fakeChildRepo) UpdateAllowanceConfig(_ context.Context, childID int64, weeklyAmount int64, dayOfWeek *int) error {
	c, ok := r.store.children[childID]
	if !ok {
		return pkgerrors.ErrChildNotFound
	}
	c.WeeklyAllowanceAmount = weeklyAmount
	c.AllowanceDayOfWeek = dayOfWeek
	return nil
}

func (r *fakeChildRepo) UpdateTransferConfig(_ context.Context, childID int64, transferType models.TransferType, value decimal.Decimal) error {
	c, ok := r.store.children[childID]
	if !ok {
		return pkgerrors.ErrChildNotFound
	}
	c.TransferType = transferType
	c.TransferValue = value
	return nil
}

type fakeLedger struct {
	store *memStore
}

func (l *fakeLedger) appendTransaction(child *models.Child, delta int64, txType models.TransactionType,
	category models.TransactionCategory, description string, relatedTxID *int64, actor models.Actor) *models.Transaction {

	child.SpendableBalance += delta
	l.store.nextTxID++
	t := models.Transaction{
		ID:                   l.store.nextTxID,
		ChildID:              child.ID,
		Amount:               delta,
		Type:                 txType,
		Category:             category,
		Description:          description,
		BalanceAfter:         child.SpendableBalance,
		RelatedTransactionID: relatedTxID,
		CreatedBy:            actor.String(),
		CreatedAt:            time.Now(),
	}
	l.store.transactions = append(l.store.transactions, t)
	return &t
}

func (l *fakeLedger) appendSavings(child *models.Child, delta int64, txType models.SavingsTransactionType,
	isAutomatic bool, sourceTxID *int64, actor models.Actor) *models.SavingsTransaction {

	child.SavingsBalance += delta
	l.store.nextTxID++
	t := models.SavingsTransaction{
		ID:                  l.store.nextTxID,
		ChildID:             child.ID,
		Amount:              delta,
		Type:                txType,
		BalanceAfter:        child.SavingsBalance,
		IsAutomatic:         isAutomatic,
		SourceTransactionID: sourceTxID,
		CreatedBy:           actor.String(),
		CreatedAt:           time.Now(),
	}
	l.store.savings = append(l.store.savings, t)
	return &t
}

func (l *fakeLedger) ApplyBalanceChange(_ context.Context, childID, amount int64, txType models.TransactionType,
	category models.TransactionCategory, description string, relatedTxID *int64, actor models.Actor) (*models.Transaction, error) {

	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	child, ok := l.store.children[childID]
	if !ok {
		return nil, pkgerrors.ErrChildNotFound
	}
	delta := amount
	if txType == models.TypeDebit {
		delta = -amount
	}
	if delta < 0 && child.SpendableBalance+delta < 0 && !child.AllowDebt {
		return nil, pkgerrors.ErrInsufficientFunds
	}
	return l.appendTransaction(child, delta, txType, category, description, relatedTxID, actor), nil
}

func (l *fakeLedger) ApplySavingsChange(_ context.Context, childID, amount int64, txType models.SavingsTransactionType,
	isAutomatic bool, sourceTxID *int64, actor models.Actor) (*models.SavingsTransaction, error) {

	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	child, ok := l.store.children[childID]
	if !ok {
		return nil, pkgerrors.ErrChildNotFound
	}
	delta := amount
	if txType == models.SavingsWithdrawal {
		delta = -amount
	}
	if child.SavingsBalance+delta < 0 {
		return nil, pkgerrors.ErrAmountExceedsBalance
	}
	return l.appendSavings(child, delta, txType, isAutomatic, sourceTxID, actor), nil
}

func (l *fakeLedger) TransferToSavings(_ context.Context, childID, amount int64, sourceTxID *int64,
	actor models.Actor) (*models.Transaction, *models.SavingsTransaction, error) {

	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	child, ok := l.store.children[childID]
	if !ok {
		return nil, nil, pkgerrors.ErrChildNotFound
	}
	if child.SpendableBalance < amount {
		return nil, nil, pkgerrors.ErrInsufficientFunds
	}
	t := l.appendTransaction(child, -amount, models.TypeDebit, models.CategoryAutoTransfer, "transfer to savings", sourceTxID, actor)
	st := l.appendSavings(child, amount, models.SavingsAutoTransfer, true, sourceTxID, actor)
	return t, st, nil
}

func (l *fakeLedger) PayAllowance(_ context.Context, childID int64, now time.Time, actor models.Actor) (*models.Transaction, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	if err := l.store.failPay[childID]; err != nil {
		return nil, err
	}
	child, ok := l.store.children[childID]
	if !ok {
		return nil, pkgerrors.ErrChildNotFound
	}
	if child.WeeklyAllowanceAmount <= 0 {
		return nil, pkgerrors.ErrAllowanceNotDue
	}
	if child.LastAllowanceDate != nil && now.Sub(*child.LastAllowanceDate) < 7*24*time.Hour {
		return nil, pkgerrors.ErrAllowanceNotDue
	}
	paid := now
	child.LastAllowanceDate = &paid
	return l.appendTransaction(child, child.WeeklyAllowanceAmount, models.TypeCredit,
		models.CategoryAllowance, "weekly allowance", nil, actor), nil
}

func (l *fakeLedger) ListTransactions(_ context.Context, childID int64) ([]models.Transaction, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	var out []models.Transaction
	for _, t := range l.store.transactions {
		if t.ChildID == childID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (l *fakeLedger) ListSavingsTransactions(_ context.Context, childID int64) ([]models.SavingsTransaction, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	var out []models.SavingsTransaction
	for _, t := range l.store.savings {
		if t.ChildID == childID {
			out = append(out, t)
		}
	}
	return out, nil
}

var _ repository.ChildRepository = (*fakeChildRepo)(nil)
var _ repository.LedgerRepository = (*fakeLedger)(nil)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (r *fakeRedis) Get(_ context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.data[key]
	if !ok {
		return "", redis.ErrKeyNotFound
	}
	return v, nil
}

func (r *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key] = toString(value)
	return nil
}

func (r *fakeRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[key]; ok {
		return false, nil
	}
	r.data[key] = toString(value)
	return true, nil
}

func (r *fakeRedis) Del(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, key)
	return nil
}

func (r *fakeRedis) Close() error { return nil }

var _ redis.RedisClient = (*fakeRedis)(nil)

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "x"
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) ofType(t events.EventType) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
