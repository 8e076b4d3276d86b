package service

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/fowxnm/HuoBTC-Pro-sub000/internal/repository"
)

// fakeOrderStore 内存订单存储，条件关单语义与仓储一致
type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[int64]*repository.Order

	createErr error
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[int64]*repository.Order)}
}

func (s *fakeOrderStore) CreateOrder(ctx context.Context, order *repository.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	clone := *order
	s.orders[order.OrderID] = &clone
	return nil
}

func (s *fakeOrderStore) GetOrder(ctx context.Context, orderID int64) (*repository.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	clone := *order
	return &clone, nil
}

func (s *fakeOrderStore) CloseOrder(ctx context.Context, orderID int64, status int, exitPrice decimal.NullDecimal, pnl decimal.Decimal, closeTimeMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	if order.Status != repository.StatusOpen {
		return repository.ErrOrderAlreadyClosed
	}
	order.Status = status
	order.ExitPrice = exitPrice
	order.Pnl = decimal.NewNullDecimal(pnl)
	order.CloseTimeMs = closeTimeMs
	return nil
}

func (s *fakeOrderStore) ListOpenOrders(ctx context.Context, userID int64, symbol string, limit int) ([]*repository.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var orders []*repository.Order
	for _, order := range s.orders {
		if order.UserID == userID && order.Status == repository.StatusOpen && (symbol == "" || order.Symbol == symbol) {
			clone := *order
			orders = append(orders, &clone)
		}
	}
	return orders, nil
}

func (s *fakeOrderStore) ListOrders(ctx context.Context, userID int64, symbol string, startTimeMs, endTimeMs int64, limit int) ([]*repository.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var orders []*repository.Order
	for _, order := range s.orders {
		if order.UserID == userID && (symbol == "" || order.Symbol == symbol) &&
			order.CreateTimeMs >= startTimeMs && order.CreateTimeMs <= endTimeMs {
			clone := *order
			orders = append(orders, &clone)
		}
	}
	return orders, nil
}

func (s *fakeOrderStore) ListOpenBinaryOrders(ctx context.Context) ([]*repository.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var orders []*repository.Order
	for _, order := range s.orders {
		if order.ProductType == repository.ProductBinary && order.Status == repository.StatusOpen {
			clone := *order
			orders = append(orders, &clone)
		}
	}
	return orders, nil
}

// fakeAccountStore 内存账户存储，Debit 在锁内完成条件扣减
type fakeAccountStore struct {
	mu         sync.Mutex
	accounts   map[int64]*repository.Account
	currencies map[string]*repository.Currency
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{
		accounts:   make(map[int64]*repository.Account),
		currencies: make(map[string]*repository.Currency),
	}
}

func (s *fakeAccountStore) addAccount(userID int64, balance string, frozen bool, riskLevel int) {
	s.accounts[userID] = &repository.Account{
		UserID:    userID,
		Balance:   decimal.RequireFromString(balance),
		Frozen:    frozen,
		RiskLevel: riskLevel,
	}
}

func (s *fakeAccountStore) addCurrency(symbol string, status int) {
	s.currencies[symbol] = &repository.Currency{Symbol: symbol, Status: status}
}

func (s *fakeAccountStore) balance(userID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[userID].Balance
}

func (s *fakeAccountStore) GetAccount(ctx context.Context, userID int64) (*repository.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[userID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	clone := *account
	return &clone, nil
}

func (s *fakeAccountStore) Debit(ctx context.Context, userID int64, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[userID]
	if !ok {
		return repository.ErrAccountNotFound
	}
	if account.Balance.LessThan(amount) {
		return repository.ErrInsufficientBalance
	}
	account.Balance = account.Balance.Sub(amount)
	return nil
}

func (s *fakeAccountStore) Credit(ctx context.Context, userID int64, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[userID]
	if !ok {
		return repository.ErrAccountNotFound
	}
	account.Balance = account.Balance.Add(amount)
	return nil
}

func (s *fakeAccountStore) GetCurrency(ctx context.Context, symbol string) (*repository.Currency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	currency, ok := s.currencies[symbol]
	if !ok {
		return nil, repository.ErrCurrencyNotFound
	}
	clone := *currency
	return &clone, nil
}

// fakeRegistrar 记录登记的结算任务
type fakeRegistrar struct {
	mu   sync.Mutex
	jobs []registeredJob
	err  error
}

type registeredJob struct {
	OrderID    int64
	Symbol     string
	SettleAtMs int64
}

func (r *fakeRegistrar) Register(ctx context.Context, orderID int64, symbol string, settleAtMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, registeredJob{OrderID: orderID, Symbol: symbol, SettleAtMs: settleAtMs})
	return nil
}

// seqIDGen 测试用递增 ID
type seqIDGen struct {
	mu   sync.Mutex
	next int64
}

func (g *seqIDGen) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return g.next
}
