package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrCurrencyNotFound    = errors.New("currency not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// RiskLevel 账户风控级别
const (
	RiskNormal = 0
	RiskWin    = 1
	RiskLose   = 2
)

// CurrencyStatus 币种状态
const (
	CurrencyTrading = 1
	CurrencyHalted  = 2
)

// Account 用户账户
type Account struct {
	UserID       int64           `json:"userId"`
	Balance      decimal.Decimal `json:"balance"`
	Frozen       bool            `json:"frozen"`
	RiskLevel    int             `json:"riskLevel"`
	UpdateTimeMs int64           `json:"updateTimeMs"`
}

// Currency 币种配置
type Currency struct {
	Symbol string `json:"symbol"`
	Status int    `json:"status"`
}

// AccountRepository 账户仓储。余额只通过 Debit/Credit 变更，
// 应用层永远不做读-改-写。
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository 创建仓储
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetAccount 获取账户（实时读库，不走缓存）
func (r *AccountRepository) GetAccount(ctx context.Context, userID int64) (*Account, error) {
	query := `
		SELECT user_id, balance, frozen, risk_level, update_time_ms
		FROM trading.accounts
		WHERE user_id = $1
	`
	var a Account
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&a.UserID, &a.Balance, &a.Frozen, &a.RiskLevel, &a.UpdateTimeMs,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &a, nil
}

// Debit 条件扣减余额：单条语句完成“余额足够才扣”，
// 并发下由存储层串行化，不存在先读后写的窗口。
func (r *AccountRepository) Debit(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("invalid debit amount: %s", amount)
	}
	query := `
		UPDATE trading.accounts
		SET balance = balance - $2, update_time_ms = $3
		WHERE user_id = $1 AND balance >= $2
	`
	result, err := r.db.ExecContext(ctx, query, userID, amount, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("debit: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit rows affected: %w", err)
	}
	if rows == 0 {
		// 区分账户不存在与余额不足
		if _, getErr := r.GetAccount(ctx, userID); getErr != nil {
			return getErr
		}
		return ErrInsufficientBalance
	}
	return nil
}

// Credit 无条件增加余额
func (r *AccountRepository) Credit(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("invalid credit amount: %s", amount)
	}
	query := `
		UPDATE trading.accounts
		SET balance = balance + $2, update_time_ms = $3
		WHERE user_id = $1
	`
	result, err := r.db.ExecContext(ctx, query, userID, amount, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("credit: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("credit rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// GetCurrency 获取币种状态（实时读库）
func (r *AccountRepository) GetCurrency(ctx context.Context, symbol string) (*Currency, error) {
	query := `
		SELECT symbol, status
		FROM trading.currencies
		WHERE symbol = $1
	`
	var c Currency
	err := r.db.QueryRowContext(ctx, query, symbol).Scan(&c.Symbol, &c.Status)
	if err == sql.ErrNoRows {
		return nil, ErrCurrencyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query currency: %w", err)
	}
	return &c, nil
}
