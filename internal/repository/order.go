// Package repository 订单与账户数据访问层
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderAlreadyClosed = errors.New("order already closed")
)

// ProductType 产品类型
const (
	ProductSpot      = 1
	ProductLeverage  = 2
	ProductPerpetual = 3
	ProductBinary    = 4
)

// Direction 持仓方向
const (
	DirectionLong  = 1
	DirectionShort = 2
)

// OrderStatus 订单状态
const (
	StatusOpen       = 1
	StatusClosed     = 2
	StatusLiquidated = 3
)

// Order 持仓订单
type Order struct {
	OrderID       int64               `json:"orderId"`
	UserID        int64               `json:"userId"`
	Symbol        string              `json:"symbol"`
	ProductType   int                 `json:"productType"`
	Direction     int                 `json:"direction"`
	Leverage      int                 `json:"leverage"`
	Margin        decimal.Decimal     `json:"margin"`
	EntryPrice    decimal.Decimal     `json:"entryPrice"`
	ExitPrice     decimal.NullDecimal `json:"exitPrice"`
	Pnl           decimal.NullDecimal `json:"pnl"`
	PayoutRate    decimal.Decimal     `json:"payoutRate"`
	BinarySeconds int                 `json:"binarySeconds"`
	Status        int                 `json:"status"`
	CreateTimeMs  int64               `json:"createTimeMs"`
	CloseTimeMs   int64               `json:"closeTimeMs"`
}

// OrderRepository 订单仓储
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository 创建仓储
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreateOrder 创建订单（entry_price 仅在此处写入，之后不再变更）
func (r *OrderRepository) CreateOrder(ctx context.Context, order *Order) error {
	query := `
		INSERT INTO trading.orders
		(order_id, user_id, symbol, product_type, direction, leverage, margin,
		 entry_price, payout_rate, binary_seconds, status, create_time_ms, close_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		order.OrderID, order.UserID, order.Symbol, order.ProductType, order.Direction,
		order.Leverage, order.Margin, order.EntryPrice, order.PayoutRate,
		order.BinarySeconds, order.Status, order.CreateTimeMs, order.CloseTimeMs,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder 获取订单
func (r *OrderRepository) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	query := `
		SELECT order_id, user_id, symbol, product_type, direction, leverage, margin,
		       entry_price, exit_price, pnl, payout_rate, binary_seconds, status,
		       create_time_ms, close_time_ms
		FROM trading.orders
		WHERE order_id = $1
	`
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, orderID))
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return order, nil
}

// CloseOrder 关闭订单：open -> closed/liquidated 的唯一通道。
// 条件更新保证同一订单至多被关闭一次：status 已非 open 时影响行数为 0。
func (r *OrderRepository) CloseOrder(ctx context.Context, orderID int64, status int, exitPrice decimal.NullDecimal, pnl decimal.Decimal, closeTimeMs int64) error {
	if status != StatusClosed && status != StatusLiquidated {
		return fmt.Errorf("invalid terminal status: %d", status)
	}
	query := `
		UPDATE trading.orders
		SET status = $2, exit_price = $3, pnl = $4, close_time_ms = $5
		WHERE order_id = $1 AND status = $6
	`
	result, err := r.db.ExecContext(ctx, query, orderID, status, exitPrice, pnl, closeTimeMs, StatusOpen)
	if err != nil {
		return fmt.Errorf("close order: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("close order rows affected: %w", err)
	}
	if rows == 0 {
		return ErrOrderAlreadyClosed
	}
	return nil
}

// ListOpenOrders 查询当前持仓
func (r *OrderRepository) ListOpenOrders(ctx context.Context, userID int64, symbol string, limit int) ([]*Order, error) {
	query := `
		SELECT order_id, user_id, symbol, product_type, direction, leverage, margin,
		       entry_price, exit_price, pnl, payout_rate, binary_seconds, status,
		       create_time_ms, close_time_ms
		FROM trading.orders
		WHERE user_id = $1 AND status = $2 AND ($3 = '' OR symbol = $3)
		ORDER BY create_time_ms DESC
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, query, userID, StatusOpen, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query open orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListOrders 查询历史订单
func (r *OrderRepository) ListOrders(ctx context.Context, userID int64, symbol string, startTimeMs, endTimeMs int64, limit int) ([]*Order, error) {
	query := `
		SELECT order_id, user_id, symbol, product_type, direction, leverage, margin,
		       entry_price, exit_price, pnl, payout_rate, binary_seconds, status,
		       create_time_ms, close_time_ms
		FROM trading.orders
		WHERE user_id = $1 AND ($2 = '' OR symbol = $2)
		  AND create_time_ms >= $3 AND create_time_ms <= $4
		ORDER BY create_time_ms DESC
		LIMIT $5
	`
	rows, err := r.db.QueryContext(ctx, query, userID, symbol, startTimeMs, endTimeMs, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListOpenBinaryOrders 扫描未结算的二元期权订单（调度器恢复用）。
// 订单表是结算等待时间的唯一权威来源，任务队列只是它的投影。
func (r *OrderRepository) ListOpenBinaryOrders(ctx context.Context) ([]*Order, error) {
	query := `
		SELECT order_id, user_id, symbol, product_type, direction, leverage, margin,
		       entry_price, exit_price, pnl, payout_rate, binary_seconds, status,
		       create_time_ms, close_time_ms
		FROM trading.orders
		WHERE product_type = $1 AND status = $2
	`
	rows, err := r.db.QueryContext(ctx, query, ProductBinary, StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("query open binary orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.OrderID, &o.UserID, &o.Symbol, &o.ProductType, &o.Direction, &o.Leverage,
		&o.Margin, &o.EntryPrice, &o.ExitPrice, &o.Pnl, &o.PayoutRate,
		&o.BinarySeconds, &o.Status, &o.CreateTimeMs, &o.CloseTimeMs,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]*Order, error) {
	var orders []*Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}
