// Package service 交易引擎：持仓订单的开仓、平仓与二元期权结算
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/fowxnm/HuoBTC-Pro-sub000/internal/metrics"
	"github.com/fowxnm/HuoBTC-Pro-sub000/internal/repository"
	"github.com/fowxnm/HuoBTC-Pro-sub000/internal/risk"
)

// 业务拒绝码
const (
	CodeInvalidParam         = "INVALID_PARAM"
	CodeInvalidLeverage      = "INVALID_LEVERAGE"
	CodeInvalidPeriod        = "INVALID_PERIOD"
	CodeInvalidMargin        = "INVALID_MARGIN"
	CodeUserFrozen           = "USER_FROZEN"
	CodeUserNotFound         = "USER_NOT_FOUND"
	CodeSymbolNotTrading     = "SYMBOL_NOT_TRADING"
	CodeOrderNotFound        = "ORDER_NOT_FOUND"
	CodeOrderAlreadyClosed   = "ORDER_ALREADY_CLOSED"
	CodeInsufficientBalance  = "INSUFFICIENT_BALANCE"
	CodeNoPrice              = "NO_PRICE"
	CodeManualCloseForbidden = "MANUAL_CLOSE_FORBIDDEN"
	CodeRiskRejected         = "RISK_REJECTED"
)

// OrderStore 订单数据接口
type OrderStore interface {
	CreateOrder(ctx context.Context, order *repository.Order) error
	GetOrder(ctx context.Context, orderID int64) (*repository.Order, error)
	CloseOrder(ctx context.Context, orderID int64, status int, exitPrice decimal.NullDecimal, pnl decimal.Decimal, closeTimeMs int64) error
	ListOpenOrders(ctx context.Context, userID int64, symbol string, limit int) ([]*repository.Order, error)
	ListOrders(ctx context.Context, userID int64, symbol string, startTimeMs, endTimeMs int64, limit int) ([]*repository.Order, error)
	ListOpenBinaryOrders(ctx context.Context) ([]*repository.Order, error)
}

// AccountStore 账户数据接口
type AccountStore interface {
	GetAccount(ctx context.Context, userID int64) (*repository.Account, error)
	Debit(ctx context.Context, userID int64, amount decimal.Decimal) error
	Credit(ctx context.Context, userID int64, amount decimal.Decimal) error
	GetCurrency(ctx context.Context, symbol string) (*repository.Currency, error)
}

// PriceSource 价格来源
type PriceSource interface {
	Latest(symbol string) (decimal.Decimal, bool)
	NearestAt(symbol string, targetMs int64) (decimal.Decimal, bool)
}

// SettlementRegistrar 结算任务登记
type SettlementRegistrar interface {
	Register(ctx context.Context, orderID int64, symbol string, settleAtMs int64) error
}

// IDGenerator ID 生成器接口
type IDGenerator interface {
	NextID() int64
}

type eventPublisher interface {
	PublishOrderOpened(ctx context.Context, userID int64, order interface{}) error
	PublishOrderClosed(ctx context.Context, userID int64, order interface{}) error
	PublishOrderSettled(ctx context.Context, userID int64, order interface{}) error
}

// TradeEngine 交易引擎。Order 的唯一写入方，余额变更的唯一调用方。
type TradeEngine struct {
	orders      OrderStore
	accounts    AccountStore
	prices      PriceSource
	riskEval    *risk.Evaluator
	registrar   SettlementRegistrar
	idGen       IDGenerator
	payoutRates map[int]decimal.Decimal
	metrics     *metrics.Metrics
	publisher   eventPublisher
	logger      zerolog.Logger
}

// NewTradeEngine 创建交易引擎
func NewTradeEngine(orders OrderStore, accounts AccountStore, prices PriceSource, riskEval *risk.Evaluator, idGen IDGenerator, payoutRates map[int]decimal.Decimal, metricsClient *metrics.Metrics, logger zerolog.Logger) *TradeEngine {
	return &TradeEngine{
		orders:      orders,
		accounts:    accounts,
		prices:      prices,
		riskEval:    riskEval,
		idGen:       idGen,
		payoutRates: payoutRates,
		metrics:     metricsClient,
		logger:      logger.With().Str("component", "trade-engine").Logger(),
	}
}

// SetRegistrar 注入结算任务登记器
func (e *TradeEngine) SetRegistrar(registrar SettlementRegistrar) {
	e.registrar = registrar
}

// SetPublisher 注入事件发布器
func (e *TradeEngine) SetPublisher(publisher eventPublisher) {
	e.publisher = publisher
}

// OpenOrderRequest 开仓请求
type OpenOrderRequest struct {
	UserID        int64
	Symbol        string
	ProductType   int
	Direction     int
	Leverage      int
	Margin        decimal.Decimal
	BinarySeconds int
}

// OpenOrderResponse 开仓响应
type OpenOrderResponse struct {
	Order     *repository.Order
	ErrorCode string
}

// OpenOrder 开仓
func (e *TradeEngine) OpenOrder(ctx context.Context, req *OpenOrderRequest) (*OpenOrderResponse, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveOpenLatency(time.Since(start)) }()

	reject := func(code string) *OpenOrderResponse {
		e.metrics.IncOrderRejected(code)
		return &OpenOrderResponse{ErrorCode: code}
	}

	// 1. 基础参数
	if req == nil || req.Symbol == "" {
		return reject(CodeInvalidParam), nil
	}
	if req.Direction != repository.DirectionLong && req.Direction != repository.DirectionShort {
		return reject(CodeInvalidParam), nil
	}
	if req.Margin.Sign() <= 0 {
		return reject(CodeInvalidMargin), nil
	}

	// 2. 账户与币种实时状态（不信任会话里的快照）
	account, err := e.accounts.GetAccount(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return reject(CodeUserNotFound), nil
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	if account.Frozen {
		return reject(CodeUserFrozen), nil
	}
	currency, err := e.accounts.GetCurrency(ctx, req.Symbol)
	if err != nil {
		if errors.Is(err, repository.ErrCurrencyNotFound) {
			return reject(CodeSymbolNotTrading), nil
		}
		return nil, fmt.Errorf("get currency: %w", err)
	}
	if currency.Status != repository.CurrencyTrading {
		return reject(CodeSymbolNotTrading), nil
	}

	// 3. 风控策略：杠杆按策略上限收敛
	policy := e.riskEval.Evaluate(account.RiskLevel)
	if !policy.Allowed {
		return reject(CodeRiskRejected), nil
	}
	leverage := req.Leverage
	if leverage > policy.MaxLeverage {
		leverage = policy.MaxLeverage
	}

	// 4. 产品约束（越界拒绝，不收敛）
	params, code := buildProductParams(req.ProductType, leverage, req.BinarySeconds)
	if code != "" {
		return reject(code), nil
	}

	// 5. 入场价：无报价不开仓
	latest, ok := e.prices.Latest(req.Symbol)
	if !ok {
		return reject(CodeNoPrice), nil
	}

	// 6. 滑点：做多乘、做空除
	entryPrice := latest
	if policy.SlippageRate.Sign() > 0 {
		if req.Direction == repository.DirectionLong {
			entryPrice = latest.Mul(policy.SlippageRate)
		} else {
			entryPrice = latest.Div(policy.SlippageRate)
		}
	}

	// 7. 原子扣减保证金：失败则整单中止，不落任何状态
	if err := e.accounts.Debit(ctx, req.UserID, req.Margin); err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return reject(CodeInsufficientBalance), nil
		}
		if errors.Is(err, repository.ErrAccountNotFound) {
			return reject(CodeUserNotFound), nil
		}
		return nil, fmt.Errorf("debit margin: %w", err)
	}

	// 8. 落库
	now := time.Now().UnixMilli()
	order := &repository.Order{
		OrderID:      e.idGen.NextID(),
		UserID:       req.UserID,
		Symbol:       req.Symbol,
		ProductType:  params.ProductType(),
		Direction:    req.Direction,
		Leverage:     params.Leverage(),
		Margin:       req.Margin,
		EntryPrice:   entryPrice,
		PayoutRate:   decimal.Zero,
		Status:       repository.StatusOpen,
		CreateTimeMs: now,
	}
	if binary, ok := params.(BinaryParams); ok {
		order.BinarySeconds = binary.Seconds
		order.PayoutRate = e.payoutRate(binary.Seconds)
	}
	if err := e.orders.CreateOrder(ctx, order); err != nil {
		// 落库失败退回保证金
		if creditErr := e.accounts.Credit(ctx, req.UserID, req.Margin); creditErr != nil {
			e.logger.Error().Err(creditErr).Int64("userId", req.UserID).
				Str("margin", req.Margin.String()).Msg("refund margin after create failure")
		}
		e.metrics.IncOrderRejected("INTERNAL_ERROR")
		return nil, fmt.Errorf("create order: %w", err)
	}

	// 9. 二元期权登记结算唤醒时间。登记失败不回滚订单：
	// 任务队列可由订单表恢复，对账扫描会补登记。
	if order.ProductType == repository.ProductBinary && e.registrar != nil {
		settleAt := order.CreateTimeMs + int64(order.BinarySeconds)*1000
		if err := e.registrar.Register(ctx, order.OrderID, order.Symbol, settleAt); err != nil {
			e.logger.Error().Err(err).Int64("orderId", order.OrderID).Msg("register settlement job")
		}
	}

	e.metrics.IncOrderOpened(order.Symbol, productTypeToString(order.ProductType), directionToString(order.Direction))
	if e.publisher != nil {
		if err := e.publisher.PublishOrderOpened(ctx, order.UserID, order); err != nil {
			e.logger.Error().Err(err).Int64("orderId", order.OrderID).Msg("publish order opened")
		}
	}

	return &OpenOrderResponse{Order: order}, nil
}

// CloseOrderResponse 平仓响应
type CloseOrderResponse struct {
	Order     *repository.Order
	ErrorCode string
}

// CloseOrder 手动平仓（二元期权只走自动结算，拒绝手动平）
func (e *TradeEngine) CloseOrder(ctx context.Context, orderID, userID int64) (*CloseOrderResponse, error) {
	reject := func(code string) *CloseOrderResponse {
		e.metrics.IncOrderRejected(code)
		return &CloseOrderResponse{ErrorCode: code}
	}

	// 1. 订单校验
	order, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return reject(CodeOrderNotFound), nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order.UserID != userID {
		return reject(CodeOrderNotFound), nil
	}
	if order.Status != repository.StatusOpen {
		return reject(CodeOrderAlreadyClosed), nil
	}
	if order.ProductType == repository.ProductBinary {
		return reject(CodeManualCloseForbidden), nil
	}

	// 2. 重新校验账户与币种状态
	account, err := e.accounts.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return reject(CodeUserNotFound), nil
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	if account.Frozen {
		return reject(CodeUserFrozen), nil
	}
	currency, err := e.accounts.GetCurrency(ctx, order.Symbol)
	if err != nil {
		if errors.Is(err, repository.ErrCurrencyNotFound) {
			return reject(CodeSymbolNotTrading), nil
		}
		return nil, fmt.Errorf("get currency: %w", err)
	}
	if currency.Status != repository.CurrencyTrading {
		return reject(CodeSymbolNotTrading), nil
	}

	// 3. 出场价取最新报价
	exitPrice, ok := e.prices.Latest(order.Symbol)
	if !ok {
		return reject(CodeNoPrice), nil
	}

	// 4. 盈亏与终态。保证金开仓时已扣，亏损体现为少退或不退，
	// 不再单独扣款。margin+pnl <= 0 记为爆仓。
	pnl := computePnl(order.Direction, order.Margin, order.Leverage, order.EntryPrice, exitPrice)
	payback := order.Margin.Add(pnl)
	status := repository.StatusClosed
	if payback.Sign() <= 0 {
		status = repository.StatusLiquidated
	}

	// 5. 条件关单：并发重复平仓只有一个生效
	now := time.Now().UnixMilli()
	exit := decimal.NewNullDecimal(exitPrice)
	if err := e.orders.CloseOrder(ctx, orderID, status, exit, pnl, now); err != nil {
		if errors.Is(err, repository.ErrOrderAlreadyClosed) {
			return reject(CodeOrderAlreadyClosed), nil
		}
		return nil, fmt.Errorf("close order: %w", err)
	}

	// 6. 退回保证金与盈亏（合计为正才有实际入账）
	if payback.Sign() > 0 {
		if err := e.accounts.Credit(ctx, userID, payback); err != nil {
			return nil, fmt.Errorf("credit payback: %w", err)
		}
	}

	order.Status = status
	order.ExitPrice = exit
	order.Pnl = decimal.NewNullDecimal(pnl)
	order.CloseTimeMs = now

	e.metrics.IncOrderClosed(statusToString(status))
	if e.publisher != nil {
		if err := e.publisher.PublishOrderClosed(ctx, order.UserID, order); err != nil {
			e.logger.Error().Err(err).Int64("orderId", order.OrderID).Msg("publish order closed")
		}
	}

	return &CloseOrderResponse{Order: order}, nil
}

// SettleBinaryOption 结算二元期权，仅由调度器调用。
// 幂等：订单缺失或已终态时为空操作；条件关单挡住认领竞争的第二次写。
func (e *TradeEngine) SettleBinaryOption(ctx context.Context, orderID int64, symbol string) error {
	// 1. 幂等守卫
	order, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			e.logger.Warn().Int64("orderId", orderID).Msg("settle skipped: order missing")
			return nil
		}
		return fmt.Errorf("get order: %w", err)
	}
	if order.Status != repository.StatusOpen || order.ProductType != repository.ProductBinary {
		return nil
	}

	settleAt := order.CreateTimeMs + int64(order.BinarySeconds)*1000
	defer e.metrics.ObserveSettleDelay(time.Since(time.UnixMilli(settleAt)))

	// 2. 账户冻结或币种下架：全额退回保证金，不让庄家留着没定过价的注
	account, err := e.accounts.GetAccount(ctx, order.UserID)
	if err != nil && !errors.Is(err, repository.ErrAccountNotFound) {
		return fmt.Errorf("get account: %w", err)
	}
	frozen := account == nil || account.Frozen
	currency, err := e.accounts.GetCurrency(ctx, order.Symbol)
	if err != nil && !errors.Is(err, repository.ErrCurrencyNotFound) {
		return fmt.Errorf("get currency: %w", err)
	}
	inactive := currency == nil || currency.Status != repository.CurrencyTrading
	if frozen || inactive {
		return e.refundBinary(ctx, order, "account frozen or symbol inactive")
	}

	// 3. 理论到期时刻取最近报价：用当时真实报过的价，
	// 结算延迟不影响结算公平
	settlePrice, ok := e.prices.NearestAt(order.Symbol, settleAt)
	if !ok {
		// 4. 完全无价：全额退回，无价的期权不按亏损结
		return e.refundBinary(ctx, order, "no price available")
	}

	// 风控策略的强制结果只计算与记录，不覆盖按价判定（待产品确认）
	if account != nil {
		policy := e.riskEval.Evaluate(account.RiskLevel)
		if policy.Outcome != risk.OutcomeNone {
			e.logger.Info().Int64("orderId", order.OrderID).Int("outcome", policy.Outcome).
				Msg("risk outcome computed, not applied")
		}
	}

	// 5. 胜负判定：严格不等，持平恒为输
	var won bool
	if order.Direction == repository.DirectionLong {
		won = settlePrice.GreaterThan(order.EntryPrice)
	} else {
		won = settlePrice.LessThan(order.EntryPrice)
	}

	// 6. 盈亏与入账
	var pnl decimal.Decimal
	if won {
		pnl = order.Margin.Mul(order.PayoutRate)
	} else {
		pnl = order.Margin.Neg()
	}

	// 7. 先条件关单再入账，关单失败说明已被结算过
	now := time.Now().UnixMilli()
	exit := decimal.NewNullDecimal(settlePrice)
	if err := e.orders.CloseOrder(ctx, order.OrderID, repository.StatusClosed, exit, pnl, now); err != nil {
		if errors.Is(err, repository.ErrOrderAlreadyClosed) {
			return nil
		}
		return fmt.Errorf("close order: %w", err)
	}
	if won {
		if err := e.accounts.Credit(ctx, order.UserID, order.Margin.Add(pnl)); err != nil {
			return fmt.Errorf("credit payout: %w", err)
		}
		e.metrics.IncSettlement("win")
	} else {
		// 输单保证金开仓时已扣，无需再动账
		e.metrics.IncSettlement("lose")
	}

	order.Status = repository.StatusClosed
	order.ExitPrice = exit
	order.Pnl = decimal.NewNullDecimal(pnl)
	order.CloseTimeMs = now
	e.publishSettled(ctx, order)
	return nil
}

// refundBinary 全额退回：pnl=0，exitPrice 置空
func (e *TradeEngine) refundBinary(ctx context.Context, order *repository.Order, reason string) error {
	now := time.Now().UnixMilli()
	if err := e.orders.CloseOrder(ctx, order.OrderID, repository.StatusClosed, decimal.NullDecimal{}, decimal.Zero, now); err != nil {
		if errors.Is(err, repository.ErrOrderAlreadyClosed) {
			return nil
		}
		return fmt.Errorf("close order: %w", err)
	}
	if err := e.accounts.Credit(ctx, order.UserID, order.Margin); err != nil {
		return fmt.Errorf("refund margin: %w", err)
	}
	e.logger.Info().Int64("orderId", order.OrderID).Str("reason", reason).Msg("binary option refunded")
	e.metrics.IncSettlement("refund")

	order.Status = repository.StatusClosed
	order.ExitPrice = decimal.NullDecimal{}
	order.Pnl = decimal.NewNullDecimal(decimal.Zero)
	order.CloseTimeMs = now
	e.publishSettled(ctx, order)
	return nil
}

func (e *TradeEngine) publishSettled(ctx context.Context, order *repository.Order) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishOrderSettled(ctx, order.UserID, order); err != nil {
		e.logger.Error().Err(err).Int64("orderId", order.OrderID).Msg("publish order settled")
	}
}

// GetOrder 查询订单
func (e *TradeEngine) GetOrder(ctx context.Context, userID, orderID int64) (*repository.Order, error) {
	order, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, repository.ErrOrderNotFound
	}
	return order, nil
}

// ListOpenOrders 查询当前持仓
func (e *TradeEngine) ListOpenOrders(ctx context.Context, userID int64, symbol string, limit int) ([]*repository.Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return e.orders.ListOpenOrders(ctx, userID, symbol, limit)
}

// ListOrders 查询历史订单
func (e *TradeEngine) ListOrders(ctx context.Context, userID int64, symbol string, startTimeMs, endTimeMs int64, limit int) ([]*repository.Order, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	if endTimeMs == 0 {
		endTimeMs = time.Now().UnixMilli()
	}
	if startTimeMs == 0 {
		startTimeMs = endTimeMs - 7*24*3600*1000 // 默认 7 天
	}
	return e.orders.ListOrders(ctx, userID, symbol, startTimeMs, endTimeMs, limit)
}

// GetAccount 查询账户
func (e *TradeEngine) GetAccount(ctx context.Context, userID int64) (*repository.Account, error) {
	return e.accounts.GetAccount(ctx, userID)
}

// ListOpenBinaryOrders 供调度器恢复扫描
func (e *TradeEngine) ListOpenBinaryOrders(ctx context.Context) ([]*repository.Order, error) {
	return e.orders.ListOpenBinaryOrders(ctx)
}

func (e *TradeEngine) payoutRate(seconds int) decimal.Decimal {
	if rate, ok := e.payoutRates[seconds]; ok {
		return rate
	}
	return decimal.RequireFromString("0.7")
}

// computePnl 方向性盈亏：
// 多单 margin*leverage*(exit-entry)/entry，空单取反向价差
func computePnl(direction int, margin decimal.Decimal, leverage int, entryPrice, exitPrice decimal.Decimal) decimal.Decimal {
	lev := decimal.NewFromInt(int64(leverage))
	var diff decimal.Decimal
	if direction == repository.DirectionLong {
		diff = exitPrice.Sub(entryPrice)
	} else {
		diff = entryPrice.Sub(exitPrice)
	}
	return margin.Mul(lev).Mul(diff).Div(entryPrice)
}

func statusToString(status int) string {
	switch status {
	case repository.StatusOpen:
		return "OPEN"
	case repository.StatusClosed:
		return "CLOSED"
	case repository.StatusLiquidated:
		return "LIQUIDATED"
	default:
		return "UNKNOWN"
	}
}
