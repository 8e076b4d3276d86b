// Package scheduler 二元期权结算调度器
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fowxnm/HuoBTC-Pro-sub000/internal/metrics"
	"github.com/fowxnm/HuoBTC-Pro-sub000/internal/repository"
)

// DefaultPollInterval 默认轮询周期
const DefaultPollInterval = 500 * time.Millisecond

// Settler 结算回调。调度器不直接写订单或余额，
// 状态转移全部由交易引擎完成。
type Settler interface {
	SettleBinaryOption(ctx context.Context, orderID int64, symbol string) error
}

// OrderLister 恢复扫描的数据来源
type OrderLister interface {
	ListOpenBinaryOrders(ctx context.Context) ([]*repository.Order, error)
}

// Scheduler 延迟结算队列。任务存在 Redis ZSET 里，score 为唤醒时间（毫秒）。
// 队列内容不是权威状态：进程重启后由订单表全量重建。
type Scheduler struct {
	redis    *redis.Client
	queueKey string
	interval time.Duration
	settler  Settler
	orders   OrderLister
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New 创建调度器
func New(redisClient *redis.Client, queueKey string, interval time.Duration, settler Settler, orders OrderLister, metricsClient *metrics.Metrics, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Scheduler{
		redis:    redisClient,
		queueKey: queueKey,
		interval: interval,
		settler:  settler,
		orders:   orders,
		metrics:  metricsClient,
		logger:   logger.With().Str("component", "settle-scheduler").Logger(),
	}
}

// Register 登记一个结算任务
func (s *Scheduler) Register(ctx context.Context, orderID int64, symbol string, settleAtMs int64) error {
	member := jobMember(orderID, symbol)
	if err := s.redis.ZAdd(ctx, s.queueKey, redis.Z{
		Score:  float64(settleAtMs),
		Member: member,
	}).Err(); err != nil {
		return fmt.Errorf("register settle job: %w", err)
	}
	return nil
}

// Start 启动轮询。重复 Start 前必须 Stop。
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.poll(runCtx)
			}
		}
	}()
	s.logger.Info().Str("queue", s.queueKey).Dur("interval", s.interval).Msg("scheduler started")
}

// Stop 停止轮询并等待退出
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	s.logger.Info().Msg("scheduler stopped")
}

// poll 取出所有到期任务并逐个认领处理。
// 单个任务失败只记日志，不影响同批其他任务，也不立即重试：
// 失败的订单保持 open，由恢复/对账重新登记。
func (s *Scheduler) poll(ctx context.Context) {
	now := time.Now().UnixMilli()
	members, err := s.redis.ZRangeByScore(ctx, s.queueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		s.logger.Error().Err(err).Msg("scan due jobs")
		return
	}

	for _, member := range members {
		// ZRem 是原子认领：多个轮询者竞争同一任务时只有一个删除成功，
		// 其余看到任务已不在，直接跳过
		removed, err := s.redis.ZRem(ctx, s.queueKey, member).Result()
		if err != nil {
			s.logger.Error().Err(err).Str("member", member).Msg("claim job")
			continue
		}
		if removed != 1 {
			continue
		}

		orderID, symbol, err := parseJobMember(member)
		if err != nil {
			// 坏任务直接丢弃不退款：订单表是权威，恢复流程会独立补回
			s.logger.Error().Err(err).Str("member", member).Msg("drop malformed job")
			continue
		}
		s.settle(ctx, orderID, symbol)
	}

	if depth, err := s.redis.ZCard(ctx, s.queueKey).Result(); err == nil {
		s.metrics.SetQueueDepth(depth)
	}
}

func (s *Scheduler) settle(ctx context.Context, orderID int64, symbol string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Int64("orderId", orderID).Interface("panic", r).Msg("settle panic")
		}
	}()
	if err := s.settler.SettleBinaryOption(ctx, orderID, symbol); err != nil {
		s.logger.Error().Err(err).Int64("orderId", orderID).Str("symbol", symbol).Msg("settle failed")
	}
}

// RecoverPendingJobs 从订单表重建全部待结算任务。
// 进程启动时调用一次；对 ZSET 重复登记是幂等的（同成员同分值）。
func (s *Scheduler) RecoverPendingJobs(ctx context.Context) (int, error) {
	orders, err := s.orders.ListOpenBinaryOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open binary orders: %w", err)
	}

	recovered := 0
	for _, order := range orders {
		settleAt := order.CreateTimeMs + int64(order.BinarySeconds)*1000
		if err := s.Register(ctx, order.OrderID, order.Symbol, settleAt); err != nil {
			return recovered, err
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.Info().Int("count", recovered).Msg("recovered pending settle jobs")
	}
	return recovered, nil
}

func jobMember(orderID int64, symbol string) string {
	return strconv.FormatInt(orderID, 10) + ":" + symbol
}

func parseJobMember(member string) (int64, string, error) {
	parts := strings.SplitN(member, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return 0, "", fmt.Errorf("malformed job member: %q", member)
	}
	orderID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed job member: %q", member)
	}
	return orderID, parts[1], nil
}
