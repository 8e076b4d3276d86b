package pricestore

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TickMessage 行情源发布的报价消息
type TickMessage struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	TimestampMs int64           `json:"timestampMs"`
}

// Feed 订阅 Redis 行情频道，把报价写入 Store。
// 引擎自身不产生价格，只消费行情源推送。
type Feed struct {
	client  *redis.Client
	store   *Store
	channel string
	logger  zerolog.Logger
}

// NewFeed 创建行情消费者
func NewFeed(client *redis.Client, store *Store, channel string, logger zerolog.Logger) *Feed {
	return &Feed{
		client:  client,
		store:   store,
		channel: channel,
		logger:  logger.With().Str("component", "price-feed").Logger(),
	}
}

// Run 消费行情直到 ctx 取消。坏消息记日志后丢弃，循环不中断。
func (f *Feed) Run(ctx context.Context) {
	sub := f.client.Subscribe(ctx, f.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var tick TickMessage
			if err := json.Unmarshal([]byte(msg.Payload), &tick); err != nil {
				f.logger.Error().Err(err).Str("payload", msg.Payload).Msg("drop malformed tick")
				continue
			}
			if tick.Symbol == "" || tick.Price.Sign() <= 0 || tick.TimestampMs <= 0 {
				f.logger.Error().Str("payload", msg.Payload).Msg("drop invalid tick")
				continue
			}
			f.store.Push(tick.Symbol, tick.Price, tick.TimestampMs)
		}
	}
}
