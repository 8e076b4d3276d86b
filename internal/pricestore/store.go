// Package pricestore 行情价格历史
package pricestore

import (
	"sync"

	"github.com/shopspring/decimal"
)

// DefaultCapacity 每个交易对保留的报价条数
const DefaultCapacity = 1000

// Tick 一条报价
type Tick struct {
	Price       decimal.Decimal `json:"price"`
	TimestampMs int64           `json:"timestampMs"`
}

// Store 按交易对保存最近报价，新报价插在头部。
// 已保存的条目只追加、不修改，超出容量的尾部被丢弃。
type Store struct {
	mu       sync.RWMutex
	capacity int
	ticks    map[string][]Tick
}

// New 创建价格历史存储
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		ticks:    make(map[string][]Tick),
	}
}

// Push 追加一条报价
func (s *Store) Push(symbol string, price decimal.Decimal, timestampMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.ticks[symbol]
	list = append([]Tick{{Price: price, TimestampMs: timestampMs}}, list...)
	if len(list) > s.capacity {
		list = list[:s.capacity]
	}
	s.ticks[symbol] = list
}

// Latest 最新报价
func (s *Store) Latest(symbol string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.ticks[symbol]
	if len(list) == 0 {
		return decimal.Decimal{}, false
	}
	return list[0].Price, true
}

// NearestAt 返回时间戳距 targetMs 最近的报价。
// 保留窗口内线性扫描，时间距离相同时取先遇到的那条。
func (s *Store) NearestAt(symbol string, targetMs int64) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.ticks[symbol]
	if len(list) == 0 {
		return decimal.Decimal{}, false
	}

	best := list[0]
	bestDist := absMs(best.TimestampMs - targetMs)
	for _, tick := range list[1:] {
		dist := absMs(tick.TimestampMs - targetMs)
		if dist < bestDist {
			best = tick
			bestDist = dist
		}
	}
	return best.Price, true
}

// Len 当前保留的报价条数
func (s *Store) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ticks[symbol])
}

func absMs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
