// Package risk 用户风控策略
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/fowxnm/HuoBTC-Pro-sub000/internal/repository"
)

// Outcome 策略期望的结算结果
const (
	OutcomeNone = 0
	OutcomeWin  = 1
	OutcomeLose = 2
)

// Policy 风控策略。这里只给出策略值，
// 执行（杠杆封顶、入场滑点、结算结果）由交易引擎负责。
type Policy struct {
	Allowed      bool
	Reason       string
	SlippageRate decimal.Decimal
	MaxLeverage  int
	Outcome      int
}

// Config 评估器配置
type Config struct {
	MaxLeverage      int
	WinSlippageRate  decimal.Decimal
	LoseSlippageRate decimal.Decimal
}

// Evaluator 按账户风控级别给出策略
type Evaluator struct {
	maxLeverage      int
	winSlippageRate  decimal.Decimal
	loseSlippageRate decimal.Decimal
}

// NewEvaluator 创建评估器
func NewEvaluator(cfg Config) *Evaluator {
	maxLeverage := cfg.MaxLeverage
	if maxLeverage < 1 {
		maxLeverage = 200
	}
	winRate := cfg.WinSlippageRate
	if winRate.Sign() <= 0 {
		winRate = decimal.NewFromInt(1)
	}
	loseRate := cfg.LoseSlippageRate
	if loseRate.Sign() <= 0 {
		loseRate = decimal.NewFromInt(1)
	}
	return &Evaluator{
		maxLeverage:      maxLeverage,
		winSlippageRate:  winRate,
		loseSlippageRate: loseRate,
	}
}

// Evaluate 根据账户风控级别返回策略
func (e *Evaluator) Evaluate(level int) Policy {
	switch level {
	case repository.RiskWin:
		return Policy{
			Allowed:      true,
			SlippageRate: e.winSlippageRate,
			MaxLeverage:  e.maxLeverage,
			Outcome:      OutcomeWin,
		}
	case repository.RiskLose:
		return Policy{
			Allowed:      true,
			SlippageRate: e.loseSlippageRate,
			MaxLeverage:  e.maxLeverage,
			Outcome:      OutcomeLose,
		}
	default:
		return Policy{
			Allowed:      true,
			SlippageRate: decimal.NewFromInt(1),
			MaxLeverage:  e.maxLeverage,
			Outcome:      OutcomeNone,
		}
	}
}
