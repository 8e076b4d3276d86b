package service

import (
	"github.com/fowxnm/HuoBTC-Pro-sub000/internal/repository"
)

// 产品杠杆约束
const (
	minLeveragedLeverage = 2
	maxProductLeverage   = 200
)

// binaryPeriods 二元期权允许的周期（秒）
var binaryPeriods = map[int]bool{30: true, 60: true, 120: true, 300: true}

// ProductParams 产品参数变体：每种产品一个实现，
// 新增产品类型时编译器强制补全各处 switch。
type ProductParams interface {
	ProductType() int
	Leverage() int
	validate() string
	sealed()
}

// SpotParams 现货
type SpotParams struct {
	Lev int
}

// LeveragedParams 杠杆
type LeveragedParams struct {
	Lev int
}

// PerpetualParams 永续
type PerpetualParams struct {
	Lev int
}

// BinaryParams 二元期权（杠杆恒为 1）
type BinaryParams struct {
	Seconds int
}

func (p SpotParams) ProductType() int      { return repository.ProductSpot }
func (p LeveragedParams) ProductType() int { return repository.ProductLeverage }
func (p PerpetualParams) ProductType() int { return repository.ProductPerpetual }
func (p BinaryParams) ProductType() int    { return repository.ProductBinary }

func (p SpotParams) Leverage() int      { return p.Lev }
func (p LeveragedParams) Leverage() int { return p.Lev }
func (p PerpetualParams) Leverage() int { return p.Lev }
func (p BinaryParams) Leverage() int    { return 1 }

func (p SpotParams) validate() string {
	if p.Lev != 1 {
		return CodeInvalidLeverage
	}
	return ""
}

func (p LeveragedParams) validate() string {
	if p.Lev < minLeveragedLeverage || p.Lev > maxProductLeverage {
		return CodeInvalidLeverage
	}
	return ""
}

func (p PerpetualParams) validate() string {
	if p.Lev < 1 || p.Lev > maxProductLeverage {
		return CodeInvalidLeverage
	}
	return ""
}

func (p BinaryParams) validate() string {
	if !binaryPeriods[p.Seconds] {
		return CodeInvalidPeriod
	}
	return ""
}

func (p SpotParams) sealed()      {}
func (p LeveragedParams) sealed() {}
func (p PerpetualParams) sealed() {}
func (p BinaryParams) sealed()    {}

// buildProductParams 按产品类型构造参数变体；不认识的类型返回 INVALID_PARAM。
// 杠杆越界属于拒绝，不做静默收敛。
func buildProductParams(productType, leverage, binarySeconds int) (ProductParams, string) {
	var params ProductParams
	switch productType {
	case repository.ProductSpot:
		params = SpotParams{Lev: leverage}
	case repository.ProductLeverage:
		params = LeveragedParams{Lev: leverage}
	case repository.ProductPerpetual:
		params = PerpetualParams{Lev: leverage}
	case repository.ProductBinary:
		params = BinaryParams{Seconds: binarySeconds}
	default:
		return nil, CodeInvalidParam
	}
	if code := params.validate(); code != "" {
		return nil, code
	}
	return params, ""
}

// ParseProductType 解析产品类型；不认识的返回 0
func ParseProductType(s string) int {
	switch s {
	case "SPOT":
		return repository.ProductSpot
	case "LEVERAGE":
		return repository.ProductLeverage
	case "PERPETUAL":
		return repository.ProductPerpetual
	case "BINARY":
		return repository.ProductBinary
	default:
		return 0
	}
}

// ParseDirection 解析方向；不认识的返回 0
func ParseDirection(s string) int {
	switch s {
	case "LONG":
		return repository.DirectionLong
	case "SHORT":
		return repository.DirectionShort
	default:
		return 0
	}
}

func productTypeToString(productType int) string {
	switch productType {
	case repository.ProductSpot:
		return "SPOT"
	case repository.ProductLeverage:
		return "LEVERAGE"
	case repository.ProductPerpetual:
		return "PERPETUAL"
	case repository.ProductBinary:
		return "BINARY"
	default:
		return "UNKNOWN"
	}
}

func directionToString(direction int) string {
	if direction == repository.DirectionShort {
		return "SHORT"
	}
	return "LONG"
}
