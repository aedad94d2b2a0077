package services

import (
	"math"

	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/shopspring/decimal"
)

// AccrualPolicy turns a purchase amount into points. deal is nil when no
// partner deal applies.
type AccrualPolicy interface {
	Points(amount decimal.Decimal, deal *model.PartnerDeal) int64
}

var maxPoints = decimal.NewFromInt(math.MaxInt64)

// RatePolicy earns floor(amount * BaseRate * deal rate) points, capped by the
// deal's point cap when it has one. Results beyond int64 saturate at
// math.MaxInt64.
type RatePolicy struct {
	BaseRate decimal.Decimal
}

func NewRatePolicy(baseRate decimal.Decimal) RatePolicy {
	return RatePolicy{BaseRate: baseRate}
}

func (p RatePolicy) Points(amount decimal.Decimal, deal *model.PartnerDeal) int64 {
	points := amount.Mul(p.BaseRate)
	if deal != nil {
		points = points.Mul(deal.Terms.ConversionRate)
	}
	if !points.IsPositive() {
		return 0
	}
	n := int64(math.MaxInt64)
	if points.LessThan(maxPoints) {
		n = points.Floor().IntPart()
	}
	if deal != nil && deal.Terms.PointCap > 0 && n > deal.Terms.PointCap {
		return deal.Terms.PointCap
	}
	return n
}
