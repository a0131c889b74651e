package esmutils

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	thousand  = decimal.NewFromInt(1000)
	maxUint32 = decimal.NewFromInt(math.MaxUint32)
	maxInt64  = decimal.NewFromInt(math.MaxInt64)
)

// toUint32 rounds to the nearest integer, clamped to [0, MaxUint32].
func toUint32(d decimal.Decimal) uint32 {
	d = d.Round(0)
	if d.IsNegative() {
		return 0
	}
	if d.GreaterThan(maxUint32) {
		return math.MaxUint32
	}
	return uint32(d.IntPart())
}

// No negative values
func KwToW(kw decimal.Decimal) uint32 {
	return toUint32(kw.Mul(thousand))
}

// Meter totals outgrow uint32 watt-hours on large installations.
func KwhToWh(kwh decimal.Decimal) uint64 {
	wh := kwh.Mul(thousand).Round(0)
	if wh.IsNegative() {
		return 0
	}
	if wh.GreaterThan(maxInt64) {
		return math.MaxInt64
	}
	return uint64(wh.IntPart())
}

// Convert m3 to dm3 for storage - No negative values
func M3ToDM3(m3 decimal.Decimal) uint32 {
	return toUint32(m3.Mul(thousand)) // 1 m³ = 1000 dm³
}

// ParseFixed reads back a value rendered by the normalizer, e.g. "123.462".
func ParseFixed(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
