package chain

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

const weiDecimals = 18

// Converter maps minor currency units to wei and back at a fixed rate of
// minor units per whole coin.
type Converter struct {
	minorPerCoin decimal.Decimal
}

// NewConverter parses the rate, e.g. "1000" for 1 ETH = 1,000 VND.
func NewConverter(minorPerCoin string) (Converter, error) {
	rate, err := decimal.NewFromString(minorPerCoin)
	if err != nil {
		return Converter{}, fmt.Errorf("parse rate %q: %w", minorPerCoin, err)
	}
	if !rate.IsPositive() {
		return Converter{}, fmt.Errorf("rate must be positive, got %s", rate)
	}
	return Converter{minorPerCoin: rate}, nil
}

// ToWei converts minor units to wei, rounding down.
func (c Converter) ToWei(minor int64) *big.Int {
	return decimal.NewFromInt(minor).Shift(weiDecimals).Div(c.minorPerCoin).Floor().BigInt()
}

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// FromWei converts wei to minor units, rounding down. Negative inputs yield
// zero and amounts beyond int64 saturate at math.MaxInt64.
func (c Converter) FromWei(wei *big.Int) int64 {
	if wei == nil || wei.Sign() <= 0 {
		return 0
	}
	minor := decimal.NewFromBigInt(wei, -weiDecimals).Mul(c.minorPerCoin).Floor()
	if minor.GreaterThan(maxMinor) {
		return math.MaxInt64
	}
	return minor.IntPart()
}
