package engine

import (
	"math/big"

	ethmath "github.com/ethereum/go-ethereum/common/math"
)

var (
	// precision is the internal quote-currency precision (18 decimals).
	precision = mustBigInt("1000000000000000000")
	// minHealthFactor is the solvency floor, a ratio of 1.0 at internal
	// precision.
	minHealthFactor = mustBigInt("1000000000000000000")
	// maxHealthFactor is the sentinel returned for zero-debt positions.
	maxHealthFactor = new(big.Int).Set(ethmath.MaxBig256)

	// liquidationThreshold counts 50% of nominal collateral value toward
	// solvency, producing the >200% overcollateralization requirement.
	liquidationThreshold = big.NewInt(50)
	liquidationPrecision = big.NewInt(100)

	// liquidationBonusPct is the flat collateral premium paid to liquidators.
	liquidationBonusPct = big.NewInt(10)
	bonusPrecision      = big.NewInt(100)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// MinHealthFactor returns the solvency floor at internal precision.
func MinHealthFactor() *big.Int {
	return new(big.Int).Set(minHealthFactor)
}

// MaxHealthFactor returns the unbounded-solvency sentinel.
func MaxHealthFactor() *big.Int {
	return new(big.Int).Set(maxHealthFactor)
}

// healthFactorFor computes the solvency ratio for a debt and risk-unadjusted
// collateral value. Zero debt yields the maximum sentinel rather than a
// division by zero. Multiplication runs before division throughout.
func healthFactorFor(debt, collateralValue *big.Int) *big.Int {
	if debt == nil || debt.Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor)
	}
	adjusted := new(big.Int).Mul(collateralValue, liquidationThreshold)
	adjusted.Quo(adjusted, liquidationPrecision)
	ratio := new(big.Int).Mul(adjusted, precision)
	return ratio.Quo(ratio, debt)
}

// liquidationBonus computes the flat bonus on a base collateral amount.
func liquidationBonus(base *big.Int) *big.Int {
	bonus := new(big.Int).Mul(base, liquidationBonusPct)
	return bonus.Quo(bonus, bonusPrecision)
}
