package engine

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"usdx/crypto"
	nativecommon "usdx/native/common"
	"usdx/native/oracle"
)

// setupUnderwater opens a position of 10 WETH backing 100 of debt at a price
// of 2000, then crashes the feed so the ratio lands at 0.9.
func setupUnderwater(t *testing.T) (*testEnv, crypto.Address) {
	t.Helper()
	env := newTestEnv(t)
	user := makeAddress(0x10)
	collateral := mustInt(t, "10000000000000000000")
	env.fund(t, user, collateral)
	minted := mustInt(t, "100000000000000000000")
	if err := env.engine.DepositAndMint(user, "WETH", collateral, minted); err != nil {
		t.Fatalf("open position: %v", err)
	}
	env.feed.Set(big.NewInt(18_00000000), time.Now())
	return env, user
}

func TestLiquidateHealthyPositionRejected(t *testing.T) {
	env := newTestEnv(t)
	user := makeAddress(0x10)
	collateral := mustInt(t, "10000000000000000000")
	env.fund(t, user, collateral)
	minted := mustInt(t, "100000000000000000000")
	if err := env.engine.DepositAndMint(user, "WETH", collateral, minted); err != nil {
		t.Fatalf("open position: %v", err)
	}

	liquidator := makeAddress(0x20)
	err := env.engine.Liquidate(liquidator, "WETH", user, minted)
	if !errors.Is(err, ErrHealthFactorOk) {
		t.Fatalf("expected ErrHealthFactorOk, got %v", err)
	}
	var healthy *HealthFactorOkError
	if !errors.As(err, &healthy) {
		t.Fatalf("expected HealthFactorOkError, got %T", err)
	}
	expected := mustInt(t, "100000000000000000000")
	if healthy.HealthFactor.Cmp(expected) != 0 {
		t.Fatalf("expected reported ratio %s, got %s", expected, healthy.HealthFactor)
	}
}

func TestLiquidateSeizesCollateralWithBonus(t *testing.T) {
	env, user := setupUnderwater(t)

	health, err := env.engine.HealthFactor(user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if expected := mustInt(t, "900000000000000000"); health.Cmp(expected) != 0 {
		t.Fatalf("expected ratio %s before liquidation, got %s", expected, health)
	}

	liquidator := makeAddress(0x20)
	cover := mustInt(t, "100000000000000000000")
	if err := env.debt.Mint(liquidator, cover); err != nil {
		t.Fatalf("seed liquidator: %v", err)
	}

	if err := env.engine.Liquidate(liquidator, "WETH", user, cover); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// 100 of debt at a price of 18 buys 5.555... WETH; the 10% premium
	// lifts the seizure to 6.111... WETH, both floored at 18 decimals.
	base := mustInt(t, "5555555555555555555")
	bonus := mustInt(t, "555555555555555555")
	seize := new(big.Int).Add(base, bonus)

	if wallet := env.weth.BalanceOf(liquidator); wallet.Cmp(seize) != 0 {
		t.Fatalf("expected seized collateral %s, got %s", seize, wallet)
	}
	remaining, err := env.engine.CollateralBalance(user, "WETH")
	if err != nil {
		t.Fatalf("collateral balance: %v", err)
	}
	expectedRemaining := new(big.Int).Sub(mustInt(t, "10000000000000000000"), seize)
	if remaining.Cmp(expectedRemaining) != 0 {
		t.Fatalf("expected remaining collateral %s, got %s", expectedRemaining, remaining)
	}

	debt, err := env.engine.Debt(user)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Sign() != 0 {
		t.Fatalf("expected cleared debt, got %s", debt)
	}
	if supply := env.debt.TotalSupply(); supply.Sign() != 0 {
		t.Fatalf("expected repaid supply destroyed, got %s", supply)
	}
	if balance := env.debt.BalanceOf(liquidator); balance.Sign() != 0 {
		t.Fatalf("expected liquidator tokens spent, got %s", balance)
	}

	health, err = env.engine.HealthFactor(user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if health.Cmp(MaxHealthFactor()) != 0 {
		t.Fatalf("expected max sentinel after full repayment, got %s", health)
	}
}

func TestLiquidatePartialRepeatable(t *testing.T) {
	env, user := setupUnderwater(t)

	liquidator := makeAddress(0x20)
	cover := mustInt(t, "40000000000000000000")
	if err := env.debt.Mint(liquidator, cover); err != nil {
		t.Fatalf("seed liquidator: %v", err)
	}

	slice := mustInt(t, "20000000000000000000")
	if err := env.engine.Liquidate(liquidator, "WETH", user, slice); err != nil {
		t.Fatalf("first partial liquidation: %v", err)
	}

	// Still below the floor, so a second partial pass is legal.
	health, err := env.engine.HealthFactor(user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if health.Cmp(MinHealthFactor()) >= 0 {
		t.Fatalf("expected position still underwater, got %s", health)
	}
	if err := env.engine.Liquidate(liquidator, "WETH", user, slice); err != nil {
		t.Fatalf("second partial liquidation: %v", err)
	}
	debt, err := env.engine.Debt(user)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if expected := mustInt(t, "60000000000000000000"); debt.Cmp(expected) != 0 {
		t.Fatalf("expected remaining debt %s, got %s", expected, debt)
	}
}

func TestLiquidateCoverExceedingDebtRejected(t *testing.T) {
	env, user := setupUnderwater(t)

	liquidator := makeAddress(0x20)
	cover := mustInt(t, "100000000000000000001")
	if err := env.debt.Mint(liquidator, cover); err != nil {
		t.Fatalf("seed liquidator: %v", err)
	}

	err := env.engine.Liquidate(liquidator, "WETH", user, cover)
	if !errors.Is(err, ErrInsufficientDebt) {
		t.Fatalf("expected ErrInsufficientDebt, got %v", err)
	}
}

func TestLiquidateMustImproveRatio(t *testing.T) {
	env, user := setupUnderwater(t)

	// At a price of 10 the ratio drops to 0.5; seizing covered value plus
	// the premium removes more backing than debt, so the ratio worsens.
	env.feed.Set(big.NewInt(10_00000000), time.Now())

	liquidator := makeAddress(0x20)
	cover := mustInt(t, "50000000000000000000")
	if err := env.debt.Mint(liquidator, cover); err != nil {
		t.Fatalf("seed liquidator: %v", err)
	}

	err := env.engine.Liquidate(liquidator, "WETH", user, cover)
	if !errors.Is(err, ErrHealthFactorNotImproved) {
		t.Fatalf("expected ErrHealthFactorNotImproved, got %v", err)
	}
	var notImproved *HealthFactorNotImprovedError
	if !errors.As(err, &notImproved) {
		t.Fatalf("expected HealthFactorNotImprovedError, got %T", err)
	}
	if notImproved.Ending.Cmp(notImproved.Starting) > 0 {
		t.Fatalf("reported ending %s should not exceed starting %s", notImproved.Ending, notImproved.Starting)
	}

	// Nothing observable happened.
	debt, debtErr := env.engine.Debt(user)
	if debtErr != nil {
		t.Fatalf("debt: %v", debtErr)
	}
	if expected := mustInt(t, "100000000000000000000"); debt.Cmp(expected) != 0 {
		t.Fatalf("expected intact debt %s, got %s", expected, debt)
	}
	if wallet := env.weth.BalanceOf(liquidator); wallet.Sign() != 0 {
		t.Fatalf("expected no collateral paid out, got %s", wallet)
	}
}

func TestLiquidateInsufficientTargetCollateral(t *testing.T) {
	env, user := setupUnderwater(t)

	// At a price of 1 the covered amount converts to more collateral than
	// the position holds.
	env.feed.Set(big.NewInt(1_00000000), time.Now())

	liquidator := makeAddress(0x20)
	cover := mustInt(t, "100000000000000000000")
	if err := env.debt.Mint(liquidator, cover); err != nil {
		t.Fatalf("seed liquidator: %v", err)
	}

	err := env.engine.Liquidate(liquidator, "WETH", user, cover)
	if !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
}

func TestLiquidateWithoutFundsReverted(t *testing.T) {
	env, user := setupUnderwater(t)

	// The liquidator holds no synthetic dollars, so the repayment pull
	// fails after the ledger mutation and everything must roll back.
	liquidator := makeAddress(0x20)
	cover := mustInt(t, "100000000000000000000")
	err := env.engine.Liquidate(liquidator, "WETH", user, cover)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	debt, debtErr := env.engine.Debt(user)
	if debtErr != nil {
		t.Fatalf("debt: %v", debtErr)
	}
	if debt.Cmp(cover) != 0 {
		t.Fatalf("expected restored debt %s, got %s", cover, debt)
	}
	balance, balErr := env.engine.CollateralBalance(user, "WETH")
	if balErr != nil {
		t.Fatalf("collateral balance: %v", balErr)
	}
	if expected := mustInt(t, "10000000000000000000"); balance.Cmp(expected) != 0 {
		t.Fatalf("expected restored collateral %s, got %s", expected, balance)
	}
}

func TestLiquidateStaleOracleRejected(t *testing.T) {
	env, user := setupUnderwater(t)
	env.feed.Set(big.NewInt(18_00000000), time.Now().Add(-4*time.Hour))

	liquidator := makeAddress(0x20)
	err := env.engine.Liquidate(liquidator, "WETH", user, big.NewInt(1))
	if !errors.Is(err, oracle.ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
}

func TestLiquidatePausedFlowRejected(t *testing.T) {
	env, user := setupUnderwater(t)
	env.engine.SetPauses(nativecommon.StaticPauses{"liquidate": true})

	liquidator := makeAddress(0x20)
	err := env.engine.Liquidate(liquidator, "WETH", user, big.NewInt(1))
	if !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}
