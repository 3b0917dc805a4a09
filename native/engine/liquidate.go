package engine

import (
	"fmt"
	"math/big"

	"usdx/crypto"
	nativecommon "usdx/native/common"
)

// Liquidate lets a third party repay part of an undercollateralized target's
// debt in exchange for an equivalent amount of the target's collateral plus
// a flat bonus. Partial liquidations are legal and repeatable; each call must
// independently find the target below the minimum health factor and must
// strictly improve it.
func (e *Engine) Liquidate(liquidator crypto.Address, symbol string, target crypto.Address, debtToCover *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := nativecommon.Guard(e.pauses, flowLiquidate); err != nil {
		return err
	}
	if liquidator.IsZero() || target.IsZero() {
		return ErrInvalidAddress
	}
	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return ErrZeroAmount
	}
	asset, err := e.registry.Lookup(symbol)
	if err != nil {
		return ErrAssetNotAllowed
	}

	position, err := e.ensurePosition(target)
	if err != nil {
		return err
	}
	startingRatio, err := e.healthFactorOf(position)
	if err != nil {
		return err
	}
	if startingRatio.Cmp(minHealthFactor) >= 0 {
		return &HealthFactorOkError{HealthFactor: startingRatio}
	}
	snapshot := position.Clone()

	if position.DebtMinted.Cmp(debtToCover) < 0 {
		return ErrInsufficientDebt
	}

	base, err := asset.Adapter.AmountForValue(debtToCover)
	if err != nil {
		return err
	}
	seize := new(big.Int).Add(base, liquidationBonus(base))

	balance := position.CollateralAmount(asset.Symbol)
	if balance.Cmp(seize) < 0 {
		return ErrInsufficientCollateral
	}

	position.Collateral[asset.Symbol] = new(big.Int).Sub(balance, seize)
	position.DebtMinted = new(big.Int).Sub(position.DebtMinted, debtToCover)

	endingRatio, err := e.healthFactorOf(position)
	if err != nil {
		return err
	}
	if endingRatio.Cmp(startingRatio) <= 0 {
		return &HealthFactorNotImprovedError{Starting: startingRatio, Ending: endingRatio}
	}
	if err := e.state.PutPosition(target, position); err != nil {
		return err
	}

	// Debt transfer, not debt creation: the liquidator's own tokens cover
	// the repaid amount and are destroyed.
	if err := e.debt.TransferFrom(liquidator, e.custody, debtToCover); err != nil {
		e.revert(target, snapshot)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.debt.Burn(e.custody, debtToCover); err != nil {
		_ = e.debt.TransferFrom(e.custody, liquidator, debtToCover)
		e.revert(target, snapshot)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := asset.Token.TransferFrom(e.custody, liquidator, seize); err != nil {
		_ = e.debt.Mint(liquidator, debtToCover)
		e.revert(target, snapshot)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}
