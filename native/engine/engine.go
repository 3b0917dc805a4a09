package engine

import (
	"fmt"
	"math/big"
	"sync"

	"usdx/crypto"
	nativecommon "usdx/native/common"
	"usdx/native/registry"
	"usdx/native/token"
)

const (
	flowDeposit   = "deposit"
	flowRedeem    = "redeem"
	flowMint      = "mint"
	flowBurn      = "burn"
	flowLiquidate = "liquidate"
)

// Engine owns the position ledger and orchestrates every deposit, mint,
// redeem, burn and liquidation. All public operations are serialized through
// a per-engine exclusive lock acquired on entry and released on every exit
// path; ledger effects are applied before external token interactions, and
// any failure aborts the whole operation with the prior ledger state
// restored.
type Engine struct {
	mu       sync.Mutex
	state    engineState
	registry *registry.Registry
	debt     token.DebtToken
	custody  crypto.Address
	pauses   nativecommon.PauseView
}

// NewEngine constructs an engine holding custody of collateral under the
// given module address and driving the provided debt token.
func NewEngine(custody crypto.Address, reg *registry.Registry, debt token.DebtToken) *Engine {
	return &Engine{
		registry: reg,
		debt:     debt,
		custody:  custody,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPauses installs the pause view consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// Custody returns the engine's own custodial account address.
func (e *Engine) Custody() crypto.Address {
	return e.custody
}

// Registry exposes the collateral registry for the read surface.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

func (e *Engine) ensurePosition(addr crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, err := e.state.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &Position{Address: addr}
	}
	if position.Collateral == nil {
		position.Collateral = make(map[string]*big.Int)
	}
	if position.DebtMinted == nil {
		position.DebtMinted = big.NewInt(0)
	}
	return position, nil
}

// collateralValue sums the quote-currency value of every collateral balance
// held by the position, iterating assets in registration order. Prices are
// fetched fresh on every call.
func (e *Engine) collateralValue(position *Position) (*big.Int, error) {
	total := big.NewInt(0)
	for _, asset := range e.registry.Assets() {
		amount := position.CollateralAmount(asset.Symbol)
		if amount.Sign() == 0 {
			continue
		}
		value, err := asset.Adapter.Value(amount)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

func (e *Engine) healthFactorOf(position *Position) (*big.Int, error) {
	value, err := e.collateralValue(position)
	if err != nil {
		return nil, err
	}
	return healthFactorFor(position.DebtMinted, value), nil
}

// Deposit pulls collateral from the caller into engine custody and credits
// the caller's ledger entry. Collateral-increasing, so no solvency check.
func (e *Engine) Deposit(caller crypto.Address, symbol string, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deposit(caller, symbol, amount)
}

func (e *Engine) deposit(caller crypto.Address, symbol string, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, flowDeposit); err != nil {
		return err
	}
	if caller.IsZero() {
		return ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	asset, err := e.registry.Lookup(symbol)
	if err != nil {
		return ErrAssetNotAllowed
	}
	position, err := e.ensurePosition(caller)
	if err != nil {
		return err
	}
	snapshot := position.Clone()

	position.Collateral[asset.Symbol] = new(big.Int).Add(position.CollateralAmount(asset.Symbol), amount)
	if err := e.state.PutPosition(caller, position); err != nil {
		return err
	}

	if err := asset.Token.TransferFrom(caller, e.custody, amount); err != nil {
		e.revert(caller, snapshot)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// Redeem debits collateral from the caller's ledger entry and pushes it to
// the recipient. The ledger debit happens before the outbound transfer; if
// the reduced position falls below the minimum health factor the whole
// operation fails and nothing is observable.
func (e *Engine) Redeem(caller crypto.Address, symbol string, amount *big.Int, recipient crypto.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.redeem(caller, symbol, amount, recipient)
}

func (e *Engine) redeem(caller crypto.Address, symbol string, amount *big.Int, recipient crypto.Address) error {
	if err := nativecommon.Guard(e.pauses, flowRedeem); err != nil {
		return err
	}
	if caller.IsZero() || recipient.IsZero() {
		return ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	asset, err := e.registry.Lookup(symbol)
	if err != nil {
		return ErrAssetNotAllowed
	}
	position, err := e.ensurePosition(caller)
	if err != nil {
		return err
	}
	snapshot := position.Clone()

	balance := position.CollateralAmount(asset.Symbol)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	position.Collateral[asset.Symbol] = new(big.Int).Sub(balance, amount)

	ratio, err := e.healthFactorOf(position)
	if err != nil {
		return err
	}
	if ratio.Cmp(minHealthFactor) < 0 {
		return &BreaksHealthFactorError{HealthFactor: ratio}
	}
	if err := e.state.PutPosition(caller, position); err != nil {
		return err
	}

	if err := asset.Token.TransferFrom(e.custody, recipient, amount); err != nil {
		e.revert(caller, snapshot)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// Mint credits synthetic dollar debt against the caller's collateral and
// issues the tokens. The post-mutation health factor must remain at or above
// the minimum.
func (e *Engine) Mint(caller crypto.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mint(caller, amount)
}

func (e *Engine) mint(caller crypto.Address, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, flowMint); err != nil {
		return err
	}
	if caller.IsZero() {
		return ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	position, err := e.ensurePosition(caller)
	if err != nil {
		return err
	}
	snapshot := position.Clone()

	position.DebtMinted = new(big.Int).Add(position.DebtMinted, amount)

	ratio, err := e.healthFactorOf(position)
	if err != nil {
		return err
	}
	if ratio.Cmp(minHealthFactor) < 0 {
		return &BreaksHealthFactorError{HealthFactor: ratio}
	}
	if err := e.state.PutPosition(caller, position); err != nil {
		return err
	}

	if err := e.debt.Mint(caller, amount); err != nil {
		e.revert(caller, snapshot)
		return fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	return nil
}

// Burn pulls synthetic dollars from the caller, destroys them and debits the
// caller's debt. Repayment strictly improves or preserves solvency, so no
// post-check is required.
func (e *Engine) Burn(caller crypto.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.burn(caller, amount)
}

func (e *Engine) burn(caller crypto.Address, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, flowBurn); err != nil {
		return err
	}
	if caller.IsZero() {
		return ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	position, err := e.ensurePosition(caller)
	if err != nil {
		return err
	}
	snapshot := position.Clone()

	if position.DebtMinted.Cmp(amount) < 0 {
		return ErrInsufficientDebt
	}
	position.DebtMinted = new(big.Int).Sub(position.DebtMinted, amount)
	if err := e.state.PutPosition(caller, position); err != nil {
		return err
	}

	if err := e.debt.TransferFrom(caller, e.custody, amount); err != nil {
		e.revert(caller, snapshot)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.debt.Burn(e.custody, amount); err != nil {
		// Return the pulled tokens before restoring the ledger.
		_ = e.debt.TransferFrom(e.custody, caller, amount)
		e.revert(caller, snapshot)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// DepositAndMint atomically deposits collateral and mints debt against it.
// The health check is evaluated once, after both sub-steps have applied.
func (e *Engine) DepositAndMint(caller crypto.Address, symbol string, depositAmount, mintAmount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, flowDeposit); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, flowMint); err != nil {
		return err
	}
	if caller.IsZero() {
		return ErrInvalidAddress
	}
	if depositAmount == nil || depositAmount.Sign() <= 0 || mintAmount == nil || mintAmount.Sign() <= 0 {
		return ErrZeroAmount
	}
	asset, err := e.registry.Lookup(symbol)
	if err != nil {
		return ErrAssetNotAllowed
	}
	position, err := e.ensurePosition(caller)
	if err != nil {
		return err
	}
	snapshot := position.Clone()

	position.Collateral[asset.Symbol] = new(big.Int).Add(position.CollateralAmount(asset.Symbol), depositAmount)
	position.DebtMinted = new(big.Int).Add(position.DebtMinted, mintAmount)

	// The deposited collateral counts toward the single combined check.
	value, err := e.collateralValue(position)
	if err != nil {
		return err
	}
	ratio := healthFactorFor(position.DebtMinted, value)
	if ratio.Cmp(minHealthFactor) < 0 {
		return &BreaksHealthFactorError{HealthFactor: ratio}
	}
	if err := e.state.PutPosition(caller, position); err != nil {
		return err
	}

	if err := asset.Token.TransferFrom(caller, e.custody, depositAmount); err != nil {
		e.revert(caller, snapshot)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.debt.Mint(caller, mintAmount); err != nil {
		// Return the pulled collateral before restoring the ledger.
		_ = asset.Token.TransferFrom(e.custody, caller, depositAmount)
		e.revert(caller, snapshot)
		return fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	return nil
}

// RedeemForBurn atomically repays debt and withdraws collateral. The
// combined health check is evaluated once, after both sub-steps.
func (e *Engine) RedeemForBurn(caller crypto.Address, symbol string, redeemAmount, burnAmount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, flowBurn); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, flowRedeem); err != nil {
		return err
	}
	if caller.IsZero() {
		return ErrInvalidAddress
	}
	if redeemAmount == nil || redeemAmount.Sign() <= 0 || burnAmount == nil || burnAmount.Sign() <= 0 {
		return ErrZeroAmount
	}
	asset, err := e.registry.Lookup(symbol)
	if err != nil {
		return ErrAssetNotAllowed
	}
	position, err := e.ensurePosition(caller)
	if err != nil {
		return err
	}
	snapshot := position.Clone()

	if position.DebtMinted.Cmp(burnAmount) < 0 {
		return ErrInsufficientDebt
	}
	balance := position.CollateralAmount(asset.Symbol)
	if balance.Cmp(redeemAmount) < 0 {
		return ErrInsufficientCollateral
	}
	position.DebtMinted = new(big.Int).Sub(position.DebtMinted, burnAmount)
	position.Collateral[asset.Symbol] = new(big.Int).Sub(balance, redeemAmount)

	ratio, err := e.healthFactorOf(position)
	if err != nil {
		return err
	}
	if ratio.Cmp(minHealthFactor) < 0 {
		return &BreaksHealthFactorError{HealthFactor: ratio}
	}
	if err := e.state.PutPosition(caller, position); err != nil {
		return err
	}

	if err := e.debt.TransferFrom(caller, e.custody, burnAmount); err != nil {
		e.revert(caller, snapshot)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.debt.Burn(e.custody, burnAmount); err != nil {
		_ = e.debt.TransferFrom(e.custody, caller, burnAmount)
		e.revert(caller, snapshot)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := asset.Token.TransferFrom(e.custody, caller, redeemAmount); err != nil {
		// The burn already happened; reissue the debt before restoring the
		// ledger so token supply and ledger stay consistent.
		_ = e.debt.Mint(caller, burnAmount)
		e.revert(caller, snapshot)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// revert restores a previously captured position snapshot. Best effort: the
// original operation error is what callers surface.
func (e *Engine) revert(addr crypto.Address, snapshot *Position) {
	_ = e.state.PutPosition(addr, snapshot)
}

// --- Read surface (side-effect free) ---

// CollateralBalance returns the user's deposited amount for a symbol.
func (e *Engine) CollateralBalance(user crypto.Address, symbol string) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	asset, err := e.registry.Lookup(symbol)
	if err != nil {
		return nil, ErrAssetNotAllowed
	}
	position, err := e.ensurePosition(user)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(position.CollateralAmount(asset.Symbol)), nil
}

// Debt returns the user's outstanding minted debt.
func (e *Engine) Debt(user crypto.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	position, err := e.ensurePosition(user)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(position.DebtMinted), nil
}

// AccountCollateralValue returns the aggregate quote-currency value of the
// user's collateral across all registered assets.
func (e *Engine) AccountCollateralValue(user crypto.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	position, err := e.ensurePosition(user)
	if err != nil {
		return nil, err
	}
	return e.collateralValue(position)
}

// HealthFactor returns the user's current solvency ratio.
func (e *Engine) HealthFactor(user crypto.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	position, err := e.ensurePosition(user)
	if err != nil {
		return nil, err
	}
	return e.healthFactorOf(position)
}

// AccountInformation returns the user's debt and aggregate collateral value.
func (e *Engine) AccountInformation(user crypto.Address) (debt, collateralValue *big.Int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	position, err := e.ensurePosition(user)
	if err != nil {
		return nil, nil, err
	}
	value, err := e.collateralValue(position)
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).Set(position.DebtMinted), value, nil
}
