package token

import (
	"errors"
	"math/big"
	"strings"
	"sync"

	"usdx/crypto"
)

var (
	ErrInvalidAmount       = errors.New("token: amount must be positive")
	ErrZeroAddress         = errors.New("token: zero address")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
)

// FungibleAsset is the capability surface the engine requires from any
// collateral asset. Implementations perform standard pull/push transfer
// bookkeeping; every call is treated as fallible by the engine.
type FungibleAsset interface {
	TransferFrom(from, to crypto.Address, amount *big.Int) error
	BalanceOf(addr crypto.Address) *big.Int
}

// DebtToken extends FungibleAsset with the issuance primitives the engine
// drives when minting and burning the synthetic dollar.
type DebtToken interface {
	FungibleAsset
	Mint(to crypto.Address, amount *big.Int) error
	Burn(from crypto.Address, amount *big.Int) error
	TotalSupply() *big.Int
}

// LedgerToken is an in-process fungible token ledger. It backs both the
// synthetic dollar and test collateral assets; the engine only ever touches
// it through the interfaces above.
type LedgerToken struct {
	mu       sync.RWMutex
	symbol   string
	balances map[string]*big.Int
	supply   *big.Int
}

// NewLedgerToken constructs an empty ledger for the given symbol.
func NewLedgerToken(symbol string) *LedgerToken {
	return &LedgerToken{
		symbol:   strings.TrimSpace(symbol),
		balances: make(map[string]*big.Int),
		supply:   big.NewInt(0),
	}
}

// Symbol returns the token's display symbol.
func (t *LedgerToken) Symbol() string {
	return t.symbol
}

func key(addr crypto.Address) string {
	return string(addr.Bytes())
}

func (t *LedgerToken) balance(addr crypto.Address) *big.Int {
	if bal, ok := t.balances[key(addr)]; ok {
		return bal
	}
	return big.NewInt(0)
}

// BalanceOf returns the holder's balance. The returned value is a copy.
func (t *LedgerToken) BalanceOf(addr crypto.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.balance(addr))
}

// TotalSupply returns the total issued supply. The returned value is a copy.
func (t *LedgerToken) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.supply)
}

// Mint credits freshly issued tokens to the recipient.
func (t *LedgerToken) Mint(to crypto.Address, amount *big.Int) error {
	if to.IsZero() {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[key(to)] = new(big.Int).Add(t.balance(to), amount)
	t.supply = new(big.Int).Add(t.supply, amount)
	return nil
}

// Burn destroys tokens held by the given account.
func (t *LedgerToken) Burn(from crypto.Address, amount *big.Int) error {
	if from.IsZero() {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balance(from)
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	t.balances[key(from)] = new(big.Int).Sub(bal, amount)
	t.supply = new(big.Int).Sub(t.supply, amount)
	return nil
}

// TransferFrom moves tokens between two accounts.
func (t *LedgerToken) TransferFrom(from, to crypto.Address, amount *big.Int) error {
	if from.IsZero() || to.IsZero() {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balance(from)
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	t.balances[key(from)] = new(big.Int).Sub(bal, amount)
	t.balances[key(to)] = new(big.Int).Add(t.balance(to), amount)
	return nil
}
