package engine

import (
	"math/big"

	"usdx/crypto"
)

// Position maintains the collateral and debt record for an individual user.
// Positions are created implicitly on first deposit; an empty position (zero
// collateral, zero debt) is a valid terminal state and is never destroyed.
type Position struct {
	// Address is the position owner.
	Address crypto.Address
	// Collateral maps collateral symbol to the deposited amount.
	Collateral map[string]*big.Int
	// DebtMinted is the outstanding synthetic dollar debt.
	DebtMinted *big.Int
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{Address: p.Address, Collateral: make(map[string]*big.Int, len(p.Collateral))}
	for sym, amount := range p.Collateral {
		if amount != nil {
			clone.Collateral[sym] = new(big.Int).Set(amount)
		}
	}
	if p.DebtMinted != nil {
		clone.DebtMinted = new(big.Int).Set(p.DebtMinted)
	}
	return clone
}

// CollateralAmount returns the deposited amount for a symbol, never nil.
func (p *Position) CollateralAmount(symbol string) *big.Int {
	if p == nil || p.Collateral == nil {
		return big.NewInt(0)
	}
	if amount, ok := p.Collateral[symbol]; ok && amount != nil {
		return amount
	}
	return big.NewInt(0)
}

// engineState is the persistence boundary for the position ledger. The
// engine is the only writer.
type engineState interface {
	GetPosition(addr crypto.Address) (*Position, error)
	PutPosition(addr crypto.Address, position *Position) error
}
