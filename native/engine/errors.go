package engine

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	errNilState               = errors.New("engine: state not configured")
	ErrZeroAmount             = errors.New("engine: amount must be positive")
	ErrInvalidAddress         = errors.New("engine: zero identity")
	ErrAssetNotAllowed        = errors.New("engine: collateral asset not allowed")
	ErrInsufficientCollateral = errors.New("engine: insufficient collateral balance")
	ErrInsufficientDebt       = errors.New("engine: insufficient minted debt")
	ErrTransferFailed         = errors.New("engine: token transfer failed")
	ErrMintFailed             = errors.New("engine: debt token mint failed")

	// ErrBreaksHealthFactor is the sentinel unwrapped from
	// BreaksHealthFactorError.
	ErrBreaksHealthFactor = errors.New("engine: health factor below minimum")
	// ErrHealthFactorOk is the sentinel unwrapped from HealthFactorOkError.
	ErrHealthFactorOk = errors.New("engine: target health factor not below minimum")
	// ErrHealthFactorNotImproved is the sentinel unwrapped from
	// HealthFactorNotImprovedError.
	ErrHealthFactorNotImproved = errors.New("engine: liquidation did not improve target health factor")
)

// BreaksHealthFactorError reports a rejected mutation along with the health
// factor the position would have ended at.
type BreaksHealthFactorError struct {
	HealthFactor *big.Int
}

func (e *BreaksHealthFactorError) Error() string {
	return fmt.Sprintf("engine: operation breaks health factor (%s)", e.HealthFactor)
}

func (e *BreaksHealthFactorError) Unwrap() error { return ErrBreaksHealthFactor }

// HealthFactorOkError reports a liquidation attempt against a solvent target.
type HealthFactorOkError struct {
	HealthFactor *big.Int
}

func (e *HealthFactorOkError) Error() string {
	return fmt.Sprintf("engine: target is solvent (health factor %s)", e.HealthFactor)
}

func (e *HealthFactorOkError) Unwrap() error { return ErrHealthFactorOk }

// HealthFactorNotImprovedError reports a liquidation that failed to strictly
// improve the target's solvency.
type HealthFactorNotImprovedError struct {
	Starting *big.Int
	Ending   *big.Int
}

func (e *HealthFactorNotImprovedError) Error() string {
	return fmt.Sprintf("engine: health factor not improved (start %s, end %s)", e.Starting, e.Ending)
}

func (e *HealthFactorNotImprovedError) Unwrap() error { return ErrHealthFactorNotImproved }
