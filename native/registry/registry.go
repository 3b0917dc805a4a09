package registry

import (
	"errors"
	"strings"
	"sync"

	"usdx/crypto"
	"usdx/native/oracle"
	"usdx/native/token"
)

var (
	ErrNotAuthorized     = errors.New("registry: caller is not the owner")
	ErrInvalidAddress    = errors.New("registry: zero identity or nil reference")
	ErrAlreadyRegistered = errors.New("registry: asset already registered")
	ErrUnknownAsset      = errors.New("registry: asset not registered")
	ErrLengthMismatch    = errors.New("registry: assets and feeds length mismatch")
)

// CollateralAsset binds a registered collateral symbol to its token
// capability and price-oracle adapter. Assets are never unregistered; rebind
// is the only post-registration mutation.
type CollateralAsset struct {
	Symbol  string
	Token   token.FungibleAsset
	Adapter *oracle.Adapter
}

// Registry is the admin-controlled set of supported collateral assets. The
// iteration order of Assets is insertion order and is part of the observable
// read surface.
type Registry struct {
	mu     sync.RWMutex
	owner  crypto.Address
	assets map[string]*CollateralAsset
	order  []string
}

// New constructs a registry from parallel symbol, token and adapter
// sequences. Empty sequences are legal. The owner is the only identity
// allowed to mutate the registry afterwards.
func New(owner crypto.Address, symbols []string, tokens []token.FungibleAsset, adapters []*oracle.Adapter) (*Registry, error) {
	if len(symbols) != len(tokens) || len(symbols) != len(adapters) {
		return nil, ErrLengthMismatch
	}
	r := &Registry{
		owner:  owner,
		assets: make(map[string]*CollateralAsset),
	}
	for i, symbol := range symbols {
		if err := r.register(symbol, tokens[i], adapters[i]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Owner returns the administrative identity.
func (r *Registry) Owner() crypto.Address {
	return r.owner
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (r *Registry) register(symbol string, asset token.FungibleAsset, adapter *oracle.Adapter) error {
	sym := normaliseSymbol(symbol)
	if sym == "" || asset == nil || adapter == nil {
		return ErrInvalidAddress
	}
	if _, exists := r.assets[sym]; exists {
		return ErrAlreadyRegistered
	}
	r.assets[sym] = &CollateralAsset{Symbol: sym, Token: asset, Adapter: adapter}
	r.order = append(r.order, sym)
	return nil
}

// Register adds a new collateral asset with its oracle binding. Restricted to
// the owner.
func (r *Registry) Register(caller crypto.Address, symbol string, asset token.FungibleAsset, adapter *oracle.Adapter) error {
	if !caller.Equal(r.owner) {
		return ErrNotAuthorized
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.register(symbol, asset, adapter)
}

// RebindOracle atomically replaces the oracle binding for a registered asset.
// No intermediate unbound state is observable. Restricted to the owner.
func (r *Registry) RebindOracle(caller crypto.Address, symbol string, adapter *oracle.Adapter) error {
	if !caller.Equal(r.owner) {
		return ErrNotAuthorized
	}
	if adapter == nil {
		return ErrInvalidAddress
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.assets[normaliseSymbol(symbol)]
	if !ok {
		return ErrUnknownAsset
	}
	entry.Adapter = adapter
	return nil
}

// Lookup resolves a registered asset by symbol. The returned binding is a
// snapshot: a concurrent RebindOracle does not alter it.
func (r *Registry) Lookup(symbol string) (*CollateralAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.assets[normaliseSymbol(symbol)]
	if !ok {
		return nil, ErrUnknownAsset
	}
	snapshot := *entry
	return &snapshot, nil
}

// Assets returns snapshots of the registered assets in insertion order.
func (r *Registry) Assets() []*CollateralAsset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CollateralAsset, 0, len(r.order))
	for _, sym := range r.order {
		snapshot := *r.assets[sym]
		out = append(out, &snapshot)
	}
	return out
}
