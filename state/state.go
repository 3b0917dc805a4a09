package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"usdx/crypto"
	"usdx/native/engine"
	"usdx/storage"
)

var positionPrefix = []byte("position/")

// PositionStore persists the engine's position ledger in a key-value
// database. It satisfies the engine's state interface; the engine is the
// only writer.
type PositionStore struct {
	db storage.Database
}

// NewPositionStore wraps the provided database.
func NewPositionStore(db storage.Database) *PositionStore {
	return &PositionStore{db: db}
}

type positionRecord struct {
	Collateral map[string]*big.Int `json:"collateral"`
	DebtMinted *big.Int            `json:"debtMinted"`
}

func positionKey(addr crypto.Address) []byte {
	return append(append([]byte(nil), positionPrefix...), addr.Bytes()...)
}

// GetPosition loads a stored position. A missing key yields (nil, nil) so
// the engine creates positions implicitly on first deposit.
func (s *PositionStore) GetPosition(addr crypto.Address) (*engine.Position, error) {
	raw, err := s.db.Get(positionKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var record positionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("state: decode position: %w", err)
	}
	position := &engine.Position{
		Address:    addr,
		Collateral: record.Collateral,
		DebtMinted: record.DebtMinted,
	}
	if position.Collateral == nil {
		position.Collateral = make(map[string]*big.Int)
	}
	if position.DebtMinted == nil {
		position.DebtMinted = big.NewInt(0)
	}
	return position, nil
}

// PutPosition stores a position under its owner's address.
func (s *PositionStore) PutPosition(addr crypto.Address, position *engine.Position) error {
	if position == nil {
		return fmt.Errorf("state: nil position")
	}
	record := positionRecord{
		Collateral: position.Collateral,
		DebtMinted: position.DebtMinted,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("state: encode position: %w", err)
	}
	return s.db.Put(positionKey(addr), raw)
}
