package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"usdx/crypto"
	"usdx/native/engine"
	"usdx/storage"
)

func testAddress(last byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = last
	return crypto.NewAddress(crypto.USDXPrefix, raw)
}

func TestGetPositionMissingYieldsNil(t *testing.T) {
	store := NewPositionStore(storage.NewMemDB())

	position, err := store.GetPosition(testAddress(0x01))
	require.NoError(t, err)
	require.Nil(t, position)
}

func TestPutGetRoundTrip(t *testing.T) {
	store := NewPositionStore(storage.NewMemDB())
	addr := testAddress(0x01)

	in := &engine.Position{
		Address: addr,
		Collateral: map[string]*big.Int{
			"WETH": big.NewInt(10),
			"WBTC": big.NewInt(3),
		},
		DebtMinted: big.NewInt(500),
	}
	require.NoError(t, store.PutPosition(addr, in))

	out, err := store.GetPosition(addr)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.True(t, out.Address.Equal(addr))
	require.Equal(t, big.NewInt(500), out.DebtMinted)
	require.Equal(t, big.NewInt(10), out.Collateral["WETH"])
	require.Equal(t, big.NewInt(3), out.Collateral["WBTC"])
}

func TestPutPositionOverwrites(t *testing.T) {
	store := NewPositionStore(storage.NewMemDB())
	addr := testAddress(0x01)

	require.NoError(t, store.PutPosition(addr, &engine.Position{
		Address:    addr,
		Collateral: map[string]*big.Int{"WETH": big.NewInt(10)},
		DebtMinted: big.NewInt(500),
	}))
	require.NoError(t, store.PutPosition(addr, &engine.Position{
		Address:    addr,
		Collateral: map[string]*big.Int{"WETH": big.NewInt(4)},
		DebtMinted: big.NewInt(0),
	}))

	out, err := store.GetPosition(addr)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(4), out.Collateral["WETH"])
	require.Zero(t, out.DebtMinted.Sign())
}

func TestPutPositionRejectsNil(t *testing.T) {
	store := NewPositionStore(storage.NewMemDB())
	require.Error(t, store.PutPosition(testAddress(0x01), nil))
}

func TestPositionsKeyedPerAddress(t *testing.T) {
	store := NewPositionStore(storage.NewMemDB())
	alice := testAddress(0x01)
	bob := testAddress(0x02)

	require.NoError(t, store.PutPosition(alice, &engine.Position{
		Address:    alice,
		Collateral: map[string]*big.Int{"WETH": big.NewInt(1)},
		DebtMinted: big.NewInt(100),
	}))

	position, err := store.GetPosition(bob)
	require.NoError(t, err)
	require.Nil(t, position)
}
