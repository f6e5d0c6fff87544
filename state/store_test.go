package state

import (
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/availproject/avail-nitro-adapter/types"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDeployAndCode(t *testing.T) {
	store := setupTestStore(t)
	addr := types.Address{1}

	_, _, err := store.Code(addr)
	assert.ErrorIs(t, err, ErrNoCode)

	require.NoError(t, store.Deploy(addr, []byte{0, 1, 2}, 1))
	code, version, err := store.Code(addr)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, code)
	assert.Equal(t, uint32(1), version)

	// redeploying replaces the code
	require.NoError(t, store.Deploy(addr, []byte{3}, 0))
	code, version, err = store.Code(addr)
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, code)
	assert.Equal(t, uint32(0), version)

	assert.Error(t, store.Deploy(addr, nil, 1))
}

func TestBalances(t *testing.T) {
	store := setupTestStore(t)
	alice, bob := types.Address{0xa}, types.Address{0xb}

	balance, err := store.Balance(alice)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	big := uint256.MustFromHex("0x1000000000000000000000000000000000000")
	require.NoError(t, store.SetBalance(alice, big))

	require.NoError(t, store.Transfer(alice, bob, uint256.NewInt(5)))
	got, err := store.Balance(bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Uint64())

	got, err = store.Balance(alice)
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).Sub(big, uint256.NewInt(5)), got)

	err = store.Transfer(bob, alice, uint256.NewInt(6))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	got, err = store.Balance(bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Uint64())
}
