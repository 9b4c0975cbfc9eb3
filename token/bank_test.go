package token

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/flashvault/store"
)

var (
	asset = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestBank(t *testing.T) {
	newBank := func() (*Bank, *store.View, *store.Memory) {
		mem := store.NewMemory()
		view := store.NewView(mem)
		return NewBank(view), view, mem
	}

	t.Run("UnknownHolderIsZero", func(t *testing.T) {
		bank, _, _ := newBank()
		bal, err := bank.BalanceOf(asset, alice)
		require.NoError(t, err)
		assert.Equal(t, int64(0), bal.Int64())
	})

	t.Run("CreditAndTransfer", func(t *testing.T) {
		bank, _, _ := newBank()
		require.NoError(t, bank.Credit(asset, alice, big.NewInt(100)))
		require.NoError(t, bank.Transfer(asset, alice, bob, big.NewInt(40)))

		a, err := bank.BalanceOf(asset, alice)
		require.NoError(t, err)
		b, err := bank.BalanceOf(asset, bob)
		require.NoError(t, err)
		assert.Equal(t, int64(60), a.Int64())
		assert.Equal(t, int64(40), b.Int64())
	})

	t.Run("InsufficientBalance", func(t *testing.T) {
		bank, _, _ := newBank()
		require.NoError(t, bank.Credit(asset, alice, big.NewInt(10)))
		err := bank.Transfer(asset, alice, bob, big.NewInt(11))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	})

	t.Run("SelfTransferChecksBalance", func(t *testing.T) {
		bank, _, _ := newBank()
		require.NoError(t, bank.Credit(asset, alice, big.NewInt(10)))
		assert.ErrorIs(t, bank.Transfer(asset, alice, alice, big.NewInt(11)), ErrInsufficientBalance)

		require.NoError(t, bank.Transfer(asset, alice, alice, big.NewInt(10)))
		bal, err := bank.BalanceOf(asset, alice)
		require.NoError(t, err)
		assert.Equal(t, int64(10), bal.Int64())
	})

	t.Run("InvalidInputs", func(t *testing.T) {
		bank, _, _ := newBank()
		assert.ErrorIs(t, bank.Credit(asset, alice, big.NewInt(0)), ErrInvalidAmount)
		assert.ErrorIs(t, bank.Credit(asset, alice, nil), ErrInvalidAmount)
		assert.ErrorIs(t, bank.Credit(asset, common.Address{}, big.NewInt(1)), ErrZeroAddress)
		assert.ErrorIs(t, bank.Transfer(asset, alice, bob, big.NewInt(-1)), ErrInvalidAmount)
		assert.ErrorIs(t, bank.Transfer(asset, alice, common.Address{}, big.NewInt(1)), ErrZeroAddress)
	})

	t.Run("DrainedBalanceDeletesKey", func(t *testing.T) {
		bank, view, _ := newBank()
		require.NoError(t, bank.Credit(asset, alice, big.NewInt(5)))
		require.NoError(t, bank.Transfer(asset, alice, bob, big.NewInt(5)))

		_, err := view.Get(BalanceKey(asset, alice))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("UncommittedViewLeavesBackendEmpty", func(t *testing.T) {
		bank, view, mem := newBank()
		require.NoError(t, bank.Credit(asset, alice, big.NewInt(5)))
		assert.Equal(t, 0, mem.Len())

		require.NoError(t, view.Commit(mem))
		committed := NewBank(store.NewView(mem))
		bal, err := committed.BalanceOf(asset, alice)
		require.NoError(t, err)
		assert.Equal(t, int64(5), bal.Int64())
	})

	t.Run("WalletSpendsOnlyOwnFunds", func(t *testing.T) {
		bank, _, _ := newBank()
		require.NoError(t, bank.Credit(asset, bob, big.NewInt(50)))
		w := bank.Wallet(alice)
		assert.Equal(t, alice, w.Holder())
		assert.ErrorIs(t, w.Transfer(asset, bob, big.NewInt(1)), ErrInsufficientBalance)

		other, err := w.BalanceOf(asset, bob)
		require.NoError(t, err)
		assert.Equal(t, int64(50), other.Int64())
	})
}
