package bank

import (
	"testing"

	"github.com/stretchr/testify/require"

	"stablefactory/core/state"
	"stablefactory/storage"
)

func owner(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

func withLedger(t *testing.T, mgr *state.Manager, fn func(*Ledger) error) error {
	t.Helper()
	return mgr.Atomic(func(tx *state.Tx) error {
		return fn(NewLedger(tx))
	})
}

func TestTransferMovesBalance(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	alice, bob, issuer := owner(1), owner(2), owner(9)

	require.NoError(t, withLedger(t, mgr, func(l *Ledger) error {
		if _, err := l.CreateAsset("USDX", 6, issuer); err != nil {
			return err
		}
		if _, err := l.OpenAccount("alice-usdx", alice, "USDX"); err != nil {
			return err
		}
		if _, err := l.OpenAccount("bob-usdx", bob, "USDX"); err != nil {
			return err
		}
		if err := l.MintTo(issuer, "alice-usdx", 1_000); err != nil {
			return err
		}
		return l.Transfer(alice, "alice-usdx", "bob-usdx", 400)
	}))

	require.NoError(t, mgr.View(func(tx *state.Tx) error {
		l := NewLedger(tx)
		a, err := l.Account("alice-usdx")
		require.NoError(t, err)
		b, err := l.Account("bob-usdx")
		require.NoError(t, err)
		require.Equal(t, uint64(600), a.Balance)
		require.Equal(t, uint64(400), b.Balance)
		asset, err := l.Asset("USDX")
		require.NoError(t, err)
		require.Equal(t, uint64(1_000), asset.Supply)
		return nil
	}))
}

func TestTransferRejectsWrongAuthorityAndShortBalance(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	alice, bob, issuer := owner(1), owner(2), owner(9)
	require.NoError(t, withLedger(t, mgr, func(l *Ledger) error {
		if _, err := l.CreateAsset("USDX", 6, issuer); err != nil {
			return err
		}
		if _, err := l.CreateAsset("GOLD", 8, issuer); err != nil {
			return err
		}
		for _, spec := range []struct {
			id    string
			owner [20]byte
			asset string
		}{{"a", alice, "USDX"}, {"b", bob, "USDX"}, {"g", bob, "GOLD"}} {
			if _, err := l.OpenAccount(spec.id, spec.owner, spec.asset); err != nil {
				return err
			}
		}
		return l.MintTo(issuer, "a", 10)
	}))

	err := withLedger(t, mgr, func(l *Ledger) error { return l.Transfer(bob, "a", "b", 1) })
	require.ErrorIs(t, err, ErrOwnerMismatch)

	err = withLedger(t, mgr, func(l *Ledger) error { return l.Transfer(alice, "a", "b", 11) })
	require.ErrorIs(t, err, ErrInsufficientFunds)

	err = withLedger(t, mgr, func(l *Ledger) error { return l.Transfer(alice, "a", "g", 1) })
	require.ErrorIs(t, err, ErrAssetMismatch)

	err = withLedger(t, mgr, func(l *Ledger) error { return l.Transfer(alice, "a", "missing", 1) })
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestMintAuthorityHandOff(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	custody, governance := owner(5), owner(6)
	require.NoError(t, withLedger(t, mgr, func(l *Ledger) error {
		if _, err := l.CreateAsset("USDX", 6, custody); err != nil {
			return err
		}
		_, err := l.OpenAccount("sink", owner(1), "USDX")
		return err
	}))
	require.NoError(t, withLedger(t, mgr, func(l *Ledger) error {
		return l.SetMintAuthority(custody, "USDX", governance)
	}))

	err := withLedger(t, mgr, func(l *Ledger) error { return l.MintTo(custody, "sink", 1) })
	require.ErrorIs(t, err, ErrOwnerMismatch)
	require.NoError(t, withLedger(t, mgr, func(l *Ledger) error { return l.MintTo(governance, "sink", 1) }))

	err = withLedger(t, mgr, func(l *Ledger) error { return l.SetMintAuthority(custody, "USDX", custody) })
	require.ErrorIs(t, err, ErrOwnerMismatch)
}

func TestBurnReducesSupply(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	custody := owner(5)
	require.NoError(t, withLedger(t, mgr, func(l *Ledger) error {
		if _, err := l.CreateAsset("USDX", 6, custody); err != nil {
			return err
		}
		if _, err := l.OpenAccount("pool", custody, "USDX"); err != nil {
			return err
		}
		if err := l.MintTo(custody, "pool", 500); err != nil {
			return err
		}
		return l.Burn(custody, "pool", 200)
	}))
	require.NoError(t, mgr.View(func(tx *state.Tx) error {
		l := NewLedger(tx)
		asset, err := l.Asset("USDX")
		require.NoError(t, err)
		require.Equal(t, uint64(300), asset.Supply)
		accounts, err := l.AccountsByOwner(custody)
		require.NoError(t, err)
		require.Len(t, accounts, 1)
		require.Equal(t, uint64(300), accounts[0].Balance)
		return nil
	}))
	err := withLedger(t, mgr, func(l *Ledger) error { return l.Burn(custody, "pool", 301) })
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestOpenAccountAssignsIdentifier(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	require.NoError(t, withLedger(t, mgr, func(l *Ledger) error {
		if _, err := l.CreateAsset("USDX", 6, owner(5)); err != nil {
			return err
		}
		account, err := l.OpenAccount("", owner(1), "USDX")
		require.NoError(t, err)
		require.NotEmpty(t, account.ID)
		_, err = l.OpenAccount(account.ID, owner(1), "USDX")
		require.ErrorIs(t, err, ErrAccountExists)
		_, err = l.OpenAccount("x", owner(1), "NOPE")
		require.ErrorIs(t, err, ErrAssetNotFound)
		return nil
	}))
}
