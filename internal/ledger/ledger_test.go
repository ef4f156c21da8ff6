package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/options/backend/internal/engine"
	"github.com/coldbell/options/backend/internal/option"
)

func newTestLedger(t *testing.T) (*Ledger, solana.PublicKey) {
	t.Helper()
	programID := solana.NewWallet().PublicKey()
	return New(programID), programID
}

func fundedAccount(t *testing.T, led *Ledger, mint, owner solana.PublicKey, amount uint64) solana.PublicKey {
	t.Helper()
	addr := solana.NewWallet().PublicKey()
	require.NoError(t, led.CreateTokenAccount(addr, mint, owner))
	if amount > 0 {
		require.NoError(t, led.Credit(addr, amount))
	}
	return addr
}

func TestAtomicRollsBackOnError(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	require.NoError(t, led.CreateMint(mint, owner, 6))
	from := fundedAccount(t, led, mint, owner, 1_000)
	to := fundedAccount(t, led, mint, owner, 0)

	boom := errors.New("boom")
	err := led.Atomic(ctx, func(tx engine.Tx) error {
		if err := tx.Transfer(from, to, 400, engine.UserSigner(owner)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The partial transfer never commits.
	source, err := led.TokenAccount(from)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), source.Amount)
	dest, err := led.TokenAccount(to)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), dest.Amount)
}

func TestAtomicCommitsOnSuccess(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	require.NoError(t, led.CreateMint(mint, owner, 6))
	from := fundedAccount(t, led, mint, owner, 1_000)
	to := fundedAccount(t, led, mint, owner, 0)

	err := led.Atomic(ctx, func(tx engine.Tx) error {
		return tx.Transfer(from, to, 400, engine.UserSigner(owner))
	})
	require.NoError(t, err)

	source, err := led.TokenAccount(from)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), source.Amount)
	dest, err := led.TokenAccount(to)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), dest.Amount)
}

func TestAtomicHonorsCancelledContext(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := led.Atomic(ctx, func(tx engine.Tx) error {
		t.Fatal("fn must not run after cancellation")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransferChecks(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	owner := solana.NewWallet().PublicKey()
	stranger := solana.NewWallet().PublicKey()
	mintA := solana.NewWallet().PublicKey()
	mintB := solana.NewWallet().PublicKey()
	require.NoError(t, led.CreateMint(mintA, owner, 6))
	require.NoError(t, led.CreateMint(mintB, owner, 6))

	from := fundedAccount(t, led, mintA, owner, 100)
	to := fundedAccount(t, led, mintA, owner, 0)
	other := fundedAccount(t, led, mintB, owner, 0)

	err := led.Atomic(ctx, func(tx engine.Tx) error {
		return tx.Transfer(from, other, 10, engine.UserSigner(owner))
	})
	assert.ErrorIs(t, err, option.ErrWrongMint)

	err = led.Atomic(ctx, func(tx engine.Tx) error {
		return tx.Transfer(from, to, 10, engine.UserSigner(stranger))
	})
	assert.ErrorIs(t, err, option.ErrIncorrectAuthority)

	err = led.Atomic(ctx, func(tx engine.Tx) error {
		return tx.Transfer(from, to, 101, engine.UserSigner(owner))
	})
	assert.ErrorIs(t, err, option.ErrNotEnoughTokens)
}

func TestDerivedSignerAuthority(t *testing.T) {
	led, programID := newTestLedger(t)
	ctx := context.Background()

	owner := solana.NewWallet().PublicKey()
	baseMint := solana.NewWallet().PublicKey()
	require.NoError(t, led.CreateMint(baseMint, owner, 9))

	// A self-owned vault at its derived address, the way configure
	// creates one.
	vault, bump, err := option.DeriveVaultPDA(programID, "SERIES", baseMint)
	require.NoError(t, err)
	require.NoError(t, led.CreateTokenAccount(vault, baseMint, vault))
	require.NoError(t, led.Credit(vault, 500))

	dest := fundedAccount(t, led, baseMint, owner, 0)

	err = led.Atomic(ctx, func(tx engine.Tx) error {
		return tx.Transfer(vault, dest, 100, engine.UserSigner(owner))
	})
	assert.ErrorIs(t, err, option.ErrIncorrectAuthority)

	// Wrong seeds derive a different address and fail.
	err = led.Atomic(ctx, func(tx engine.Tx) error {
		return tx.Transfer(vault, dest, 100,
			engine.DerivedSigner(option.VaultSeeds("OTHER", baseMint), bump))
	})
	require.Error(t, err)

	// The canonical seeds plus bump reproduce the owner address.
	err = led.Atomic(ctx, func(tx engine.Tx) error {
		return tx.Transfer(vault, dest, 100,
			engine.DerivedSigner(option.VaultSeeds("SERIES", baseMint), bump))
	})
	require.NoError(t, err)

	acct, err := led.TokenAccount(dest)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), acct.Amount)
}

func TestMintToAndBurn(t *testing.T) {
	led, programID := newTestLedger(t)
	ctx := context.Background()

	holder := solana.NewWallet().PublicKey()
	state := solana.NewWallet().PublicKey()
	strike := uint64(250_000)

	optionMint, bump, err := option.DeriveOptionMintPDA(programID, state, strike)
	require.NoError(t, err)

	err = led.Atomic(ctx, func(tx engine.Tx) error {
		return tx.CreateMint(optionMint, optionMint, 0)
	})
	require.NoError(t, err)

	holderOptions := fundedAccount(t, led, optionMint, holder, 0)
	mintSigner := engine.DerivedSigner(option.OptionMintSeeds(state, strike), bump)

	// Minting requires the derived mint authority.
	err = led.Atomic(ctx, func(tx engine.Tx) error {
		return tx.MintTo(optionMint, holderOptions, 3, engine.UserSigner(holder))
	})
	assert.ErrorIs(t, err, option.ErrIncorrectAuthority)

	err = led.Atomic(ctx, func(tx engine.Tx) error {
		return tx.MintTo(optionMint, holderOptions, 3, mintSigner)
	})
	require.NoError(t, err)

	mint, err := led.Mint(optionMint)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), mint.Supply)

	// Burning spends the holder's tokens, so the holder signs.
	err = led.Atomic(ctx, func(tx engine.Tx) error {
		return tx.Burn(optionMint, holderOptions, 2, engine.UserSigner(holder))
	})
	require.NoError(t, err)

	mint, err = led.Mint(optionMint)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), mint.Supply)
	acct, err := led.TokenAccount(holderOptions)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acct.Amount)

	err = led.Atomic(ctx, func(tx engine.Tx) error {
		return tx.Burn(optionMint, holderOptions, 2, engine.UserSigner(holder))
	})
	assert.ErrorIs(t, err, option.ErrNotEnoughTokens)
}

func TestCreationAtOccupiedAddress(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	require.NoError(t, led.CreateMint(mint, owner, 6))
	assert.ErrorIs(t, led.CreateMint(mint, owner, 6), option.ErrAddressOccupied)

	account := fundedAccount(t, led, mint, owner, 0)
	assert.ErrorIs(t, led.CreateTokenAccount(account, mint, owner), option.ErrAddressOccupied)

	missingMint := solana.NewWallet().PublicKey()
	err := led.CreateTokenAccount(solana.NewWallet().PublicKey(), missingMint, owner)
	assert.ErrorIs(t, err, option.ErrAccountNotFound)

	err = led.Atomic(ctx, func(tx engine.Tx) error {
		return tx.CreateMint(mint, owner, 6)
	})
	assert.ErrorIs(t, err, option.ErrAddressOccupied)
}

func TestStateLifecycle(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	addr := solana.NewWallet().PublicKey()
	st := &option.State{
		Name:             "SERIES",
		Authority:        solana.NewWallet().PublicKey(),
		OptionsAvailable: 42,
		LotSize:          7,
	}

	err := led.Atomic(ctx, func(tx engine.Tx) error {
		return tx.InsertState(addr, st)
	})
	require.NoError(t, err)

	err = led.Atomic(ctx, func(tx engine.Tx) error {
		return tx.InsertState(addr, st)
	})
	assert.ErrorIs(t, err, option.ErrAddressOccupied)

	// Reads hand out clones; mutating one does not touch the ledger.
	got, err := led.State(addr)
	require.NoError(t, err)
	got.OptionsAvailable = 0
	again, err := led.State(addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), again.OptionsAvailable)

	err = led.Atomic(ctx, func(tx engine.Tx) error {
		return tx.CloseState(addr)
	})
	require.NoError(t, err)

	_, err = led.State(addr)
	assert.ErrorIs(t, err, option.ErrAccountNotFound)

	err = led.Atomic(ctx, func(tx engine.Tx) error {
		return tx.PutState(addr, st)
	})
	assert.ErrorIs(t, err, option.ErrAccountNotFound)
}

func TestRegisterName(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	err := led.RegisterName(ctx, mint, "SO-SERIES-0.5", "SO", "")
	assert.ErrorIs(t, err, option.ErrAccountNotFound)

	require.NoError(t, led.CreateMint(mint, owner, 0))
	require.NoError(t, led.RegisterName(ctx, mint, "SO-SERIES-0.5", "SO", ""))

	name, ok := led.Name(mint)
	require.True(t, ok)
	assert.Equal(t, "SO-SERIES-0.5", name.Name)
	assert.Equal(t, "SO", name.Symbol)

	_, ok = led.Name(solana.NewWallet().PublicKey())
	assert.False(t, ok)
}
