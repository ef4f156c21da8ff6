package ledger

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/options/backend/internal/engine"
	"github.com/coldbell/options/backend/internal/option"
)

// txView implements engine.Tx over copied maps; the ledger commits the
// copies only when the whole operation succeeds.
type txView struct {
	programID solana.PublicKey
	accounts  map[solana.PublicKey]*engine.TokenAccount
	mints     map[solana.PublicKey]*engine.MintAccount
	states    map[solana.PublicKey]*option.State
}

func (t *txView) CreateMint(address, authority solana.PublicKey, decimals uint8) error {
	if _, ok := t.mints[address]; ok {
		return fmt.Errorf("%w: mint %s", option.ErrAddressOccupied, address)
	}
	t.mints[address] = &engine.MintAccount{Address: address, Authority: authority, Decimals: decimals}
	return nil
}

func (t *txView) CreateTokenAccount(address, mint, authority solana.PublicKey) error {
	if _, ok := t.accounts[address]; ok {
		return fmt.Errorf("%w: account %s", option.ErrAddressOccupied, address)
	}
	if _, ok := t.mints[mint]; !ok {
		return fmt.Errorf("%w: mint %s", option.ErrAccountNotFound, mint)
	}
	t.accounts[address] = &engine.TokenAccount{Address: address, Mint: mint, Authority: authority}
	return nil
}

func (t *txView) Mint(address solana.PublicKey) (engine.MintAccount, error) {
	mint, ok := t.mints[address]
	if !ok {
		return engine.MintAccount{}, fmt.Errorf("%w: mint %s", option.ErrAccountNotFound, address)
	}
	return *mint, nil
}

func (t *txView) TokenAccount(address solana.PublicKey) (engine.TokenAccount, error) {
	acct, ok := t.accounts[address]
	if !ok {
		return engine.TokenAccount{}, fmt.Errorf("%w: account %s", option.ErrAccountNotFound, address)
	}
	return *acct, nil
}

func (t *txView) Transfer(from, to solana.PublicKey, amount uint64, auth engine.Signer) error {
	source, ok := t.accounts[from]
	if !ok {
		return fmt.Errorf("%w: account %s", option.ErrAccountNotFound, from)
	}
	dest, ok := t.accounts[to]
	if !ok {
		return fmt.Errorf("%w: account %s", option.ErrAccountNotFound, to)
	}
	if !source.Mint.Equals(dest.Mint) {
		return fmt.Errorf("%w: transfer between %s and %s accounts",
			option.ErrWrongMint, source.Mint, dest.Mint)
	}
	if err := t.requireAuthority(auth, source.Authority); err != nil {
		return err
	}
	if source.Amount < amount {
		return fmt.Errorf("%w: balance %d, transfer %d",
			option.ErrNotEnoughTokens, source.Amount, amount)
	}

	balance, err := option.CheckedAdd(dest.Amount, amount)
	if err != nil {
		return err
	}
	source.Amount -= amount
	dest.Amount = balance
	return nil
}

func (t *txView) MintTo(mint, to solana.PublicKey, amount uint64, auth engine.Signer) error {
	mintAcct, ok := t.mints[mint]
	if !ok {
		return fmt.Errorf("%w: mint %s", option.ErrAccountNotFound, mint)
	}
	dest, ok := t.accounts[to]
	if !ok {
		return fmt.Errorf("%w: account %s", option.ErrAccountNotFound, to)
	}
	if !dest.Mint.Equals(mint) {
		return fmt.Errorf("%w: destination holds %s", option.ErrWrongMint, dest.Mint)
	}
	if err := t.requireAuthority(auth, mintAcct.Authority); err != nil {
		return err
	}

	supply, err := option.CheckedAdd(mintAcct.Supply, amount)
	if err != nil {
		return err
	}
	balance, err := option.CheckedAdd(dest.Amount, amount)
	if err != nil {
		return err
	}
	mintAcct.Supply = supply
	dest.Amount = balance
	return nil
}

func (t *txView) Burn(mint, from solana.PublicKey, amount uint64, auth engine.Signer) error {
	mintAcct, ok := t.mints[mint]
	if !ok {
		return fmt.Errorf("%w: mint %s", option.ErrAccountNotFound, mint)
	}
	source, ok := t.accounts[from]
	if !ok {
		return fmt.Errorf("%w: account %s", option.ErrAccountNotFound, from)
	}
	if !source.Mint.Equals(mint) {
		return fmt.Errorf("%w: account holds %s", option.ErrWrongMint, source.Mint)
	}
	// Burning spends the holder's tokens, so the holder authorizes it.
	if err := t.requireAuthority(auth, source.Authority); err != nil {
		return err
	}
	if source.Amount < amount {
		return fmt.Errorf("%w: balance %d, burn %d",
			option.ErrNotEnoughTokens, source.Amount, amount)
	}
	supply, err := option.CheckedSub(mintAcct.Supply, amount)
	if err != nil {
		return err
	}
	mintAcct.Supply = supply
	source.Amount -= amount
	return nil
}

func (t *txView) InsertState(address solana.PublicKey, st *option.State) error {
	if _, ok := t.states[address]; ok {
		return fmt.Errorf("%w: state %s", option.ErrAddressOccupied, address)
	}
	t.states[address] = st.Clone()
	return nil
}

func (t *txView) State(address solana.PublicKey) (*option.State, error) {
	st, ok := t.states[address]
	if !ok {
		return nil, fmt.Errorf("%w: state %s", option.ErrAccountNotFound, address)
	}
	return st.Clone(), nil
}

func (t *txView) PutState(address solana.PublicKey, st *option.State) error {
	if _, ok := t.states[address]; !ok {
		return fmt.Errorf("%w: state %s", option.ErrAccountNotFound, address)
	}
	t.states[address] = st.Clone()
	return nil
}

func (t *txView) CloseState(address solana.PublicKey) error {
	if _, ok := t.states[address]; !ok {
		return fmt.Errorf("%w: state %s", option.ErrAccountNotFound, address)
	}
	delete(t.states, address)
	return nil
}

// requireAuthority is the capability check. A user signer must match
// the account authority exactly. A derived signer must recompute, from
// its seeds and bump inside this program, the very address that owns
// the account; no private key can ever produce that proof.
func (t *txView) requireAuthority(auth engine.Signer, owner solana.PublicKey) error {
	if auth.Derived() {
		seeds := append(append([][]byte{}, auth.Seeds...), []byte{auth.Bump})
		derived, err := solana.CreateProgramAddress(seeds, t.programID)
		if err != nil {
			return fmt.Errorf("derive signer address: %w", err)
		}
		if !derived.Equals(owner) {
			return fmt.Errorf("%w: derived signer %s does not own the account",
				option.ErrIncorrectAuthority, derived)
		}
		return nil
	}
	if !auth.Key.Equals(owner) {
		return fmt.Errorf("%w: signer %s does not own the account",
			option.ErrIncorrectAuthority, auth.Key)
	}
	return nil
}
