// Package ledger is the reference substrate behind the engine: an
// in-memory token capability set with the same contract the on-chain
// token program gives the original facility. Transfers enforce mint
// matching and balances, creation at an occupied address fails
// deterministically, and derived signers are verified by recomputing
// the program address from seeds.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/options/backend/internal/engine"
	"github.com/coldbell/options/backend/internal/option"
)

type Ledger struct {
	mu        sync.Mutex
	programID solana.PublicKey

	accounts map[solana.PublicKey]*engine.TokenAccount
	mints    map[solana.PublicKey]*engine.MintAccount
	states   map[solana.PublicKey]*option.State
	names    map[solana.PublicKey]TokenName
}

// TokenName is the registered display metadata for a mint.
type TokenName struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	URI    string `json:"uri"`
}

func New(programID solana.PublicKey) *Ledger {
	return &Ledger{
		programID: programID,
		accounts:  make(map[solana.PublicKey]*engine.TokenAccount),
		mints:     make(map[solana.PublicKey]*engine.MintAccount),
		states:    make(map[solana.PublicKey]*option.State),
		names:     make(map[solana.PublicKey]TokenName),
	}
}

// Atomic runs fn against a copy of the ledger and swaps the copy in
// only when fn succeeds. One operation fully completes or fully aborts
// before the next begins.
func (l *Ledger) Atomic(ctx context.Context, fn func(engine.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &txView{
		programID: l.programID,
		accounts:  cloneAccounts(l.accounts),
		mints:     cloneMints(l.mints),
		states:    cloneStates(l.states),
	}
	if err := fn(tx); err != nil {
		return err
	}

	l.accounts = tx.accounts
	l.mints = tx.mints
	l.states = tx.states
	return nil
}

// RegisterName implements the metadata registrar collaborator.
func (l *Ledger) RegisterName(ctx context.Context, mint solana.PublicKey, name, symbol, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.mints[mint]; !ok {
		return fmt.Errorf("%w: mint %s", option.ErrAccountNotFound, mint)
	}
	l.names[mint] = TokenName{Name: name, Symbol: symbol, URI: uri}
	return nil
}

func (l *Ledger) Name(mint solana.PublicKey) (TokenName, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name, ok := l.names[mint]
	return name, ok
}

// CreateMint registers an externally controlled mint, e.g. the base and
// quote tokens a series is configured against.
func (l *Ledger) CreateMint(address, authority solana.PublicKey, decimals uint8) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.mints[address]; ok {
		return fmt.Errorf("%w: mint %s", option.ErrAddressOccupied, address)
	}
	l.mints[address] = &engine.MintAccount{Address: address, Authority: authority, Decimals: decimals}
	return nil
}

// CreateTokenAccount registers a user-owned token account.
func (l *Ledger) CreateTokenAccount(address, mint, authority solana.PublicKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[address]; ok {
		return fmt.Errorf("%w: account %s", option.ErrAddressOccupied, address)
	}
	if _, ok := l.mints[mint]; !ok {
		return fmt.Errorf("%w: mint %s", option.ErrAccountNotFound, mint)
	}
	l.accounts[address] = &engine.TokenAccount{Address: address, Mint: mint, Authority: authority}
	return nil
}

// Credit mints tokens into an account with the mint authority assumed.
// Bootstrap and test helper only; engine operations never call it.
func (l *Ledger) Credit(account solana.PublicKey, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[account]
	if !ok {
		return fmt.Errorf("%w: account %s", option.ErrAccountNotFound, account)
	}
	mint := l.mints[acct.Mint]
	supply, err := option.CheckedAdd(mint.Supply, amount)
	if err != nil {
		return err
	}
	balance, err := option.CheckedAdd(acct.Amount, amount)
	if err != nil {
		return err
	}
	mint.Supply = supply
	acct.Amount = balance
	return nil
}

func (l *Ledger) TokenAccount(address solana.PublicKey) (engine.TokenAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[address]
	if !ok {
		return engine.TokenAccount{}, fmt.Errorf("%w: account %s", option.ErrAccountNotFound, address)
	}
	return *acct, nil
}

func (l *Ledger) Mint(address solana.PublicKey) (engine.MintAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mint, ok := l.mints[address]
	if !ok {
		return engine.MintAccount{}, fmt.Errorf("%w: mint %s", option.ErrAccountNotFound, address)
	}
	return *mint, nil
}

func (l *Ledger) State(address solana.PublicKey) (*option.State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[address]
	if !ok {
		return nil, fmt.Errorf("%w: state %s", option.ErrAccountNotFound, address)
	}
	return st.Clone(), nil
}

func cloneAccounts(in map[solana.PublicKey]*engine.TokenAccount) map[solana.PublicKey]*engine.TokenAccount {
	out := make(map[solana.PublicKey]*engine.TokenAccount, len(in))
	for key, acct := range in {
		copied := *acct
		out[key] = &copied
	}
	return out
}

func cloneMints(in map[solana.PublicKey]*engine.MintAccount) map[solana.PublicKey]*engine.MintAccount {
	out := make(map[solana.PublicKey]*engine.MintAccount, len(in))
	for key, mint := range in {
		copied := *mint
		out[key] = &copied
	}
	return out
}

func cloneStates(in map[solana.PublicKey]*option.State) map[solana.PublicKey]*option.State {
	out := make(map[solana.PublicKey]*option.State, len(in))
	for key, st := range in {
		out[key] = st.Clone()
	}
	return out
}
