// Package engine implements the state machine for option series:
// configure, strike initialization, issuance, the exercise family,
// rollover and withdrawal. Every operation validates derived addresses
// and business invariants before asking the substrate to move a single
// token, and runs inside one atomic substrate transaction.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/options/backend/internal/option"
)

// Clock reads the wall clock once at the start of an operation.
// Thresholds are never re-checked mid-execution.
type Clock interface {
	Now() int64
}

type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }

// TokenAccount is the substrate's view of a token holding account.
type TokenAccount struct {
	Address   solana.PublicKey
	Mint      solana.PublicKey
	Authority solana.PublicKey
	Amount    uint64
}

// MintAccount is the substrate's view of a token mint.
type MintAccount struct {
	Address   solana.PublicKey
	Authority solana.PublicKey
	Decimals  uint8
	Supply    uint64
}

// Signer authorizes a token movement. A user signer carries a key whose
// signature the host has already verified. A derived signer carries the
// seeds this program re-derives; the substrate recomputes the address
// from seeds+bump and only accepts it if it matches the account
// authority. That recomputation is the sole lock on vaults and mints.
type Signer struct {
	Key   solana.PublicKey
	Seeds [][]byte
	Bump  uint8
}

func UserSigner(key solana.PublicKey) Signer {
	return Signer{Key: key}
}

func DerivedSigner(seeds [][]byte, bump uint8) Signer {
	return Signer{Seeds: seeds, Bump: bump}
}

func (s Signer) Derived() bool { return len(s.Seeds) > 0 }

// Tx is the capability set one atomic operation works against. Mint
// matching and balance checks are enforced by the substrate itself;
// creation at an occupied address fails with ErrAddressOccupied, which
// gives configure and init-strike at-most-once semantics without locks.
type Tx interface {
	CreateMint(address, authority solana.PublicKey, decimals uint8) error
	CreateTokenAccount(address, mint, authority solana.PublicKey) error
	Mint(address solana.PublicKey) (MintAccount, error)
	TokenAccount(address solana.PublicKey) (TokenAccount, error)
	Transfer(from, to solana.PublicKey, amount uint64, auth Signer) error
	MintTo(mint, to solana.PublicKey, amount uint64, auth Signer) error
	Burn(mint, from solana.PublicKey, amount uint64, auth Signer) error

	InsertState(address solana.PublicKey, st *option.State) error
	State(address solana.PublicKey) (*option.State, error)
	PutState(address solana.PublicKey, st *option.State) error
	CloseState(address solana.PublicKey) error
}

// Substrate supplies all-or-nothing execution: if fn returns an error,
// nothing it did persists.
type Substrate interface {
	Atomic(ctx context.Context, fn func(Tx) error) error
}

// MetadataRegistrar attaches a human-readable name to an option mint.
// Purely cosmetic; no series state is touched.
type MetadataRegistrar interface {
	RegisterName(ctx context.Context, mint solana.PublicKey, name, symbol, uri string) error
}

type Engine struct {
	programID solana.PublicKey
	substrate Substrate
	fees      *option.FeePolicy
	metadata  MetadataRegistrar
	clock     Clock
	logger    *slog.Logger
}

func New(
	programID solana.PublicKey,
	substrate Substrate,
	fees *option.FeePolicy,
	metadata MetadataRegistrar,
	clock Clock,
	logger *slog.Logger,
) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{
		programID: programID,
		substrate: substrate,
		fees:      fees,
		metadata:  metadata,
		clock:     clock,
		logger:    logger,
	}
}

func (e *Engine) ProgramID() solana.PublicKey { return e.programID }

// Event describes one committed operation for the audit trail.
type Event struct {
	Kind      string           `json:"kind"`
	Series    string           `json:"series"`
	State     solana.PublicKey `json:"state"`
	Strike    uint64           `json:"strike,omitempty"`
	Amount    uint64           `json:"amount,omitempty"`
	Payment   uint64           `json:"payment,omitempty"`
	Fee       uint64           `json:"fee,omitempty"`
	Payer     solana.PublicKey `json:"payer,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// loadVerifiedState fetches a state record and proves it lives at the
// canonical derived address for its own (name, base mint) pair.
func (e *Engine) loadVerifiedState(tx Tx, stateAddr solana.PublicKey) (*option.State, error) {
	st, err := tx.State(stateAddr)
	if err != nil {
		return nil, err
	}
	if err := option.VerifyStatePDA(e.programID, st.Name, st.BaseMint, stateAddr); err != nil {
		return nil, err
	}
	return st, nil
}

func (e *Engine) vaultSigner(st *option.State) Signer {
	return DerivedSigner(option.VaultSeeds(st.Name, st.BaseMint), st.VaultBump)
}

func (e *Engine) quoteVaultSigner(st *option.State) Signer {
	return DerivedSigner(option.ReverseVaultSeeds(st.Name, st.BaseMint), st.QuoteVaultBump)
}
