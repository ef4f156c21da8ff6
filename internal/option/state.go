package option

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	// MaxNameLen bounds the series name, which is part of the state
	// derivation seed.
	MaxNameLen = 32
	// MaxStrikes bounds the informational strike list.
	MaxStrikes = 100
)

// State is the persistent record for one option series, keyed by its
// derived address. Field order is the wire layout; append only.
type State struct {
	// Name identifies the series. A (name, base mint) pair maps to
	// exactly one state address.
	Name string

	// Authority signs configure, init strike, rollover and withdraw.
	Authority solana.PublicKey

	// IssueAuthority, when set, may additionally sign issue. Useful
	// when a DAO configures but a program issues.
	IssueAuthority solana.PublicKey

	// OptionsAvailable counts base atoms not yet allocated to issued
	// options.
	OptionsAvailable uint64

	OptionExpiration      uint64
	SubscriptionPeriodEnd uint64

	BaseDecimals  uint8
	QuoteDecimals uint8

	BaseMint  solana.PublicKey
	QuoteMint solana.PublicKey

	// QuoteAccount receives exercise payments for the project.
	QuoteAccount solana.PublicKey

	// LotSize is base atoms per lot. Strikes are quote atoms per lot.
	LotSize uint64

	// Strikes is append-only monitoring data. Lookups always re-derive
	// the mint address instead of indexing this list.
	Strikes []uint64

	StateBump      uint8
	VaultBump      uint8
	QuoteVaultBump uint8

	// Schedule pins the fee rule chosen at configure time.
	Schedule FeeSchedule

	// Reversible marks a series with a quote escrow vault.
	Reversible bool
}

func ValidateName(name string) error {
	if len(name) == 0 || len(name) > MaxNameLen {
		return fmt.Errorf("%w: length %d (max %d)", ErrInvalidName, len(name), MaxNameLen)
	}
	return nil
}

func (s *State) HasIssueAuthority() bool {
	return !s.IssueAuthority.IsZero()
}

// CanIssue reports whether key may sign an issue for this series.
func (s *State) CanIssue(key solana.PublicKey) bool {
	if key.Equals(s.Authority) {
		return true
	}
	return s.HasIssueAuthority() && key.Equals(s.IssueAuthority)
}

// AppendStrike records a strike, bounded by MaxStrikes. Duplicates are
// not checked here; the occupied derived mint address is the dedup
// mechanism.
func (s *State) AppendStrike(strike uint64) error {
	if len(s.Strikes) >= MaxStrikes {
		return fmt.Errorf("%w: %d strikes", ErrTooManyStrikes, len(s.Strikes))
	}
	s.Strikes = append(s.Strikes, strike)
	return nil
}

func (s *State) Clone() *State {
	out := *s
	out.Strikes = append([]uint64(nil), s.Strikes...)
	return &out
}

// MarshalBorsh encodes the state for storage snapshots.
func (s *State) MarshalBorsh() ([]byte, error) {
	var buf bytes.Buffer
	if err := bin.NewBorshEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return buf.Bytes(), nil
}

func UnmarshalStateBorsh(data []byte) (*State, error) {
	var out State
	if err := bin.NewBorshDecoder(data).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &out, nil
}
