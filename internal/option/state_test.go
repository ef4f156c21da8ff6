package option

import (
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	require.NoError(t, ValidateName("ORCA-Q3"))
	require.NoError(t, ValidateName(strings.Repeat("a", MaxNameLen)))

	assert.ErrorIs(t, ValidateName(""), ErrInvalidName)
	assert.ErrorIs(t, ValidateName(strings.Repeat("a", MaxNameLen+1)), ErrInvalidName)
}

func TestCanIssue(t *testing.T) {
	authority := solana.NewWallet().PublicKey()
	issuer := solana.NewWallet().PublicKey()

	st := &State{Authority: authority}
	assert.True(t, st.CanIssue(authority))
	assert.False(t, st.CanIssue(issuer))
	// Zero issue authority never grants the zero key anything.
	assert.False(t, st.CanIssue(solana.PublicKey{}))

	st.IssueAuthority = issuer
	assert.True(t, st.CanIssue(authority))
	assert.True(t, st.CanIssue(issuer))
}

func TestAppendStrikeCap(t *testing.T) {
	st := &State{}
	for i := 0; i < MaxStrikes; i++ {
		require.NoError(t, st.AppendStrike(uint64(i+1)))
	}
	assert.ErrorIs(t, st.AppendStrike(101), ErrTooManyStrikes)
	assert.Len(t, st.Strikes, MaxStrikes)
}

func TestCloneIsIndependent(t *testing.T) {
	st := &State{Name: "ORCA-Q3", Strikes: []uint64{100, 200}}
	clone := st.Clone()
	clone.Strikes[0] = 999
	clone.Name = "other"

	assert.Equal(t, uint64(100), st.Strikes[0])
	assert.Equal(t, "ORCA-Q3", st.Name)
}

func TestStateBorshRoundTrip(t *testing.T) {
	st := &State{
		Name:                  "ORCA-Q3",
		Authority:             solana.NewWallet().PublicKey(),
		IssueAuthority:        solana.NewWallet().PublicKey(),
		OptionsAvailable:      10_000_000,
		OptionExpiration:      1_700_000_000,
		SubscriptionPeriodEnd: 1_690_000_000,
		BaseDecimals:          9,
		QuoteDecimals:         6,
		BaseMint:              solana.NewWallet().PublicKey(),
		QuoteMint:             solana.NewWallet().PublicKey(),
		QuoteAccount:          solana.NewWallet().PublicKey(),
		LotSize:               1_000_000,
		Strikes:               []uint64{500_000_000, 750_000_000},
		StateBump:             254,
		VaultBump:             253,
		QuoteVaultBump:        252,
		Schedule:              FeeTiered,
		Reversible:            true,
	}

	raw, err := st.MarshalBorsh()
	require.NoError(t, err)

	decoded, err := UnmarshalStateBorsh(raw)
	require.NoError(t, err)
	assert.Equal(t, st, decoded)
}
