package option

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivationIsDeterministic(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	baseMint := solana.NewWallet().PublicKey()

	first, firstBump, err := DeriveStatePDA(programID, "ORCA-Q3", baseMint)
	require.NoError(t, err)
	second, secondBump, err := DeriveStatePDA(programID, "ORCA-Q3", baseMint)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstBump, secondBump)
}

func TestDerivationsAreDistinct(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	baseMint := solana.NewWallet().PublicKey()

	state, _, err := DeriveStatePDA(programID, "ORCA-Q3", baseMint)
	require.NoError(t, err)
	vault, _, err := DeriveVaultPDA(programID, "ORCA-Q3", baseMint)
	require.NoError(t, err)
	reverseVault, _, err := DeriveReverseVaultPDA(programID, "ORCA-Q3", baseMint)
	require.NoError(t, err)

	assert.NotEqual(t, state, vault)
	assert.NotEqual(t, state, reverseVault)
	assert.NotEqual(t, vault, reverseVault)

	otherName, _, err := DeriveStatePDA(programID, "ORCA-Q4", baseMint)
	require.NoError(t, err)
	assert.NotEqual(t, state, otherName)

	otherMint, _, err := DeriveStatePDA(programID, "ORCA-Q3", solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.NotEqual(t, state, otherMint)
}

func TestMintDerivationsByStrike(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	state := solana.NewWallet().PublicKey()

	one, _, err := DeriveOptionMintPDA(programID, state, 1)
	require.NoError(t, err)
	// 1 and 256 collide if the strike bytes were truncated.
	other, _, err := DeriveOptionMintPDA(programID, state, 256)
	require.NoError(t, err)
	assert.NotEqual(t, one, other)

	reverse, _, err := DeriveReverseMintPDA(programID, state, 1)
	require.NoError(t, err)
	assert.NotEqual(t, one, reverse)
}

func TestVerifyRejectsForeignAddresses(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	baseMint := solana.NewWallet().PublicKey()

	state, _, err := DeriveStatePDA(programID, "ORCA-Q3", baseMint)
	require.NoError(t, err)

	require.NoError(t, VerifyStatePDA(programID, "ORCA-Q3", baseMint, state))
	assert.ErrorIs(t, VerifyStatePDA(programID, "ORCA-Q3", baseMint, solana.NewWallet().PublicKey()), ErrInvalidState)
	assert.ErrorIs(t, VerifyStatePDA(programID, "ORCA-Q4", baseMint, state), ErrInvalidState)

	vault, _, err := DeriveVaultPDA(programID, "ORCA-Q3", baseMint)
	require.NoError(t, err)
	require.NoError(t, VerifyVaultPDA(programID, "ORCA-Q3", baseMint, vault))
	assert.ErrorIs(t, VerifyVaultPDA(programID, "ORCA-Q3", baseMint, state), ErrInvalidVault)

	mint, _, err := DeriveOptionMintPDA(programID, state, 500_000_000)
	require.NoError(t, err)
	require.NoError(t, VerifyOptionMintPDA(programID, state, 500_000_000, mint))
	assert.ErrorIs(t, VerifyOptionMintPDA(programID, state, 500_000_001, mint), ErrInvalidMint)
}

func TestU64BE(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 1}, u64BE(1))
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 1, 0}, u64BE(256))
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, u64BE(^uint64(0)))
}
