package option

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Seed tags for every derived address this program controls. Changing
// any of them, or the byte layout of the numeric seeds, changes every
// resulting address and is a breaking storage-layout change.
const (
	ConfigSeed       = "so-config"
	VaultSeed        = "so-vault"
	ReverseVaultSeed = "so-reverse-vault"
	MintSeed         = "so-mint"
	ReverseMintSeed  = "so-reverse-mint"
)

func DeriveStatePDA(programID solana.PublicKey, name string, baseMint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(StateSeeds(name, baseMint), programID)
}

func DeriveVaultPDA(programID solana.PublicKey, name string, baseMint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(VaultSeeds(name, baseMint), programID)
}

func DeriveReverseVaultPDA(programID solana.PublicKey, name string, baseMint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(ReverseVaultSeeds(name, baseMint), programID)
}

func DeriveOptionMintPDA(programID, state solana.PublicKey, strike uint64) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(OptionMintSeeds(state, strike), programID)
}

func DeriveReverseMintPDA(programID, state solana.PublicKey, strike uint64) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(ReverseMintSeeds(state, strike), programID)
}

func StateSeeds(name string, baseMint solana.PublicKey) [][]byte {
	return [][]byte{[]byte(ConfigSeed), []byte(name), baseMint.Bytes()}
}

func VaultSeeds(name string, baseMint solana.PublicKey) [][]byte {
	return [][]byte{[]byte(VaultSeed), []byte(name), baseMint.Bytes()}
}

func ReverseVaultSeeds(name string, baseMint solana.PublicKey) [][]byte {
	return [][]byte{[]byte(ReverseVaultSeed), []byte(name), baseMint.Bytes()}
}

func OptionMintSeeds(state solana.PublicKey, strike uint64) [][]byte {
	return [][]byte{[]byte(MintSeed), state.Bytes(), u64BE(strike)}
}

func ReverseMintSeeds(state solana.PublicKey, strike uint64) [][]byte {
	return [][]byte{[]byte(ReverseMintSeed), state.Bytes(), u64BE(strike)}
}

// VerifyStatePDA rejects a state account that somebody created at a
// different address with forged contents.
func VerifyStatePDA(programID solana.PublicKey, name string, baseMint, got solana.PublicKey) error {
	expected, _, err := DeriveStatePDA(programID, name, baseMint)
	if err != nil {
		return fmt.Errorf("derive state address: %w", err)
	}
	if !expected.Equals(got) {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidState, expected, got)
	}
	return nil
}

func VerifyVaultPDA(programID solana.PublicKey, name string, baseMint, got solana.PublicKey) error {
	expected, _, err := DeriveVaultPDA(programID, name, baseMint)
	if err != nil {
		return fmt.Errorf("derive vault address: %w", err)
	}
	if !expected.Equals(got) {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidVault, expected, got)
	}
	return nil
}

func VerifyReverseVaultPDA(programID solana.PublicKey, name string, baseMint, got solana.PublicKey) error {
	expected, _, err := DeriveReverseVaultPDA(programID, name, baseMint)
	if err != nil {
		return fmt.Errorf("derive reverse vault address: %w", err)
	}
	if !expected.Equals(got) {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidVault, expected, got)
	}
	return nil
}

func VerifyOptionMintPDA(programID, state solana.PublicKey, strike uint64, got solana.PublicKey) error {
	expected, _, err := DeriveOptionMintPDA(programID, state, strike)
	if err != nil {
		return fmt.Errorf("derive option mint address: %w", err)
	}
	if !expected.Equals(got) {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidMint, expected, got)
	}
	return nil
}

func VerifyReverseMintPDA(programID, state solana.PublicKey, strike uint64, got solana.PublicKey) error {
	expected, _, err := DeriveReverseMintPDA(programID, state, strike)
	if err != nil {
		return fmt.Errorf("derive reverse mint address: %w", err)
	}
	if !expected.Equals(got) {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidMint, expected, got)
	}
	return nil
}

func u64BE(value uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, value)
	return buf
}
