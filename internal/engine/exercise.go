package engine

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/options/backend/internal/option"
)

// ExerciseParams converts option tokens into base tokens against a
// quote payment. Amount is in lots.
type ExerciseParams struct {
	State  solana.PublicKey
	Strike uint64
	Amount uint64

	OptionMint        solana.PublicKey
	HolderOptions     solana.PublicKey // option tokens burned from here
	HolderQuote       solana.PublicKey // payment drawn from here
	ProjectQuote      solana.PublicKey // must equal the stored quote account
	FeeQuote          solana.PublicKey // must be owned by the fee recipient
	BaseVault         solana.PublicKey
	HolderBase        solana.PublicKey // base tokens delivered here
	Holder            Signer
}

func (e *Engine) Exercise(ctx context.Context, p ExerciseParams) (*Event, error) {
	now := e.clock.Now()

	var series string
	var payment, fee uint64
	err := e.substrate.Atomic(ctx, func(tx Tx) error {
		st, err := e.loadVerifiedState(tx, p.State)
		if err != nil {
			return err
		}
		series = st.Name

		if err := e.validateExercise(tx, st, p, now); err != nil {
			return err
		}
		if !st.QuoteAccount.Equals(p.ProjectQuote) {
			return fmt.Errorf("%w: project quote account mismatch",
				option.ErrIncorrectFeeAccount)
		}

		feeAccount, err := tx.TokenAccount(p.FeeQuote)
		if err != nil {
			return fmt.Errorf("fee account: %w", err)
		}
		if !feeAccount.Authority.Equals(e.fees.Recipient()) {
			return fmt.Errorf("%w: fee account not owned by fee recipient",
				option.ErrIncorrectFeeAccount)
		}
		if !feeAccount.Mint.Equals(st.QuoteMint) {
			return fmt.Errorf("%w: fee account mint mismatch", option.ErrWrongMint)
		}

		payment, err = option.CheckedMul(p.Amount, p.Strike)
		if err != nil {
			return err
		}
		baseDelivery, err := option.CheckedMul(p.Amount, st.LotSize)
		if err != nil {
			return err
		}

		if err := tx.Burn(p.OptionMint, p.HolderOptions, p.Amount, p.Holder); err != nil {
			return err
		}

		net := payment
		if !e.fees.IsFeeExempt(p.Holder.Key) {
			bps := e.fees.Bps(st.Schedule, st.BaseMint, st.QuoteMint)
			fee, net, err = option.SplitFee(payment, bps)
			if err != nil {
				return err
			}
			if fee > 0 {
				if err := tx.Transfer(p.HolderQuote, p.FeeQuote, fee, p.Holder); err != nil {
					return err
				}
			}
		}
		if err := tx.Transfer(p.HolderQuote, p.ProjectQuote, net, p.Holder); err != nil {
			return err
		}

		return tx.Transfer(p.BaseVault, p.HolderBase, baseDelivery, e.vaultSigner(st))
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("options exercised",
		"series", series,
		"strike", p.Strike,
		"lots", p.Amount,
		"payment", payment,
		"fee", fee,
	)

	return &Event{
		Kind:      "exercise",
		Series:    series,
		State:     p.State,
		Strike:    p.Strike,
		Amount:    p.Amount,
		Payment:   payment,
		Fee:       fee,
		Payer:     p.Holder.Key,
		Timestamp: now,
	}, nil
}

// ReversibleParams covers the escrowed exercise pair. ReverseMint and
// HolderReverse track the right to undo before expiration.
type ReversibleParams struct {
	State  solana.PublicKey
	Strike uint64
	Amount uint64

	OptionMint    solana.PublicKey
	ReverseMint   solana.PublicKey
	HolderOptions solana.PublicKey
	HolderReverse solana.PublicKey
	HolderQuote   solana.PublicKey
	QuoteVault    solana.PublicKey
	BaseVault     solana.PublicKey
	HolderBase    solana.PublicKey
	Holder        Signer
}

// ExerciseReversible escrows the payment in the series quote vault and
// mints reverse tokens instead of paying the project. No fee is taken
// here; settlement happens in WithdrawAll.
func (e *Engine) ExerciseReversible(ctx context.Context, p ReversibleParams) (*Event, error) {
	now := e.clock.Now()

	var series string
	var payment uint64
	err := e.substrate.Atomic(ctx, func(tx Tx) error {
		st, err := e.loadVerifiedState(tx, p.State)
		if err != nil {
			return err
		}
		series = st.Name

		if !st.Reversible {
			return option.ErrNotReversible
		}
		if err := e.validateExercise(tx, st, ExerciseParams{
			State:      p.State,
			Strike:     p.Strike,
			OptionMint: p.OptionMint,
			BaseVault:  p.BaseVault,
		}, now); err != nil {
			return err
		}
		reverseBump, err := e.verifyReverseMint(p.State, p.Strike, p.ReverseMint)
		if err != nil {
			return err
		}
		if err := option.VerifyReverseVaultPDA(e.programID, st.Name, st.BaseMint, p.QuoteVault); err != nil {
			return err
		}

		payment, err = option.CheckedMul(p.Amount, p.Strike)
		if err != nil {
			return err
		}
		baseDelivery, err := option.CheckedMul(p.Amount, st.LotSize)
		if err != nil {
			return err
		}

		if err := tx.Burn(p.OptionMint, p.HolderOptions, p.Amount, p.Holder); err != nil {
			return err
		}
		if err := tx.Transfer(p.HolderQuote, p.QuoteVault, payment, p.Holder); err != nil {
			return err
		}

		reverseSigner := DerivedSigner(option.ReverseMintSeeds(p.State, p.Strike), reverseBump)
		if err := tx.MintTo(p.ReverseMint, p.HolderReverse, p.Amount, reverseSigner); err != nil {
			return err
		}

		return tx.Transfer(p.BaseVault, p.HolderBase, baseDelivery, e.vaultSigner(st))
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("options exercised reversibly",
		"series", series,
		"strike", p.Strike,
		"lots", p.Amount,
		"escrowed", payment,
	)

	return &Event{
		Kind:      "exercise_reversible",
		Series:    series,
		State:     p.State,
		Strike:    p.Strike,
		Amount:    p.Amount,
		Payment:   payment,
		Payer:     p.Holder.Key,
		Timestamp: now,
	}, nil
}

// ReverseExercise undoes a reversible exercise before expiration:
// reverse tokens burn, option tokens come back, the escrowed payment is
// refunded and the delivered base returns to the vault.
func (e *Engine) ReverseExercise(ctx context.Context, p ReversibleParams) (*Event, error) {
	now := e.clock.Now()

	var series string
	var payment uint64
	err := e.substrate.Atomic(ctx, func(tx Tx) error {
		st, err := e.loadVerifiedState(tx, p.State)
		if err != nil {
			return err
		}
		series = st.Name

		if !st.Reversible {
			return option.ErrNotReversible
		}
		mintBump, err := e.verifyOptionMint(p.State, p.Strike, p.OptionMint)
		if err != nil {
			return err
		}
		if _, err := e.verifyReverseMint(p.State, p.Strike, p.ReverseMint); err != nil {
			return err
		}
		if err := option.VerifyVaultPDA(e.programID, st.Name, st.BaseMint, p.BaseVault); err != nil {
			return err
		}
		if err := option.VerifyReverseVaultPDA(e.programID, st.Name, st.BaseMint, p.QuoteVault); err != nil {
			return err
		}
		if uint64(now) > st.OptionExpiration {
			return fmt.Errorf("%w: options expired at %d",
				option.ErrExpired, st.OptionExpiration)
		}

		payment, err = option.CheckedMul(p.Amount, p.Strike)
		if err != nil {
			return err
		}
		baseReturn, err := option.CheckedMul(p.Amount, st.LotSize)
		if err != nil {
			return err
		}

		if err := tx.Burn(p.ReverseMint, p.HolderReverse, p.Amount, p.Holder); err != nil {
			return err
		}

		mintSigner := DerivedSigner(option.OptionMintSeeds(p.State, p.Strike), mintBump)
		if err := tx.MintTo(p.OptionMint, p.HolderOptions, p.Amount, mintSigner); err != nil {
			return err
		}

		if err := tx.Transfer(p.QuoteVault, p.HolderQuote, payment, e.quoteVaultSigner(st)); err != nil {
			return err
		}
		return tx.Transfer(p.HolderBase, p.BaseVault, baseReturn, p.Holder)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("exercise reversed",
		"series", series,
		"strike", p.Strike,
		"lots", p.Amount,
		"refunded", payment,
	)

	return &Event{
		Kind:      "reverse_exercise",
		Series:    series,
		State:     p.State,
		Strike:    p.Strike,
		Amount:    p.Amount,
		Payment:   payment,
		Payer:     p.Holder.Key,
		Timestamp: now,
	}, nil
}

// validateExercise runs the address and expiration checks shared by
// the exercise family. Every account the operation will move tokens
// through is proven to sit at its canonical derived address first.
func (e *Engine) validateExercise(tx Tx, st *option.State, p ExerciseParams, now int64) error {
	if _, err := e.verifyOptionMint(p.State, p.Strike, p.OptionMint); err != nil {
		return err
	}
	if err := option.VerifyVaultPDA(e.programID, st.Name, st.BaseMint, p.BaseVault); err != nil {
		return err
	}
	if uint64(now) > st.OptionExpiration {
		return fmt.Errorf("%w: options expired at %d", option.ErrExpired, st.OptionExpiration)
	}
	return nil
}

func (e *Engine) verifyOptionMint(state solana.PublicKey, strike uint64, got solana.PublicKey) (uint8, error) {
	expected, bump, err := option.DeriveOptionMintPDA(e.programID, state, strike)
	if err != nil {
		return 0, fmt.Errorf("derive option mint address: %w", err)
	}
	if !expected.Equals(got) {
		return 0, fmt.Errorf("%w: expected %s, got %s", option.ErrInvalidMint, expected, got)
	}
	return bump, nil
}

func (e *Engine) verifyReverseMint(state solana.PublicKey, strike uint64, got solana.PublicKey) (uint8, error) {
	expected, bump, err := option.DeriveReverseMintPDA(e.programID, state, strike)
	if err != nil {
		return 0, fmt.Errorf("derive reverse mint address: %w", err)
	}
	if !expected.Equals(got) {
		return 0, fmt.Errorf("%w: expected %s, got %s", option.ErrInvalidMint, expected, got)
	}
	return bump, nil
}
