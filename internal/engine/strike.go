package engine

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/options/backend/internal/option"
)

// InitStrikeParams registers a strike price on a series. The derived
// mint address doubles as the dedup key: a second init with the same
// strike fails on the occupied address.
type InitStrikeParams struct {
	State  solana.PublicKey
	Strike uint64
	// Authority must match the series authority even when a separate
	// payer covers rent.
	Authority Signer
	// Payer, when set, only funds account creation. Unused by the
	// in-memory substrate but kept in the interface so callers bind it.
	Payer Signer
}

func (e *Engine) InitStrike(ctx context.Context, p InitStrikeParams) (*Event, error) {
	return e.initStrike(ctx, p, false)
}

// InitStrikeWithPayer lets a third party fund the mint account while
// authority validation still checks the series authority signer.
func (e *Engine) InitStrikeWithPayer(ctx context.Context, p InitStrikeParams) (*Event, error) {
	if p.Payer.Key.IsZero() && !p.Payer.Derived() {
		return nil, fmt.Errorf("%w: payer is required", option.ErrIncorrectAuthority)
	}
	return e.initStrike(ctx, p, false)
}

// InitStrikeReversible creates the paired reverse mint as well.
func (e *Engine) InitStrikeReversible(ctx context.Context, p InitStrikeParams) (*Event, error) {
	return e.initStrike(ctx, p, true)
}

func (e *Engine) initStrike(ctx context.Context, p InitStrikeParams, reversible bool) (*Event, error) {
	now := e.clock.Now()

	var series string
	err := e.substrate.Atomic(ctx, func(tx Tx) error {
		st, err := e.loadVerifiedState(tx, p.State)
		if err != nil {
			return err
		}
		series = st.Name

		if !p.Authority.Key.Equals(st.Authority) {
			return fmt.Errorf("%w: only the series authority can init a strike",
				option.ErrIncorrectAuthority)
		}
		if uint64(now) > st.SubscriptionPeriodEnd {
			return fmt.Errorf("%w: subscription period ended at %d",
				option.ErrExpired, st.SubscriptionPeriodEnd)
		}
		if reversible && !st.Reversible {
			return option.ErrNotReversible
		}

		if err := st.AppendStrike(p.Strike); err != nil {
			return err
		}

		mintAddr, _, err := option.DeriveOptionMintPDA(e.programID, p.State, p.Strike)
		if err != nil {
			return fmt.Errorf("derive option mint address: %w", err)
		}
		// Options are denominated in whole lots, and the mint controls
		// itself: minting requires re-deriving these seeds.
		if err := tx.CreateMint(mintAddr, mintAddr, 0); err != nil {
			return err
		}

		if reversible {
			reverseAddr, _, err := option.DeriveReverseMintPDA(e.programID, p.State, p.Strike)
			if err != nil {
				return fmt.Errorf("derive reverse mint address: %w", err)
			}
			if err := tx.CreateMint(reverseAddr, reverseAddr, 0); err != nil {
				return err
			}
		}

		return tx.PutState(p.State, st)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("strike initialized",
		"series", series,
		"strike", p.Strike,
		"reversible", reversible,
	)

	return &Event{
		Kind:      "init_strike",
		Series:    series,
		State:     p.State,
		Strike:    p.Strike,
		Payer:     p.Authority.Key,
		Timestamp: now,
	}, nil
}

// NameTokenParams attaches display metadata to an option mint through
// the external registrar. No series state is mutated.
type NameTokenParams struct {
	State      solana.PublicKey
	Strike     uint64
	OptionMint solana.PublicKey
	Authority  Signer
	URI        string
}

func (e *Engine) NameToken(ctx context.Context, p NameTokenParams) (*Event, error) {
	now := e.clock.Now()

	var tokenName, series string
	err := e.substrate.Atomic(ctx, func(tx Tx) error {
		st, err := e.loadVerifiedState(tx, p.State)
		if err != nil {
			return err
		}
		series = st.Name

		if !p.Authority.Key.Equals(st.Authority) {
			return fmt.Errorf("%w: only the series authority can name a token",
				option.ErrIncorrectAuthority)
		}
		if err := option.VerifyOptionMintPDA(e.programID, p.State, p.Strike, p.OptionMint); err != nil {
			return err
		}

		tokenName = optionTokenName(st, p.Strike)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.metadata.RegisterName(ctx, p.OptionMint, tokenName, "SO", p.URI); err != nil {
		return nil, fmt.Errorf("register token name: %w", err)
	}

	e.logger.Info("token named", "series", series, "strike", p.Strike, "name", tokenName)

	return &Event{
		Kind:      "name_token",
		Series:    series,
		State:     p.State,
		Strike:    p.Strike,
		Payer:     p.Authority.Key,
		Timestamp: now,
	}, nil
}

// optionTokenName renders "SO-<series>-<strike per whole base token>",
// with the strike rescaled from quote atoms per lot to quote tokens per
// base token.
func optionTokenName(st *option.State, strike uint64) string {
	strikeQuoteTokensPerLot := float64(strike) / pow10(st.QuoteDecimals)
	strikePerToken := strikeQuoteTokensPerLot / float64(st.LotSize) * pow10(st.BaseDecimals)
	return fmt.Sprintf("SO-%.18s-%.2e", st.Name, strikePerToken)
}

func pow10(decimals uint8) float64 {
	out := 1.0
	for i := uint8(0); i < decimals; i++ {
		out *= 10
	}
	return out
}
