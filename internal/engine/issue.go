package engine

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/options/backend/internal/option"
)

// IssueParams mints options against available backing. Amount is base
// atoms; it must be an exact multiple of the lot size.
type IssueParams struct {
	State  solana.PublicKey
	Strike uint64
	Amount uint64
	// OptionMint must sit at the derived (state, strike) address.
	OptionMint solana.PublicKey
	// Destination receives the minted option tokens.
	Destination solana.PublicKey
	Authority   Signer
}

func (e *Engine) Issue(ctx context.Context, p IssueParams) (*Event, error) {
	now := e.clock.Now()

	var series string
	var lots uint64
	err := e.substrate.Atomic(ctx, func(tx Tx) error {
		st, err := e.loadVerifiedState(tx, p.State)
		if err != nil {
			return err
		}
		series = st.Name

		if !st.CanIssue(p.Authority.Key) {
			return fmt.Errorf("%w: signer may not issue for this series",
				option.ErrIncorrectAuthority)
		}
		if uint64(now) > st.SubscriptionPeriodEnd {
			return fmt.Errorf("%w: subscription period ended at %d",
				option.ErrExpired, st.SubscriptionPeriodEnd)
		}
		if st.OptionsAvailable < p.Amount {
			return fmt.Errorf("%w: %d atoms available, %d requested",
				option.ErrNotEnoughTokens, st.OptionsAvailable, p.Amount)
		}

		mintAddr, mintBump, err := option.DeriveOptionMintPDA(e.programID, p.State, p.Strike)
		if err != nil {
			return fmt.Errorf("derive option mint address: %w", err)
		}
		if !mintAddr.Equals(p.OptionMint) {
			return fmt.Errorf("%w: expected %s, got %s",
				option.ErrInvalidMint, mintAddr, p.OptionMint)
		}

		lots, err = option.ExactDiv(p.Amount, st.LotSize)
		if err != nil {
			return err
		}

		mintSigner := DerivedSigner(option.OptionMintSeeds(p.State, p.Strike), mintBump)
		if err := tx.MintTo(p.OptionMint, p.Destination, lots, mintSigner); err != nil {
			return err
		}

		st.OptionsAvailable, err = option.CheckedSub(st.OptionsAvailable, p.Amount)
		if err != nil {
			return err
		}
		return tx.PutState(p.State, st)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("options issued",
		"series", series,
		"strike", p.Strike,
		"atoms", p.Amount,
		"lots", lots,
	)

	return &Event{
		Kind:      "issue",
		Series:    series,
		State:     p.State,
		Strike:    p.Strike,
		Amount:    p.Amount,
		Payer:     p.Authority.Key,
		Timestamp: now,
	}, nil
}
