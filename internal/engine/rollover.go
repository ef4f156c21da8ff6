package engine

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/options/backend/internal/option"
)

// RolloverParams moves unused backing from an expired subscription into
// a fresh series for the same project and base token.
type RolloverParams struct {
	OldState  solana.PublicKey
	NewState  solana.PublicKey
	OldVault  solana.PublicKey
	NewVault  solana.PublicKey
	Authority Signer
}

func (e *Engine) Rollover(ctx context.Context, p RolloverParams) (*Event, error) {
	now := e.clock.Now()

	var oldSeries, newSeries string
	var moved uint64
	err := e.substrate.Atomic(ctx, func(tx Tx) error {
		oldSt, err := e.loadVerifiedState(tx, p.OldState)
		if err != nil {
			return err
		}
		newSt, err := e.loadVerifiedState(tx, p.NewState)
		if err != nil {
			return err
		}
		oldSeries, newSeries = oldSt.Name, newSt.Name

		if !newSt.Authority.Equals(oldSt.Authority) {
			return fmt.Errorf("%w: authorities differ", option.ErrInvalidState)
		}
		if !newSt.BaseMint.Equals(oldSt.BaseMint) {
			return fmt.Errorf("%w: base mints differ", option.ErrInvalidState)
		}
		if !p.Authority.Key.Equals(oldSt.Authority) {
			return fmt.Errorf("%w: only the series authority can roll over",
				option.ErrIncorrectAuthority)
		}

		// The old window must be over and the new one still open.
		if uint64(now) <= oldSt.SubscriptionPeriodEnd {
			return fmt.Errorf("%w: old subscription period still open",
				option.ErrNotYetExpired)
		}
		if uint64(now) > newSt.SubscriptionPeriodEnd {
			return fmt.Errorf("%w: new subscription period ended at %d",
				option.ErrExpired, newSt.SubscriptionPeriodEnd)
		}

		if err := option.VerifyVaultPDA(e.programID, oldSt.Name, oldSt.BaseMint, p.OldVault); err != nil {
			return err
		}
		if err := option.VerifyVaultPDA(e.programID, newSt.Name, newSt.BaseMint, p.NewVault); err != nil {
			return err
		}

		moved = oldSt.OptionsAvailable
		newSt.OptionsAvailable, err = option.CheckedAdd(newSt.OptionsAvailable, moved)
		if err != nil {
			return err
		}
		oldSt.OptionsAvailable = 0

		// Only the unallocated backing moves; atoms covering issued
		// options stay exercisable in the old vault until expiration.
		if err := tx.Transfer(p.OldVault, p.NewVault, moved, e.vaultSigner(oldSt)); err != nil {
			return err
		}

		if err := tx.PutState(p.OldState, oldSt); err != nil {
			return err
		}
		return tx.PutState(p.NewState, newSt)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("series rolled over",
		"from", oldSeries,
		"to", newSeries,
		"atoms", moved,
	)

	return &Event{
		Kind:      "rollover",
		Series:    oldSeries,
		State:     p.OldState,
		Amount:    moved,
		Payer:     p.Authority.Key,
		Timestamp: now,
	}, nil
}
