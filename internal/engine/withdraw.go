package engine

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/options/backend/internal/option"
)

// WithdrawParams returns backing to the project. Before option
// expiration only the unallocated portion leaves; after it the whole
// vault is swept and the series record is closed.
type WithdrawParams struct {
	State       solana.PublicKey
	BaseVault   solana.PublicKey
	Destination solana.PublicKey
	Authority   Signer
}

func (e *Engine) Withdraw(ctx context.Context, p WithdrawParams) (*Event, error) {
	now := e.clock.Now()

	var series string
	var amount uint64
	var closed bool
	err := e.substrate.Atomic(ctx, func(tx Tx) error {
		st, err := e.loadVerifiedState(tx, p.State)
		if err != nil {
			return err
		}
		series = st.Name

		if err := e.validateWithdraw(st, p.Authority, now); err != nil {
			return err
		}
		if err := option.VerifyVaultPDA(e.programID, st.Name, st.BaseMint, p.BaseVault); err != nil {
			return err
		}

		vault, err := tx.TokenAccount(p.BaseVault)
		if err != nil {
			return fmt.Errorf("base vault: %w", err)
		}

		if uint64(now) > st.OptionExpiration {
			amount = vault.Amount
			if err := tx.Transfer(p.BaseVault, p.Destination, amount, e.vaultSigner(st)); err != nil {
				return err
			}
			closed = true
			return tx.CloseState(p.State)
		}

		// Options may still be outstanding; only unallocated backing
		// leaves and the series stays open.
		amount = st.OptionsAvailable
		if err := tx.Transfer(p.BaseVault, p.Destination, amount, e.vaultSigner(st)); err != nil {
			return err
		}
		st.OptionsAvailable = 0
		return tx.PutState(p.State, st)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("withdrawn", "series", series, "atoms", amount, "closed", closed)

	return &Event{
		Kind:      "withdraw",
		Series:    series,
		State:     p.State,
		Amount:    amount,
		Payer:     p.Authority.Key,
		Timestamp: now,
	}, nil
}

// WithdrawAllParams additionally settles the quote escrow of a
// reversible series, split between project and fee recipient.
type WithdrawAllParams struct {
	State            solana.PublicKey
	BaseVault        solana.PublicKey
	BaseDestination  solana.PublicKey
	QuoteVault       solana.PublicKey
	QuoteDestination solana.PublicKey
	FeeQuote         solana.PublicKey
	Authority        Signer
}

func (e *Engine) WithdrawAll(ctx context.Context, p WithdrawAllParams) (*Event, error) {
	now := e.clock.Now()

	var series string
	var amount, settled, fee uint64
	var closed bool
	err := e.substrate.Atomic(ctx, func(tx Tx) error {
		st, err := e.loadVerifiedState(tx, p.State)
		if err != nil {
			return err
		}
		series = st.Name

		if !st.Reversible {
			return option.ErrNotReversible
		}
		if err := e.validateWithdraw(st, p.Authority, now); err != nil {
			return err
		}
		if err := option.VerifyVaultPDA(e.programID, st.Name, st.BaseMint, p.BaseVault); err != nil {
			return err
		}
		if err := option.VerifyReverseVaultPDA(e.programID, st.Name, st.BaseMint, p.QuoteVault); err != nil {
			return err
		}

		baseVault, err := tx.TokenAccount(p.BaseVault)
		if err != nil {
			return fmt.Errorf("base vault: %w", err)
		}

		if uint64(now) <= st.OptionExpiration {
			// Quote escrow stays put: reverse options can still claim
			// refunds from it.
			amount = st.OptionsAvailable
			if err := tx.Transfer(p.BaseVault, p.BaseDestination, amount, e.vaultSigner(st)); err != nil {
				return err
			}
			st.OptionsAvailable = 0
			return tx.PutState(p.State, st)
		}

		amount = baseVault.Amount
		if err := tx.Transfer(p.BaseVault, p.BaseDestination, amount, e.vaultSigner(st)); err != nil {
			return err
		}

		quoteVault, err := tx.TokenAccount(p.QuoteVault)
		if err != nil {
			return fmt.Errorf("quote vault: %w", err)
		}
		settled = quoteVault.Amount

		feeAccount, err := tx.TokenAccount(p.FeeQuote)
		if err != nil {
			return fmt.Errorf("fee account: %w", err)
		}
		if !feeAccount.Authority.Equals(e.fees.Recipient()) {
			return fmt.Errorf("%w: fee account not owned by fee recipient",
				option.ErrIncorrectFeeAccount)
		}

		net := settled
		if !e.fees.IsFeeExempt(p.Authority.Key) {
			bps := e.fees.Bps(st.Schedule, st.BaseMint, st.QuoteMint)
			fee, net, err = option.SplitFee(settled, bps)
			if err != nil {
				return err
			}
		}
		if err := tx.Transfer(p.QuoteVault, p.QuoteDestination, net, e.quoteVaultSigner(st)); err != nil {
			return err
		}
		if fee > 0 {
			if err := tx.Transfer(p.QuoteVault, p.FeeQuote, fee, e.quoteVaultSigner(st)); err != nil {
				return err
			}
		}

		closed = true
		return tx.CloseState(p.State)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("withdrawn all",
		"series", series,
		"base_atoms", amount,
		"quote_settled", settled,
		"fee", fee,
		"closed", closed,
	)

	return &Event{
		Kind:      "withdraw_all",
		Series:    series,
		State:     p.State,
		Amount:    amount,
		Payment:   settled,
		Fee:       fee,
		Payer:     p.Authority.Key,
		Timestamp: now,
	}, nil
}

func (e *Engine) validateWithdraw(st *option.State, authority Signer, now int64) error {
	if !authority.Key.Equals(st.Authority) {
		return fmt.Errorf("%w: only the series authority can withdraw",
			option.ErrIncorrectAuthority)
	}
	if uint64(now) <= st.SubscriptionPeriodEnd {
		return fmt.Errorf("%w: subscription period open until %d",
			option.ErrNotYetExpired, st.SubscriptionPeriodEnd)
	}
	return nil
}

// ModifyExpirationParams accelerates an expiration. Allowed only while
// the authority holds every outstanding option of the single strike, so
// nobody else's exercise window shrinks.
type ModifyExpirationParams struct {
	State         solana.PublicKey
	NewExpiration uint64
	OptionMint    solana.PublicKey
	HolderOptions solana.PublicKey
	Authority     Signer
}

func (e *Engine) ModifyExpiration(ctx context.Context, p ModifyExpirationParams) (*Event, error) {
	now := e.clock.Now()

	var series string
	err := e.substrate.Atomic(ctx, func(tx Tx) error {
		st, err := e.loadVerifiedState(tx, p.State)
		if err != nil {
			return err
		}
		series = st.Name

		if !p.Authority.Key.Equals(st.Authority) {
			return fmt.Errorf("%w: only the series authority can modify expiration",
				option.ErrIncorrectAuthority)
		}
		if p.NewExpiration > st.OptionExpiration {
			return fmt.Errorf("%w: expiration can only be accelerated",
				option.ErrInvalidExpiration)
		}
		if len(st.Strikes) != 1 {
			return fmt.Errorf("%w: requires exactly one strike", option.ErrInvalidState)
		}
		if _, err := e.verifyOptionMint(p.State, st.Strikes[0], p.OptionMint); err != nil {
			return err
		}

		mint, err := tx.Mint(p.OptionMint)
		if err != nil {
			return fmt.Errorf("option mint: %w", err)
		}
		holder, err := tx.TokenAccount(p.HolderOptions)
		if err != nil {
			return fmt.Errorf("holder account: %w", err)
		}
		if !holder.Authority.Equals(p.Authority.Key) || holder.Amount != mint.Supply {
			return fmt.Errorf("%w: authority must hold the entire outstanding supply",
				option.ErrIncorrectAuthority)
		}

		st.OptionExpiration = p.NewExpiration
		if st.SubscriptionPeriodEnd > p.NewExpiration {
			st.SubscriptionPeriodEnd = p.NewExpiration
		}
		return tx.PutState(p.State, st)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("expiration modified", "series", series, "expiration", p.NewExpiration)

	return &Event{
		Kind:      "modify_expiration",
		Series:    series,
		State:     p.State,
		Amount:    p.NewExpiration,
		Payer:     p.Authority.Key,
		Timestamp: now,
	}, nil
}
