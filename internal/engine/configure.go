package engine

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/options/backend/internal/option"
)

// ConfigureParams carries everything needed to open a new series.
type ConfigureParams struct {
	Name                  string
	OptionExpiration      uint64
	SubscriptionPeriodEnd uint64
	NumTokens             uint64
	LotSize               uint64

	// Authority will be required for init strike, rollover, withdraw.
	Authority solana.PublicKey
	// IssueAuthority optionally allows a second identity to issue.
	IssueAuthority solana.PublicKey

	BaseMint  solana.PublicKey
	QuoteMint solana.PublicKey
	// Source holds the initial backing; its owner signs the deposit.
	Source solana.PublicKey
	// QuoteAccount receives exercise payments for the project.
	QuoteAccount solana.PublicKey

	Payer Signer

	Schedule option.FeeSchedule
}

// Configure opens a series without an issue authority.
func (e *Engine) Configure(ctx context.Context, p ConfigureParams) (*Event, error) {
	p.IssueAuthority = solana.PublicKey{}
	return e.configure(ctx, p, false)
}

// ConfigureV2 additionally records an optional issue authority.
func (e *Engine) ConfigureV2(ctx context.Context, p ConfigureParams) (*Event, error) {
	return e.configure(ctx, p, false)
}

// ConfigureV3 also creates the quote escrow vault used by reversible
// exercises.
func (e *Engine) ConfigureV3(ctx context.Context, p ConfigureParams) (*Event, error) {
	return e.configure(ctx, p, true)
}

func (e *Engine) configure(ctx context.Context, p ConfigureParams, reversible bool) (*Event, error) {
	if err := option.ValidateName(p.Name); err != nil {
		return nil, err
	}
	if p.SubscriptionPeriodEnd > p.OptionExpiration {
		return nil, fmt.Errorf("%w: subscription end %d after expiration %d",
			option.ErrInvalidExpiration, p.SubscriptionPeriodEnd, p.OptionExpiration)
	}
	if p.LotSize == 0 {
		return nil, fmt.Errorf("%w: lot size must be positive", option.ErrArithmetic)
	}

	now := e.clock.Now()
	if uint64(now) >= p.OptionExpiration || uint64(now) >= p.SubscriptionPeriodEnd {
		return nil, fmt.Errorf("%w: timestamps must be in the future", option.ErrExpired)
	}

	stateAddr, stateBump, err := option.DeriveStatePDA(e.programID, p.Name, p.BaseMint)
	if err != nil {
		return nil, fmt.Errorf("derive state address: %w", err)
	}
	vaultAddr, vaultBump, err := option.DeriveVaultPDA(e.programID, p.Name, p.BaseMint)
	if err != nil {
		return nil, fmt.Errorf("derive vault address: %w", err)
	}

	var quoteVaultAddr solana.PublicKey
	var quoteVaultBump uint8
	if reversible {
		quoteVaultAddr, quoteVaultBump, err = option.DeriveReverseVaultPDA(e.programID, p.Name, p.BaseMint)
		if err != nil {
			return nil, fmt.Errorf("derive reverse vault address: %w", err)
		}
	}

	err = e.substrate.Atomic(ctx, func(tx Tx) error {
		baseMint, err := tx.Mint(p.BaseMint)
		if err != nil {
			return fmt.Errorf("base mint: %w", err)
		}
		quoteMint, err := tx.Mint(p.QuoteMint)
		if err != nil {
			return fmt.Errorf("quote mint: %w", err)
		}

		source, err := tx.TokenAccount(p.Source)
		if err != nil {
			return fmt.Errorf("source account: %w", err)
		}
		if !source.Mint.Equals(p.BaseMint) {
			return fmt.Errorf("%w: source holds %s, series base is %s",
				option.ErrWrongMint, source.Mint, p.BaseMint)
		}
		quoteAccount, err := tx.TokenAccount(p.QuoteAccount)
		if err != nil {
			return fmt.Errorf("quote account: %w", err)
		}
		if !quoteAccount.Mint.Equals(p.QuoteMint) {
			return fmt.Errorf("%w: quote account holds %s, series quote is %s",
				option.ErrWrongMint, quoteAccount.Mint, p.QuoteMint)
		}

		st := &option.State{
			Name:                  p.Name,
			Authority:             p.Authority,
			IssueAuthority:        p.IssueAuthority,
			OptionsAvailable:      p.NumTokens,
			OptionExpiration:      p.OptionExpiration,
			SubscriptionPeriodEnd: p.SubscriptionPeriodEnd,
			BaseDecimals:          baseMint.Decimals,
			QuoteDecimals:         quoteMint.Decimals,
			BaseMint:              p.BaseMint,
			QuoteMint:             p.QuoteMint,
			QuoteAccount:          p.QuoteAccount,
			LotSize:               p.LotSize,
			StateBump:             stateBump,
			VaultBump:             vaultBump,
			QuoteVaultBump:        quoteVaultBump,
			Schedule:              p.Schedule,
			Reversible:            reversible,
		}
		if err := tx.InsertState(stateAddr, st); err != nil {
			return err
		}

		// The vault owns itself: transfers out require re-deriving the
		// same seeds inside this program.
		if err := tx.CreateTokenAccount(vaultAddr, p.BaseMint, vaultAddr); err != nil {
			return err
		}
		if reversible {
			if err := tx.CreateTokenAccount(quoteVaultAddr, p.QuoteMint, quoteVaultAddr); err != nil {
				return err
			}
		}

		return tx.Transfer(p.Source, vaultAddr, p.NumTokens, p.Payer)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("series configured",
		"series", p.Name,
		"state", stateAddr,
		"backing", p.NumTokens,
		"lot_size", p.LotSize,
		"reversible", reversible,
		"schedule", p.Schedule.String(),
	)

	return &Event{
		Kind:      "configure",
		Series:    p.Name,
		State:     stateAddr,
		Amount:    p.NumTokens,
		Payer:     p.Payer.Key,
		Timestamp: now,
	}, nil
}

// AddTokensParams adds backing to a series still in its subscription
// period.
type AddTokensParams struct {
	State  solana.PublicKey
	Source solana.PublicKey
	Amount uint64
	Payer  Signer
}

func (e *Engine) AddTokens(ctx context.Context, p AddTokensParams) (*Event, error) {
	now := e.clock.Now()

	var series string
	err := e.substrate.Atomic(ctx, func(tx Tx) error {
		st, err := e.loadVerifiedState(tx, p.State)
		if err != nil {
			return err
		}
		series = st.Name

		if !st.CanIssue(p.Payer.Key) {
			return fmt.Errorf("%w: signer may not add backing to this series",
				option.ErrIncorrectAuthority)
		}
		if uint64(now) > st.SubscriptionPeriodEnd {
			return fmt.Errorf("%w: subscription period ended at %d",
				option.ErrExpired, st.SubscriptionPeriodEnd)
		}

		source, err := tx.TokenAccount(p.Source)
		if err != nil {
			return fmt.Errorf("source account: %w", err)
		}
		if !source.Mint.Equals(st.BaseMint) {
			return fmt.Errorf("%w: source holds %s, series base is %s",
				option.ErrWrongMint, source.Mint, st.BaseMint)
		}

		vaultAddr, _, err := option.DeriveVaultPDA(e.programID, st.Name, st.BaseMint)
		if err != nil {
			return fmt.Errorf("derive vault address: %w", err)
		}

		st.OptionsAvailable, err = option.CheckedAdd(st.OptionsAvailable, p.Amount)
		if err != nil {
			return err
		}
		if err := tx.Transfer(p.Source, vaultAddr, p.Amount, p.Payer); err != nil {
			return err
		}
		return tx.PutState(p.State, st)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("tokens added", "series", series, "amount", p.Amount)

	return &Event{
		Kind:      "add_tokens",
		Series:    series,
		State:     p.State,
		Amount:    p.Amount,
		Payer:     p.Payer.Key,
		Timestamp: now,
	}, nil
}
