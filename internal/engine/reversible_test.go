package engine_test

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/options/backend/internal/engine"
	"github.com/coldbell/options/backend/internal/option"
)

// openReversibleStrike configures a reversible series and returns the
// holder's option and reverse token accounts.
func (f *fixture) openReversibleStrike() (holderOptions, holderReverse solana.PublicKey) {
	f.t.Helper()

	_, err := f.eng.ConfigureV3(f.ctx, f.configureParams())
	require.NoError(f.t, err)

	_, err = f.eng.InitStrikeReversible(f.ctx, engine.InitStrikeParams{
		State:     f.stateAddr(),
		Strike:    strike,
		Authority: engine.UserSigner(f.authority),
	})
	require.NoError(f.t, err)

	holderOptions = solana.NewWallet().PublicKey()
	holderReverse = solana.NewWallet().PublicKey()
	require.NoError(f.t, f.led.CreateTokenAccount(holderOptions, f.optionMintAddr(strike), f.holder))
	require.NoError(f.t, f.led.CreateTokenAccount(holderReverse, f.reverseMintAddr(strike), f.holder))
	return holderOptions, holderReverse
}

func (f *fixture) reversibleParams(holderOptions, holderReverse solana.PublicKey, lots uint64) engine.ReversibleParams {
	return engine.ReversibleParams{
		State:         f.stateAddr(),
		Strike:        strike,
		Amount:        lots,
		OptionMint:    f.optionMintAddr(strike),
		ReverseMint:   f.reverseMintAddr(strike),
		HolderOptions: holderOptions,
		HolderReverse: holderReverse,
		HolderQuote:   f.holderQuote,
		QuoteVault:    f.quoteVaultAddr(),
		BaseVault:     f.vaultAddr(),
		HolderBase:    f.holderBase,
		Holder:        engine.UserSigner(f.holder),
	}
}

func TestReversibleExerciseEscrowsPayment(t *testing.T) {
	f := newFixture(t)
	holderOptions, holderReverse := f.openReversibleStrike()
	f.issueLots(holderOptions, 1)

	event, err := f.eng.ExerciseReversible(f.ctx, f.reversibleParams(holderOptions, holderReverse, 1))
	require.NoError(t, err)
	assert.Equal(t, "exercise_reversible", event.Kind)
	assert.Equal(t, uint64(500_000_000), event.Payment)

	// Payment sits in escrow; the project and fee recipient get
	// nothing until settlement.
	assert.Equal(t, uint64(500_000_000), f.balance(f.quoteVaultAddr()))
	assert.Equal(t, uint64(0), f.balance(f.projectQuote))
	assert.Equal(t, uint64(0), f.balance(f.feeQuote))

	assert.Equal(t, uint64(0), f.balance(holderOptions))
	assert.Equal(t, uint64(1), f.balance(holderReverse))
	assert.Equal(t, lotSize, f.balance(f.holderBase))
}

func TestReverseExerciseRestoresExactly(t *testing.T) {
	f := newFixture(t)
	holderOptions, holderReverse := f.openReversibleStrike()
	f.issueLots(holderOptions, 1)

	holderQuoteBefore := f.balance(f.holderQuote)
	vaultBefore := f.balance(f.vaultAddr())

	params := f.reversibleParams(holderOptions, holderReverse, 1)
	_, err := f.eng.ExerciseReversible(f.ctx, params)
	require.NoError(t, err)

	event, err := f.eng.ReverseExercise(f.ctx, params)
	require.NoError(t, err)
	assert.Equal(t, "reverse_exercise", event.Kind)
	assert.Equal(t, uint64(500_000_000), event.Payment)

	// Round trip leaves every balance where it started.
	assert.Equal(t, holderQuoteBefore, f.balance(f.holderQuote))
	assert.Equal(t, vaultBefore, f.balance(f.vaultAddr()))
	assert.Equal(t, uint64(0), f.balance(f.quoteVaultAddr()))
	assert.Equal(t, uint64(0), f.balance(f.holderBase))
	assert.Equal(t, uint64(1), f.balance(holderOptions))
	assert.Equal(t, uint64(0), f.balance(holderReverse))

	// The restored options remain exercisable the ordinary way.
	_, err = f.eng.Exercise(f.ctx, f.exerciseParams(holderOptions, 1))
	require.NoError(t, err)
}

func TestReverseExerciseAfterExpiration(t *testing.T) {
	f := newFixture(t)
	holderOptions, holderReverse := f.openReversibleStrike()
	f.issueLots(holderOptions, 1)

	params := f.reversibleParams(holderOptions, holderReverse, 1)
	_, err := f.eng.ExerciseReversible(f.ctx, params)
	require.NoError(t, err)

	f.clock.now = int64(optionExpiration) + 1
	_, err = f.eng.ReverseExercise(f.ctx, params)
	assert.ErrorIs(t, err, option.ErrExpired)
}

func TestReversibleOpsRejectPlainSeries(t *testing.T) {
	f := newFixture(t)
	holderOptions, holderReverse := f.openStrike(), solana.NewWallet().PublicKey()
	f.issueLots(holderOptions, 1)

	_, err := f.eng.ExerciseReversible(f.ctx, f.reversibleParams(holderOptions, holderReverse, 1))
	assert.ErrorIs(t, err, option.ErrNotReversible)

	f.clock.now = int64(optionExpiration) + 1
	_, err = f.eng.WithdrawAll(f.ctx, engine.WithdrawAllParams{
		State:            f.stateAddr(),
		BaseVault:        f.vaultAddr(),
		BaseDestination:  f.projectBase,
		QuoteVault:       f.quoteVaultAddr(),
		QuoteDestination: f.projectQuote,
		FeeQuote:         f.feeQuote,
		Authority:        engine.UserSigner(f.authority),
	})
	assert.ErrorIs(t, err, option.ErrNotReversible)
}

func TestWithdrawAllSettlesEscrow(t *testing.T) {
	f := newFixture(t)
	holderOptions, holderReverse := f.openReversibleStrike()
	f.issueLots(holderOptions, 1)

	_, err := f.eng.ExerciseReversible(f.ctx, f.reversibleParams(holderOptions, holderReverse, 1))
	require.NoError(t, err)

	f.clock.now = int64(optionExpiration) + 1
	event, err := f.eng.WithdrawAll(f.ctx, engine.WithdrawAllParams{
		State:            f.stateAddr(),
		BaseVault:        f.vaultAddr(),
		BaseDestination:  f.projectBase,
		QuoteVault:       f.quoteVaultAddr(),
		QuoteDestination: f.projectQuote,
		FeeQuote:         f.feeQuote,
		Authority:        engine.UserSigner(f.authority),
	})
	require.NoError(t, err)

	// The fee comes out of the escrow at settlement, not before.
	assert.Equal(t, uint64(500_000_000), event.Payment)
	assert.Equal(t, uint64(17_500_000), event.Fee)
	assert.Equal(t, backing-lotSize, event.Amount)

	assert.Equal(t, uint64(482_500_000), f.balance(f.projectQuote))
	assert.Equal(t, uint64(17_500_000), f.balance(f.feeQuote))
	assert.Equal(t, uint64(0), f.balance(f.quoteVaultAddr()))

	_, err = f.led.State(f.stateAddr())
	assert.ErrorIs(t, err, option.ErrAccountNotFound)
}

func TestWithdrawAllBeforeExpirationKeepsEscrow(t *testing.T) {
	f := newFixture(t)
	holderOptions, holderReverse := f.openReversibleStrike()
	f.issueLots(holderOptions, 1)

	_, err := f.eng.ExerciseReversible(f.ctx, f.reversibleParams(holderOptions, holderReverse, 1))
	require.NoError(t, err)

	f.clock.now = int64(subscriptionEnd) + 1
	_, err = f.eng.WithdrawAll(f.ctx, engine.WithdrawAllParams{
		State:            f.stateAddr(),
		BaseVault:        f.vaultAddr(),
		BaseDestination:  f.projectBase,
		QuoteVault:       f.quoteVaultAddr(),
		QuoteDestination: f.projectQuote,
		FeeQuote:         f.feeQuote,
		Authority:        engine.UserSigner(f.authority),
	})
	require.NoError(t, err)

	// Escrow untouched before expiration, and the reversal still works.
	assert.Equal(t, uint64(500_000_000), f.balance(f.quoteVaultAddr()))
	_, err = f.eng.ReverseExercise(f.ctx, f.reversibleParams(holderOptions, holderReverse, 1))
	require.NoError(t, err)
}

func TestAddTokensDuringSubscription(t *testing.T) {
	f := newFixture(t)
	f.openStrike()

	event, err := f.eng.AddTokens(f.ctx, engine.AddTokensParams{
		State:  f.stateAddr(),
		Source: f.projectBase,
		Amount: 5 * lotSize,
		Payer:  engine.UserSigner(f.authority),
	})
	require.NoError(t, err)
	assert.Equal(t, "add_tokens", event.Kind)

	st, err := f.led.State(f.stateAddr())
	require.NoError(t, err)
	assert.Equal(t, backing+5*lotSize, st.OptionsAvailable)
	assert.Equal(t, backing+5*lotSize, f.balance(f.vaultAddr()))

	_, err = f.eng.AddTokens(f.ctx, engine.AddTokensParams{
		State:  f.stateAddr(),
		Source: f.projectBase,
		Amount: lotSize,
		Payer:  engine.UserSigner(f.holder),
	})
	assert.ErrorIs(t, err, option.ErrIncorrectAuthority)

	f.clock.now = int64(subscriptionEnd) + 1
	_, err = f.eng.AddTokens(f.ctx, engine.AddTokensParams{
		State:  f.stateAddr(),
		Source: f.projectBase,
		Amount: lotSize,
		Payer:  engine.UserSigner(f.authority),
	})
	assert.ErrorIs(t, err, option.ErrExpired)
}

func TestRolloverMovesUnallocatedBacking(t *testing.T) {
	f := newFixture(t)
	holderOptions := f.openStrike()
	f.issueLots(holderOptions, 2)

	// A second series on the same base mint with a later window.
	newName := "ORCA-Q4"
	newParams := f.configureParams()
	newParams.Name = newName
	newParams.SubscriptionPeriodEnd = subscriptionEnd + 5_000
	newParams.OptionExpiration = optionExpiration + 5_000
	newParams.NumTokens = 3 * lotSize
	_, err := f.eng.Configure(f.ctx, newParams)
	require.NoError(t, err)

	newState, _, err := option.DeriveStatePDA(f.programID, newName, f.baseMint)
	require.NoError(t, err)
	newVault, _, err := option.DeriveVaultPDA(f.programID, newName, f.baseMint)
	require.NoError(t, err)

	params := engine.RolloverParams{
		OldState:  f.stateAddr(),
		NewState:  newState,
		OldVault:  f.vaultAddr(),
		NewVault:  newVault,
		Authority: engine.UserSigner(f.authority),
	}

	_, err = f.eng.Rollover(f.ctx, params)
	assert.ErrorIs(t, err, option.ErrNotYetExpired)

	f.clock.now = int64(subscriptionEnd) + 1
	event, err := f.eng.Rollover(f.ctx, params)
	require.NoError(t, err)
	assert.Equal(t, "rollover", event.Kind)
	assert.Equal(t, f.stateAddr(), event.State)
	assert.Equal(t, backing-2*lotSize, event.Amount)

	oldSt, err := f.led.State(f.stateAddr())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), oldSt.OptionsAvailable)

	newSt, err := f.led.State(newState)
	require.NoError(t, err)
	assert.Equal(t, 3*lotSize+backing-2*lotSize, newSt.OptionsAvailable)

	// Atoms covering the issued lots stay behind, still exercisable.
	assert.Equal(t, 2*lotSize, f.balance(f.vaultAddr()))
	_, err = f.eng.Exercise(f.ctx, f.exerciseParams(holderOptions, 2))
	require.NoError(t, err)
}

func TestRolloverRequiresMatchingSeries(t *testing.T) {
	f := newFixture(t)
	f.openStrike()

	otherAuthority := solana.NewWallet().PublicKey()
	otherParams := f.configureParams()
	otherParams.Name = "ORCA-ALT"
	otherParams.Authority = otherAuthority
	otherParams.SubscriptionPeriodEnd = subscriptionEnd + 5_000
	otherParams.OptionExpiration = optionExpiration + 5_000
	_, err := f.eng.Configure(f.ctx, otherParams)
	require.NoError(t, err)

	otherState, _, err := option.DeriveStatePDA(f.programID, "ORCA-ALT", f.baseMint)
	require.NoError(t, err)
	otherVault, _, err := option.DeriveVaultPDA(f.programID, "ORCA-ALT", f.baseMint)
	require.NoError(t, err)

	f.clock.now = int64(subscriptionEnd) + 1
	_, err = f.eng.Rollover(f.ctx, engine.RolloverParams{
		OldState:  f.stateAddr(),
		NewState:  otherState,
		OldVault:  f.vaultAddr(),
		NewVault:  otherVault,
		Authority: engine.UserSigner(f.authority),
	})
	assert.ErrorIs(t, err, option.ErrInvalidState)
}
