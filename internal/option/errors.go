package option

import "errors"

// Every operation fails with one of these kinds so callers can branch on
// the cause instead of parsing messages. Checks run before any token
// movement, so a returned error always means zero balance changes.
var (
	ErrWrongMint           = errors.New("token account mint does not match expected mint")
	ErrInvalidMint         = errors.New("mint is not at the expected derived address")
	ErrInvalidState        = errors.New("state is not at the expected derived address")
	ErrInvalidVault        = errors.New("vault is not at the expected derived address")
	ErrExpired             = errors.New("expired")
	ErrNotYetExpired       = errors.New("not yet expired")
	ErrIncorrectFeeAccount = errors.New("fee or payment account does not match")
	ErrNotEnoughTokens     = errors.New("not enough tokens available")
	ErrIncorrectAuthority  = errors.New("signer is not an authority for this series")
	ErrTooManyStrikes      = errors.New("strike limit reached")
	ErrInvalidExpiration   = errors.New("subscription period end is after option expiration")
	ErrInvalidName         = errors.New("series name is too long")
	ErrArithmetic          = errors.New("checked arithmetic failed")
	ErrAddressOccupied     = errors.New("derived address already occupied")
	ErrAccountNotFound     = errors.New("account not found")
	ErrNotReversible       = errors.New("series was not configured with a quote vault")
)
