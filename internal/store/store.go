// Package store persists the audit trail of series operations: one row
// per series with its latest state snapshot, the strike list, and one
// event row per committed operation.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/options/backend/internal/engine"
	"github.com/coldbell/options/backend/internal/option"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Store struct {
	db *DB
}

type DB struct {
	raw *sql.DB
}

type Tx struct {
	raw *sql.Tx
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.raw.QueryContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.raw.QueryRowContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{raw: tx}, nil
}

func (db *DB) Close() error {
	return db.raw.Close()
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.raw.QueryRowContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) Commit() error {
	return tx.raw.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.raw.Rollback()
}

// rebindPostgresPlaceholders turns '?' placeholders into '$n' so the
// queries read the same as they would against drivers that accept '?'.
func rebindPostgresPlaceholders(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 16)

	arg := 1
	inSingleQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			out.WriteByte(ch)
			if inSingleQuote {
				// SQL escape: two single quotes inside a string literal.
				if i+1 < len(query) && query[i+1] == '\'' {
					out.WriteByte(query[i+1])
					i++
					continue
				}
				inSingleQuote = false
			} else {
				inSingleQuote = true
			}
			continue
		}

		if ch == '?' && !inSingleQuote {
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(arg))
			arg++
			continue
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func New(dbDSN string) (*Store, error) {
	db, err := sql.Open("pgx", dbDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &Store{db: &DB{raw: db}}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS series (
			state_pubkey TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			authority TEXT NOT NULL,
			issue_authority TEXT NOT NULL,
			base_mint TEXT NOT NULL,
			quote_mint TEXT NOT NULL,
			quote_account TEXT NOT NULL,
			lot_size TEXT NOT NULL,
			options_available TEXT NOT NULL,
			option_expiration BIGINT NOT NULL,
			subscription_period_end BIGINT NOT NULL,
			fee_schedule TEXT NOT NULL,
			reversible INTEGER NOT NULL,
			closed INTEGER NOT NULL DEFAULT 0,
			raw_borsh BYTEA NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_series_name_base ON series(name, base_mint);`,
		`CREATE TABLE IF NOT EXISTS series_strikes (
			id BIGSERIAL PRIMARY KEY,
			state_pubkey TEXT NOT NULL,
			strike TEXT NOT NULL,
			option_mint TEXT NOT NULL,
			reverse_mint TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			UNIQUE(state_pubkey, strike)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_series_strikes_state ON series_strikes(state_pubkey);`,
		`CREATE TABLE IF NOT EXISTS option_events (
			id BIGSERIAL PRIMARY KEY,
			kind TEXT NOT NULL,
			series TEXT NOT NULL,
			state_pubkey TEXT NOT NULL,
			strike TEXT NOT NULL,
			amount TEXT NOT NULL,
			payment TEXT NOT NULL,
			fee TEXT NOT NULL,
			payer TEXT NOT NULL,
			occurred_at BIGINT NOT NULL,
			recorded_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_option_events_series_time ON option_events(series, occurred_at DESC, id DESC);`,
	}

	for _, query := range ddl {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// UpsertSeriesTx records the latest snapshot of a series, including the
// borsh-encoded state for exact replay.
func (s *Store) UpsertSeriesTx(ctx context.Context, tx *Tx, stateAddr solana.PublicKey, st *option.State) error {
	raw, err := st.MarshalBorsh()
	if err != nil {
		return err
	}
	now := time.Now().Unix()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO series (
			state_pubkey, name, authority, issue_authority, base_mint, quote_mint,
			quote_account, lot_size, options_available, option_expiration,
			subscription_period_end, fee_schedule, reversible, closed, raw_borsh, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(state_pubkey) DO UPDATE SET
			options_available = excluded.options_available,
			option_expiration = excluded.option_expiration,
			subscription_period_end = excluded.subscription_period_end,
			raw_borsh = excluded.raw_borsh,
			updated_at = excluded.updated_at
	`,
		stateAddr.String(),
		st.Name,
		st.Authority.String(),
		st.IssueAuthority.String(),
		st.BaseMint.String(),
		st.QuoteMint.String(),
		st.QuoteAccount.String(),
		strconv.FormatUint(st.LotSize, 10),
		strconv.FormatUint(st.OptionsAvailable, 10),
		int64(st.OptionExpiration),
		int64(st.SubscriptionPeriodEnd),
		st.Schedule.String(),
		boolToInt(st.Reversible),
		raw,
		now,
	)
	return err
}

// MarkSeriesClosedTx flags a series whose state account was closed by
// the final withdraw.
func (s *Store) MarkSeriesClosedTx(ctx context.Context, tx *Tx, stateAddr solana.PublicKey) error {
	now := time.Now().Unix()
	_, err := tx.ExecContext(ctx, `
		UPDATE series SET closed = 1, options_available = '0', updated_at = ?
		WHERE state_pubkey = ?
	`, now, stateAddr.String())
	return err
}

func (s *Store) InsertStrikeTx(
	ctx context.Context,
	tx *Tx,
	stateAddr solana.PublicKey,
	strike uint64,
	optionMint solana.PublicKey,
	reverseMint solana.PublicKey,
) error {
	now := time.Now().Unix()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO series_strikes (state_pubkey, strike, option_mint, reverse_mint, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(state_pubkey, strike) DO NOTHING
	`,
		stateAddr.String(),
		strconv.FormatUint(strike, 10),
		optionMint.String(),
		reverseMint.String(),
		now,
	)
	return err
}

func (s *Store) InsertEventTx(ctx context.Context, tx *Tx, event *engine.Event) error {
	now := time.Now().Unix()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO option_events (
			kind, series, state_pubkey, strike, amount, payment, fee, payer,
			occurred_at, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.Kind,
		event.Series,
		event.State.String(),
		strconv.FormatUint(event.Strike, 10),
		strconv.FormatUint(event.Amount, 10),
		strconv.FormatUint(event.Payment, 10),
		strconv.FormatUint(event.Fee, 10),
		event.Payer.String(),
		event.Timestamp,
		now,
	)
	return err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

var ErrNotFound = errors.New("not found")
