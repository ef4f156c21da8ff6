package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type SeriesRow struct {
	StatePubkey           string `json:"state_pubkey"`
	Name                  string `json:"name"`
	Authority             string `json:"authority"`
	IssueAuthority        string `json:"issue_authority"`
	BaseMint              string `json:"base_mint"`
	QuoteMint             string `json:"quote_mint"`
	QuoteAccount          string `json:"quote_account"`
	LotSize               string `json:"lot_size"`
	OptionsAvailable      string `json:"options_available"`
	OptionExpiration      int64  `json:"option_expiration"`
	SubscriptionPeriodEnd int64  `json:"subscription_period_end"`
	FeeSchedule           string `json:"fee_schedule"`
	Reversible            bool   `json:"reversible"`
	Closed                bool   `json:"closed"`
	UpdatedAt             int64  `json:"updated_at"`
}

type StrikeRow struct {
	Strike      string `json:"strike"`
	OptionMint  string `json:"option_mint"`
	ReverseMint string `json:"reverse_mint"`
	CreatedAt   int64  `json:"created_at"`
}

type EventRow struct {
	ID         int64  `json:"id"`
	Kind       string `json:"kind"`
	Series     string `json:"series"`
	State      string `json:"state"`
	Strike     string `json:"strike"`
	Amount     string `json:"amount"`
	Payment    string `json:"payment"`
	Fee        string `json:"fee"`
	Payer      string `json:"payer"`
	OccurredAt int64  `json:"occurred_at"`
}

type EventFilter struct {
	Series string
	Kind   string
	Limit  int
	Offset int
}

const seriesColumns = `state_pubkey, name, authority, issue_authority, base_mint,
	quote_mint, quote_account, lot_size, options_available, option_expiration,
	subscription_period_end, fee_schedule, reversible, closed, updated_at`

func (s *Store) ListSeries(ctx context.Context, includeClosed bool) ([]SeriesRow, error) {
	query := `SELECT ` + seriesColumns + ` FROM series`
	if !includeClosed {
		query += ` WHERE closed = 0`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SeriesRow, 0, 16)
	for rows.Next() {
		row, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) GetSeries(ctx context.Context, statePubkey string) (*SeriesRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+seriesColumns+` FROM series WHERE state_pubkey = ?`, statePubkey)

	out, err := scanSeries(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("series %s: %w", statePubkey, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) ListStrikes(ctx context.Context, statePubkey string) ([]StrikeRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strike, option_mint, reverse_mint, created_at
		FROM series_strikes
		WHERE state_pubkey = ?
		ORDER BY id ASC
	`, statePubkey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]StrikeRow, 0, 8)
	for rows.Next() {
		var row StrikeRow
		if err := rows.Scan(&row.Strike, &row.OptionMint, &row.ReverseMint, &row.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) ListEvents(ctx context.Context, filter EventFilter) ([]EventRow, error) {
	var conditions []string
	var args []any

	if filter.Series != "" {
		conditions = append(conditions, "series = ?")
		args = append(args, filter.Series)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}

	query := `SELECT id, kind, series, state_pubkey, strike, amount, payment, fee, payer, occurred_at
		FROM option_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]EventRow, 0, limit)
	for rows.Next() {
		var row EventRow
		if err := rows.Scan(
			&row.ID, &row.Kind, &row.Series, &row.State, &row.Strike,
			&row.Amount, &row.Payment, &row.Fee, &row.Payer, &row.OccurredAt,
		); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeries(row rowScanner) (SeriesRow, error) {
	var out SeriesRow
	var reversible, closed int
	err := row.Scan(
		&out.StatePubkey, &out.Name, &out.Authority, &out.IssueAuthority,
		&out.BaseMint, &out.QuoteMint, &out.QuoteAccount, &out.LotSize,
		&out.OptionsAvailable, &out.OptionExpiration, &out.SubscriptionPeriodEnd,
		&out.FeeSchedule, &reversible, &closed, &out.UpdatedAt,
	)
	if err != nil {
		return SeriesRow{}, err
	}
	out.Reversible = reversible != 0
	out.Closed = closed != 0
	return out, nil
}
