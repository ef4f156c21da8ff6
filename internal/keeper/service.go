// Package keeper reconciles the audit store against the ledger. The
// operation handlers record rows best-effort and never fail a committed
// operation over an audit write, so the keeper periodically re-reads
// every open series and repairs whatever the handlers missed.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/options/backend/internal/ledger"
	"github.com/coldbell/options/backend/internal/option"
	"github.com/coldbell/options/backend/internal/store"
)

type Service struct {
	interval time.Duration
	logger   *slog.Logger
	ledger   *ledger.Ledger
	store    *store.Store
}

func New(led *ledger.Ledger, auditStore *store.Store, interval time.Duration, logger *slog.Logger) *Service {
	return &Service{
		interval: interval,
		logger:   logger.With("component", "keeper"),
		ledger:   led,
		store:    auditStore,
	}
}

func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("keeper started", "interval", s.interval.String())

	if err := s.tick(ctx); err != nil {
		s.logger.Error("keeper tick failed", "err", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("keeper stopped")
			return nil
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.logger.Error("keeper tick failed", "err", err)
			}
		}
	}
}

func (s *Service) tick(ctx context.Context) error {
	rows, err := s.store.ListSeries(ctx, false)
	if err != nil {
		return fmt.Errorf("list open series: %w", err)
	}

	now := time.Now().Unix()
	var refreshed, closed, pastExpiry int
	for _, row := range rows {
		stateAddr, err := solana.PublicKeyFromBase58(row.StatePubkey)
		if err != nil {
			s.logger.Error("skipping malformed state pubkey",
				"state", row.StatePubkey, "err", err)
			continue
		}

		st, err := s.ledger.State(stateAddr)
		if errors.Is(err, option.ErrAccountNotFound) {
			// Closed on the ledger after its final withdraw, but the
			// audit write was missed.
			if err := s.store.WithTx(ctx, func(tx *store.Tx) error {
				return s.store.MarkSeriesClosedTx(ctx, tx, stateAddr)
			}); err != nil {
				s.logger.Error("failed to mark series closed",
					"series", row.Name, "state", row.StatePubkey, "err", err)
				continue
			}
			closed++
			continue
		}
		if err != nil {
			s.logger.Error("failed to load series state",
				"series", row.Name, "state", row.StatePubkey, "err", err)
			continue
		}

		if err := s.store.WithTx(ctx, func(tx *store.Tx) error {
			return s.store.UpsertSeriesTx(ctx, tx, stateAddr, st)
		}); err != nil {
			s.logger.Error("failed to refresh series snapshot",
				"series", row.Name, "state", row.StatePubkey, "err", err)
			continue
		}
		refreshed++

		if uint64(now) > st.OptionExpiration {
			// Expired series stay open until the authority withdraws;
			// surface them so operators can chase stragglers.
			pastExpiry++
			s.logger.Info("series past expiration awaiting withdraw",
				"series", st.Name,
				"state", row.StatePubkey,
				"expired_at", st.OptionExpiration,
			)
		}
	}

	if closed > 0 || pastExpiry > 0 {
		s.logger.Info("reconcile pass finished",
			"open", len(rows),
			"refreshed", refreshed,
			"closed", closed,
			"past_expiry", pastExpiry,
		)
	}
	return nil
}
