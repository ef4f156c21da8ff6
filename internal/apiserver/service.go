// Package apiserver exposes the series lifecycle over HTTP: operation
// endpoints that drive the engine, query endpoints backed by the audit
// store, and a websocket stream of committed events.
package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/options/backend/internal/config"
	"github.com/coldbell/options/backend/internal/engine"
	"github.com/coldbell/options/backend/internal/keeper"
	"github.com/coldbell/options/backend/internal/ledger"
	"github.com/coldbell/options/backend/internal/option"
	"github.com/coldbell/options/backend/internal/store"
)

type Service struct {
	cfg              config.OptionsServerConfig
	logger           *slog.Logger
	engine           *engine.Engine
	ledger           *ledger.Ledger
	store            *store.Store
	stream           *eventStream
	allowAllOrigins  bool
	allowedOriginSet map[string]struct{}
}

func New(cfg config.OptionsServerConfig, logger *slog.Logger) (*Service, error) {
	auditStore, err := store.New(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	led := ledger.New(cfg.ProgramID)
	fees := option.NewFeePolicy(cfg.FeeConfig())
	eng := engine.New(cfg.ProgramID, led, fees, led, engine.SystemClock{}, logger)

	allowAllOrigins := false
	allowedOriginSet := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAllOrigins = true
			continue
		}
		allowedOriginSet[trimmed] = struct{}{}
	}
	if len(allowedOriginSet) == 0 && !allowAllOrigins {
		allowAllOrigins = true
	}

	return &Service{
		cfg:              cfg,
		logger:           logger,
		engine:           eng,
		ledger:           led,
		store:            auditStore,
		stream:           newEventStream(logger),
		allowAllOrigins:  allowAllOrigins,
		allowedOriginSet: allowedOriginSet,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close store", "err", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/series", s.handleSeriesRoot)
	mux.HandleFunc("/api/v1/series/", s.handleSeriesSubroutes)
	mux.HandleFunc("/api/v1/rollover", s.handleRollover)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/events/stream", s.handleEventStream)
	mux.HandleFunc("/api/v1/admin/mints", s.handleAdminMints)
	mux.HandleFunc("/api/v1/admin/accounts", s.handleAdminAccounts)
	mux.HandleFunc("/api/v1/admin/credit", s.handleAdminCredit)

	handler := s.withCORS(mux)
	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	reconciler := keeper.New(s.ledger, s.store, s.cfg.ReconcileInterval, s.logger)
	keeperDone := make(chan struct{})
	go func() {
		defer close(keeperDone)
		if err := reconciler.Run(ctx); err != nil {
			s.logger.Error("keeper exited", "err", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	s.logger.Info("options-server started",
		"listen_addr", s.cfg.ListenAddr,
		"program_id", s.cfg.ProgramID.String(),
		"fee_schedule", s.cfg.FeeSchedule.String(),
		"allowed_origins", strings.Join(s.cfg.AllowedOrigins, ","),
	)

	select {
	case <-ctx.Done():
		s.logger.Info("options-server stopping")
		s.stream.closeAll()
		<-keeperDone
		if err := server.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutdown options-server: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	}
}

// handleSeriesRoot serves the collection: GET lists series, POST
// configures a new one.
func (s *Service) handleSeriesRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListSeries(w, r)
	case http.MethodPost:
		s.handleConfigure(w, r)
	default:
		s.respondMethodNotAllowed(w)
	}
}

// handleSeriesSubroutes dispatches /api/v1/series/{state}[/op].
func (s *Service) handleSeriesSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/series/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.respondError(w, http.StatusNotFound, "series state address is required")
		return
	}

	stateAddr, err := solana.PublicKeyFromBase58(parts[0])
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid state address: %v", err))
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			s.respondMethodNotAllowed(w)
			return
		}
		s.handleGetSeries(w, r, stateAddr)
		return
	}

	op := parts[1]
	if op == "strikes" && r.Method == http.MethodGet {
		s.handleListStrikes(w, r, stateAddr)
		return
	}

	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}

	switch op {
	case "add-tokens":
		s.handleAddTokens(w, r, stateAddr)
	case "strikes":
		s.handleInitStrike(w, r, stateAddr)
	case "issue":
		s.handleIssue(w, r, stateAddr)
	case "exercise":
		s.handleExercise(w, r, stateAddr)
	case "exercise-reversible":
		s.handleExerciseReversible(w, r, stateAddr)
	case "reverse-exercise":
		s.handleReverseExercise(w, r, stateAddr)
	case "withdraw":
		s.handleWithdraw(w, r, stateAddr)
	case "withdraw-all":
		s.handleWithdrawAll(w, r, stateAddr)
	case "name-token":
		s.handleNameToken(w, r, stateAddr)
	case "modify-expiration":
		s.handleModifyExpiration(w, r, stateAddr)
	default:
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("unknown operation %q", op))
	}
}

type healthResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	s.respondJSON(w, http.StatusOK, healthResponse{OK: true})
}

func (s *Service) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			allowed := s.allowAllOrigins
			if !allowed {
				_, allowed = s.allowedOriginSet[origin]
			}

			if allowed {
				if s.allowAllOrigins {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "300")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Service) isOriginAllowed(origin string) bool {
	if origin == "" || s.allowAllOrigins {
		return true
	}
	_, ok := s.allowedOriginSet[origin]
	return ok
}

// respondEngineError maps domain failures onto HTTP statuses so the
// caller can tell a rejected operation from a broken server.
func (s *Service) respondEngineError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, option.ErrAccountNotFound):
		status = http.StatusNotFound
	case errors.Is(err, option.ErrIncorrectAuthority):
		status = http.StatusForbidden
	case errors.Is(err, option.ErrExpired),
		errors.Is(err, option.ErrNotYetExpired),
		errors.Is(err, option.ErrAddressOccupied):
		status = http.StatusConflict
	case errors.Is(err, option.ErrWrongMint),
		errors.Is(err, option.ErrInvalidMint),
		errors.Is(err, option.ErrInvalidState),
		errors.Is(err, option.ErrInvalidVault),
		errors.Is(err, option.ErrIncorrectFeeAccount),
		errors.Is(err, option.ErrNotEnoughTokens),
		errors.Is(err, option.ErrTooManyStrikes),
		errors.Is(err, option.ErrInvalidExpiration),
		errors.Is(err, option.ErrInvalidName),
		errors.Is(err, option.ErrNotReversible),
		errors.Is(err, option.ErrArithmetic):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		s.logger.Error(op+" failed", "err", err)
		s.respondError(w, status, op+" failed")
		return
	}
	s.respondError(w, status, err.Error())
}

func decodeJSONBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parsePubkeyField(raw, field string) (solana.PublicKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return solana.PublicKey{}, fmt.Errorf("%s is required", field)
	}
	pk, err := solana.PublicKeyFromBase58(trimmed)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s: %w", field, err)
	}
	return pk, nil
}

func parseOptionalPubkeyField(raw, field string) (solana.PublicKey, error) {
	if strings.TrimSpace(raw) == "" {
		return solana.PublicKey{}, nil
	}
	return parsePubkeyField(raw, field)
}

func parseOptionalInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func (s *Service) respondMethodNotAllowed(w http.ResponseWriter) {
	s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *Service) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, errorResponse{Error: message})
}

func (s *Service) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write JSON response", "err", err)
	}
}
