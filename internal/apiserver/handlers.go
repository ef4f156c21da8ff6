package apiserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/options/backend/internal/engine"
	"github.com/coldbell/options/backend/internal/option"
	"github.com/coldbell/options/backend/internal/store"
)

type configureRequest struct {
	Version               int    `json:"version"`
	Name                  string `json:"name"`
	OptionExpiration      uint64 `json:"option_expiration"`
	SubscriptionPeriodEnd uint64 `json:"subscription_period_end"`
	NumTokens             uint64 `json:"num_tokens"`
	LotSize               uint64 `json:"lot_size"`
	Authority             string `json:"authority"`
	IssueAuthority        string `json:"issue_authority,omitempty"`
	BaseMint              string `json:"base_mint"`
	QuoteMint             string `json:"quote_mint"`
	Source                string `json:"source"`
	QuoteAccount          string `json:"quote_account"`
	Payer                 string `json:"payer"`
	FeeSchedule           string `json:"fee_schedule,omitempty"`
}

type configureResponse struct {
	Event      *engine.Event `json:"event"`
	State      string        `json:"state"`
	BaseVault  string        `json:"base_vault"`
	QuoteVault string        `json:"quote_vault,omitempty"`
}

func (s *Service) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var req configureRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	params, err := s.buildConfigureParams(req)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var event *engine.Event
	switch req.Version {
	case 0, 1:
		event, err = s.engine.Configure(r.Context(), params)
	case 2:
		event, err = s.engine.ConfigureV2(r.Context(), params)
	case 3:
		event, err = s.engine.ConfigureV3(r.Context(), params)
	default:
		s.respondError(w, http.StatusBadRequest, "version must be 1, 2 or 3")
		return
	}
	if err != nil {
		s.respondEngineError(w, "configure", err)
		return
	}

	s.persist(r.Context(), event)

	resp := configureResponse{Event: event, State: event.State.String()}
	if vault, _, vErr := option.DeriveVaultPDA(s.engine.ProgramID(), params.Name, params.BaseMint); vErr == nil {
		resp.BaseVault = vault.String()
	}
	if req.Version == 3 {
		if vault, _, vErr := option.DeriveReverseVaultPDA(s.engine.ProgramID(), params.Name, params.BaseMint); vErr == nil {
			resp.QuoteVault = vault.String()
		}
	}
	s.respondJSON(w, http.StatusCreated, resp)
}

func (s *Service) buildConfigureParams(req configureRequest) (engine.ConfigureParams, error) {
	authority, err := parsePubkeyField(req.Authority, "authority")
	if err != nil {
		return engine.ConfigureParams{}, err
	}
	issueAuthority, err := parseOptionalPubkeyField(req.IssueAuthority, "issue_authority")
	if err != nil {
		return engine.ConfigureParams{}, err
	}
	baseMint, err := parsePubkeyField(req.BaseMint, "base_mint")
	if err != nil {
		return engine.ConfigureParams{}, err
	}
	quoteMint, err := parsePubkeyField(req.QuoteMint, "quote_mint")
	if err != nil {
		return engine.ConfigureParams{}, err
	}
	source, err := parsePubkeyField(req.Source, "source")
	if err != nil {
		return engine.ConfigureParams{}, err
	}
	quoteAccount, err := parsePubkeyField(req.QuoteAccount, "quote_account")
	if err != nil {
		return engine.ConfigureParams{}, err
	}
	payer, err := parsePubkeyField(req.Payer, "payer")
	if err != nil {
		return engine.ConfigureParams{}, err
	}

	schedule := s.cfg.FeeSchedule
	if strings.TrimSpace(req.FeeSchedule) != "" {
		schedule, err = option.ParseFeeSchedule(req.FeeSchedule)
		if err != nil {
			return engine.ConfigureParams{}, err
		}
	}

	return engine.ConfigureParams{
		Name:                  req.Name,
		OptionExpiration:      req.OptionExpiration,
		SubscriptionPeriodEnd: req.SubscriptionPeriodEnd,
		NumTokens:             req.NumTokens,
		LotSize:               req.LotSize,
		Authority:             authority,
		IssueAuthority:        issueAuthority,
		BaseMint:              baseMint,
		QuoteMint:             quoteMint,
		Source:                source,
		QuoteAccount:          quoteAccount,
		Payer:                 engine.UserSigner(payer),
		Schedule:              schedule,
	}, nil
}

type addTokensRequest struct {
	Source string `json:"source"`
	Amount uint64 `json:"amount"`
	Payer  string `json:"payer"`
}

func (s *Service) handleAddTokens(w http.ResponseWriter, r *http.Request, state solana.PublicKey) {
	var req addTokensRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	source, err := parsePubkeyField(req.Source, "source")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	payer, err := parsePubkeyField(req.Payer, "payer")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, err := s.engine.AddTokens(r.Context(), engine.AddTokensParams{
		State:  state,
		Source: source,
		Amount: req.Amount,
		Payer:  engine.UserSigner(payer),
	})
	if err != nil {
		s.respondEngineError(w, "add tokens", err)
		return
	}

	s.persist(r.Context(), event)
	s.respondJSON(w, http.StatusOK, event)
}

type initStrikeRequest struct {
	Strike     uint64 `json:"strike"`
	Authority  string `json:"authority"`
	Payer      string `json:"payer,omitempty"`
	Reversible bool   `json:"reversible,omitempty"`
}

type initStrikeResponse struct {
	Event       *engine.Event `json:"event"`
	OptionMint  string        `json:"option_mint"`
	ReverseMint string        `json:"reverse_mint,omitempty"`
}

func (s *Service) handleInitStrike(w http.ResponseWriter, r *http.Request, state solana.PublicKey) {
	var req initStrikeRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	authority, err := parsePubkeyField(req.Authority, "authority")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	payer, err := parseOptionalPubkeyField(req.Payer, "payer")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	params := engine.InitStrikeParams{
		State:     state,
		Strike:    req.Strike,
		Authority: engine.UserSigner(authority),
	}
	if !payer.IsZero() {
		params.Payer = engine.UserSigner(payer)
	}

	var event *engine.Event
	switch {
	case req.Reversible:
		event, err = s.engine.InitStrikeReversible(r.Context(), params)
	case !payer.IsZero():
		event, err = s.engine.InitStrikeWithPayer(r.Context(), params)
	default:
		event, err = s.engine.InitStrike(r.Context(), params)
	}
	if err != nil {
		s.respondEngineError(w, "init strike", err)
		return
	}

	s.persist(r.Context(), event)

	resp := initStrikeResponse{Event: event}
	if mint, _, mErr := option.DeriveOptionMintPDA(s.engine.ProgramID(), state, req.Strike); mErr == nil {
		resp.OptionMint = mint.String()
	}
	if req.Reversible {
		if mint, _, mErr := option.DeriveReverseMintPDA(s.engine.ProgramID(), state, req.Strike); mErr == nil {
			resp.ReverseMint = mint.String()
		}
	}
	s.respondJSON(w, http.StatusCreated, resp)
}

type issueRequest struct {
	Strike      uint64 `json:"strike"`
	Amount      uint64 `json:"amount"`
	OptionMint  string `json:"option_mint"`
	Destination string `json:"destination"`
	Authority   string `json:"authority"`
}

func (s *Service) handleIssue(w http.ResponseWriter, r *http.Request, state solana.PublicKey) {
	var req issueRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	optionMint, err := parsePubkeyField(req.OptionMint, "option_mint")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	destination, err := parsePubkeyField(req.Destination, "destination")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	authority, err := parsePubkeyField(req.Authority, "authority")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, err := s.engine.Issue(r.Context(), engine.IssueParams{
		State:       state,
		Strike:      req.Strike,
		Amount:      req.Amount,
		OptionMint:  optionMint,
		Destination: destination,
		Authority:   engine.UserSigner(authority),
	})
	if err != nil {
		s.respondEngineError(w, "issue", err)
		return
	}

	s.persist(r.Context(), event)
	s.respondJSON(w, http.StatusOK, event)
}

type exerciseRequest struct {
	Strike        uint64 `json:"strike"`
	Amount        uint64 `json:"amount"`
	OptionMint    string `json:"option_mint"`
	HolderOptions string `json:"holder_options"`
	HolderQuote   string `json:"holder_quote"`
	ProjectQuote  string `json:"project_quote"`
	FeeQuote      string `json:"fee_quote"`
	BaseVault     string `json:"base_vault"`
	HolderBase    string `json:"holder_base"`
	Holder        string `json:"holder"`
}

func (s *Service) handleExercise(w http.ResponseWriter, r *http.Request, state solana.PublicKey) {
	var req exerciseRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	params := engine.ExerciseParams{
		State:  state,
		Strike: req.Strike,
		Amount: req.Amount,
	}
	var err error
	if params.OptionMint, err = parsePubkeyField(req.OptionMint, "option_mint"); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if params.HolderOptions, err = parsePubkeyField(req.HolderOptions, "holder_options"); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if params.HolderQuote, err = parsePubkeyField(req.HolderQuote, "holder_quote"); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if params.ProjectQuote, err = parsePubkeyField(req.ProjectQuote, "project_quote"); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if params.FeeQuote, err = parsePubkeyField(req.FeeQuote, "fee_quote"); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if params.BaseVault, err = parsePubkeyField(req.BaseVault, "base_vault"); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if params.HolderBase, err = parsePubkeyField(req.HolderBase, "holder_base"); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	holder, err := parsePubkeyField(req.Holder, "holder")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	params.Holder = engine.UserSigner(holder)

	event, err := s.engine.Exercise(r.Context(), params)
	if err != nil {
		s.respondEngineError(w, "exercise", err)
		return
	}

	s.persist(r.Context(), event)
	s.respondJSON(w, http.StatusOK, event)
}

type reversibleRequest struct {
	Strike        uint64 `json:"strike"`
	Amount        uint64 `json:"amount"`
	OptionMint    string `json:"option_mint"`
	ReverseMint   string `json:"reverse_mint"`
	HolderOptions string `json:"holder_options"`
	HolderReverse string `json:"holder_reverse"`
	HolderQuote   string `json:"holder_quote"`
	QuoteVault    string `json:"quote_vault"`
	BaseVault     string `json:"base_vault"`
	HolderBase    string `json:"holder_base"`
	Holder        string `json:"holder"`
}

func (s *Service) buildReversibleParams(req reversibleRequest, state solana.PublicKey) (engine.ReversibleParams, error) {
	params := engine.ReversibleParams{
		State:  state,
		Strike: req.Strike,
		Amount: req.Amount,
	}

	var err error
	if params.OptionMint, err = parsePubkeyField(req.OptionMint, "option_mint"); err != nil {
		return engine.ReversibleParams{}, err
	}
	if params.ReverseMint, err = parsePubkeyField(req.ReverseMint, "reverse_mint"); err != nil {
		return engine.ReversibleParams{}, err
	}
	if params.HolderOptions, err = parsePubkeyField(req.HolderOptions, "holder_options"); err != nil {
		return engine.ReversibleParams{}, err
	}
	if params.HolderReverse, err = parsePubkeyField(req.HolderReverse, "holder_reverse"); err != nil {
		return engine.ReversibleParams{}, err
	}
	if params.HolderQuote, err = parsePubkeyField(req.HolderQuote, "holder_quote"); err != nil {
		return engine.ReversibleParams{}, err
	}
	if params.QuoteVault, err = parsePubkeyField(req.QuoteVault, "quote_vault"); err != nil {
		return engine.ReversibleParams{}, err
	}
	if params.BaseVault, err = parsePubkeyField(req.BaseVault, "base_vault"); err != nil {
		return engine.ReversibleParams{}, err
	}
	if params.HolderBase, err = parsePubkeyField(req.HolderBase, "holder_base"); err != nil {
		return engine.ReversibleParams{}, err
	}
	holder, err := parsePubkeyField(req.Holder, "holder")
	if err != nil {
		return engine.ReversibleParams{}, err
	}
	params.Holder = engine.UserSigner(holder)
	return params, nil
}

func (s *Service) handleExerciseReversible(w http.ResponseWriter, r *http.Request, state solana.PublicKey) {
	var req reversibleRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	params, err := s.buildReversibleParams(req, state)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, err := s.engine.ExerciseReversible(r.Context(), params)
	if err != nil {
		s.respondEngineError(w, "exercise reversible", err)
		return
	}

	s.persist(r.Context(), event)
	s.respondJSON(w, http.StatusOK, event)
}

func (s *Service) handleReverseExercise(w http.ResponseWriter, r *http.Request, state solana.PublicKey) {
	var req reversibleRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	params, err := s.buildReversibleParams(req, state)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, err := s.engine.ReverseExercise(r.Context(), params)
	if err != nil {
		s.respondEngineError(w, "reverse exercise", err)
		return
	}

	s.persist(r.Context(), event)
	s.respondJSON(w, http.StatusOK, event)
}

type rolloverRequest struct {
	OldState  string `json:"old_state"`
	NewState  string `json:"new_state"`
	OldVault  string `json:"old_vault"`
	NewVault  string `json:"new_vault"`
	Authority string `json:"authority"`
}

func (s *Service) handleRollover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}

	var req rolloverRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	oldState, err := parsePubkeyField(req.OldState, "old_state")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	newState, err := parsePubkeyField(req.NewState, "new_state")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	oldVault, err := parsePubkeyField(req.OldVault, "old_vault")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	newVault, err := parsePubkeyField(req.NewVault, "new_vault")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	authority, err := parsePubkeyField(req.Authority, "authority")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, err := s.engine.Rollover(r.Context(), engine.RolloverParams{
		OldState:  oldState,
		NewState:  newState,
		OldVault:  oldVault,
		NewVault:  newVault,
		Authority: engine.UserSigner(authority),
	})
	if err != nil {
		s.respondEngineError(w, "rollover", err)
		return
	}

	// Both series changed; snapshot the receiving one too.
	s.persistExtraState(r.Context(), newState)
	s.persist(r.Context(), event)
	s.respondJSON(w, http.StatusOK, event)
}

type withdrawRequest struct {
	BaseVault   string `json:"base_vault"`
	Destination string `json:"destination"`
	Authority   string `json:"authority"`
}

func (s *Service) handleWithdraw(w http.ResponseWriter, r *http.Request, state solana.PublicKey) {
	var req withdrawRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	baseVault, err := parsePubkeyField(req.BaseVault, "base_vault")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	destination, err := parsePubkeyField(req.Destination, "destination")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	authority, err := parsePubkeyField(req.Authority, "authority")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, err := s.engine.Withdraw(r.Context(), engine.WithdrawParams{
		State:       state,
		BaseVault:   baseVault,
		Destination: destination,
		Authority:   engine.UserSigner(authority),
	})
	if err != nil {
		s.respondEngineError(w, "withdraw", err)
		return
	}

	s.persist(r.Context(), event)
	s.respondJSON(w, http.StatusOK, event)
}

type withdrawAllRequest struct {
	BaseVault        string `json:"base_vault"`
	BaseDestination  string `json:"base_destination"`
	QuoteVault       string `json:"quote_vault"`
	QuoteDestination string `json:"quote_destination"`
	FeeQuote         string `json:"fee_quote"`
	Authority        string `json:"authority"`
}

func (s *Service) handleWithdrawAll(w http.ResponseWriter, r *http.Request, state solana.PublicKey) {
	var req withdrawAllRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	baseVault, err := parsePubkeyField(req.BaseVault, "base_vault")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	baseDestination, err := parsePubkeyField(req.BaseDestination, "base_destination")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	quoteVault, err := parsePubkeyField(req.QuoteVault, "quote_vault")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	quoteDestination, err := parsePubkeyField(req.QuoteDestination, "quote_destination")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	feeQuote, err := parsePubkeyField(req.FeeQuote, "fee_quote")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	authority, err := parsePubkeyField(req.Authority, "authority")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, err := s.engine.WithdrawAll(r.Context(), engine.WithdrawAllParams{
		State:            state,
		BaseVault:        baseVault,
		BaseDestination:  baseDestination,
		QuoteVault:       quoteVault,
		QuoteDestination: quoteDestination,
		FeeQuote:         feeQuote,
		Authority:        engine.UserSigner(authority),
	})
	if err != nil {
		s.respondEngineError(w, "withdraw all", err)
		return
	}

	s.persist(r.Context(), event)
	s.respondJSON(w, http.StatusOK, event)
}

type nameTokenRequest struct {
	Strike     uint64 `json:"strike"`
	OptionMint string `json:"option_mint"`
	Authority  string `json:"authority"`
	URI        string `json:"uri,omitempty"`
}

func (s *Service) handleNameToken(w http.ResponseWriter, r *http.Request, state solana.PublicKey) {
	var req nameTokenRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	optionMint, err := parsePubkeyField(req.OptionMint, "option_mint")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	authority, err := parsePubkeyField(req.Authority, "authority")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, err := s.engine.NameToken(r.Context(), engine.NameTokenParams{
		State:      state,
		Strike:     req.Strike,
		OptionMint: optionMint,
		Authority:  engine.UserSigner(authority),
		URI:        req.URI,
	})
	if err != nil {
		s.respondEngineError(w, "name token", err)
		return
	}

	s.persist(r.Context(), event)
	s.respondJSON(w, http.StatusOK, event)
}

type modifyExpirationRequest struct {
	NewExpiration uint64 `json:"new_expiration"`
	OptionMint    string `json:"option_mint"`
	HolderOptions string `json:"holder_options"`
	Authority     string `json:"authority"`
}

func (s *Service) handleModifyExpiration(w http.ResponseWriter, r *http.Request, state solana.PublicKey) {
	var req modifyExpirationRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	optionMint, err := parsePubkeyField(req.OptionMint, "option_mint")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	holderOptions, err := parsePubkeyField(req.HolderOptions, "holder_options")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	authority, err := parsePubkeyField(req.Authority, "authority")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, err := s.engine.ModifyExpiration(r.Context(), engine.ModifyExpirationParams{
		State:         state,
		NewExpiration: req.NewExpiration,
		OptionMint:    optionMint,
		HolderOptions: holderOptions,
		Authority:     engine.UserSigner(authority),
	})
	if err != nil {
		s.respondEngineError(w, "modify expiration", err)
		return
	}

	s.persist(r.Context(), event)
	s.respondJSON(w, http.StatusOK, event)
}

func (s *Service) handleListSeries(w http.ResponseWriter, r *http.Request) {
	includeClosed := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("include_closed")), "true")
	items, err := s.store.ListSeries(r.Context(), includeClosed)
	if err != nil {
		s.logger.Error("list series failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list series")
		return
	}
	s.respondJSON(w, http.StatusOK, listResponse[store.SeriesRow]{Items: items})
}

func (s *Service) handleGetSeries(w http.ResponseWriter, r *http.Request, state solana.PublicKey) {
	row, err := s.store.GetSeries(r.Context(), state.String())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "series not found")
			return
		}
		s.logger.Error("get series failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to get series")
		return
	}
	s.respondJSON(w, http.StatusOK, row)
}

func (s *Service) handleListStrikes(w http.ResponseWriter, r *http.Request, state solana.PublicKey) {
	items, err := s.store.ListStrikes(r.Context(), state.String())
	if err != nil {
		s.logger.Error("list strikes failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list strikes")
		return
	}
	s.respondJSON(w, http.StatusOK, listResponse[store.StrikeRow]{Items: items})
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	limit, err := parseOptionalInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := s.store.ListEvents(r.Context(), store.EventFilter{
		Series: strings.TrimSpace(r.URL.Query().Get("series")),
		Kind:   strings.TrimSpace(r.URL.Query().Get("kind")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("list events failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	s.respondJSON(w, http.StatusOK, listResponse[store.EventRow]{Items: items})
}

type adminMintRequest struct {
	Address   string `json:"address"`
	Authority string `json:"authority"`
	Decimals  uint8  `json:"decimals"`
}

func (s *Service) handleAdminMints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}

	var req adminMintRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	address, err := parsePubkeyField(req.Address, "address")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	authority, err := parsePubkeyField(req.Authority, "authority")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.ledger.CreateMint(address, authority, req.Decimals); err != nil {
		s.respondEngineError(w, "create mint", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"address": address.String()})
}

type adminAccountRequest struct {
	Address   string `json:"address"`
	Mint      string `json:"mint"`
	Authority string `json:"authority"`
}

func (s *Service) handleAdminAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}

	var req adminAccountRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	address, err := parsePubkeyField(req.Address, "address")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	mint, err := parsePubkeyField(req.Mint, "mint")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	authority, err := parsePubkeyField(req.Authority, "authority")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.ledger.CreateTokenAccount(address, mint, authority); err != nil {
		s.respondEngineError(w, "create token account", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"address": address.String()})
}

type adminCreditRequest struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

func (s *Service) handleAdminCredit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}

	var req adminCreditRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := parsePubkeyField(req.Account, "account")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.ledger.Credit(account, req.Amount); err != nil {
		s.respondEngineError(w, "credit account", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"account": account.String()})
}

// persist writes the audit rows for a committed operation and fans the
// event out to stream subscribers. The operation itself already
// succeeded; an audit failure is logged, not surfaced to the caller.
func (s *Service) persist(ctx context.Context, event *engine.Event) {
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		st, stErr := s.ledger.State(event.State)
		if stErr != nil {
			// Withdraw after expiration closes the state record.
			if err := s.store.MarkSeriesClosedTx(ctx, tx, event.State); err != nil {
				return err
			}
		} else {
			if err := s.store.UpsertSeriesTx(ctx, tx, event.State, st); err != nil {
				return err
			}
		}

		if event.Kind == "init_strike" {
			optionMint, _, mErr := option.DeriveOptionMintPDA(s.engine.ProgramID(), event.State, event.Strike)
			if mErr != nil {
				return mErr
			}
			reverseMint := solana.PublicKey{}
			if st != nil && st.Reversible {
				if reverseMint, _, mErr = option.DeriveReverseMintPDA(s.engine.ProgramID(), event.State, event.Strike); mErr != nil {
					return mErr
				}
			}
			if err := s.store.InsertStrikeTx(ctx, tx, event.State, event.Strike, optionMint, reverseMint); err != nil {
				return err
			}
		}

		return s.store.InsertEventTx(ctx, tx, event)
	})
	if err != nil {
		s.logger.Error("audit persist failed", "kind", event.Kind, "state", event.State.String(), "err", err)
	}

	s.stream.publish(event)
}

// persistExtraState snapshots a second series touched by the same
// operation.
func (s *Service) persistExtraState(ctx context.Context, stateAddr solana.PublicKey) {
	st, err := s.ledger.State(stateAddr)
	if err != nil {
		return
	}
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		return s.store.UpsertSeriesTx(ctx, tx, stateAddr, st)
	})
	if err != nil {
		s.logger.Error("audit persist failed", "state", stateAddr.String(), "err", err)
	}
}
