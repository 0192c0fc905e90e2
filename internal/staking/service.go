// Package staking exposes the reward ledger over HTTP.
//
// Every mutating request is serialized, applied to the ledger, persisted
// (snapshot plus emitted events), reflected in metrics and broadcast to
// WebSocket clients, in that order. The in-memory ledger is authoritative: a
// persistence failure is reported but never rolls back a completed ledger
// call, and the next successful write catches the store up.
//
// Amounts cross the API as decimal token strings with 18 fractional digits.
package staking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/atmx/rewards-engine/internal/fixed"
	"github.com/atmx/rewards-engine/internal/ledger"
	"github.com/atmx/rewards-engine/internal/metrics"
	"github.com/atmx/rewards-engine/internal/model"
	"github.com/atmx/rewards-engine/internal/store"
	"github.com/atmx/rewards-engine/internal/token"
)

// CallerHeader carries the hex address the request acts as.
const CallerHeader = "X-Caller"

const (
	persistTimeout = 5 * time.Second
	maxEventLimit  = 1000
)

// ErrPersist is returned when a ledger call succeeded but its result could
// not be written to the store.
var ErrPersist = errors.New("staking: ledger state could not be persisted")

// persistWarning accompanies a 200 whose call was applied but not yet stored.
const persistWarning = "applied but not yet persisted; the store catches up on the next successful write"

// Config wires a Service.
type Config struct {
	Logger *slog.Logger

	// Ledger configures the underlying ledger. Its Listener is replaced by
	// the service's own event recorder.
	Ledger ledger.Config

	Store store.Store
	Hub   *WSHub       // optional
	Mint  token.Minter // optional; enables POST /admin/mint
}

// Service handles ledger operations. Uses a mutex for serialized ledger
// access (single-instance).
type Service struct {
	log    *slog.Logger
	ledger *ledger.Ledger
	token  token.Token
	minter token.Minter
	store  store.Store
	hub    *WSHub

	mu      sync.Mutex
	pending []model.Event // emitted by the ledger call in flight
	backlog []model.Event // not yet appended to the store
}

// NewService creates the ledger and the service wrapping it.
func NewService(cfg Config) (*Service, error) {
	if cfg.Logger == nil {
		return nil, errors.New("staking: logger is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("staking: store is required")
	}

	s := &Service{
		log:    cfg.Logger,
		token:  cfg.Ledger.RewardsToken,
		minter: cfg.Mint,
		store:  cfg.Store,
		hub:    cfg.Hub,
	}

	lcfg := cfg.Ledger
	if lcfg.Logger == nil {
		lcfg.Logger = cfg.Logger.With("component", "ledger")
	}
	lcfg.Listener = ledger.ListenerFunc(s.record)

	l, err := ledger.New(lcfg)
	if err != nil {
		return nil, fmt.Errorf("staking: %w", err)
	}
	s.ledger = l
	return s, nil
}

// Ledger returns the underlying ledger.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// Restore loads the persisted ledger state, if any.
func (s *Service) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.store.LoadSnapshot(ctx)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Info("no persisted ledger state, starting fresh")
		s.observe(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("staking: load snapshot: %w", err)
	}

	// The ledger's books only mean something alongside the token balances
	// that back them.
	p, ok := s.token.(token.Persistent)
	if !ok && len(snap.TokenBalances) > 0 {
		return fmt.Errorf("staking: snapshot carries %d token balances but the reward token cannot restore them", len(snap.TokenBalances))
	}
	if err := s.ledger.Restore(snap); err != nil {
		return fmt.Errorf("staking: restore snapshot: %w", err)
	}
	if ok {
		if err := p.RestoreBalances(snap.TokenBalances); err != nil {
			return fmt.Errorf("staking: restore token balances: %w", err)
		}
	}
	s.log.Info("restored ledger state",
		"accounts", len(snap.Accounts),
		"token_holders", len(snap.TokenBalances),
	)
	s.observe(nil)
	return nil
}

// Routes registers the API on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/stake/enrol", s.Enrol)
	r.Post("/stake/withdraw", s.Withdraw)
	r.Post("/stake/exit", s.Exit)
	r.Post("/rewards/claim", s.Claim)
	r.Post("/rewards/notify", s.Notify)

	r.Put("/admin/duration", s.SetDuration)
	r.Put("/admin/paused", s.SetPaused)
	r.Put("/admin/distributor", s.SetDistributor)
	r.Post("/admin/mint", s.Mint)

	r.Get("/ledger", s.GetLedger)
	r.Get("/accounts/{account}", s.GetAccount)
	r.Get("/accounts/{account}/events", s.ListAccountEvents)

	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
}

// record is the ledger's listener. It runs synchronously inside a ledger
// call, which apply only makes while holding s.mu.
func (s *Service) record(ev model.Event) {
	s.pending = append(s.pending, ev)
}

// apply runs one mutating ledger call and everything that follows it.
func (s *Service) apply(ctx context.Context, op string, call func() error) error {
	start := time.Now()
	defer func() {
		metrics.LedgerOpLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = nil
	err := call()
	events := s.pending
	s.pending = nil

	metrics.LedgerOpsTotal.WithLabelValues(op, resultLabel(err)).Inc()
	if err != nil {
		s.log.Debug("ledger call rejected", "op", op, "err", err)
		return err
	}

	s.observe(events)
	perr := s.persist(ctx, events)
	s.publish(events)
	return perr
}

func (s *Service) persist(ctx context.Context, events []model.Event) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	s.backlog = append(s.backlog, events...)
	snap := s.ledger.Snapshot()
	if p, ok := s.token.(token.Persistent); ok {
		snap.TokenBalances = p.Balances()
	}
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		metrics.PersistFailures.Inc()
		s.log.Error("failed to save ledger snapshot", "err", err)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if len(s.backlog) == 0 {
		return nil
	}
	if err := s.store.AppendEvents(ctx, s.backlog); err != nil {
		metrics.PersistFailures.Inc()
		s.log.Error("failed to append ledger events", "pending", len(s.backlog), "err", err)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	s.backlog = nil
	return nil
}

// observe refreshes gauges from the ledger and counts event amounts.
func (s *Service) observe(events []model.Event) {
	metrics.TotalStaked.Set(metrics.Tokens(s.ledger.TotalSupply()))
	metrics.RewardRate.Set(metrics.Tokens(s.ledger.RewardRate()))
	metrics.PeriodFinish.Set(float64(s.ledger.PeriodFinish()))
	if s.ledger.Paused() {
		metrics.Paused.Set(1)
	} else {
		metrics.Paused.Set(0)
	}

	for i := range events {
		switch events[i].Kind {
		case model.EventRewardAdded:
			metrics.RewardsFundedTotal.Add(metrics.Tokens(&events[i].Amount))
		case model.EventRewardPaid:
			metrics.RewardsPaidTotal.Add(metrics.Tokens(&events[i].Amount))
		}
	}
}

func (s *Service) publish(events []model.Event) {
	if s.hub == nil {
		return
	}
	for _, ev := range events {
		s.hub.Broadcast(WSMessage{Type: string(ev.Kind), Event: newEventView(ev)})
	}
}

// --- Request/Response types ---

// StakeRequest is the JSON body for enrol and withdraw.
type StakeRequest struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// AccountRequest is the JSON body for exit and claim.
type AccountRequest struct {
	Account string `json:"account"`
}

// NotifyRequest is the JSON body for POST /rewards/notify.
type NotifyRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// DurationRequest is the JSON body for PUT /admin/duration.
type DurationRequest struct {
	DurationSeconds uint64 `json:"duration_seconds"`
}

// PausedRequest is the JSON body for PUT /admin/paused.
type PausedRequest struct {
	Paused *bool `json:"paused"`
}

// DistributorRequest is the JSON body for PUT /admin/distributor.
type DistributorRequest struct {
	Address string `json:"address"`
}

// MintRequest is the JSON body for POST /admin/mint.
type MintRequest struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// AccountView is one account's position and rewards.
type AccountView struct {
	Account            common.Address  `json:"account"`
	Balance            decimal.Decimal `json:"balance"`
	Earned             decimal.Decimal `json:"earned"`
	RewardsOwed        decimal.Decimal `json:"rewards_owed"`
	RewardPerTokenPaid decimal.Decimal `json:"reward_per_token_paid"`
	TokenBalance       decimal.Decimal `json:"token_balance"`
	Warning            string          `json:"warning,omitempty"`
}

// LedgerView is the pool-wide state.
type LedgerView struct {
	Address                  common.Address  `json:"address"`
	TotalSupply              decimal.Decimal `json:"total_supply"`
	RewardRate               decimal.Decimal `json:"reward_rate"`
	RewardPerToken           decimal.Decimal `json:"reward_per_token"`
	RewardForDuration        decimal.Decimal `json:"reward_for_duration"`
	TokenBalance             decimal.Decimal `json:"token_balance"`
	PeriodFinish             uint64          `json:"period_finish"`
	LastUpdateTime           uint64          `json:"last_update_time"`
	LastTimeRewardApplicable uint64          `json:"last_time_reward_applicable"`
	RewardsDuration          uint64          `json:"rewards_duration"`
	Paused                   bool            `json:"paused"`
	LastPauseTime            uint64          `json:"last_pause_time"`
	Owner                    common.Address  `json:"owner"`
	PositionManager          common.Address  `json:"position_manager"`
	RewardsDistribution      common.Address  `json:"rewards_distribution"`
	Warning                  string          `json:"warning,omitempty"`
}

// EventView is a ledger event with amounts in tokens.
type EventView struct {
	ID        string          `json:"id"`
	Kind      model.EventKind `json:"kind"`
	Account   common.Address  `json:"account"`
	Amount    decimal.Decimal `json:"amount"`
	Rate      decimal.Decimal `json:"rate"`
	Duration  uint64          `json:"duration,omitempty"`
	Paused    bool            `json:"paused"`
	Timestamp uint64          `json:"timestamp"`
}

func newEventView(ev model.Event) EventView {
	return EventView{
		ID:        ev.ID,
		Kind:      ev.Kind,
		Account:   ev.Account,
		Amount:    fixed.ToDecimal(&ev.Amount),
		Rate:      fixed.ToDecimal(&ev.Rate),
		Duration:  ev.Duration,
		Paused:    ev.Paused,
		Timestamp: ev.Timestamp,
	}
}

func (s *Service) accountView(account common.Address, warning string) AccountView {
	return AccountView{
		Account:            account,
		Balance:            fixed.ToDecimal(s.ledger.BalanceOf(account)),
		Earned:             fixed.ToDecimal(s.ledger.Earned(account)),
		RewardsOwed:        fixed.ToDecimal(s.ledger.RewardsOwed(account)),
		RewardPerTokenPaid: fixed.ToDecimal(s.ledger.RewardPerTokenPaid(account)),
		TokenBalance:       fixed.ToDecimal(s.token.BalanceOf(account)),
		Warning:            warning,
	}
}

func (s *Service) ledgerView(warning string) LedgerView {
	l := s.ledger
	return LedgerView{
		Address:                  l.Address(),
		TotalSupply:              fixed.ToDecimal(l.TotalSupply()),
		RewardRate:               fixed.ToDecimal(l.RewardRate()),
		RewardPerToken:           fixed.ToDecimal(l.RewardPerToken()),
		RewardForDuration:        fixed.ToDecimal(l.GetRewardForDuration()),
		TokenBalance:             fixed.ToDecimal(s.token.BalanceOf(l.Address())),
		PeriodFinish:             l.PeriodFinish(),
		LastUpdateTime:           l.LastUpdateTime(),
		LastTimeRewardApplicable: l.LastTimeRewardApplicable(),
		RewardsDuration:          l.RewardsDuration(),
		Paused:                   l.Paused(),
		LastPauseTime:            l.LastPauseTime(),
		Owner:                    l.Owner(),
		PositionManager:          l.PositionManager(),
		RewardsDistribution:      l.RewardsDistribution(),
		Warning:                  warning,
	}
}

// --- HTTP Handlers ---

// Enrol handles POST /api/v1/stake/enrol
func (s *Service) Enrol(w http.ResponseWriter, r *http.Request) {
	s.stakeOp(w, r, "enrol", s.ledger.Enrol)
}

// Withdraw handles POST /api/v1/stake/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	s.stakeOp(w, r, "withdraw", s.ledger.Withdraw)
}

func (s *Service) stakeOp(w http.ResponseWriter, r *http.Request, op string,
	call func(caller, account common.Address, amount *uint256.Int) error) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req StakeRequest
	if !decode(w, r, &req) {
		return
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		writeError(w, "account: "+err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := fixed.FromDecimal(req.Amount)
	if err != nil {
		writeError(w, "amount: "+err.Error(), http.StatusBadRequest)
		return
	}

	warning, ok := applied(w, s.apply(r.Context(), op, func() error { return call(caller, account, amount) })
	if !ok {
		return
	}

	s.log.Info("stake "+op,
		"account", account.Hex(),
		"amount", req.Amount.String(),
	)
	writeJSON(w, http.StatusOK, s.accountView(account, warning))
}

// Exit handles POST /api/v1/stake/exit
func (s *Service) Exit(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	account, ok := decodeAccount(w, r)
	if !ok {
		return
	}
	warning, ok := applied(w, s.apply(r.Context(), "exit", func() error { return s.ledger.Exit(caller, account) })
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.accountView(account, warning))
}

// Claim handles POST /api/v1/rewards/claim. Anyone may claim on behalf of an
// account; the reward always goes to the account.
func (s *Service) Claim(w http.ResponseWriter, r *http.Request) {
	account, ok := decodeAccount(w, r)
	if !ok {
		return
	}
	warning, ok := applied(w, s.apply(r.Context(), "claim", func() error { return s.ledger.GetReward(account) })
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.accountView(account, warning))
}

// Notify handles POST /api/v1/rewards/notify
func (s *Service) Notify(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req NotifyRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := fixed.FromDecimal(req.Amount)
	if err != nil {
		writeError(w, "amount: "+err.Error(), http.StatusBadRequest)
		return
	}
	warning, ok := applied(w, s.apply(r.Context(), "notify", func() error { return s.ledger.NotifyRewardAmount(caller, amount) })
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.ledgerView(warning))
}

// SetDuration handles PUT /api/v1/admin/duration
func (s *Service) SetDuration(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req DurationRequest
	if !decode(w, r, &req) {
		return
	}
	warning, ok := applied(w, s.apply(r.Context(), "set_duration", func() error {
		return s.ledger.SetRewardsDuration(caller, req.DurationSeconds)
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.ledgerView(warning))
}

// SetPaused handles PUT /api/v1/admin/paused
func (s *Service) SetPaused(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req PausedRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Paused == nil {
		writeError(w, "paused is required", http.StatusBadRequest)
		return
	}
	warning, ok := applied(w, s.apply(r.Context(), "set_paused", func() error { return s.ledger.SetPaused(caller, *req.Paused) })
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.ledgerView(warning))
}

// SetDistributor handles PUT /api/v1/admin/distributor
func (s *Service) SetDistributor(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req DistributorRequest
	if !decode(w, r, &req) {
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeError(w, "address: "+err.Error(), http.StatusBadRequest)
		return
	}
	warning, ok := applied(w, s.apply(r.Context(), "set_distributor", func() error {
		return s.ledger.SetRewardsDistribution(caller, addr)
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.ledgerView(warning))
}

// Mint handles POST /api/v1/admin/mint. Development only: creates reward
// tokens out of thin air. Owner only.
func (s *Service) Mint(w http.ResponseWriter, r *http.Request) {
	if s.minter == nil {
		writeError(w, "minting is disabled", http.StatusNotFound)
		return
	}
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	if caller != s.ledger.Owner() {
		writeError(w, "only the owner may mint", http.StatusForbidden)
		return
	}
	var req MintRequest
	if !decode(w, r, &req) {
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, "to: "+err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := fixed.FromDecimal(req.Amount)
	if err != nil {
		writeError(w, "amount: "+err.Error(), http.StatusBadRequest)
		return
	}
	err = s.apply(r.Context(), "mint", func() error { return s.minter.Mint(to, amount) })
	if err != nil && !errors.Is(err, ErrPersist) {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	s.log.Warn("reward tokens minted", "to", to.Hex(), "amount", req.Amount.String())
	resp := map[string]any{
		"to":            to,
		"token_balance": fixed.ToDecimal(s.token.BalanceOf(to)),
	}
	if err != nil {
		resp["warning"] = persistWarning
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetLedger handles GET /api/v1/ledger
func (s *Service) GetLedger(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ledgerView(""))
}

// GetAccount handles GET /api/v1/accounts/{account}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, "account: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.accountView(account, ""))
}

// ListAccountEvents handles GET /api/v1/accounts/{account}/events
// Optional query parameters: kind, limit.
func (s *Service) ListAccountEvents(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, "account: "+err.Error(), http.StatusBadRequest)
		return
	}
	filter := store.EventFilter{
		Account: &account,
		Kind:    model.EventKind(r.URL.Query().Get("kind")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxEventLimit {
			writeError(w, fmt.Sprintf("limit must be between 1 and %d", maxEventLimit), http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}

	events, err := s.store.ListEvents(r.Context(), filter)
	if err != nil {
		s.log.Error("failed to list events", "account", account.Hex(), "err", err)
		writeError(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	views := make([]EventView, 0, len(events))
	for _, ev := range events {
		views = append(views, newEventView(ev))
	}
	writeJSON(w, http.StatusOK, views)
}

// --- Helpers ---

func callerFrom(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, err := parseAddress(r.Header.Get(CallerHeader))
	if err != nil {
		writeError(w, CallerHeader+" header: "+err.Error(), http.StatusBadRequest)
		return common.Address{}, false
	}
	return caller, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func decodeAccount(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	var req AccountRequest
	if !decode(w, r, &req) {
		return common.Address{}, false
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		writeError(w, "account: "+err.Error(), http.StatusBadRequest)
		return common.Address{}, false
	}
	return account, true
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", s)
	}
	return common.HexToAddress(s), nil
}

// statusFor maps ledger errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrPaused),
		errors.Is(err, ledger.ErrPeriodStillActive),
		errors.Is(err, ledger.ErrExcessiveRewardRate),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidDuration),
		errors.Is(err, ledger.ErrOverflow),
		errors.Is(err, fixed.ErrInvalidAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ledger.ErrPaused):
		return "paused"
	case errors.Is(err, ledger.ErrPeriodStillActive):
		return "period_active"
	case errors.Is(err, ledger.ErrExcessiveRewardRate):
		return "excessive_rate"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrReentrantCall):
		return "reentrant"
	case errors.Is(err, ledger.ErrInvalidDuration), errors.Is(err, ledger.ErrOverflow):
		return "invalid"
	default:
		return "error"
	}
}

// applied reports whether the call behind err took effect, writing the error
// response when it did not. A persistence failure still counts as applied:
// the caller gets 200 with warning set instead of a retry-inviting 500.
func applied(w http.ResponseWriter, err error) (warning string, ok bool) {
	switch {
	case err == nil:
		return "", true
	case errors.Is(err, ErrPersist):
		return persistWarning, true
	default:
		writeLedgerError(w, err)
		return "", false
	}
}

func writeLedgerError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusFor(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
