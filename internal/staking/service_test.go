package staking_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/rewards-engine/internal/ledger"
	"github.com/atmx/rewards-engine/internal/metrics"
	"github.com/atmx/rewards-engine/internal/model"
	"github.com/atmx/rewards-engine/internal/staking"
	"github.com/atmx/rewards-engine/internal/store"
	"github.com/atmx/rewards-engine/internal/token"
)

var (
	owner       = common.HexToAddress("0x01")
	manager     = common.HexToAddress("0x02")
	distributor = common.HexToAddress("0x03")
	ledgerAddr  = common.HexToAddress("0xee")
	alice       = common.HexToAddress("0xa1")
	bob         = common.HexToAddress("0xb0")
	stranger    = common.HexToAddress("0xcc")
)

const day = 24 * time.Hour

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testEnv struct {
	svc    *staking.Service
	store  store.Store
	tok    *token.MemoryToken
	clock  *clockwork.FakeClock
	router chi.Router
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv creates a Service over an in-memory store and token, mounted on
// a chi router under /api/v1. Minting is enabled unless an option clears it.
func newTestEnv(t *testing.T, opts ...func(*staking.Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		store: store.NewMemoryStore(),
		tok:   token.NewMemoryToken(),
		clock: clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0)),
	}
	cfg := staking.Config{
		Logger: discardLogger(),
		Ledger: ledger.Config{
			Clock:               env.clock,
			Address:             ledgerAddr,
			RewardsToken:        env.tok,
			Owner:               owner,
			PositionManager:     manager,
			RewardsDistribution: distributor,
		},
		Store: env.store,
		Mint:  env.tok,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	env.store = cfg.Store

	svc, err := staking.NewService(cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Restore(context.Background()))
	env.svc = svc

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, caller *common.Address, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set(staking.CallerHeader, caller.Hex())
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeAs[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func requireStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
}

// fund mints amount to the ledger and notifies it as the distributor.
func (e *testEnv) fund(t *testing.T, amount string) staking.LedgerView {
	t.Helper()
	w := e.do(t, http.MethodPost, "/admin/mint", &owner, staking.MintRequest{To: ledgerAddr.Hex(), Amount: d(amount)})
	requireStatus(t, w, http.StatusOK)
	w = e.do(t, http.MethodPost, "/rewards/notify", &distributor, staking.NotifyRequest{Amount: d(amount)})
	requireStatus(t, w, http.StatusOK)
	return decodeAs[staking.LedgerView](t, w)
}

func (e *testEnv) enrol(t *testing.T, account common.Address, amount string) staking.AccountView {
	t.Helper()
	w := e.do(t, http.MethodPost, "/stake/enrol", &manager, staking.StakeRequest{Account: account.Hex(), Amount: d(amount)})
	requireStatus(t, w, http.StatusOK)
	return decodeAs[staking.AccountView](t, w)
}

func (e *testEnv) account(t *testing.T, account common.Address) staking.AccountView {
	t.Helper()
	w := e.do(t, http.MethodGet, "/accounts/"+account.Hex(), nil, nil)
	requireStatus(t, w, http.StatusOK)
	return decodeAs[staking.AccountView](t, w)
}

// --- Happy path ---

func TestNotify_SetsPeriod(t *testing.T) {
	env := newTestEnv(t)

	view := env.fund(t, "7")
	assert.Equal(t, uint64(env.clock.Now().Unix())+ledger.DefaultRewardsDuration, view.PeriodFinish)
	assert.True(t, view.TokenBalance.Equal(d("7")), view.TokenBalance.String())
	// 7e18 / 604800 seconds, truncated.
	assert.True(t, view.RewardRate.Equal(d("0.000011574074074074")), view.RewardRate.String())
	assert.True(t, view.RewardForDuration.LessThanOrEqual(d("7")))
}

func TestEnrolAccruesAndClaims(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "7")

	got := env.enrol(t, alice, "10")
	assert.True(t, got.Balance.Equal(d("10")))
	assert.True(t, got.Earned.IsZero())

	env.clock.Advance(day)

	acct := env.account(t, alice)
	assert.True(t, acct.Earned.Equal(d("0.9999999999999936")), acct.Earned.String())
	assert.True(t, acct.TokenBalance.IsZero())

	w := env.do(t, http.MethodPost, "/rewards/claim", &stranger, staking.AccountRequest{Account: alice.Hex()})
	requireStatus(t, w, http.StatusOK)
	claimed := decodeAs[staking.AccountView](t, w)
	assert.True(t, claimed.TokenBalance.Equal(acct.Earned), claimed.TokenBalance.String())
	assert.True(t, claimed.Earned.IsZero())
	assert.True(t, claimed.RewardsOwed.IsZero())
	assert.True(t, claimed.Balance.Equal(d("10")))
}

func TestSplitStakes(t *testing.T) {
	env := newTestEnv(t)
	env.enrol(t, alice, "1")
	env.enrol(t, bob, "3")
	env.fund(t, "7")

	env.clock.Advance(7 * day)

	a := env.account(t, alice).Earned
	b := env.account(t, bob).Earned
	assert.True(t, a.Mul(d("3")).Sub(b).Abs().LessThan(d("0.000001")), "alice %s bob %s", a, b)
	assert.True(t, a.Add(b).LessThanOrEqual(d("7")))
}

func TestExit(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "7")
	env.enrol(t, alice, "10")
	env.clock.Advance(day)

	w := env.do(t, http.MethodPost, "/stake/exit", &manager, staking.AccountRequest{Account: alice.Hex()})
	requireStatus(t, w, http.StatusOK)
	got := decodeAs[staking.AccountView](t, w)
	assert.True(t, got.Balance.IsZero())
	assert.True(t, got.Earned.IsZero())
	assert.True(t, got.TokenBalance.IsPositive())

	ledgerView := decodeAs[staking.LedgerView](t, env.do(t, http.MethodGet, "/ledger", nil, nil))
	assert.True(t, ledgerView.TotalSupply.IsZero())
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/admin/duration", &owner, staking.DurationRequest{DurationSeconds: 86400})
	requireStatus(t, w, http.StatusOK)
	assert.Equal(t, uint64(86400), decodeAs[staking.LedgerView](t, w).RewardsDuration)

	paused := true
	w = env.do(t, http.MethodPut, "/admin/paused", &owner, staking.PausedRequest{Paused: &paused})
	requireStatus(t, w, http.StatusOK)
	view := decodeAs[staking.LedgerView](t, w)
	assert.True(t, view.Paused)
	assert.Equal(t, uint64(env.clock.Now().Unix()), view.LastPauseTime)

	w = env.do(t, http.MethodPut, "/admin/distributor", &owner, staking.DistributorRequest{Address: bob.Hex()})
	requireStatus(t, w, http.StatusOK)
	assert.Equal(t, bob, decodeAs[staking.LedgerView](t, w).RewardsDistribution)
}

// --- Errors ---

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "7")
	env.enrol(t, alice, "10")

	paused := true
	tests := []struct {
		name   string
		method string
		path   string
		caller *common.Address
		body   any
		status int
	}{
		{"missing caller", http.MethodPost, "/stake/enrol", nil, staking.StakeRequest{Account: alice.Hex(), Amount: d("1")}, http.StatusBadRequest},
		{"bad account", http.MethodPost, "/stake/enrol", &manager, staking.StakeRequest{Account: "alice", Amount: d("1")}, http.StatusBadRequest},
		{"negative amount", http.MethodPost, "/stake/enrol", &manager, staking.StakeRequest{Account: alice.Hex(), Amount: d("-1")}, http.StatusBadRequest},
		{"too many decimals", http.MethodPost, "/stake/enrol", &manager, staking.StakeRequest{Account: alice.Hex(), Amount: d("0.0000000000000000001")}, http.StatusBadRequest},
		{"enrol unauthorized", http.MethodPost, "/stake/enrol", &stranger, staking.StakeRequest{Account: alice.Hex(), Amount: d("1")}, http.StatusForbidden},
		{"withdraw too much", http.MethodPost, "/stake/withdraw", &manager, staking.StakeRequest{Account: alice.Hex(), Amount: d("11")}, http.StatusConflict},
		{"exit unauthorized", http.MethodPost, "/stake/exit", &alice, staking.AccountRequest{Account: alice.Hex()}, http.StatusForbidden},
		{"notify unauthorized", http.MethodPost, "/rewards/notify", &stranger, staking.NotifyRequest{Amount: d("1")}, http.StatusForbidden},
		{"notify unbacked", http.MethodPost, "/rewards/notify", &distributor, staking.NotifyRequest{Amount: d("1000")}, http.StatusConflict},
		{"duration while active", http.MethodPut, "/admin/duration", &owner, staking.DurationRequest{DurationSeconds: 60}, http.StatusConflict},
		{"pause unauthorized", http.MethodPut, "/admin/paused", &manager, staking.PausedRequest{Paused: &paused}, http.StatusForbidden},
		{"pause missing field", http.MethodPut, "/admin/paused", &owner, map[string]any{}, http.StatusBadRequest},
		{"distributor unauthorized", http.MethodPut, "/admin/distributor", &distributor, staking.DistributorRequest{Address: bob.Hex()}, http.StatusForbidden},
		{"mint unauthorized", http.MethodPost, "/admin/mint", &manager, staking.MintRequest{To: alice.Hex(), Amount: d("1")}, http.StatusForbidden},
		{"bad account path", http.MethodGet, "/accounts/nope", nil, nil, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/accounts/" + alice.Hex() + "/events?limit=0", nil, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.caller, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if w.Code >= 400 {
				assert.NotEmpty(t, decodeAs[map[string]string](t, w)["error"])
			}
		})
	}

	// None of the rejected calls changed the position.
	assert.True(t, env.account(t, alice).Balance.Equal(d("10")))
}

func TestInvalidJSON(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stake/enrol", strings.NewReader("{"))
	req.Header.Set(staking.CallerHeader, manager.Hex())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPausedBlocksEnrolOnly(t *testing.T) {
	env := newTestEnv(t)
	env.enrol(t, alice, "10")

	paused := true
	requireStatus(t, env.do(t, http.MethodPut, "/admin/paused", &owner, staking.PausedRequest{Paused: &paused}), http.StatusOK)

	w := env.do(t, http.MethodPost, "/stake/enrol", &manager, staking.StakeRequest{Account: alice.Hex(), Amount: d("1")})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/stake/withdraw", &manager, staking.StakeRequest{Account: alice.Hex(), Amount: d("4")})
	requireStatus(t, w, http.StatusOK)
	assert.True(t, decodeAs[staking.AccountView](t, w).Balance.Equal(d("6")))
}

func TestMintDisabled(t *testing.T) {
	env := newTestEnv(t, func(cfg *staking.Config) { cfg.Mint = nil })
	w := env.do(t, http.MethodPost, "/admin/mint", &owner, staking.MintRequest{To: alice.Hex(), Amount: d("1")})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOpsMetrics(t *testing.T) {
	env := newTestEnv(t)
	counter := metrics.LedgerOpsTotal.WithLabelValues("enrol", "unauthorized")
	before := testutil.ToFloat64(counter)

	w := env.do(t, http.MethodPost, "/stake/enrol", &stranger, staking.StakeRequest{Account: alice.Hex(), Amount: d("1")})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(counter)-before)

	env.enrol(t, alice, "2.5")
	assert.Equal(t, 2.5, testutil.ToFloat64(metrics.TotalStaked))
}

// --- Persistence ---

func TestEventsPersisted(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "7")
	env.enrol(t, alice, "10")
	env.enrol(t, bob, "1")
	env.clock.Advance(day)
	requireStatus(t, env.do(t, http.MethodPost, "/rewards/claim", &alice, staking.AccountRequest{Account: alice.Hex()}), http.StatusOK)

	w := env.do(t, http.MethodGet, "/accounts/"+alice.Hex()+"/events", nil, nil)
	requireStatus(t, w, http.StatusOK)
	events := decodeAs[[]staking.EventView](t, w)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventStaked, events[0].Kind)
	assert.True(t, events[0].Amount.Equal(d("10")))
	assert.Equal(t, model.EventRewardPaid, events[1].Kind)
	assert.True(t, events[1].Amount.IsPositive())
	assert.NotEmpty(t, events[1].ID)

	w = env.do(t, http.MethodGet, "/accounts/"+alice.Hex()+"/events?kind=reward-paid&limit=5", nil, nil)
	requireStatus(t, w, http.StatusOK)
	events = decodeAs[[]staking.EventView](t, w)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventRewardPaid, events[0].Kind)
}

func TestRestore(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "7")
	env.enrol(t, alice, "10")
	env.clock.Advance(day)
	earned := env.account(t, alice).Earned

	// A second service over the same store and token picks up where the
	// first left off.
	restarted := newTestEnv(t, func(cfg *staking.Config) {
		cfg.Store = env.store
		cfg.Ledger.RewardsToken = env.tok
		cfg.Mint = env.tok
		cfg.Ledger.Clock = env.clock
	})
	l := restarted.svc.Ledger()
	assert.Equal(t, "10000000000000000000", l.BalanceOf(alice).Dec())
	assert.Equal(t, env.svc.Ledger().PeriodFinish(), l.PeriodFinish())
	assert.True(t, restarted.account(t, alice).Earned.Equal(earned))
}

func TestRestore_RestoresTokenBalances(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "7")
	env.enrol(t, alice, "10")
	env.clock.Advance(3 * day)
	earned := env.account(t, alice).Earned
	require.True(t, earned.IsPositive())

	// Same store, fresh token: the ledger's reward balance must come back
	// with the books or the claim below has nothing to pay from.
	restarted := newTestEnv(t, func(cfg *staking.Config) {
		cfg.Store = env.store
		cfg.Ledger.Clock = env.clock
	})
	require.NotSame(t, env.tok, restarted.tok)
	assert.Equal(t, env.tok.BalanceOf(ledgerAddr).Dec(), restarted.tok.BalanceOf(ledgerAddr).Dec())

	w := restarted.do(t, http.MethodPost, "/rewards/claim", &alice, staking.AccountRequest{Account: alice.Hex()})
	requireStatus(t, w, http.StatusOK)
	claimed := decodeAs[staking.AccountView](t, w)
	assert.True(t, claimed.TokenBalance.Equal(earned), claimed.TokenBalance.String())
	assert.True(t, claimed.Earned.IsZero())
}

// opaqueToken hides MemoryToken's persistence methods.
type opaqueToken struct{ token.Token }

func TestRestore_RefusesTokenThatCannotRestoreBalances(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "7")

	svc, err := staking.NewService(staking.Config{
		Logger: discardLogger(),
		Ledger: ledger.Config{
			Clock:               env.clock,
			Address:             ledgerAddr,
			RewardsToken:        opaqueToken{token.NewMemoryToken()},
			Owner:               owner,
			PositionManager:     manager,
			RewardsDistribution: distributor,
		},
		Store: env.store,
	})
	require.NoError(t, err)
	err = svc.Restore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token balances")
	assert.True(t, svc.Ledger().RewardRate().IsZero(), "ledger must not be restored")
}

// flakyStore fails writes while fail is set.
type flakyStore struct {
	*store.MemoryStore
	fail bool
}

var errStoreDown = errors.New("store down")

func (s *flakyStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	if s.fail {
		return errStoreDown
	}
	return s.MemoryStore.SaveSnapshot(ctx, snap)
}

func TestPersistFailure_LedgerStaysAuthoritative(t *testing.T) {
	fs := &flakyStore{MemoryStore: store.NewMemoryStore()}
	env := newTestEnv(t, func(cfg *staking.Config) { cfg.Store = fs })

	failures := testutil.ToFloat64(metrics.PersistFailures)
	fs.fail = true
	w := env.do(t, http.MethodPost, "/stake/enrol", &manager, staking.StakeRequest{Account: alice.Hex(), Amount: d("10")})
	// The call itself completed, so it is not reported as a failure.
	requireStatus(t, w, http.StatusOK)
	got := decodeAs[staking.AccountView](t, w)
	assert.True(t, got.Balance.Equal(d("10")))
	assert.NotEmpty(t, got.Warning)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PersistFailures)-failures)
	assert.True(t, env.account(t, alice).Balance.Equal(d("10")))
	assert.Empty(t, env.account(t, alice).Warning)

	w = env.do(t, http.MethodPost, "/admin/mint", &owner, staking.MintRequest{To: ledgerAddr.Hex(), Amount: d("5")})
	requireStatus(t, w, http.StatusOK)
	minted := decodeAs[map[string]any](t, w)
	assert.NotEmpty(t, minted["warning"])

	// The next successful write flushes the backlog.
	fs.fail = false
	env.enrol(t, bob, "1")

	events, err := fs.ListEvents(context.Background(), store.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, alice, events[0].Account)
	assert.Equal(t, bob, events[1].Account)

	snap, err := fs.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Accounts, 2)
	require.Len(t, snap.TokenBalances, 1)
	assert.Equal(t, ledgerAddr, snap.TokenBalances[0].Holder)
	assert.Equal(t, "5000000000000000000", snap.TokenBalances[0].Balance.Dec())
}

// --- WebSocket ---

func TestWebSocketBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := staking.NewWSHub(discardLogger())
	go hub.Run(ctx)

	env := newTestEnv(t, func(cfg *staking.Config) { cfg.Hub = hub })
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.WebSocketClients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	env.enrol(t, alice, "10")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg staking.WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(model.EventStaked), msg.Type)
	assert.Equal(t, alice, msg.Event.Account)
	assert.True(t, msg.Event.Amount.Equal(d("10")))
}
