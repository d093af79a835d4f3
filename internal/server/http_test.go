package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"UsdnLedger/internal/core"
	"UsdnLedger/internal/ledger"
	"UsdnLedger/internal/observability"
	"UsdnLedger/internal/query"
	"UsdnLedger/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiHarness struct {
	f       *testutil.Fixture
	seq     *core.Sequencer
	metrics *observability.Metrics
	srv     *HTTPServer
}

func newAPIHarness(t *testing.T, mutate func(*HTTPDeps)) *apiHarness {
	t.Helper()
	f := testutil.NewFixture(t, testutil.Params(), testutil.Price(2_000))
	f.MustInitialize(testutil.Tokens(100), testutil.Tokens(50), testutil.Price(1_000))

	seq := core.NewSequencer(f.Engine, 8, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go seq.Run(ctx)

	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	deps := HTTPDeps{
		Sequencer: seq,
		Bank:      f.Bank,
		Query:     query.NewQueryService(seq, f.Bank, nil, nil, nil),
		Metrics:   metrics,
		Logger:    zerolog.Nop(),
		// only read on the sequencer goroutine by the mutating handlers
		Clock: func() time.Time {
			f.Now = f.Now.Add(f.Step)
			return f.Now
		},
	}
	if mutate != nil {
		mutate(&deps)
	}
	return &apiHarness{f: f, seq: seq, metrics: metrics, srv: NewHTTPServer(":0", deps)}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHTTP_State(t *testing.T) {
	h := newAPIHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/api/v1/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[query.StateResponse](t, rec)
	assert.True(t, st.Initialized)
	assert.Len(t, st.StateHash, 64)

	rec = h.do(t, http.MethodGet, "/api/v1/params", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", decode[map[string]string](t, rec)["tick_spacing"])
}

func TestHTTP_DepositFlow(t *testing.T) {
	h := newAPIHarness(t, nil)
	alice := testutil.Alice.Hex()

	rec := h.do(t, http.MethodPost, "/api/v1/deposits/initiate", map[string]any{
		"sender": alice,
		"amount": "10",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[ResultResponse](t, rec)
	assert.Equal(t, core.StatusApplied.String(), res.Status)
	assert.NotZero(t, res.Sequence)

	rec = h.do(t, http.MethodGet, "/api/v1/pending/"+alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Deposit", decode[query.PendingResponse](t, rec).Kind)

	rec = h.do(t, http.MethodPost, "/api/v1/deposits/validate", map[string]any{"sender": alice})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEqual(t, "0", decode[ResultResponse](t, rec).Amount)

	rec = h.do(t, http.MethodGet, "/api/v1/pending/"+alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/balances/"+alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decode[query.BalanceResponse](t, rec)
	underlyingName, _ := ledger.GetAssetName(ledger.AssetUnderlying)
	stableName, _ := ledger.GetAssetName(ledger.AssetStable)
	assert.Equal(t, "990", bal.Assets[underlyingName])
	assert.NotEqual(t, "0", bal.Assets[stableName])

	h.f.RequireConservation()
}

func TestHTTP_OpenAndClose(t *testing.T) {
	h := newAPIHarness(t, nil)
	bob := testutil.Bob.Hex()

	rec := h.do(t, http.MethodPost, "/api/v1/positions/open", map[string]any{
		"sender":            bob,
		"amount":            "5",
		"liquidation_price": "1500",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode[ResultResponse](t, rec).PositionID)

	rec = h.do(t, http.MethodPost, "/api/v1/positions/open/validate", map[string]any{"sender": bob})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decode[ResultResponse](t, rec).PositionID
	require.NotEmpty(t, id)

	rec = h.do(t, http.MethodGet, "/api/v1/positions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[query.PositionResponse](t, rec).Validated)

	rec = h.do(t, http.MethodGet, "/api/v1/positions?owner="+bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]query.PositionResponse](t, rec), 1)

	rec = h.do(t, http.MethodPost, "/api/v1/positions/close", map[string]any{
		"sender":      bob,
		"position_id": id,
		"amount":      "5",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/api/v1/positions/close/validate", map[string]any{"sender": bob})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/v1/positions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h.f.RequireConservation()
}

func TestHTTP_RejectsBadInput(t *testing.T) {
	h := newAPIHarness(t, nil)
	alice := testutil.Alice.Hex()

	cases := []struct {
		name string
		path string
		body any
		code int
	}{
		{"missing sender", "/api/v1/deposits/initiate", map[string]any{"amount": "1"}, http.StatusBadRequest},
		{"too precise", "/api/v1/deposits/initiate", map[string]any{"sender": alice, "amount": "0.0000000000000000001"}, http.StatusBadRequest},
		{"negative", "/api/v1/deposits/initiate", map[string]any{"sender": alice, "amount": "-1"}, http.StatusBadRequest},
		{"unknown field", "/api/v1/liquidate", map[string]any{"sender": alice, "bogus": 1}, http.StatusBadRequest},
		{"bad position id", "/api/v1/positions/close", map[string]any{"sender": alice, "position_id": "x", "amount": "1"}, http.StatusBadRequest},
		{"nothing pending", "/api/v1/deposits/validate", map[string]any{"sender": alice}, http.StatusNotFound},
		{"already initialized", "/api/v1/initialize", map[string]any{"sender": alice, "deposit": "10", "long": "5", "liquidation_price": "1000"}, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}

	rec := h.do(t, http.MethodGet, "/api/v1/balances/not-an-address", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(t, http.MethodGet, "/api/v1/ticks/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_IdempotentReplay(t *testing.T) {
	var checker *IdempotencyChecker
	h := newAPIHarness(t, func(d *HTTPDeps) {
		checker = NewIdempotencyChecker(16, nil, d.Metrics, zerolog.Nop())
		d.Idempotency = checker
	})
	body := map[string]any{"sender": testutil.Alice.Hex(), "amount": "10"}

	first := h.do(t, http.MethodPost, "/api/v1/deposits/initiate", body, IdempotencyHeader, "k-1")
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	seq := h.f.Engine.Sequence()

	second := h.do(t, http.MethodPost, "/api/v1/deposits/initiate", body, IdempotencyHeader, "k-1")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(ReplayHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	var after uint64
	require.NoError(t, h.seq.Do(context.Background(), func(e *core.Engine) error {
		after = e.Sequence()
		return nil
	}))
	assert.Equal(t, seq, after, "replay must not reach the engine")

	// a different key is a new request; Alice already has a pending action
	third := h.do(t, http.MethodPost, "/api/v1/deposits/initiate", body, IdempotencyHeader, "k-2")
	assert.Equal(t, http.StatusConflict, third.Code)
	assert.Empty(t, third.Header().Get(ReplayHeader))
}

func TestHTTP_Faucet(t *testing.T) {
	h := newAPIHarness(t, nil)
	body := map[string]any{"address": testutil.Carol.Hex(), "asset": "WSTETH", "amount": "5"}

	rec := h.do(t, http.MethodPost, "/api/v1/faucet", body)
	assert.Equal(t, http.StatusNotFound, rec.Code, "disabled by default")

	h = newAPIHarness(t, func(d *HTTPDeps) { d.Faucet = true })
	rec = h.do(t, http.MethodPost, "/api/v1/faucet", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1005", decode[query.BalanceResponse](t, rec).Assets["WSTETH"])

	body["asset"] = "USDN"
	rec = h.do(t, http.MethodPost, "/api/v1/faucet", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_LiquidateAndActionable(t *testing.T) {
	h := newAPIHarness(t, nil)
	sender := testutil.Carol.Hex()

	rec := h.do(t, http.MethodPost, "/api/v1/liquidate", map[string]any{"sender": sender})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode[ResultResponse](t, rec).Liquidated)

	rec = h.do(t, http.MethodPost, "/api/v1/actionable/validate", map[string]any{"sender": sender})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Zero(t, decode[ResultResponse](t, rec).ActionablesValidated)

	rec = h.do(t, http.MethodGet, "/api/v1/actionable?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]query.PendingResponse](t, rec))
}

func TestHTTP_IntegrityAndMetrics(t *testing.T) {
	h := newAPIHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/api/v1/integrity", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[query.IntegrityReport](t, rec).IsHealthy)

	h.do(t, http.MethodGet, "/api/v1/ticks/10", nil)
	count := promtest.ToFloat64(h.metrics.HTTPRequests.WithLabelValues("/api/v1/ticks/{tick}", "200"))
	assert.Equal(t, 1.0, count)
}

func TestHTTP_HealthProbes(t *testing.T) {
	health := observability.NewHealthChecker()
	h := newAPIHarness(t, func(d *HTTPDeps) { d.Health = health })

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	health.SetReady(true)
	rec = h.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode[map[string]any](t, rec)["status"])
}
