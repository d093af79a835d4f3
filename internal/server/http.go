package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"UsdnLedger/internal/core"
	"UsdnLedger/internal/ledger"
	fpmath "UsdnLedger/internal/math"
	"UsdnLedger/internal/observability"
	"UsdnLedger/internal/query"
	"UsdnLedger/internal/state"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

// HTTPDeps are the collaborators of the HTTP API. Hub, Idempotency and
// Health are optional.
type HTTPDeps struct {
	Sequencer   *core.Sequencer
	Bank        *ledger.Bank
	Query       *query.QueryService
	Hub         *EventHub
	Idempotency *IdempotencyChecker
	Health      *observability.HealthChecker
	Metrics     *observability.Metrics
	Logger      zerolog.Logger
	Clock       func() time.Time
	Faucet      bool
}

// HTTPServer serves the JSON API, the event stream and health probes.
type HTTPServer struct {
	deps   HTTPDeps
	router chi.Router
	srv    *http.Server
}

func NewHTTPServer(addr string, deps HTTPDeps) *HTTPServer {
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	s := &HTTPServer{deps: deps}
	s.router = s.routes()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.deps.Logger.Info().Msg("HTTP server shutting down")
		_ = s.srv.Shutdown(shutCtx)
	}()

	s.deps.Logger.Info().Str("addr", s.srv.Addr).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *HTTPServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	if h := s.deps.Health; h != nil {
		r.Get("/healthz", h.LivenessHandler)
		r.Get("/readyz", h.ReadinessHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.deps.Hub != nil {
			r.Get("/ws", s.deps.Hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Get("/state", s.getState)
			r.Get("/params", s.getParams)
			r.Get("/ticks/{tick}", s.getTick)
			r.Get("/positions", s.listPositions)
			r.Get("/positions/{id}", s.getPosition)
			r.Get("/pending/{address}", s.getPending)
			r.Get("/actionable", s.listActionable)
			r.Get("/balances/{address}", s.getBalance)
			r.Get("/history/funding", s.fundingHistory)
			r.Get("/history/liquidations", s.liquidationHistory)
			r.Get("/events", s.listEvents)
			r.Get("/integrity", s.integrity)

			r.Group(func(r chi.Router) {
				if s.deps.Idempotency != nil {
					r.Use(s.deps.Idempotency.Middleware)
				}
				r.Post("/initialize", s.initialize)
				r.Post("/deposits/initiate", s.initiateDeposit)
				r.Post("/deposits/validate", s.validateDeposit)
				r.Post("/withdrawals/initiate", s.initiateWithdrawal)
				r.Post("/withdrawals/validate", s.validateWithdrawal)
				r.Post("/positions/open", s.initiateOpen)
				r.Post("/positions/open/validate", s.validateOpen)
				r.Post("/positions/close", s.initiateClose)
				r.Post("/positions/close/validate", s.validateClose)
				r.Post("/liquidate", s.liquidate)
				r.Post("/actionable/validate", s.validateActionable)
				if s.deps.Faucet {
					r.Post("/faucet", s.faucet)
				}
			})
		})
	})
	return r
}

// instrument records request metrics by route pattern and logs the request.
func (s *HTTPServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		if m := s.deps.Metrics; m != nil {
			m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
			m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		}
		s.deps.Logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// --- request decoding ---

type baseRequest struct {
	Sender     common.Address `json:"sender"`
	OracleData hexutil.Bytes  `json:"oracle_data,omitempty"`
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body", err)
	}
	return nil
}

func amount(name string, d decimal.Decimal, decimals int32) (sdkmath.Int, error) {
	v, err := fpmath.FromDecimalExact(d, decimals)
	if err != nil {
		return sdkmath.Int{}, badRequest(name, err)
	}
	return v, nil
}

func orSender(addr, sender common.Address) common.Address {
	if addr == (common.Address{}) {
		return sender
	}
	return addr
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, badRequest(fmt.Sprintf("invalid address %q", s), nil)
	}
	return common.HexToAddress(s), nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest(name, err)
	}
	return v, nil
}

func queryUint(r *http.Request, name string) (*uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, badRequest(name, err)
	}
	return &v, nil
}

// --- calls ---

// LiquidatedTick is one tick settled during a call.
type LiquidatedTick struct {
	Tick                int32  `json:"tick"`
	TickVersion         uint64 `json:"tick_version"`
	TotalPositions      int    `json:"total_positions"`
	TotalExpo           string `json:"total_expo"`
	RemainingCollateral string `json:"remaining_collateral"`
	TickPrice           string `json:"tick_price"`
}

// ResultResponse is the outcome of a mutating call.
type ResultResponse struct {
	Status               string           `json:"status"`
	PositionID           string           `json:"position_id,omitempty"`
	Amount               string           `json:"amount"`
	Rewards              string           `json:"rewards"`
	ActionablesValidated int              `json:"actionables_validated"`
	Liquidated           []LiquidatedTick `json:"liquidated"`
	Sequence             uint64           `json:"sequence"`
	StateHash            string           `json:"state_hash"`
}

type callFn func(ctx context.Context, e *core.Engine, call core.Call) (core.Result, error)

// run executes fn on the sequencer. The call time is read there so it
// never goes backwards relative to the sequence.
func (s *HTTPServer) run(w http.ResponseWriter, r *http.Request, base baseRequest, withPosition bool, fn callFn) {
	if base.Sender == (common.Address{}) {
		writeError(w, badRequest("sender is required", nil))
		return
	}

	var resp ResultResponse
	err := s.deps.Sequencer.Do(r.Context(), func(e *core.Engine) error {
		call := core.Call{Sender: base.Sender, Now: s.deps.Clock(), OracleData: base.OracleData}
		res, err := fn(r.Context(), e, call)
		if err != nil {
			return err
		}
		hash := e.StateHash()
		resp = ResultResponse{
			Status:               res.Status.String(),
			Amount:               tokenString(res.Amount),
			Rewards:              tokenString(res.Rewards),
			ActionablesValidated: res.ActionablesValidated,
			Liquidated:           make([]LiquidatedTick, 0, len(res.Liquidated)),
			Sequence:             e.Sequence(),
			StateHash:            hex.EncodeToString(hash[:]),
		}
		if withPosition && res.Status == core.StatusApplied {
			resp.PositionID = res.PositionID.String()
		}
		for _, t := range res.Liquidated {
			resp.Liquidated = append(resp.Liquidated, LiquidatedTick{
				Tick:                t.Tick,
				TickVersion:         t.TickVersion,
				TotalPositions:      t.TotalPositions,
				TotalExpo:           tokenString(t.TotalExpo),
				RemainingCollateral: tokenString(t.RemainingCollateral),
				TickPrice:           fpmath.ToDecimal(t.TickPrice, fpmath.PriceDecimals).String(),
			})
		}
		return nil
	})
	if err != nil {
		s.deps.Logger.Debug().Err(err).Str("path", r.URL.Path).Str("sender", base.Sender.Hex()).Msg("call rejected")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func tokenString(v sdkmath.Int) string {
	if v.IsNil() {
		return "0"
	}
	return fpmath.ToDecimal(v, fpmath.TokensDecimals).String()
}

type initializeRequest struct {
	baseRequest
	Deposit          decimal.Decimal `json:"deposit"`
	Long             decimal.Decimal `json:"long"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
}

func (s *HTTPServer) initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	deposit, err := amount("deposit", req.Deposit, fpmath.TokensDecimals)
	if err != nil {
		writeError(w, err)
		return
	}
	long, err := amount("long", req.Long, fpmath.TokensDecimals)
	if err != nil {
		writeError(w, err)
		return
	}
	liq, err := amount("liquidation_price", req.LiquidationPrice, fpmath.PriceDecimals)
	if err != nil {
		writeError(w, err)
		return
	}
	s.run(w, r, req.baseRequest, true, func(ctx context.Context, e *core.Engine, call core.Call) (core.Result, error) {
		return e.Initialize(ctx, call, deposit, long, liq)
	})
}

type depositRequest struct {
	baseRequest
	Amount    decimal.Decimal `json:"amount"`
	To        common.Address  `json:"to"`
	Validator common.Address  `json:"validator"`
}

func (s *HTTPServer) initiateDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amt, err := amount("amount", req.Amount, fpmath.TokensDecimals)
	if err != nil {
		writeError(w, err)
		return
	}
	to, validator := orSender(req.To, req.Sender), orSender(req.Validator, req.Sender)
	s.run(w, r, req.baseRequest, false, func(ctx context.Context, e *core.Engine, call core.Call) (core.Result, error) {
		return e.InitiateDeposit(ctx, call, amt, to, validator)
	})
}

type validateRequest struct {
	baseRequest
	Validator common.Address `json:"validator"`
}

// validateHandler builds a handler for the four validate entry points.
func (s *HTTPServer) validateHandler(withPosition bool, fn func(e *core.Engine, ctx context.Context, call core.Call, validator common.Address) (core.Result, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validateRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		validator := orSender(req.Validator, req.Sender)
		s.run(w, r, req.baseRequest, withPosition, func(ctx context.Context, e *core.Engine, call core.Call) (core.Result, error) {
			return fn(e, ctx, call, validator)
		})
	}
}

func (s *HTTPServer) validateDeposit(w http.ResponseWriter, r *http.Request) {
	s.validateHandler(false, (*core.Engine).ValidateDeposit)(w, r)
}

type withdrawalRequest struct {
	baseRequest
	Shares    decimal.Decimal `json:"shares"`
	To        common.Address  `json:"to"`
	Validator common.Address  `json:"validator"`
}

func (s *HTTPServer) initiateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	shares, err := amount("shares", req.Shares, fpmath.TokensDecimals)
	if err != nil {
		writeError(w, err)
		return
	}
	to, validator := orSender(req.To, req.Sender), orSender(req.Validator, req.Sender)
	s.run(w, r, req.baseRequest, false, func(ctx context.Context, e *core.Engine, call core.Call) (core.Result, error) {
		return e.InitiateWithdrawal(ctx, call, shares, to, validator)
	})
}

func (s *HTTPServer) validateWithdrawal(w http.ResponseWriter, r *http.Request) {
	s.validateHandler(false, (*core.Engine).ValidateWithdrawal)(w, r)
}

type openRequest struct {
	baseRequest
	Amount           decimal.Decimal `json:"amount"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	To               common.Address  `json:"to"`
	Validator        common.Address  `json:"validator"`
}

func (s *HTTPServer) initiateOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amt, err := amount("amount", req.Amount, fpmath.TokensDecimals)
	if err != nil {
		writeError(w, err)
		return
	}
	liq, err := amount("liquidation_price", req.LiquidationPrice, fpmath.PriceDecimals)
	if err != nil {
		writeError(w, err)
		return
	}
	to, validator := orSender(req.To, req.Sender), orSender(req.Validator, req.Sender)
	s.run(w, r, req.baseRequest, true, func(ctx context.Context, e *core.Engine, call core.Call) (core.Result, error) {
		return e.InitiateOpenPosition(ctx, call, amt, liq, to, validator)
	})
}

func (s *HTTPServer) validateOpen(w http.ResponseWriter, r *http.Request) {
	s.validateHandler(true, (*core.Engine).ValidateOpenPosition)(w, r)
}

type closeRequest struct {
	baseRequest
	PositionID string          `json:"position_id"`
	Amount     decimal.Decimal `json:"amount"`
	To         common.Address  `json:"to"`
	Validator  common.Address  `json:"validator"`
}

func (s *HTTPServer) initiateClose(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := state.ParsePositionID(req.PositionID)
	if err != nil {
		writeError(w, badRequest("position_id", err))
		return
	}
	amt, err := amount("amount", req.Amount, fpmath.TokensDecimals)
	if err != nil {
		writeError(w, err)
		return
	}
	to, validator := orSender(req.To, req.Sender), orSender(req.Validator, req.Sender)
	s.run(w, r, req.baseRequest, false, func(ctx context.Context, e *core.Engine, call core.Call) (core.Result, error) {
		return e.InitiateClosePosition(ctx, call, id, amt, to, validator)
	})
}

func (s *HTTPServer) validateClose(w http.ResponseWriter, r *http.Request) {
	s.validateHandler(false, (*core.Engine).ValidateClosePosition)(w, r)
}

type liquidateRequest struct {
	baseRequest
	Iterations int `json:"iterations"` // 0: the configured default
}

func (s *HTTPServer) liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.run(w, r, req.baseRequest, false, func(ctx context.Context, e *core.Engine, call core.Call) (core.Result, error) {
		iterations := req.Iterations
		if iterations == 0 {
			iterations = e.Params().LiquidationIterations
		}
		return e.Liquidate(ctx, call, iterations)
	})
}

type actionableRequest struct {
	baseRequest
	Limit int `json:"limit"` // 0: the configured default
}

func (s *HTTPServer) validateActionable(w http.ResponseWriter, r *http.Request) {
	var req actionableRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.run(w, r, req.baseRequest, false, func(ctx context.Context, e *core.Engine, call core.Call) (core.Result, error) {
		limit := req.Limit
		if limit == 0 {
			limit = e.Params().MaxActionablesPerCall
		}
		return e.ValidateActionablePendingActions(ctx, call, limit)
	})
}

type faucetRequest struct {
	Address common.Address  `json:"address"`
	Asset   string          `json:"asset"`
	Amount  decimal.Decimal `json:"amount"`
}

// faucet credits a wallet from the external faucet account. Test networks only.
func (s *HTTPServer) faucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	asset, ok := ledger.GetAssetID(req.Asset)
	if !ok || asset == ledger.AssetStable {
		writeError(w, badRequest(fmt.Sprintf("asset %q cannot be funded", req.Asset), nil))
		return
	}
	amt, err := amount("amount", req.Amount, fpmath.TokensDecimals)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Address == (common.Address{}) {
		writeError(w, badRequest("address is required", nil))
		return
	}
	err = s.deps.Sequencer.Do(r.Context(), func(*core.Engine) error {
		return s.deps.Bank.Fund(req.Address, asset, amt)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.getBalanceOf(w, r, req.Address)
}

// --- views ---

func (s *HTTPServer) getState(w http.ResponseWriter, r *http.Request) {
	resp, err := s.deps.Query.GetState(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) getParams(w http.ResponseWriter, r *http.Request) {
	resp, err := s.deps.Query.GetParams(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) getTick(w http.ResponseWriter, r *http.Request) {
	tick, err := strconv.ParseInt(chi.URLParam(r, "tick"), 10, 32)
	if err != nil {
		writeError(w, badRequest("tick", err))
		return
	}
	resp, err := s.deps.Query.GetTick(r.Context(), int32(tick))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) listPositions(w http.ResponseWriter, r *http.Request) {
	var owner *common.Address
	if raw := r.URL.Query().Get("owner"); raw != "" {
		addr, err := parseAddress(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		owner = &addr
	}
	resp, err := s.deps.Query.GetPositions(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) getPosition(w http.ResponseWriter, r *http.Request) {
	id, err := state.ParsePositionID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, badRequest("position id", err))
		return
	}
	resp, err := s.deps.Query.GetPosition(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) getPending(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.deps.Query.GetPending(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) listActionable(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.deps.Query.GetActionable(r.Context(), s.deps.Clock(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) getBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	s.getBalanceOf(w, r, addr)
}

func (s *HTTPServer) getBalanceOf(w http.ResponseWriter, r *http.Request, addr common.Address) {
	resp, err := s.deps.Query.GetBalance(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) fundingHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, err)
		return
	}
	since, err := queryUint(r, "since")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Query.GetFundingHistory(limit, since))
}

func (s *HTTPServer) liquidationHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Query.GetLiquidationHistory(limit))
}

func (s *HTTPServer) listEvents(w http.ResponseWriter, r *http.Request) {
	from, err := queryUint(r, "from")
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, err)
		return
	}
	var start uint64
	if from != nil {
		start = *from
	}
	resp, err := s.deps.Query.GetEvents(r.Context(), start, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) integrity(w http.ResponseWriter, r *http.Request) {
	resp, err := s.deps.Query.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusOK
	if !resp.IsHealthy {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, resp)
}
