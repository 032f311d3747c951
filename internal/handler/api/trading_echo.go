package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"SignalFuse/internal/domain/models"
	domrepo "SignalFuse/internal/domain/repository"
	domsvc "SignalFuse/internal/domain/service"
	icache "SignalFuse/internal/service/cache"
	"SignalFuse/internal/service/ratelimit"
	"SignalFuse/internal/services/fusion"
	"SignalFuse/internal/services/risk"
	"SignalFuse/internal/services/rl"
	"SignalFuse/internal/usecase"
	xhttp "SignalFuse/pkg/http"
	xlogger "SignalFuse/pkg/logger"
	"SignalFuse/pkg/util"
)

const (
	performanceTTL = 15 * time.Second
	fuseBurst      = 10
	fuseRefill     = 5
)

// TradingDeps are the read models and services behind the trading API.
type TradingDeps struct {
	Logger    *xlogger.Logger
	Weights   domrepo.WeightStore
	Engine    *fusion.Engine
	Advisor   domsvc.Advisor
	Agent     *rl.Agent
	Registry  *usecase.Registry
	Evaluator *usecase.Evaluator
	Candles   *usecase.CandlesUseCase
	History   *risk.TradeHistory
}

// TradingEchoHandler exposes decisions, trades and model state over HTTP.
type TradingEchoHandler struct {
	deps    TradingDeps
	limiter *ratelimit.Limiter
	cache   *icache.TTLCache[any]
}

func NewTradingEchoHandler(deps TradingDeps) *TradingEchoHandler {
	if deps.Logger == nil {
		deps.Logger = xlogger.NewNop()
	}
	return &TradingEchoHandler{deps: deps, limiter: ratelimit.New(), cache: icache.NewTTLCache[any]()}
}

func (h *TradingEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/weights", h.Weights)
	g.GET("/performance", h.Performance)
	g.GET("/risk/history", h.RiskHistory)
	g.GET("/trades/open", h.OpenTrades)
	g.POST("/trades/:id/resolve", h.ResolveTrade)
	g.GET("/decisions/summary", h.DecisionSummary)
	g.GET("/qtable/state", h.QState)
	g.GET("/candles", h.Candles)
	g.POST("/fuse", h.Fuse)
}

func (h *TradingEchoHandler) Weights(c echo.Context) error {
	w, err := h.deps.Weights.LoadWeights(c.Request().Context())
	if err != nil {
		h.deps.Logger.Error("load weights", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("weights unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, w)
}

func (h *TradingEchoHandler) Performance(c echo.Context) error {
	req := &models.PerformanceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	since, verr := parseSince(req.Since)
	if verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	key := "performance:" + req.Since
	if v, ok := h.cache.Get(key); ok {
		return xhttp.SuccessResponse(c, v)
	}
	report, err := h.deps.Evaluator.Report(c.Request().Context(), since)
	if err != nil {
		h.deps.Logger.Error("performance report", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("performance unavailable").WithError(err))
	}
	h.cache.Set(key, report, performanceTTL)
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, report)
}

func (h *TradingEchoHandler) RiskHistory(c echo.Context) error {
	if h.deps.History == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("trade history disabled"))
	}
	return xhttp.SuccessResponse(c, h.deps.History.Snapshot())
}

func (h *TradingEchoHandler) OpenTrades(c echo.Context) error {
	req := &models.OpenTradesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	open := h.deps.Registry.Open()
	if req.Symbol != "" {
		sym := strings.ToUpper(req.Symbol)
		filtered := open[:0]
		for _, t := range open {
			if t.Symbol == sym {
				filtered = append(filtered, t)
			}
		}
		open = filtered
	}
	return xhttp.ListResponse(c, open, int64(len(open)))
}

func (h *TradingEchoHandler) ResolveTrade(c echo.Context) error {
	id := c.Param("id")
	if !h.deps.Registry.Resolve(id) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no orphaned trade "+id))
	}
	h.deps.Logger.Info("orphaned trade resolved", xlogger.String("trade_id", id))
	return xhttp.SuccessResponse(c, map[string]string{"id": id, "status": "resolved"})
}

func (h *TradingEchoHandler) DecisionSummary(c echo.Context) error {
	req := &models.DecisionSummaryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	since, verr := parseSince(req.Since)
	if verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, err := h.deps.Evaluator.Summary(c.Request().Context(), since)
	if err != nil {
		h.deps.Logger.Error("decision summary", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("decisions unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, s)
}

type qStateResponse struct {
	State  string                    `json:"state"`
	Known  bool                      `json:"known"`
	Values map[models.Action]float64 `json:"values,omitempty"`
	Best   models.Action             `json:"best"`
}

func (h *TradingEchoHandler) QState(c echo.Context) error {
	req := &models.QStateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	state := models.NewStateKey(req.Technical, req.Sentiment)
	values, known := h.deps.Agent.Table().Get(state)
	return xhttp.SuccessResponse(c, qStateResponse{
		State:  state.String(),
		Known:  known,
		Values: values,
		Best:   h.deps.Agent.Predict(state),
	})
}

func (h *TradingEchoHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.deps.Candles.GetCandles(c.Request().Context(), usecase.GetCandlesParams{
		Symbol:   strings.ToUpper(req.Symbol),
		Interval: domrepo.NormalizeInterval(req.Interval),
		Limit:    req.Limit,
	})
	if err != nil {
		h.deps.Logger.Error("candles usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("candles unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

type fuseResponse struct {
	Symbol string              `json:"symbol"`
	State  string              `json:"state"`
	Result models.FusionResult `json:"result"`
}

// Fuse runs fusion on caller-supplied signals without trading.
func (h *TradingEchoHandler) Fuse(c echo.Context) error {
	if !h.limiter.Allow(c.RealIP()+":fuse", fuseBurst, fuseRefill) {
		h.deps.Logger.Warn("fuse rate limited", xlogger.String("remote", c.RealIP()))
		return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
	}
	req := &models.FuseRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	weights, err := h.deps.Weights.LoadWeights(ctx)
	if err != nil {
		h.deps.Logger.Warn("weights unavailable, using defaults", xlogger.Error(err))
		weights = models.DefaultWeightSet()
	}
	weights.UseAdvisor = weights.UseAdvisor && req.UseAdvisor

	signals := req.Signals.Clone()
	state := models.StateFromSignals(signals)
	if _, ok := signals[models.SignalRL]; !ok && h.deps.Agent != nil {
		signals[models.SignalRL] = models.Discrete(h.deps.Agent.Predict(state))
	}
	res := h.deps.Engine.Fuse(ctx, signals, weights, h.deps.Advisor)
	return xhttp.SuccessResponse(c, fuseResponse{Symbol: strings.ToUpper(req.Symbol), State: state.String(), Result: res})
}

func parseSince(s string) (time.Time, []xhttp.ValidationError) {
	since, ok := util.ParseSince(s, time.Now())
	if !ok {
		return time.Time{}, []xhttp.ValidationError{{
			Code:    "ERR_DURATION",
			Field:   "since",
			Message: "since must be a lookback such as 24h or a past RFC3339 time",
		}}
	}
	return since, nil
}
