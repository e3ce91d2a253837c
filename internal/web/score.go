package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/elys-network/rebalancer/internal/analyzer"
	"github.com/elys-network/rebalancer/internal/metrics"
	"github.com/elys-network/rebalancer/internal/types"
	"github.com/elys-network/rebalancer/internal/utils"
)

type scoreRequest struct {
	YieldRateBps    uint64 `json:"yield_rate_bps"`
	Balance         uint64 `json:"balance"`
	VolatilityScore uint32 `json:"volatility_score"`
}

type scoreResponse struct {
	analyzer.ScoreComponents
	YieldPercent decimal.Decimal `json:"yield_percent"`
	BalanceUnits decimal.Decimal `json:"balance_units"`
	Cached       bool            `json:"cached"`
}

// handleScore is a calculator for the performance score of hypothetical inputs.
// Results are deterministic, so they are cached by input.
func (ws *WebServer) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid score request")
		return
	}
	if err := types.ValidateYieldRate(req.YieldRateBps); err != nil {
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := types.ValidateVolatilityScore(req.VolatilityScore); err != nil {
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	key := fmt.Sprintf("%d:%d:%d", req.YieldRateBps, req.Balance, req.VolatilityScore)
	if cached, found := ws.scoreCache.Get(key); found {
		metrics.ScoreCacheHits.Inc()
		resp := cached.(scoreResponse)
		resp.Cached = true
		ws.writeJSONResponse(w, http.StatusOK, resp)
		return
	}
	metrics.ScoreCacheMisses.Inc()

	components, err := analyzer.CalculateScoreComponents(req.YieldRateBps, req.Balance, req.VolatilityScore)
	if err != nil {
		webLogger.Error().Err(err).Str("input", key).Msg("Score calculation failed")
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	resp := scoreResponse{
		ScoreComponents: components,
		YieldPercent:    utils.BpsToPercent(req.YieldRateBps),
		BalanceUnits:    utils.BaseUnitsToDecimal(req.Balance, utils.AmountDecimals),
	}
	ws.scoreCache.Set(key, resp, 1)

	ws.writeJSONResponse(w, http.StatusOK, resp)
}
