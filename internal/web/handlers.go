/*

This file contains the portfolio handlers of the inspection API.

Amounts are returned both as raw base units and as decimals with 9 places (the *_units fields);
basis points are accompanied by percentages.

*/

package web

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shopspring/decimal"

	"github.com/elys-network/rebalancer/internal/config"
	"github.com/elys-network/rebalancer/internal/state"
	"github.com/elys-network/rebalancer/internal/types"
	"github.com/elys-network/rebalancer/internal/utils"
)

type strategyView struct {
	types.Strategy
	BalanceUnits decimal.Decimal `json:"balance_units"`
	YieldPercent decimal.Decimal `json:"yield_percent"`
}

func newStrategyView(s types.Strategy) strategyView {
	return strategyView{
		Strategy:     s,
		BalanceUnits: utils.BaseUnitsToDecimal(s.CurrentBalance, utils.AmountDecimals),
		YieldPercent: utils.BpsToPercent(s.YieldRateBps),
	}
}

type summaryView struct {
	*state.PortfolioSummary
	TotalBalanceUnits      decimal.Decimal `json:"total_balance_units"`
	TotalCapitalMovedUnits decimal.Decimal `json:"total_capital_moved_units"`
	TotalFeesPaidUnits     decimal.Decimal `json:"total_fees_paid_units"`
}

// handleHealth reports process and store health.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	portfolios, storeErr := ws.service.Store().ListPortfolios(r.Context())
	storeHealthy := storeErr == nil

	overallStatus := "OK"
	statusCode := http.StatusOK
	if !storeHealthy {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
		webLogger.Error().Err(storeErr).Msg("Store health check failed")
	}

	subscribers := 0
	if ws.events != nil {
		subscribers = ws.events.ClientCount()
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.startedAt).Seconds()),
		},
		"component": map[string]interface{}{
			"name":    "capital-rebalancer",
			"version": "1.0.0",
		},
		"rebalancer_status": map[string]interface{}{
			"store_healthy":     storeHealthy,
			"portfolios":        len(portfolios),
			"event_subscribers": subscribers,
		},
	}

	ws.writeJSONResponse(w, statusCode, response)
}

func (ws *WebServer) handleListPortfolios(w http.ResponseWriter, r *http.Request) {
	portfolios, err := ws.service.Store().ListPortfolios(r.Context())
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to list portfolios")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve portfolios")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"portfolios": portfolios,
		"count":      len(portfolios),
	})
}

func (ws *WebServer) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	manager, ok := ws.managerFromRequest(w, r)
	if !ok {
		return
	}
	portfolio, err := ws.service.Store().GetPortfolio(r.Context(), manager)
	if err != nil {
		ws.writeErrorResponse(w, statusForError(err), err.Error())
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"portfolio":                 portfolio,
		"next_rebalance_at":         portfolio.NextRebalanceAt(),
		"can_rebalance":             portfolio.CanRebalance(ws.service.Engine().Clock().Now()),
		"total_capital_moved_units": utils.BaseUnitsToDecimal(portfolio.TotalCapitalMoved, utils.AmountDecimals),
		"performance_fee_percent":   utils.BpsToPercent(uint64(portfolio.PerformanceFeeBps)),
	})
}

func (ws *WebServer) handleGetStrategies(w http.ResponseWriter, r *http.Request) {
	manager, ok := ws.managerFromRequest(w, r)
	if !ok {
		return
	}
	strategies, err := ws.service.Store().ListStrategies(r.Context(), manager)
	if err != nil {
		ws.writeErrorResponse(w, statusForError(err), err.Error())
		return
	}

	views := make([]strategyView, 0, len(strategies))
	for _, s := range strategies {
		views = append(views, newStrategyView(s))
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"strategies": views,
		"count":      len(views),
	})
}

func (ws *WebServer) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	manager, ok := ws.managerFromRequest(w, r)
	if !ok {
		return
	}
	summary, err := state.GetPortfolioSummary(r.Context(), ws.service.Store(), manager)
	if err != nil {
		webLogger.Error().Err(err).Str("manager", manager.String()).Msg("Failed to get portfolio summary")
		ws.writeErrorResponse(w, statusForError(err), "Failed to retrieve portfolio summary")
		return
	}

	view := summaryView{PortfolioSummary: summary}
	if view.TotalBalanceUnits, err = utils.SDKIntToDecimal(summary.TotalBalance, utils.AmountDecimals); err == nil {
		if view.TotalCapitalMovedUnits, err = utils.SDKIntToDecimal(summary.TotalCapitalMoved, utils.AmountDecimals); err == nil {
			view.TotalFeesPaidUnits, err = utils.SDKIntToDecimal(summary.TotalFeesPaid, utils.AmountDecimals)
		}
	}
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to convert summary amounts")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to convert summary amounts")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, view)
}

// handleGetPlans returns the most recent executed cycle reports.
func (ws *WebServer) handleGetPlans(w http.ResponseWriter, r *http.Request) {
	manager, ok := ws.managerFromRequest(w, r)
	if !ok {
		return
	}
	limit := limitFromRequest(r)
	if _, err := ws.service.Store().GetPortfolio(r.Context(), manager); err != nil {
		ws.writeErrorResponse(w, statusForError(err), err.Error())
		return
	}
	reports, err := ws.service.Store().RecentCycleReports(r.Context(), manager, limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent cycle reports")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cycle reports")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"reports": reports,
		"count":   len(reports),
		"limit":   limit,
	})
}

// handlePreviewPlan computes the plan of the next cycle without executing it.
func (ws *WebServer) handlePreviewPlan(w http.ResponseWriter, r *http.Request) {
	manager, ok := ws.managerFromRequest(w, r)
	if !ok {
		return
	}
	plan, err := ws.service.PreviewPlan(r.Context(), manager)
	if err != nil {
		ws.writeErrorResponse(w, statusForError(err), err.Error())
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"plan":                   plan,
		"total_to_extract_units": utils.BaseUnitsToDecimal(plan.TotalToExtract, utils.AmountDecimals),
		"estimated_fees_units":   utils.BaseUnitsToDecimal(plan.EstimatedFees, utils.AmountDecimals),
	})
}

// handleGetRiskProfile exports the portfolio's active limits as a YAML risk profile.
func (ws *WebServer) handleGetRiskProfile(w http.ResponseWriter, r *http.Request) {
	manager, ok := ws.managerFromRequest(w, r)
	if !ok {
		return
	}
	if _, err := ws.service.Store().GetPortfolio(r.Context(), manager); err != nil {
		ws.writeErrorResponse(w, statusForError(err), err.Error())
		return
	}
	limits, err := ws.service.RiskLimits(r.Context(), manager)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to load risk limits")
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	if err := config.WriteRiskProfile(w, limits); err != nil {
		webLogger.Error().Err(err).Msg("Failed to write risk profile")
	}
}
