/**
 * @description
 * HTTP handlers for the reporting endpoints. All report queries count only
 * completed orders; window boundaries are computed in the service's configured
 * reporting time zone.
 */

package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/ideainvest/investment-service/internal/app"
	"github.com/ideainvest/investment-service/internal/domain"
)

// reportWindowFromQuery reads the `window` query parameter, defaulting to day.
func reportWindowFromQuery(r *http.Request) domain.ReportWindow {
	window := r.URL.Query().Get("window")
	if window == "" {
		return domain.ReportWindowDay
	}
	return domain.ReportWindow(window)
}

// InvestorCountHandler returns the number of distinct investors in the window.
func (h *InvestmentHandlers) InvestorCountHandler(w http.ResponseWriter, r *http.Request) {
	window := reportWindowFromQuery(r)
	count, err := h.service.CountInvestors(r.Context(), window)
	if err != nil {
		h.writeReportError(w, "investor_count", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"window": window, "investors": count})
}

// InvestmentSumHandler returns the total completed investment in the window.
func (h *InvestmentHandlers) InvestmentSumHandler(w http.ResponseWriter, r *http.Request) {
	window := reportWindowFromQuery(r)
	total, err := h.service.SumInvestment(r.Context(), window)
	if err != nil {
		h.writeReportError(w, "investment_sum", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"window": window, "total": total})
}

// CountrywiseInvestmentHandler returns completed investment grouped by country.
func (h *InvestmentHandlers) CountrywiseInvestmentHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.InvestmentByCountry(r.Context())
	if err != nil {
		h.writeReportError(w, "countrywise_investment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"countries": rows})
}

// DailyInvestmentHandler returns per-day totals for the current month.
func (h *InvestmentHandlers) DailyInvestmentHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.DailyInvestment(r.Context())
	if err != nil {
		h.writeReportError(w, "daily_investment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"days": rows})
}

// MonthlyInvestmentHandler returns per-month totals for the current year.
func (h *InvestmentHandlers) MonthlyInvestmentHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.MonthlyInvestment(r.Context())
	if err != nil {
		h.writeReportError(w, "monthly_investment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"months": rows})
}

func (h *InvestmentHandlers) writeReportError(w http.ResponseWriter, endpoint string, err error) {
	if errors.Is(err, app.ErrInvalidReportWindow) {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Printf("level=error component=api endpoint=%s err=%v", endpoint, err)
	h.writeError(w, http.StatusInternalServerError, "Unable to compute report")
}
