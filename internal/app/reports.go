/**
 * @description
 * Reporting aggregator for the investment-service. Window boundaries (start of
 * day / month / year) are computed here in the configured reporting time zone
 * and passed to the repository as plain timestamps, so the SQL stays free of
 * database-session time zone assumptions.
 */

package app

import (
	"context"
	"errors"
	"time"

	"github.com/ideainvest/investment-service/internal/domain"
)

var ErrInvalidReportWindow = errors.New("report window must be one of day, month, year")

// windowStart computes the start of the current day, month, or year containing
// now, in the given location.
func windowStart(now time.Time, window domain.ReportWindow, loc *time.Location) (time.Time, error) {
	local := now.In(loc)
	switch window {
	case domain.ReportWindowDay:
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc), nil
	case domain.ReportWindowMonth:
		return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc), nil
	case domain.ReportWindowYear:
		return time.Date(local.Year(), time.January, 1, 0, 0, 0, 0, loc), nil
	default:
		return time.Time{}, ErrInvalidReportWindow
	}
}

// CountInvestors returns the number of distinct users with a completed order
// in the current window.
func (s *Service) CountInvestors(ctx context.Context, window domain.ReportWindow) (int64, error) {
	start, err := windowStart(time.Now(), window, s.reportZone)
	if err != nil {
		return 0, err
	}
	return s.repo.CountInvestorsSince(ctx, start)
}

// SumInvestment returns the total completed investment amount in the current window.
func (s *Service) SumInvestment(ctx context.Context, window domain.ReportWindow) (int64, error) {
	start, err := windowStart(time.Now(), window, s.reportZone)
	if err != nil {
		return 0, err
	}
	return s.repo.SumInvestmentSince(ctx, start)
}

// InvestmentByCountry returns completed investment totals grouped by the
// investor's address country.
func (s *Service) InvestmentByCountry(ctx context.Context) ([]domain.CountryInvestment, error) {
	return s.repo.InvestmentByCountry(ctx)
}

// DailyInvestment returns per-day completed totals for the current month.
func (s *Service) DailyInvestment(ctx context.Context) ([]domain.PeriodInvestment, error) {
	start, err := windowStart(time.Now(), domain.ReportWindowMonth, s.reportZone)
	if err != nil {
		return nil, err
	}
	return s.repo.DailyInvestment(ctx, start)
}

// MonthlyInvestment returns per-month completed totals for the current year.
func (s *Service) MonthlyInvestment(ctx context.Context) ([]domain.PeriodInvestment, error) {
	start, err := windowStart(time.Now(), domain.ReportWindowYear, s.reportZone)
	if err != nil {
		return nil, err
	}
	return s.repo.MonthlyInvestment(ctx, start)
}
