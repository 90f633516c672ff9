/**
 * @description
 * This file provides the PostgreSQL implementation of the read-only reporting
 * queries. All aggregates run over completed orders only; pending and failed
 * orders never count towards investment totals. Time windows are computed by
 * the caller in the configured reporting time zone and passed as parameters,
 * so the database server's time zone never leaks into the results.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"time"

	"github.com/ideainvest/investment-service/internal/domain"
)

// CountInvestorsSince counts distinct investing users with at least one
// completed order created at or after the window start.
func (r *PostgresRepository) CountInvestorsSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	query := `
		SELECT COUNT(DISTINCT order_by_id)
		FROM orders
		WHERE status = $2 AND created_at >= $1
	`
	if err := r.db.QueryRow(ctx, query, since, domain.OrderStatusCompleted).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// SumInvestmentSince sums completed order amounts created at or after the
// window start.
func (r *PostgresRepository) SumInvestmentSince(ctx context.Context, since time.Time) (int64, error) {
	var total int64
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM orders
		WHERE status = $2 AND created_at >= $1
	`
	if err := r.db.QueryRow(ctx, query, since, domain.OrderStatusCompleted).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// InvestmentByCountry breaks completed investment totals down by the investing
// user's address country.
func (r *PostgresRepository) InvestmentByCountry(ctx context.Context) ([]domain.CountryInvestment, error) {
	query := `
		SELECT a.country, SUM(o.amount) AS total_amount
		FROM orders o
		JOIN users u ON o.order_by_id = u.id
		JOIN addresses a ON u.id = a.user_id
		WHERE o.status = $1
		GROUP BY a.country
		ORDER BY total_amount DESC
	`
	rows, err := r.db.Query(ctx, query, domain.OrderStatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var breakdown []domain.CountryInvestment
	for rows.Next() {
		var row domain.CountryInvestment
		if err := rows.Scan(&row.Country, &row.TotalAmount); err != nil {
			return nil, err
		}
		breakdown = append(breakdown, row)
	}
	return breakdown, rows.Err()
}

// DailyInvestment returns per-day completed totals for orders created at or
// after the given month start.
func (r *PostgresRepository) DailyInvestment(ctx context.Context, monthStart time.Time) ([]domain.PeriodInvestment, error) {
	query := `
		SELECT EXTRACT(DAY FROM created_at)::int AS day, COALESCE(SUM(amount), 0) AS total_amount
		FROM orders
		WHERE status = $2 AND created_at >= $1
		GROUP BY day
		ORDER BY day ASC
	`
	return r.queryPeriodInvestment(ctx, query, monthStart)
}

// MonthlyInvestment returns per-month completed totals for orders created at
// or after the given year start.
func (r *PostgresRepository) MonthlyInvestment(ctx context.Context, yearStart time.Time) ([]domain.PeriodInvestment, error) {
	query := `
		SELECT EXTRACT(MONTH FROM created_at)::int AS month, COALESCE(SUM(amount), 0) AS total_amount
		FROM orders
		WHERE status = $2 AND created_at >= $1
		GROUP BY month
		ORDER BY month ASC
	`
	return r.queryPeriodInvestment(ctx, query, yearStart)
}

func (r *PostgresRepository) queryPeriodInvestment(ctx context.Context, query string, since time.Time) ([]domain.PeriodInvestment, error) {
	rows, err := r.db.Query(ctx, query, since, domain.OrderStatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var series []domain.PeriodInvestment
	for rows.Next() {
		var bucket domain.PeriodInvestment
		if err := rows.Scan(&bucket.Period, &bucket.TotalAmount); err != nil {
			return nil, err
		}
		series = append(series, bucket)
	}
	return series, rows.Err()
}
