/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the investment-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/ideainvest/investment-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Project ledger methods
	FindProjectByID(ctx context.Context, projectID uuid.UUID) (*domain.Project, error)
	// GetProjectCapacity computes remaining = target - sum(completed order amounts)
	// outside any lock. The capacity check on the write path runs inside
	// CreateOrderWithCapacityCheck instead, under the project row lock.
	GetProjectCapacity(ctx context.Context, projectID uuid.UUID) (*domain.ProjectCapacity, error)

	// Order intake methods
	// FindOrderByReference resolves the idempotency key to an existing order, if any.
	FindOrderByReference(ctx context.Context, projectID, userID uuid.UUID, referenceID string) (*domain.Order, error)
	FindTransactionByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Transaction, error)
	// CreateOrderWithCapacityCheck re-reads remaining capacity and inserts the
	// order (requested) and its pending transaction as one atomic unit,
	// serialized per project by a row lock on the projects row. Requested
	// orders reserve capacity alongside completed ones, so a submission whose
	// charge is still in flight already counts against the target.
	CreateOrderWithCapacityCheck(ctx context.Context, order *domain.Order, tx *domain.Transaction) error
	// ReserveResumedOrder re-runs the capacity check under the project row
	// lock for an existing order that is about to be retried, excluding the
	// order's own amount from the committed sum, and flips the order back to
	// requested so it holds a reservation again.
	ReserveResumedOrder(ctx context.Context, order *domain.Order) error
	FindOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Order, error)
	FindOrderByID(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, error)

	// Reconciliation methods
	SettleTransaction(ctx context.Context, transactionID uuid.UUID, params SettleTransactionParams) error
	FailTransaction(ctx context.Context, transactionID uuid.UUID, errorPayload json.RawMessage) error
	// MarkStaleOrdersFailed fails orders stuck in the requested state (with an
	// unsettled transaction) created before the cutoff. Returns the number of
	// orders transitioned.
	MarkStaleOrdersFailed(ctx context.Context, cutoff time.Time, errorPayload json.RawMessage) (int64, error)

	// Reporting methods (read-only, completed orders)
	CountInvestorsSince(ctx context.Context, since time.Time) (int64, error)
	SumInvestmentSince(ctx context.Context, since time.Time) (int64, error)
	InvestmentByCountry(ctx context.Context) ([]domain.CountryInvestment, error)
	DailyInvestment(ctx context.Context, monthStart time.Time) ([]domain.PeriodInvestment, error)
	MonthlyInvestment(ctx context.Context, yearStart time.Time) ([]domain.PeriodInvestment, error)

	// Session methods (one active session per user, swapped atomically)
	SwapActiveSession(ctx context.Context, session *domain.Session) error
	FindActiveSession(ctx context.Context, userID uuid.UUID) (*domain.Session, error)
	DeleteActiveSession(ctx context.Context, userID uuid.UUID) error
}

// SettleTransactionParams carries the terminal successful outcome of a charge.
type SettleTransactionParams struct {
	PaidAmount   int64
	ProviderTxID string
	Response     json.RawMessage
	PaymentDate  time.Time
}
