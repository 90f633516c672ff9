/**
 * @description
 * This file defines the core domain models for the investment-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Using distinct types for API requests, database models, and external service
 *   payloads ensures clear separation of concerns and type safety.
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (cents), which avoids floating-point inaccuracies with financial data.
 */

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Order status values. An order starts as requested, becomes completed only
// after the payment gateway confirms the charge, and failed when the gateway
// rejects it or the attempt goes stale.
const (
	OrderStatusRequested = "requested"
	OrderStatusCompleted = "completed"
	OrderStatusFailed    = "failed"
)

// PaymentMethodStripe is the only payment method currently wired.
const PaymentMethodStripe = "stripe"

// Project represents an investable project. Orders reference it; its remaining
// capacity is always derived from requested and completed orders, never stored.
type Project struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	TargetInvest int64     `json:"target_invest"` // in minor units
	Currency     string    `json:"currency"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProjectCapacity is the ledger read for a single project.
type ProjectCapacity struct {
	ProjectID uuid.UUID `json:"project_id"`
	Target    int64     `json:"target"`    // in minor units
	Committed int64     `json:"committed"` // sum of requested (reserved) and completed order amounts
	Remaining int64     `json:"remaining"` // target - committed
	Currency  string    `json:"currency"`
}

// Order is a user's funding-intent record against a project. It maps directly
// to the `orders` table.
type Order struct {
	ID          uuid.UUID `json:"id"`
	Amount      int64     `json:"amount"` // in minor units
	Currency    string    `json:"currency"`
	ReferenceID string    `json:"reference_id"`
	Status      string    `json:"status"`
	OrderByID   uuid.UUID `json:"order_by_id"`
	ProjectID   uuid.UUID `json:"project_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Transaction is the payment-settlement record owned by exactly one Order.
// A transaction is pending until PaidAmount is set (settled) or a provider
// error payload is recorded (failed attempt, still retryable).
type Transaction struct {
	ID              uuid.UUID       `json:"id"`
	RequestedAmount int64           `json:"requested_amount"` // in minor units
	PaidAmount      *int64          `json:"paid_amount,omitempty"`
	Currency        string          `json:"currency"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentResponse json.RawMessage `json:"payment_response,omitempty"` // opaque provider payload, stored for audit
	ProviderTxID    *string         `json:"provider_tx_id,omitempty"`
	PaymentDate     *time.Time      `json:"payment_date,omitempty"`
	OrderID         uuid.UUID       `json:"order_id"`
	TransactionByID uuid.UUID       `json:"transaction_by_id"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Settled reports whether the transaction has a terminal successful outcome.
func (t *Transaction) Settled() bool {
	return t != nil && t.PaidAmount != nil
}

// SubmitOrderRequest is the DTO for incoming investment API requests.
type SubmitOrderRequest struct {
	ProjectID   uuid.UUID `json:"project_id"`
	Amount      int64     `json:"amount"` // in minor units
	Currency    string    `json:"currency"`
	ReferenceID string    `json:"reference_id"` // client-supplied idempotency token
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	TokenID     string    `json:"token_id"` // gateway card token
}

// OrderResult is returned to the caller after an order submission attempt.
type OrderResult struct {
	Order        *Order       `json:"order"`
	Transaction  *Transaction `json:"transaction"`
	ProviderTxID string       `json:"provider_tx_id,omitempty"`
	Resumed      bool         `json:"resumed"` // true when an existing pair was replayed
}

// OrderEvent is the message payload published to RabbitMQ when an order
// reaches a terminal state.
type OrderEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	ProjectID   uuid.UUID `json:"project_id"`
	UserID      uuid.UUID `json:"user_id"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	ReferenceID string    `json:"reference_id"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// ReportWindow selects the truncation period for reporting queries.
type ReportWindow string

const (
	ReportWindowDay   ReportWindow = "day"
	ReportWindowMonth ReportWindow = "month"
	ReportWindowYear  ReportWindow = "year"
)

// CountryInvestment is one row of the countrywise investment breakdown.
type CountryInvestment struct {
	Country     string `json:"country"`
	TotalAmount int64  `json:"total_amount"`
}

// PeriodInvestment is one bucket of a daily or monthly investment series.
type PeriodInvestment struct {
	Period      int   `json:"period"` // day-of-month or month-of-year
	TotalAmount int64 `json:"total_amount"`
}

// Session is the single active session for a user. Issuing a new session
// atomically replaces the previous one, logging out the prior device.
type Session struct {
	UserID    uuid.UUID `json:"user_id"`
	TokenHash string    `json:"-"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
