/**
 * @description
 * This file contains the core business logic for the investment-service. The `Service`
 * struct orchestrates the order intake flow, coordinating between the database
 * repository, the payment gateway client, and the message broker.
 *
 * Key features:
 * - Implements the main use case: submitting an investment order against a project.
 * - Enforces the funding-cap invariant: the capacity check and order creation run
 *   as one atomic unit in the repository, serialized per project.
 * - Treats the client-supplied reference id as an idempotency key: retried
 *   submissions resume the existing order/transaction pair instead of duplicating it.
 * - Keeps the gateway call outside any database transaction, then reconciles the
 *   outcome onto the transaction and order.
 * - Publishes events to RabbitMQ when orders reach a terminal state.
 *
 * @dependencies
 * - context, encoding/json, errors, fmt, log, strings, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/stripeclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ideainvest/investment-service/internal/domain"
	"github.com/ideainvest/investment-service/internal/store"
	"github.com/ideainvest/investment-service/pkg/rabbitmq"
	"github.com/ideainvest/investment-service/pkg/stripeclient"
)

var (
	ErrInvalidAmount    = errors.New("investment amount must be greater than zero")
	ErrInvalidReference = errors.New("reference id is required")
	ErrCurrencyMismatch = errors.New("order currency does not match project currency")
)

// RateLimitedError is returned when a user exceeds the order submission rate limit.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("order submissions rate limited; retry in %ds", e.RetryAfterSeconds)
}

// GatewayError wraps a payment gateway failure. The underlying cause has
// already been recorded on the transaction for audit before this is returned.
type GatewayError struct {
	Cause error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment failed: %v", e.Cause)
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// PaymentGateway is the subset of the gateway client the service depends on.
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, name, email, source string) (*stripeclient.CustomerResponse, error)
	CreateCharge(ctx context.Context, customerID string, amount int64, currency string) (*stripeclient.ChargeResponse, error)
}

// OrderRateLimiter is a distributed rate limiter over order submissions.
type OrderRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for investment orders.
type Service struct {
	repo          store.Repository
	gateway       PaymentGateway
	eventProducer rabbitmq.Publisher
	eventExchange string
	reportZone    *time.Location

	rateLimiter          OrderRateLimiter
	orderRateLimitPerMin int
}

// NewService creates a new investment service instance.
func NewService(repo store.Repository, gateway PaymentGateway, producer rabbitmq.Publisher, eventExchange string, reportZone *time.Location) *Service {
	if reportZone == nil {
		reportZone = time.UTC
	}
	return &Service{
		repo:          repo,
		gateway:       gateway,
		eventProducer: producer,
		eventExchange: eventExchange,
		reportZone:    reportZone,
	}
}

// SetOrderRateLimiter enables distributed rate limiting for order submissions.
func (s *Service) SetOrderRateLimiter(limiter OrderRateLimiter, perMinute int) {
	s.rateLimiter = limiter
	s.orderRateLimitPerMin = perMinute
}

// RemainingCapacity is the ledger read: how much of the project's target is
// still fundable, derived from completed orders.
func (s *Service) RemainingCapacity(ctx context.Context, projectID uuid.UUID) (*domain.ProjectCapacity, error) {
	return s.repo.GetProjectCapacity(ctx, projectID)
}

// SubmitOrder handles an investment request against a project.
//
// The flow: validate, resolve the reference id to an existing attempt (replay),
// otherwise atomically check capacity and create the order (requested) plus its
// pending transaction, then charge the gateway outside any database transaction
// and reconcile the outcome.
func (s *Service) SubmitOrder(ctx context.Context, userID uuid.UUID, req domain.SubmitOrderRequest) (*domain.OrderResult, error) {
	req.ReferenceID = strings.TrimSpace(req.ReferenceID)
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.ReferenceID == "" {
		return nil, ErrInvalidReference
	}

	if s.rateLimiter != nil && s.orderRateLimitPerMin > 0 {
		count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "order_submit", userID.String(), s.orderRateLimitPerMin, time.Minute)
		if err != nil {
			log.Printf("level=warn component=app op=submit_order msg=\"rate limiter unavailable; allowing request\" user_id=%s err=%v", userID, err)
		} else if count > s.orderRateLimitPerMin {
			return nil, &RateLimitedError{RetryAfterSeconds: retryAfter}
		}
	}

	// Replay path: the same (project, user, reference) triple must never
	// produce a second order/transaction pair.
	if result, err := s.resumeByReference(ctx, userID, req); result != nil || err != nil {
		return result, err
	}

	project, err := s.repo.FindProjectByID(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if req.Currency != "" && !strings.EqualFold(req.Currency, project.Currency) {
		return nil, ErrCurrencyMismatch
	}

	order := &domain.Order{
		ID:          uuid.New(),
		Amount:      req.Amount,
		Currency:    project.Currency,
		ReferenceID: req.ReferenceID,
		Status:      domain.OrderStatusRequested,
		OrderByID:   userID,
		ProjectID:   project.ID,
	}
	txRecord := &domain.Transaction{
		ID:              uuid.New(),
		RequestedAmount: order.Amount,
		Currency:        order.Currency,
		PaymentMethod:   domain.PaymentMethodStripe,
		OrderID:         order.ID,
		TransactionByID: userID,
	}

	if err := s.repo.CreateOrderWithCapacityCheck(ctx, order, txRecord); err != nil {
		if errors.Is(err, store.ErrDuplicateReference) {
			// Lost a race against a concurrent submission with the same
			// reference; fall back to the replay path once.
			if result, resumeErr := s.resumeByReference(ctx, userID, req); result != nil || resumeErr != nil {
				return result, resumeErr
			}
			return nil, store.ErrDuplicateReference
		}
		return nil, err
	}

	return s.chargeAndReconcile(ctx, order, txRecord, req, false)
}

// resumeByReference looks up an existing attempt for the idempotency key.
// A completed order is rejected as a duplicate; a requested or failed order is
// resumed with its existing transaction. (nil, nil) means no existing attempt.
func (s *Service) resumeByReference(ctx context.Context, userID uuid.UUID, req domain.SubmitOrderRequest) (*domain.OrderResult, error) {
	existing, err := s.repo.FindOrderByReference(ctx, req.ProjectID, userID, req.ReferenceID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if existing.Status == domain.OrderStatusCompleted {
		return nil, store.ErrDuplicateReference
	}

	txRecord, err := s.repo.FindTransactionByOrderID(ctx, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction for resumed order: %w", err)
	}
	if txRecord.Settled() {
		return nil, store.ErrDuplicateReference
	}

	// A failed attempt released its reservation, so capacity must be re-won
	// before the retry is allowed to charge.
	if err := s.repo.ReserveResumedOrder(ctx, existing); err != nil {
		return nil, err
	}

	log.Printf("level=info component=app op=submit_order msg=\"resuming existing attempt\" order_id=%s reference_id=%s user_id=%s", existing.ID, existing.ReferenceID, userID)
	return s.chargeAndReconcile(ctx, existing, txRecord, req, true)
}

// chargeAndReconcile runs the gateway charge and applies the outcome to the
// pending order/transaction pair. No database locks are held across the call.
func (s *Service) chargeAndReconcile(ctx context.Context, order *domain.Order, txRecord *domain.Transaction, req domain.SubmitOrderRequest, resumed bool) (*domain.OrderResult, error) {
	customer, err := s.gateway.CreateCustomer(ctx, req.Name, req.Email, req.TokenID)
	if err != nil {
		s.recordGatewayFailure(ctx, order, txRecord, err)
		return nil, &GatewayError{Cause: err}
	}

	charge, err := s.gateway.CreateCharge(ctx, customer.ID, order.Amount, order.Currency)
	if err != nil {
		s.recordGatewayFailure(ctx, order, txRecord, err)
		return nil, &GatewayError{Cause: err}
	}

	paymentDate := time.Now().UTC()
	if err := s.repo.SettleTransaction(ctx, txRecord.ID, store.SettleTransactionParams{
		PaidAmount:   order.Amount,
		ProviderTxID: charge.ID,
		Response:     charge.Raw,
		PaymentDate:  paymentDate,
	}); err != nil {
		// The charge went through but the settlement write did not. Surface
		// the error; the sweep and a replayed submission will not re-charge a
		// settled transaction.
		log.Printf("level=error component=app op=submit_order msg=\"settlement failed after successful charge\" order_id=%s transaction_id=%s provider_tx_id=%s err=%v", order.ID, txRecord.ID, charge.ID, err)
		return nil, fmt.Errorf("failed to settle transaction: %w", err)
	}

	order.Status = domain.OrderStatusCompleted
	paid := order.Amount
	txRecord.PaidAmount = &paid
	txRecord.ProviderTxID = &charge.ID
	txRecord.PaymentDate = &paymentDate
	txRecord.PaymentResponse = charge.Raw

	s.publishOrderEvent(ctx, "investment.order.completed", order)

	return &domain.OrderResult{
		Order:        order,
		Transaction:  txRecord,
		ProviderTxID: charge.ID,
		Resumed:      resumed,
	}, nil
}

// recordGatewayFailure stores the gateway error payload on the transaction for
// audit and marks the order failed. The pair stays retryable by reference id.
func (s *Service) recordGatewayFailure(ctx context.Context, order *domain.Order, txRecord *domain.Transaction, cause error) {
	payload := gatewayErrorPayload(cause)
	if err := s.repo.FailTransaction(ctx, txRecord.ID, payload); err != nil {
		if errors.Is(err, store.ErrReconciliationConflict) {
			log.Printf("level=warn component=app op=submit_order msg=\"transaction settled concurrently; failure not recorded\" transaction_id=%s", txRecord.ID)
			return
		}
		log.Printf("level=error component=app op=submit_order msg=\"failed to record gateway error\" transaction_id=%s err=%v", txRecord.ID, err)
		return
	}
	order.Status = domain.OrderStatusFailed
	s.publishOrderEvent(ctx, "investment.order.failed", order)
}

// gatewayErrorPayload turns a gateway error into the opaque audit payload
// stored on the transaction. The provider's raw body is preserved when available.
func gatewayErrorPayload(cause error) json.RawMessage {
	var gwErr *stripeclient.ErrorResponse
	if errors.As(cause, &gwErr) && len(gwErr.Raw) > 0 {
		return gwErr.Raw
	}
	payload, err := json.Marshal(map[string]map[string]string{
		"error": {"message": cause.Error()},
	})
	if err != nil {
		return json.RawMessage(`{"error":{"message":"unrecorded gateway failure"}}`)
	}
	return payload
}

func (s *Service) publishOrderEvent(ctx context.Context, routingKey string, order *domain.Order) {
	if s.eventProducer == nil {
		return
	}
	event := domain.OrderEvent{
		OrderID:     order.ID,
		ProjectID:   order.ProjectID,
		UserID:      order.OrderByID,
		Amount:      order.Amount,
		Currency:    order.Currency,
		ReferenceID: order.ReferenceID,
		Status:      order.Status,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.eventProducer.Publish(ctx, s.eventExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=app msg=\"order event publish failed\" routing_key=%s order_id=%s err=%v", routingKey, order.ID, err)
	}
}

// GetUserOrders retrieves all orders placed by a user.
func (s *Service) GetUserOrders(ctx context.Context, userID uuid.UUID) ([]domain.Order, error) {
	return s.repo.FindOrdersByUserID(ctx, userID)
}

// GetUserOrder retrieves one of the user's own orders with its transaction.
func (s *Service) GetUserOrder(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, *domain.Transaction, error) {
	order, err := s.repo.FindOrderByID(ctx, orderID, userID)
	if err != nil {
		return nil, nil, err
	}
	txRecord, err := s.repo.FindTransactionByOrderID(ctx, order.ID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			return order, nil, nil
		}
		return nil, nil, err
	}
	return order, txRecord, nil
}
