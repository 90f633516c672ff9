/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to projects, orders, transactions, and sessions.
 *
 * @dependencies
 * - context, encoding/json, errors, fmt, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ideainvest/investment-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrProjectNotFound        = errors.New("project not found")
	ErrOrderNotFound          = errors.New("order not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrCapacityExhausted      = errors.New("project capacity exhausted")
	ErrDuplicateReference     = errors.New("duplicate reference id")
	ErrReconciliationConflict = errors.New("transaction already settled")
	ErrSessionNotFound        = errors.New("session not found")
)

// CapacityExceededError is returned when the requested amount is larger than
// the project's remaining capacity. It carries the exact remaining amount so
// the caller can retry with a corrected value.
type CapacityExceededError struct {
	Remaining int64
	Currency  string
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("remaining eligible fund is %s:%d", e.Currency, e.Remaining)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindProjectByID retrieves an active project from the database.
func (r *PostgresRepository) FindProjectByID(ctx context.Context, projectID uuid.UUID) (*domain.Project, error) {
	var project domain.Project
	query := `
		SELECT id, name, slug, target_invest, currency, active, created_at, updated_at
		FROM projects
		WHERE id = $1 AND active
	`
	err := r.db.QueryRow(ctx, query, projectID).Scan(
		&project.ID, &project.Name, &project.Slug, &project.TargetInvest,
		&project.Currency, &project.Active, &project.CreatedAt, &project.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return &project, nil
}

// GetProjectCapacity computes the remaining fundable amount for a project as
// target minus the sum of requested and completed order amounts. Requested
// orders hold reservations while their charge is in flight, so they count the
// same as settled money here. This is the unlocked read-side variant; the
// write path re-runs the same aggregate under the project row lock in
// CreateOrderWithCapacityCheck.
func (r *PostgresRepository) GetProjectCapacity(ctx context.Context, projectID uuid.UUID) (*domain.ProjectCapacity, error) {
	var capacity domain.ProjectCapacity
	query := `
		SELECT p.id, p.target_invest, p.currency,
		       COALESCE((SELECT SUM(o.amount) FROM orders o WHERE o.project_id = p.id AND o.status IN ($2, $3)), 0)
		FROM projects p
		WHERE p.id = $1 AND p.active
	`
	err := r.db.QueryRow(ctx, query, projectID, domain.OrderStatusRequested, domain.OrderStatusCompleted).Scan(
		&capacity.ProjectID, &capacity.Target, &capacity.Currency, &capacity.Committed,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	capacity.Remaining = capacity.Target - capacity.Committed
	return &capacity, nil
}

// FindOrderByReference resolves the (project, user, reference) idempotency key
// to an existing order, if one was already created for it.
func (r *PostgresRepository) FindOrderByReference(ctx context.Context, projectID, userID uuid.UUID, referenceID string) (*domain.Order, error) {
	var order domain.Order
	query := `
		SELECT id, amount, currency, reference_id, status, order_by_id, project_id, created_at, updated_at
		FROM orders
		WHERE project_id = $1 AND order_by_id = $2 AND reference_id = $3
	`
	err := r.db.QueryRow(ctx, query, projectID, userID, referenceID).Scan(
		&order.ID, &order.Amount, &order.Currency, &order.ReferenceID,
		&order.Status, &order.OrderByID, &order.ProjectID, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// FindTransactionByOrderID retrieves the transaction owned by an order.
func (r *PostgresRepository) FindTransactionByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Transaction, error) {
	var tx domain.Transaction
	query := `
		SELECT id, requested_amount, paid_amount, currency, payment_method, payment_response,
		       provider_tx_id, payment_date, order_id, transaction_by_id, created_at, updated_at
		FROM transactions
		WHERE order_id = $1
	`
	err := r.db.QueryRow(ctx, query, orderID).Scan(
		&tx.ID, &tx.RequestedAmount, &tx.PaidAmount, &tx.Currency, &tx.PaymentMethod,
		&tx.PaymentResponse, &tx.ProviderTxID, &tx.PaymentDate, &tx.OrderID,
		&tx.TransactionByID, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// CreateOrderWithCapacityCheck performs the capacity check and the creation of
// the order (requested) plus its pending transaction as one atomic unit. The
// project row is locked FOR UPDATE for the duration, so concurrent submissions
// against the same project serialize while submissions against other projects
// proceed unblocked. The committed sum counts requested orders alongside
// completed ones: an insert here is a reservation, held until the attempt
// settles, fails, or is swept stale. A submission checked while an earlier
// submission's charge is still in flight therefore sees that amount as
// already taken. The outbound gateway call never happens inside this scope.
func (r *PostgresRepository) CreateOrderWithCapacityCheck(ctx context.Context, order *domain.Order, orderTx *domain.Transaction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin order intake tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var target int64
	var currency string
	lockQuery := `SELECT target_invest, currency FROM projects WHERE id = $1 AND active FOR UPDATE`
	if err := tx.QueryRow(ctx, lockQuery, order.ProjectID).Scan(&target, &currency); err != nil {
		if err == pgx.ErrNoRows {
			return ErrProjectNotFound
		}
		return fmt.Errorf("lock project row: %w", err)
	}

	var committed int64
	sumQuery := `SELECT COALESCE(SUM(amount), 0) FROM orders WHERE project_id = $1 AND status IN ($2, $3)`
	if err := tx.QueryRow(ctx, sumQuery, order.ProjectID, domain.OrderStatusRequested, domain.OrderStatusCompleted).Scan(&committed); err != nil {
		return fmt.Errorf("sum reserved orders: %w", err)
	}

	remaining := target - committed
	if remaining <= 0 {
		return ErrCapacityExhausted
	}
	if order.Amount > remaining {
		return &CapacityExceededError{Remaining: remaining, Currency: currency}
	}

	insertOrder := `
		INSERT INTO orders (id, amount, currency, reference_id, status, order_by_id, project_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, insertOrder,
		order.ID, order.Amount, order.Currency, order.ReferenceID,
		domain.OrderStatusRequested, order.OrderByID, order.ProjectID,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent submission with the same reference won the race.
			return ErrDuplicateReference
		}
		return fmt.Errorf("insert order: %w", err)
	}
	order.Status = domain.OrderStatusRequested

	insertTx := `
		INSERT INTO transactions (id, requested_amount, currency, payment_method, order_id, transaction_by_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, insertTx,
		orderTx.ID, orderTx.RequestedAmount, orderTx.Currency,
		orderTx.PaymentMethod, orderTx.OrderID, orderTx.TransactionByID,
	).Scan(&orderTx.CreatedAt, &orderTx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	return tx.Commit(ctx)
}

// ReserveResumedOrder re-checks capacity for an order about to be retried,
// under the same project row lock the intake path uses. The order's own
// amount is excluded from the committed sum (a requested order being resumed
// already holds its reservation; a failed one holds none either way), and on
// success the order is flipped back to requested so the reservation is held
// again before the gateway is called.
func (r *PostgresRepository) ReserveResumedOrder(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin resume reservation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var target int64
	var currency string
	lockQuery := `SELECT target_invest, currency FROM projects WHERE id = $1 AND active FOR UPDATE`
	if err := tx.QueryRow(ctx, lockQuery, order.ProjectID).Scan(&target, &currency); err != nil {
		if err == pgx.ErrNoRows {
			return ErrProjectNotFound
		}
		return fmt.Errorf("lock project row: %w", err)
	}

	var committed int64
	sumQuery := `
		SELECT COALESCE(SUM(amount), 0)
		FROM orders
		WHERE project_id = $1 AND status IN ($2, $3) AND id <> $4
	`
	if err := tx.QueryRow(ctx, sumQuery, order.ProjectID, domain.OrderStatusRequested, domain.OrderStatusCompleted, order.ID).Scan(&committed); err != nil {
		return fmt.Errorf("sum reserved orders: %w", err)
	}

	remaining := target - committed
	if remaining <= 0 {
		return ErrCapacityExhausted
	}
	if order.Amount > remaining {
		return &CapacityExceededError{Remaining: remaining, Currency: currency}
	}

	updateOrder := `UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := tx.Exec(ctx, updateOrder, order.ID, domain.OrderStatusRequested); err != nil {
		return fmt.Errorf("reserve resumed order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	order.Status = domain.OrderStatusRequested
	return nil
}

// FindOrdersByUserID retrieves all orders placed by a user, newest first.
func (r *PostgresRepository) FindOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Order, error) {
	query := `
		SELECT id, amount, currency, reference_id, status, order_by_id, project_id, created_at, updated_at
		FROM orders
		WHERE order_by_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var order domain.Order
		err := rows.Scan(
			&order.ID, &order.Amount, &order.Currency, &order.ReferenceID,
			&order.Status, &order.OrderByID, &order.ProjectID, &order.CreatedAt, &order.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// FindOrderByID retrieves one of the user's own orders.
func (r *PostgresRepository) FindOrderByID(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, error) {
	var order domain.Order
	query := `
		SELECT id, amount, currency, reference_id, status, order_by_id, project_id, created_at, updated_at
		FROM orders
		WHERE id = $1 AND order_by_id = $2
	`
	err := r.db.QueryRow(ctx, query, orderID, userID).Scan(
		&order.ID, &order.Amount, &order.Currency, &order.ReferenceID,
		&order.Status, &order.OrderByID, &order.ProjectID, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// SettleTransaction records the terminal successful gateway outcome on the
// transaction and flips the owning order to completed. Both updates apply in
// one database transaction or not at all. A transaction that already has a
// paid amount cannot be settled again.
func (r *PostgresRepository) SettleTransaction(ctx context.Context, transactionID uuid.UUID, params SettleTransactionParams) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin settle tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var orderID uuid.UUID
	updateTx := `
		UPDATE transactions
		SET paid_amount = $2,
		    provider_tx_id = $3,
		    payment_response = $4::jsonb,
		    payment_date = $5,
		    updated_at = NOW()
		WHERE id = $1 AND paid_amount IS NULL
		RETURNING order_id
	`
	err = tx.QueryRow(ctx, updateTx,
		transactionID, params.PaidAmount, params.ProviderTxID,
		string(params.Response), params.PaymentDate,
	).Scan(&orderID)
	if err != nil {
		if err == pgx.ErrNoRows {
			// Either the transaction does not exist or it is already settled.
			if existsErr := r.transactionExists(ctx, transactionID); existsErr != nil {
				return existsErr
			}
			return ErrReconciliationConflict
		}
		return fmt.Errorf("settle transaction: %w", err)
	}

	updateOrder := `UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := tx.Exec(ctx, updateOrder, orderID, domain.OrderStatusCompleted); err != nil {
		return fmt.Errorf("complete order: %w", err)
	}

	return tx.Commit(ctx)
}

// FailTransaction stores the provider error payload on the transaction for
// audit and marks the owning order failed. The order stays retryable via its
// reference id. A settled transaction cannot be failed.
func (r *PostgresRepository) FailTransaction(ctx context.Context, transactionID uuid.UUID, errorPayload json.RawMessage) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin fail tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var orderID uuid.UUID
	updateTx := `
		UPDATE transactions
		SET payment_response = $2::jsonb, updated_at = NOW()
		WHERE id = $1 AND paid_amount IS NULL
		RETURNING order_id
	`
	if err := tx.QueryRow(ctx, updateTx, transactionID, string(errorPayload)).Scan(&orderID); err != nil {
		if err == pgx.ErrNoRows {
			if existsErr := r.transactionExists(ctx, transactionID); existsErr != nil {
				return existsErr
			}
			return ErrReconciliationConflict
		}
		return fmt.Errorf("fail transaction: %w", err)
	}

	updateOrder := `UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1 AND status <> $3`
	if _, err := tx.Exec(ctx, updateOrder, orderID, domain.OrderStatusFailed, domain.OrderStatusCompleted); err != nil {
		return fmt.Errorf("mark order failed: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepository) transactionExists(ctx context.Context, transactionID uuid.UUID) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1)`, transactionID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrTransactionNotFound
	}
	return nil
}

// MarkStaleOrdersFailed transitions orders stuck in the requested state to
// failed when their transaction never settled and they were created before
// the cutoff. Stuck orders become distinguishable from freshly submitted ones
// while remaining retryable by reference id.
func (r *PostgresRepository) MarkStaleOrdersFailed(ctx context.Context, cutoff time.Time, errorPayload json.RawMessage) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin stale sweep tx: %w", err)
	}
	defer tx.Rollback(ctx)

	markTx := `
		UPDATE transactions t
		SET payment_response = $2::jsonb, updated_at = NOW()
		FROM orders o
		WHERE t.order_id = o.id
		  AND o.status = $3
		  AND o.created_at < $1
		  AND t.paid_amount IS NULL
		  AND t.payment_response IS NULL
	`
	if _, err := tx.Exec(ctx, markTx, cutoff, string(errorPayload), domain.OrderStatusRequested); err != nil {
		return 0, fmt.Errorf("mark stale transactions: %w", err)
	}

	markOrders := `
		UPDATE orders o
		SET status = $2, updated_at = NOW()
		FROM transactions t
		WHERE t.order_id = o.id
		  AND o.status = $3
		  AND o.created_at < $1
		  AND t.paid_amount IS NULL
	`
	result, err := tx.Exec(ctx, markOrders, cutoff, domain.OrderStatusFailed, domain.OrderStatusRequested)
	if err != nil {
		return 0, fmt.Errorf("mark stale orders: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
