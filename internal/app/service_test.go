package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ideainvest/investment-service/internal/domain"
	"github.com/ideainvest/investment-service/internal/store"
	"github.com/ideainvest/investment-service/pkg/stripeclient"
)

type orderRepoStub struct {
	store.Repository

	project        *domain.Project
	existingOrder  *domain.Order
	existingTx     *domain.Transaction
	createErr      error
	reserveErr     error
	settleErr      error
	failErr        error
	secondCreateOK bool

	createCalled    bool
	createdOrder    *domain.Order
	createdTx       *domain.Transaction
	reserveCalled   bool
	settleCalled    bool
	settleParams    store.SettleTransactionParams
	failCalled      bool
	failPayload     json.RawMessage
	referenceLookup int
}

func (s *orderRepoStub) FindProjectByID(ctx context.Context, projectID uuid.UUID) (*domain.Project, error) {
	if s.project == nil || s.project.ID != projectID {
		return nil, store.ErrProjectNotFound
	}
	return s.project, nil
}

func (s *orderRepoStub) FindOrderByReference(ctx context.Context, projectID, userID uuid.UUID, referenceID string) (*domain.Order, error) {
	s.referenceLookup++
	if s.existingOrder != nil && s.existingOrder.ReferenceID == referenceID {
		return s.existingOrder, nil
	}
	// Simulate a concurrent writer that inserted the pair between the first
	// lookup and the unique-violation on create.
	if s.secondCreateOK && s.referenceLookup > 1 && s.createdOrder != nil {
		return s.createdOrder, nil
	}
	return nil, store.ErrOrderNotFound
}

func (s *orderRepoStub) FindTransactionByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Transaction, error) {
	if s.existingTx != nil && s.existingTx.OrderID == orderID {
		return s.existingTx, nil
	}
	if s.createdTx != nil && s.createdTx.OrderID == orderID {
		return s.createdTx, nil
	}
	return nil, store.ErrTransactionNotFound
}

func (s *orderRepoStub) CreateOrderWithCapacityCheck(ctx context.Context, order *domain.Order, tx *domain.Transaction) error {
	s.createCalled = true
	// Snapshot the pair as it was handed to Create; the service keeps
	// mutating its own copies afterwards.
	orderCopy := *order
	txCopy := *tx
	if s.createErr != nil {
		err := s.createErr
		if s.secondCreateOK {
			s.createdOrder = &orderCopy
			s.createdTx = &txCopy
		}
		return err
	}
	s.createdOrder = &orderCopy
	s.createdTx = &txCopy
	return nil
}

func (s *orderRepoStub) ReserveResumedOrder(ctx context.Context, order *domain.Order) error {
	s.reserveCalled = true
	if s.reserveErr != nil {
		return s.reserveErr
	}
	order.Status = domain.OrderStatusRequested
	return nil
}

func (s *orderRepoStub) SettleTransaction(ctx context.Context, transactionID uuid.UUID, params store.SettleTransactionParams) error {
	s.settleCalled = true
	s.settleParams = params
	return s.settleErr
}

func (s *orderRepoStub) FailTransaction(ctx context.Context, transactionID uuid.UUID, errorPayload json.RawMessage) error {
	s.failCalled = true
	s.failPayload = errorPayload
	return s.failErr
}

type gatewayStub struct {
	customerErr error
	chargeErr   error

	customerCalled bool
	chargeCalled   bool
	chargeAmount   int64
	chargeCurrency string
}

func (g *gatewayStub) CreateCustomer(ctx context.Context, name, email, source string) (*stripeclient.CustomerResponse, error) {
	g.customerCalled = true
	if g.customerErr != nil {
		return nil, g.customerErr
	}
	return &stripeclient.CustomerResponse{ID: "cus_test"}, nil
}

func (g *gatewayStub) CreateCharge(ctx context.Context, customerID string, amount int64, currency string) (*stripeclient.ChargeResponse, error) {
	g.chargeCalled = true
	g.chargeAmount = amount
	g.chargeCurrency = currency
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	return &stripeclient.ChargeResponse{
		ID:       "ch_test",
		Status:   "succeeded",
		Amount:   amount,
		Currency: currency,
		Paid:     true,
		Raw:      json.RawMessage(`{"id":"ch_test","status":"succeeded"}`),
	}, nil
}

type publisherStub struct {
	routingKeys []string
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.routingKeys = append(p.routingKeys, routingKey)
	return nil
}

func (p *publisherStub) Close() {}

func testProject() *domain.Project {
	return &domain.Project{
		ID:           uuid.New(),
		Name:         "Solar Farm",
		TargetInvest: 1_000_000,
		Currency:     "usd",
		Active:       true,
	}
}

func submitRequest(projectID uuid.UUID) domain.SubmitOrderRequest {
	return domain.SubmitOrderRequest{
		ProjectID:   projectID,
		Amount:      50_000,
		Currency:    "usd",
		ReferenceID: "ref-001",
		Name:        "Ada Investor",
		Email:       "ada@example.com",
		TokenID:     "tok_visa",
	}
}

func TestSubmitOrderValidation(t *testing.T) {
	project := testProject()
	tests := []struct {
		name    string
		mutate  func(*domain.SubmitOrderRequest)
		wantErr error
	}{
		{
			name:    "zero amount rejected",
			mutate:  func(r *domain.SubmitOrderRequest) { r.Amount = 0 },
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "negative amount rejected",
			mutate:  func(r *domain.SubmitOrderRequest) { r.Amount = -500 },
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "blank reference rejected",
			mutate:  func(r *domain.SubmitOrderRequest) { r.ReferenceID = "   " },
			wantErr: ErrInvalidReference,
		},
		{
			name:    "currency mismatch rejected",
			mutate:  func(r *domain.SubmitOrderRequest) { r.Currency = "eur" },
			wantErr: ErrCurrencyMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &orderRepoStub{project: project}
			gateway := &gatewayStub{}
			svc := NewService(repo, gateway, nil, "events", time.UTC)

			req := submitRequest(project.ID)
			tt.mutate(&req)

			_, err := svc.SubmitOrder(context.Background(), uuid.New(), req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if gateway.customerCalled || gateway.chargeCalled {
				t.Fatal("gateway must not be called for invalid requests")
			}
			if repo.createCalled {
				t.Fatal("no order should be created for invalid requests")
			}
		})
	}
}

func TestSubmitOrderUnknownProject(t *testing.T) {
	repo := &orderRepoStub{project: testProject()}
	svc := NewService(repo, &gatewayStub{}, nil, "events", time.UTC)

	req := submitRequest(uuid.New())
	_, err := svc.SubmitOrder(context.Background(), uuid.New(), req)
	if !errors.Is(err, store.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestSubmitOrderHappyPath(t *testing.T) {
	project := testProject()
	repo := &orderRepoStub{project: project}
	gateway := &gatewayStub{}
	publisher := &publisherStub{}
	svc := NewService(repo, gateway, publisher, "events", time.UTC)

	userID := uuid.New()
	result, err := svc.SubmitOrder(context.Background(), userID, submitRequest(project.ID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !repo.createCalled {
		t.Fatal("expected order creation")
	}
	if repo.createdOrder.Status != domain.OrderStatusRequested {
		t.Fatalf("order must be created in requested state, got %q", repo.createdOrder.Status)
	}
	if repo.createdOrder.Currency != project.Currency {
		t.Fatalf("order currency must follow the project, got %q", repo.createdOrder.Currency)
	}
	if !gateway.chargeCalled {
		t.Fatal("expected gateway charge")
	}
	if gateway.chargeAmount != 50_000 {
		t.Fatalf("expected charge of 50000, got %d", gateway.chargeAmount)
	}
	if !repo.settleCalled {
		t.Fatal("expected transaction settlement")
	}
	if repo.settleParams.PaidAmount != 50_000 || repo.settleParams.ProviderTxID != "ch_test" {
		t.Fatalf("unexpected settle params: %+v", repo.settleParams)
	}
	if result.Order.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected completed order, got %q", result.Order.Status)
	}
	if !result.Transaction.Settled() {
		t.Fatal("expected settled transaction in result")
	}
	if result.Resumed {
		t.Fatal("fresh submission must not be marked resumed")
	}
	if len(publisher.routingKeys) != 1 || publisher.routingKeys[0] != "investment.order.completed" {
		t.Fatalf("expected completed event, got %v", publisher.routingKeys)
	}
}

func TestSubmitOrderCapacityErrors(t *testing.T) {
	project := testProject()
	userID := uuid.New()

	t.Run("partial capacity left", func(t *testing.T) {
		capErr := &store.CapacityExceededError{Remaining: 20_000, Currency: "usd"}
		repo := &orderRepoStub{project: project, createErr: capErr}
		gateway := &gatewayStub{}
		svc := NewService(repo, gateway, nil, "events", time.UTC)

		_, err := svc.SubmitOrder(context.Background(), userID, submitRequest(project.ID))
		var got *store.CapacityExceededError
		if !errors.As(err, &got) {
			t.Fatalf("expected CapacityExceededError, got %v", err)
		}
		if got.Remaining != 20_000 {
			t.Fatalf("expected remaining 20000, got %d", got.Remaining)
		}
		if gateway.customerCalled {
			t.Fatal("gateway must not be called when capacity is exceeded")
		}
	})

	t.Run("fund fulfilled", func(t *testing.T) {
		repo := &orderRepoStub{project: project, createErr: store.ErrCapacityExhausted}
		svc := NewService(repo, &gatewayStub{}, nil, "events", time.UTC)

		_, err := svc.SubmitOrder(context.Background(), userID, submitRequest(project.ID))
		if !errors.Is(err, store.ErrCapacityExhausted) {
			t.Fatalf("expected ErrCapacityExhausted, got %v", err)
		}
	})
}

func TestSubmitOrderGatewayDecline(t *testing.T) {
	project := testProject()
	declined := &stripeclient.ErrorResponse{
		StatusCode: 402,
		Raw:        json.RawMessage(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`),
	}
	declined.Err.Type = "card_error"
	declined.Err.Code = "card_declined"
	declined.Err.Message = "Your card was declined."

	repo := &orderRepoStub{project: project}
	gateway := &gatewayStub{chargeErr: declined}
	publisher := &publisherStub{}
	svc := NewService(repo, gateway, publisher, "events", time.UTC)

	_, err := svc.SubmitOrder(context.Background(), uuid.New(), submitRequest(project.ID))

	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if !repo.failCalled {
		t.Fatal("gateway decline must be recorded on the transaction")
	}
	if string(repo.failPayload) != string(declined.Raw) {
		t.Fatalf("expected provider raw payload stored, got %s", repo.failPayload)
	}
	if repo.settleCalled {
		t.Fatal("declined charge must not settle")
	}
	if len(publisher.routingKeys) != 1 || publisher.routingKeys[0] != "investment.order.failed" {
		t.Fatalf("expected failed event, got %v", publisher.routingKeys)
	}
}

func TestSubmitOrderReplaySemantics(t *testing.T) {
	project := testProject()
	userID := uuid.New()

	t.Run("completed order with same reference is a duplicate", func(t *testing.T) {
		existing := &domain.Order{
			ID:          uuid.New(),
			Amount:      50_000,
			ReferenceID: "ref-001",
			Status:      domain.OrderStatusCompleted,
			OrderByID:   userID,
			ProjectID:   project.ID,
		}
		repo := &orderRepoStub{project: project, existingOrder: existing}
		gateway := &gatewayStub{}
		svc := NewService(repo, gateway, nil, "events", time.UTC)

		_, err := svc.SubmitOrder(context.Background(), userID, submitRequest(project.ID))
		if !errors.Is(err, store.ErrDuplicateReference) {
			t.Fatalf("expected ErrDuplicateReference, got %v", err)
		}
		if gateway.customerCalled {
			t.Fatal("gateway must not be called for a duplicate reference")
		}
		if repo.createCalled {
			t.Fatal("no second pair may be created for a duplicate reference")
		}
	})

	t.Run("failed order with same reference is resumed", func(t *testing.T) {
		existing := &domain.Order{
			ID:          uuid.New(),
			Amount:      50_000,
			Currency:    "usd",
			ReferenceID: "ref-001",
			Status:      domain.OrderStatusFailed,
			OrderByID:   userID,
			ProjectID:   project.ID,
		}
		pendingTx := &domain.Transaction{
			ID:              uuid.New(),
			RequestedAmount: 50_000,
			Currency:        "usd",
			OrderID:         existing.ID,
			TransactionByID: userID,
		}
		repo := &orderRepoStub{project: project, existingOrder: existing, existingTx: pendingTx}
		gateway := &gatewayStub{}
		svc := NewService(repo, gateway, nil, "events", time.UTC)

		result, err := svc.SubmitOrder(context.Background(), userID, submitRequest(project.ID))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if repo.createCalled {
			t.Fatal("resumed attempt must not create a new pair")
		}
		if !repo.reserveCalled {
			t.Fatal("resumed attempt must re-win its capacity reservation before charging")
		}
		if !result.Resumed {
			t.Fatal("expected result to be marked resumed")
		}
		if result.Order.ID != existing.ID || result.Transaction.ID != pendingTx.ID {
			t.Fatal("resumed attempt must reuse the existing order and transaction")
		}
		if result.Order.Status != domain.OrderStatusCompleted {
			t.Fatalf("expected resumed order completed, got %q", result.Order.Status)
		}
	})

	t.Run("settled transaction behind a stale order status is a duplicate", func(t *testing.T) {
		paid := int64(50_000)
		existing := &domain.Order{
			ID:          uuid.New(),
			ReferenceID: "ref-001",
			Status:      domain.OrderStatusRequested,
			OrderByID:   userID,
			ProjectID:   project.ID,
		}
		settledTx := &domain.Transaction{
			ID:         uuid.New(),
			PaidAmount: &paid,
			OrderID:    existing.ID,
		}
		repo := &orderRepoStub{project: project, existingOrder: existing, existingTx: settledTx}
		gateway := &gatewayStub{}
		svc := NewService(repo, gateway, nil, "events", time.UTC)

		_, err := svc.SubmitOrder(context.Background(), userID, submitRequest(project.ID))
		if !errors.Is(err, store.ErrDuplicateReference) {
			t.Fatalf("expected ErrDuplicateReference, got %v", err)
		}
		if gateway.customerCalled {
			t.Fatal("a settled transaction must never be charged again")
		}
		if repo.reserveCalled {
			t.Fatal("a settled pair must be rejected before any reservation attempt")
		}
	})
}

func TestSubmitOrderConcurrentDuplicateFallsBackToReplay(t *testing.T) {
	project := testProject()
	userID := uuid.New()

	// First lookup misses, create hits the unique index, second lookup finds
	// the concurrently inserted pair.
	repo := &orderRepoStub{
		project:        project,
		createErr:      store.ErrDuplicateReference,
		secondCreateOK: true,
	}
	gateway := &gatewayStub{}
	svc := NewService(repo, gateway, nil, "events", time.UTC)

	result, err := svc.SubmitOrder(context.Background(), userID, submitRequest(project.ID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Resumed {
		t.Fatal("expected the concurrent duplicate to resume the winner's pair")
	}
	if repo.referenceLookup < 2 {
		t.Fatalf("expected a second reference lookup, got %d", repo.referenceLookup)
	}
}

type rateLimiterStub struct {
	count      int
	retryAfter int
	err        error
}

func (r *rateLimiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return r.count, r.retryAfter, r.err
}

func TestSubmitOrderRateLimited(t *testing.T) {
	project := testProject()
	repo := &orderRepoStub{project: project}
	gateway := &gatewayStub{}
	svc := NewService(repo, gateway, nil, "events", time.UTC)
	svc.SetOrderRateLimiter(&rateLimiterStub{count: 31, retryAfter: 42}, 30)

	_, err := svc.SubmitOrder(context.Background(), uuid.New(), submitRequest(project.ID))
	var rateErr *RateLimitedError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rateErr.RetryAfterSeconds != 42 {
		t.Fatalf("expected retry after 42s, got %d", rateErr.RetryAfterSeconds)
	}
	if repo.createCalled || gateway.customerCalled {
		t.Fatal("rate limited request must not reach the repository or gateway")
	}
}

// capacityLedgerStub keeps real order state in memory and applies the same
// reservation arithmetic as the store: requested and completed orders both
// count against the target, a failed one does not.
type capacityLedgerStub struct {
	store.Repository

	project *domain.Project
	orders  []*domain.Order
	txs     map[uuid.UUID]*domain.Transaction
}

func newCapacityLedgerStub(project *domain.Project) *capacityLedgerStub {
	return &capacityLedgerStub{
		project: project,
		txs:     make(map[uuid.UUID]*domain.Transaction),
	}
}

func (s *capacityLedgerStub) committed(excludeID uuid.UUID) int64 {
	var sum int64
	for _, order := range s.orders {
		if order.ID == excludeID {
			continue
		}
		if order.Status == domain.OrderStatusRequested || order.Status == domain.OrderStatusCompleted {
			sum += order.Amount
		}
	}
	return sum
}

func (s *capacityLedgerStub) FindProjectByID(ctx context.Context, projectID uuid.UUID) (*domain.Project, error) {
	if s.project.ID != projectID {
		return nil, store.ErrProjectNotFound
	}
	return s.project, nil
}

func (s *capacityLedgerStub) FindOrderByReference(ctx context.Context, projectID, userID uuid.UUID, referenceID string) (*domain.Order, error) {
	for _, order := range s.orders {
		if order.ProjectID == projectID && order.OrderByID == userID && order.ReferenceID == referenceID {
			return order, nil
		}
	}
	return nil, store.ErrOrderNotFound
}

func (s *capacityLedgerStub) FindTransactionByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Transaction, error) {
	for _, tx := range s.txs {
		if tx.OrderID == orderID {
			return tx, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (s *capacityLedgerStub) CreateOrderWithCapacityCheck(ctx context.Context, order *domain.Order, tx *domain.Transaction) error {
	remaining := s.project.TargetInvest - s.committed(uuid.Nil)
	if remaining <= 0 {
		return store.ErrCapacityExhausted
	}
	if order.Amount > remaining {
		return &store.CapacityExceededError{Remaining: remaining, Currency: s.project.Currency}
	}
	order.Status = domain.OrderStatusRequested
	s.orders = append(s.orders, order)
	s.txs[tx.ID] = tx
	return nil
}

func (s *capacityLedgerStub) ReserveResumedOrder(ctx context.Context, order *domain.Order) error {
	remaining := s.project.TargetInvest - s.committed(order.ID)
	if remaining <= 0 {
		return store.ErrCapacityExhausted
	}
	if order.Amount > remaining {
		return &store.CapacityExceededError{Remaining: remaining, Currency: s.project.Currency}
	}
	order.Status = domain.OrderStatusRequested
	return nil
}

func (s *capacityLedgerStub) SettleTransaction(ctx context.Context, transactionID uuid.UUID, params store.SettleTransactionParams) error {
	tx, ok := s.txs[transactionID]
	if !ok {
		return store.ErrTransactionNotFound
	}
	if tx.PaidAmount != nil {
		return store.ErrReconciliationConflict
	}
	paid := params.PaidAmount
	tx.PaidAmount = &paid
	for _, order := range s.orders {
		if order.ID == tx.OrderID {
			order.Status = domain.OrderStatusCompleted
		}
	}
	return nil
}

func (s *capacityLedgerStub) FailTransaction(ctx context.Context, transactionID uuid.UUID, errorPayload json.RawMessage) error {
	tx, ok := s.txs[transactionID]
	if !ok {
		return store.ErrTransactionNotFound
	}
	if tx.PaidAmount != nil {
		return store.ErrReconciliationConflict
	}
	tx.PaymentResponse = errorPayload
	for _, order := range s.orders {
		if order.ID == tx.OrderID {
			order.Status = domain.OrderStatusFailed
		}
	}
	return nil
}

// A submission whose charge is still in flight (order requested, transaction
// unsettled) must already count against the target: on a 1000 target with 700
// reserved, a concurrent 400 is rejected with exactly 300 remaining. Failing
// the in-flight attempt releases the reservation and the 400 then fits.
func TestSubmitOrderPendingChargeReservesCapacity(t *testing.T) {
	project := testProject() // target 1_000_000
	repo := newCapacityLedgerStub(project)
	gateway := &gatewayStub{}
	svc := NewService(repo, gateway, nil, "events", time.UTC)

	inflight := &domain.Order{
		ID:          uuid.New(),
		Amount:      700_000,
		Currency:    project.Currency,
		ReferenceID: "ref-a",
		Status:      domain.OrderStatusRequested,
		OrderByID:   uuid.New(),
		ProjectID:   project.ID,
	}
	inflightTx := &domain.Transaction{
		ID:              uuid.New(),
		RequestedAmount: inflight.Amount,
		Currency:        inflight.Currency,
		OrderID:         inflight.ID,
		TransactionByID: inflight.OrderByID,
	}
	repo.orders = append(repo.orders, inflight)
	repo.txs[inflightTx.ID] = inflightTx

	userB := uuid.New()
	reqB := submitRequest(project.ID)
	reqB.Amount = 400_000
	reqB.ReferenceID = "ref-b"

	_, err := svc.SubmitOrder(context.Background(), userB, reqB)
	var capErr *store.CapacityExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityExceededError while the first charge is in flight, got %v", err)
	}
	if capErr.Remaining != 300_000 {
		t.Fatalf("expected exactly 300000 remaining, got %d", capErr.Remaining)
	}
	if gateway.customerCalled {
		t.Fatal("rejected submission must not reach the gateway")
	}

	// The in-flight attempt is declined: its reservation is released.
	if err := repo.FailTransaction(context.Background(), inflightTx.ID, json.RawMessage(`{"error":{"code":"card_declined"}}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := svc.SubmitOrder(context.Background(), userB, reqB)
	if err != nil {
		t.Fatalf("expected submission to fit after the reservation released, got %v", err)
	}
	if result.Order.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected completed order, got %q", result.Order.Status)
	}
}

// Resuming a failed attempt must re-win capacity before charging; a retry
// that no longer fits is rejected without touching the gateway and without
// settling anything.
func TestSubmitOrderResumeRechecksCapacity(t *testing.T) {
	project := testProject() // target 1_000_000
	repo := newCapacityLedgerStub(project)
	gateway := &gatewayStub{}
	svc := NewService(repo, gateway, nil, "events", time.UTC)

	userID := uuid.New()
	completed := &domain.Order{
		ID:          uuid.New(),
		Amount:      900_000,
		Currency:    project.Currency,
		ReferenceID: "ref-other",
		Status:      domain.OrderStatusCompleted,
		OrderByID:   uuid.New(),
		ProjectID:   project.ID,
	}
	failed := &domain.Order{
		ID:          uuid.New(),
		Amount:      700_000,
		Currency:    project.Currency,
		ReferenceID: "ref-x",
		Status:      domain.OrderStatusFailed,
		OrderByID:   userID,
		ProjectID:   project.ID,
	}
	failedTx := &domain.Transaction{
		ID:              uuid.New(),
		RequestedAmount: failed.Amount,
		Currency:        failed.Currency,
		OrderID:         failed.ID,
		TransactionByID: userID,
	}
	repo.orders = append(repo.orders, completed, failed)
	repo.txs[failedTx.ID] = failedTx

	req := submitRequest(project.ID)
	req.Amount = 700_000
	req.ReferenceID = "ref-x"

	_, err := svc.SubmitOrder(context.Background(), userID, req)
	var capErr *store.CapacityExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityExceededError on resume, got %v", err)
	}
	if capErr.Remaining != 100_000 {
		t.Fatalf("expected exactly 100000 remaining, got %d", capErr.Remaining)
	}
	if gateway.customerCalled || gateway.chargeCalled {
		t.Fatal("resume that no longer fits must not reach the gateway")
	}
	if failedTx.PaidAmount != nil {
		t.Fatal("nothing may settle on a rejected resume")
	}
	if failed.Status != domain.OrderStatusFailed {
		t.Fatalf("rejected resume must leave the order failed, got %q", failed.Status)
	}
}

func TestSubmitOrderRateLimiterOutageFailsOpen(t *testing.T) {
	project := testProject()
	repo := &orderRepoStub{project: project}
	svc := NewService(repo, &gatewayStub{}, nil, "events", time.UTC)
	svc.SetOrderRateLimiter(&rateLimiterStub{err: errors.New("redis down")}, 30)

	result, err := svc.SubmitOrder(context.Background(), uuid.New(), submitRequest(project.ID))
	if err != nil {
		t.Fatalf("expected request allowed when limiter is unavailable, got %v", err)
	}
	if result.Order.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected completed order, got %q", result.Order.Status)
	}
}
