package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/retry"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/repositories"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/repositories/memory"
)

type unavailableError struct{ op string }

func (e unavailableError) Error() string     { return e.op + ": backend unavailable" }
func (unavailableError) IsNotFound() bool    { return false }
func (unavailableError) IsConflict() bool    { return false }
func (unavailableError) IsUnavailable() bool { return true }

type flakyOrders struct {
	repositories.OrderRepository

	mu       sync.Mutex
	inserts  int
	finds    int
	insertFn func(ctx context.Context, order domain.Order) error
	findFn   func(ctx context.Context, orderID string) (domain.Order, error)
}

func (f *flakyOrders) Insert(ctx context.Context, order domain.Order) error {
	f.mu.Lock()
	f.inserts++
	f.mu.Unlock()
	if f.insertFn != nil {
		return f.insertFn(ctx, order)
	}
	return f.OrderRepository.Insert(ctx, order)
}

func (f *flakyOrders) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	f.mu.Lock()
	f.finds++
	f.mu.Unlock()
	if f.findFn != nil {
		return f.findFn(ctx, orderID)
	}
	return f.OrderRepository.FindByID(ctx, orderID)
}

type flakyReturns struct {
	repositories.ReturnRepository

	mu       sync.Mutex
	creates  int
	createFn func(ctx context.Context, ret domain.ReturnRequest, check repositories.ReturnCreateCheck) error
}

func (f *flakyReturns) CreateForOrder(ctx context.Context, ret domain.ReturnRequest, check repositories.ReturnCreateCheck) error {
	f.mu.Lock()
	f.creates++
	f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(ctx, ret, check)
	}
	return f.ReturnRepository.CreateForOrder(ctx, ret, check)
}

type recordingSleeper struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauses = append(r.pauses, d)
	return nil
}

func newServiceWithRepos(t *testing.T, orders repositories.OrderRepository, returns repositories.ReturnRepository, sleeper *recordingSleeper) OrderLifecycleService {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, err := NewOrderLifecycleService(OrderLifecycleServiceDeps{
		Orders:              orders,
		Returns:             returns,
		Refunds:             &stubRefundGateway{},
		RefundRecords:       memory.NewRegistry(memory.NewStore(), nil).Refunds(),
		ReturnWindowDays:    7,
		StoreCreditBonusBps: 500,
		Retry:               retry.Policy{MaxAttempts: 3, Initial: time.Millisecond, Max: 4 * time.Millisecond, Multiplier: 2},
		Sleep:               sleeper.sleep,
		Clock:               func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOrderLifecycleService: %v", err)
	}
	return svc
}

func teeOrderCommand() CreateOrderCommand {
	return CreateOrderCommand{
		CustomerID:      customer.ID,
		Items:           []domain.OrderItem{{ProductID: "tee", Name: "Basic tee", Variant: teeM, Quantity: 2, UnitPrice: 500_000}},
		ShippingAddress: sampleAddress(),
		PaymentMethod:   domain.PaymentMethodCOD,
		Actor:           customer,
	}
}

func TestCreateOrderCommittedBeforeUnavailable(t *testing.T) {
	ctx := context.Background()
	registry := memory.NewRegistry(memory.NewStore(), nil)
	orders := &flakyOrders{OrderRepository: registry.Orders()}
	orders.insertFn = func(ctx context.Context, order domain.Order) error {
		if err := orders.OrderRepository.Insert(ctx, order); err != nil {
			return err
		}
		if orders.inserts == 1 {
			return unavailableError{op: "insert"}
		}
		return nil
	}
	svc := newServiceWithRepos(t, orders, registry.Returns(), &recordingSleeper{})

	order, err := svc.CreateOrder(ctx, teeOrderCommand())
	if err != nil {
		t.Fatalf("expected the committed write to be reported as success, got %v", err)
	}
	if order.ID == "" {
		t.Fatalf("expected an order id")
	}
	if orders.inserts != 1 {
		t.Fatalf("expected a single insert, got %d", orders.inserts)
	}
	stored, err := registry.Orders().FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != domain.OrderStatusPending || stored.Version != 1 {
		t.Fatalf("unexpected stored order %+v", stored)
	}
}

func TestRequestReturnCommittedBeforeUnavailable(t *testing.T) {
	ctx := context.Background()
	registry := memory.NewRegistry(memory.NewStore(), nil)
	returns := &flakyReturns{ReturnRepository: registry.Returns()}
	returns.createFn = func(ctx context.Context, ret domain.ReturnRequest, check repositories.ReturnCreateCheck) error {
		if err := returns.ReturnRepository.CreateForOrder(ctx, ret, check); err != nil {
			return err
		}
		if returns.creates == 1 {
			return unavailableError{op: "create return"}
		}
		return nil
	}
	svc := newServiceWithRepos(t, registry.Orders(), returns, &recordingSleeper{})

	order, err := svc.CreateOrder(ctx, teeOrderCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	for _, step := range []OrderTransitionCommand{
		{Target: domain.OrderStatusProcessing},
		{Target: domain.OrderStatusShipped, TrackingNumber: "GHN1", Carrier: "ghn"},
		{Target: domain.OrderStatusDelivered},
	} {
		step.OrderID = order.ID
		step.Actor = staff
		if _, err := svc.TransitionOrder(ctx, step); err != nil {
			t.Fatalf("TransitionOrder(%s): %v", step.Target, err)
		}
	}

	ret, err := svc.RequestReturn(ctx, RequestReturnCommand{
		OrderID:      order.ID,
		Items:        []ReturnItemRequest{{ProductID: "tee", Variant: teeM, Quantity: 2}},
		Reason:       domain.ReasonWrongSize,
		RefundMethod: domain.RefundMethodBankTransfer,
		Actor:        customer,
	})
	if err != nil {
		t.Fatalf("expected the committed return to be reported as success, got %v", err)
	}
	if returns.creates != 1 {
		t.Fatalf("expected a single create, got %d", returns.creates)
	}
	stored, err := registry.Returns().ListByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("ListByOrder: %v", err)
	}
	if len(stored) != 1 || stored[0].ID != ret.ID {
		t.Fatalf("expected exactly the one return, got %+v", stored)
	}
}

func TestPersistenceOutageSurfacesUpstreamFailure(t *testing.T) {
	ctx := context.Background()
	registry := memory.NewRegistry(memory.NewStore(), nil)
	orders := &flakyOrders{
		OrderRepository: registry.Orders(),
		insertFn: func(context.Context, domain.Order) error {
			return unavailableError{op: "insert"}
		},
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, unavailableError{op: "find"}
		},
	}
	sleeper := &recordingSleeper{}
	svc := newServiceWithRepos(t, orders, registry.Returns(), sleeper)

	_, err := svc.CreateOrder(ctx, teeOrderCommand())
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("expected ErrUpstreamFailure, got %v", err)
	}
	if !errors.Is(err, retry.ErrAttemptsExhausted) {
		t.Fatalf("expected attempts to be exhausted, got %v", err)
	}
	if orders.inserts != 1 || orders.finds != 2 {
		t.Fatalf("expected 1 insert and 2 lookups, got %d and %d", orders.inserts, orders.finds)
	}
	if len(sleeper.pauses) != 2 {
		t.Fatalf("expected a backoff pause between each attempt, got %v", sleeper.pauses)
	}

	orders.finds = 0
	sleeper.pauses = nil
	_, err = svc.TransitionOrder(ctx, OrderTransitionCommand{OrderID: "ord_missing", Target: domain.OrderStatusProcessing, Actor: staff})
	if !errors.Is(err, ErrUpstreamFailure) || !errors.Is(err, retry.ErrAttemptsExhausted) {
		t.Fatalf("expected exhausted upstream failure, got %v", err)
	}
	if orders.finds != 3 || len(sleeper.pauses) != 2 {
		t.Fatalf("expected 3 reads with 2 pauses, got %d reads and %v", orders.finds, sleeper.pauses)
	}
}

func TestExpectedVersionMustNotBeNegative(t *testing.T) {
	h := newLifecycleHarness(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	_, err := h.svc.TransitionOrder(context.Background(), OrderTransitionCommand{
		OrderID:         "ord_1",
		Target:          domain.OrderStatusProcessing,
		Actor:           staff,
		ExpectedVersion: -1,
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestUnknownStoredStatusIsNotRetried(t *testing.T) {
	registry := memory.NewRegistry(memory.NewStore(), nil)
	orders := &flakyOrders{
		OrderRepository: registry.Orders(),
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			_, err := domain.ParseOrderStatus("lost")
			return domain.Order{}, fmt.Errorf("order %s: %w", orderID, err)
		},
	}
	sleeper := &recordingSleeper{}
	svc := newServiceWithRepos(t, orders, registry.Returns(), sleeper)

	_, err := svc.TransitionOrder(context.Background(), OrderTransitionCommand{OrderID: "ord_1", Target: domain.OrderStatusProcessing, Actor: staff})
	if !errors.Is(err, ErrUpstreamFailure) || !errors.Is(err, domain.ErrUnknownStatus) {
		t.Fatalf("expected upstream failure for a corrupt record, got %v", err)
	}
	if orders.finds != 1 || len(sleeper.pauses) != 0 {
		t.Fatalf("expected a single read without backoff, got %d reads and %v", orders.finds, sleeper.pauses)
	}
}
