package di

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/config"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/storage"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/services"
)

func memoryConfig() config.Config {
	return config.Config{
		Storage: config.StorageConfig{Driver: "memory", ArchivePrefix: "archive"},
		Returns: config.ReturnsConfig{WindowDays: 30, StoreCreditBonusBps: 1000, Currency: "VND"},
		Retry:   config.RetryConfig{MaxAttempts: 2, Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1},
	}
}

func TestNewContainer_MemoryDriverRunsReturnFlow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	c, err := NewContainer(ctx, memoryConfig(), WithClock(clock), WithBuildVersion("test"))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	if c.Idempotency == nil {
		t.Fatalf("expected an idempotency store")
	}
	report, err := c.Repositories.Health().Collect(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.Version != "test" {
		t.Fatalf("unexpected health report %+v", report)
	}

	svc := c.Services.Lifecycle
	staff := domain.Actor{ID: "ops-1", Kind: domain.ActorStaff}
	order, err := svc.CreateOrder(ctx, services.CreateOrderCommand{
		CustomerID: "cust-1",
		Items: []domain.OrderItem{
			{ProductID: "tee", Name: "Tee", Variant: domain.Variant{Size: "M", Color: "black"}, Quantity: 2, UnitPrice: 150000},
		},
		ShippingAddress: domain.Address{Recipient: "An", Phone: "0900000000", Line1: "1 Le Loi", City: "HCMC", Country: "vn"},
		PaymentMethod:   domain.PaymentMethodCOD,
		Actor:           staff,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	for _, step := range []services.OrderTransitionCommand{
		{Target: domain.OrderStatusProcessing},
		{Target: domain.OrderStatusShipped, TrackingNumber: "VN123", Carrier: "ghn"},
		{Target: domain.OrderStatusDelivered},
	} {
		step.OrderID = order.ID
		step.Actor = staff
		if _, err := svc.TransitionOrder(ctx, step); err != nil {
			t.Fatalf("transition to %s: %v", step.Target, err)
		}
	}

	customer := domain.Actor{ID: "cust-1", Kind: domain.ActorCustomer}
	ret, err := svc.RequestReturn(ctx, services.RequestReturnCommand{
		OrderID:      order.ID,
		Items:        []services.ReturnItemRequest{{ProductID: "tee", Variant: domain.Variant{Size: "M", Color: "black"}, Quantity: 2}},
		Reason:       domain.ReasonWrongSize,
		RefundMethod: domain.RefundMethodStoreCredit,
		Actor:        customer,
	})
	if err != nil {
		t.Fatalf("RequestReturn: %v", err)
	}

	var processed domain.ReturnRequest
	for _, target := range []domain.ReturnStatus{domain.ReturnStatusApproved, domain.ReturnStatusProcessing, domain.ReturnStatusCompleted} {
		processed, err = svc.TransitionReturn(ctx, services.ReturnTransitionCommand{ReturnID: ret.ID, Target: target, Actor: staff})
		if err != nil {
			t.Fatalf("return transition to %s: %v", target, err)
		}
	}
	if !strings.HasPrefix(processed.RefundReference, "sc_") {
		t.Fatalf("expected ledger reference, got %q", processed.RefundReference)
	}

	final, err := svc.GetOrder(ctx, order.ID, staff)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if final.Status != domain.OrderStatusReturned {
		t.Fatalf("expected order returned, got %s", final.Status)
	}

	writer, ok := c.Archive.(*storage.MemoryWriter)
	if !ok {
		t.Fatalf("expected memory archive writer, got %T", c.Archive)
	}
	archiver, err := storage.NewOrderArchiver(writer, "archive")
	if err != nil {
		t.Fatalf("NewOrderArchiver: %v", err)
	}
	name, err := archiver.ObjectName(final)
	if err != nil {
		t.Fatalf("ObjectName: %v", err)
	}
	if _, ok := writer.Object(name); !ok {
		t.Fatalf("expected archived snapshot at %s", name)
	}
}

func TestNewContainer_CardReversalWithoutStripe(t *testing.T) {
	ctx := context.Background()
	gateway, err := buildRefundGateway(memoryConfig(), zap.NewNop(), time.Now)
	if err != nil {
		t.Fatalf("buildRefundGateway: %v", err)
	}
	_, err = gateway.InitiateRefund(ctx, services.RefundInitiation{
		ReturnID:        "ret-1",
		OrderID:         "ord-1",
		Method:          domain.RefundMethodCardReversal,
		PaymentMethod:   domain.PaymentMethodCard,
		PaymentIntentID: "pi_1",
		Amount:          1000,
		Currency:        "VND",
		IdempotencyKey:  "key",
	})
	if err == nil {
		t.Fatalf("expected card reversal to be rejected without stripe")
	}
}

func TestNewContainer_RejectsUnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Driver = "postgres"
	if _, err := NewContainer(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestBuildRefundGateway_RequiresStripeInProd(t *testing.T) {
	cfg := memoryConfig()
	cfg.Security.Environment = "prod"
	if _, err := buildRefundGateway(cfg, zap.NewNop(), time.Now); err == nil {
		t.Fatalf("expected error without stripe key in prod")
	}
}
