package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/services"
)

func newTestGateway(t *testing.T, card Provider) *RefundGateway {
	t.Helper()
	now := time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)
	ledger, err := NewManualProvider(ManualProviderConfig{
		Name:            "ledger",
		Kinds:           []RefundKind{KindStoreCredit},
		ReferencePrefix: "sc_",
		Clock:           func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewManualProvider: %v", err)
	}
	manager, err := NewManager(map[string]Provider{"stripe": card, "ledger": ledger},
		WithKindRoutes(map[RefundKind]string{KindStoreCredit: "ledger", KindCardReversal: "stripe"}))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	gateway, err := NewRefundGateway(manager)
	if err != nil {
		t.Fatalf("NewRefundGateway: %v", err)
	}
	return gateway
}

func TestRefundGatewayStoreCreditUsesLedger(t *testing.T) {
	card := &fakeProvider{}
	gateway := newTestGateway(t, card)

	key := services.RefundIdempotencyKey("ret_1")
	receipt, err := gateway.InitiateRefund(context.Background(), services.RefundInitiation{
		ReturnID:       "ret_1",
		OrderID:        "ord_1",
		PaymentMethod:  domain.PaymentMethodCOD,
		Method:         domain.RefundMethodStoreCredit,
		Amount:         525000,
		Currency:       "VND",
		IdempotencyKey: key,
	})
	if err != nil {
		t.Fatalf("InitiateRefund: %v", err)
	}
	if receipt.Reference != "sc_"+key {
		t.Fatalf("unexpected reference %q", receipt.Reference)
	}
	if card.calls != 0 {
		t.Fatalf("expected card provider to remain unused")
	}
}

func TestRefundGatewayMapsUnavailableToUpstreamFailure(t *testing.T) {
	card := &fakeProvider{err: ErrProviderUnavailable}
	gateway := newTestGateway(t, card)

	_, err := gateway.InitiateRefund(context.Background(), services.RefundInitiation{
		PaymentMethod:   domain.PaymentMethodCard,
		PaymentIntentID: "pi_1",
		Method:          domain.RefundMethodCardReversal,
		Amount:          10,
		IdempotencyKey:  "k",
	})
	if !errors.Is(err, services.ErrUpstreamFailure) {
		t.Fatalf("expected ErrUpstreamFailure, got %v", err)
	}
}

func TestRefundGatewayRejectsCardReversalForCOD(t *testing.T) {
	gateway := newTestGateway(t, &fakeProvider{})
	_, err := gateway.InitiateRefund(context.Background(), services.RefundInitiation{
		PaymentMethod: domain.PaymentMethodCOD,
		Method:        domain.RefundMethodCardReversal,
		Amount:        10,
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestManualProviderIsDeterministic(t *testing.T) {
	provider, err := NewManualProvider(ManualProviderConfig{Name: "finance", Kinds: []RefundKind{KindBankTransfer}, SettlementDelay: 72 * time.Hour})
	if err != nil {
		t.Fatalf("NewManualProvider: %v", err)
	}
	req := RefundRequest{Kind: KindBankTransfer, Amount: 100, IdempotencyKey: "abc"}
	first, err := provider.Refund(context.Background(), req)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	second, err := provider.Refund(context.Background(), req)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if first.Reference != second.Reference || first.Reference != "finance_abc" {
		t.Fatalf("expected stable reference, got %q and %q", first.Reference, second.Reference)
	}
	if first.Status != StatusPending || first.EstimatedArrival == nil {
		t.Fatalf("expected pending bank transfer with eta, got %+v", first)
	}
}
