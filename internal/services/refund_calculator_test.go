package services

import (
	"errors"
	"math"
	"slices"
	"testing"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
)

func TestRefundCalculatorStoreCreditBonus(t *testing.T) {
	calc, err := NewRefundCalculator(500)
	if err != nil {
		t.Fatalf("NewRefundCalculator: %v", err)
	}
	items := []domain.ReturnItem{{ProductID: "tee", Variant: domain.Variant{Size: "M", Color: "black"}, Quantity: 1, UnitPrice: 500_000}}

	got, err := calc.ComputeRefund(items, domain.RefundMethodStoreCredit)
	if err != nil {
		t.Fatalf("ComputeRefund: %v", err)
	}
	want := RefundBreakdown{Base: 500_000, Bonus: 25_000, Total: 525_000}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestRefundCalculatorNoBonusForReversals(t *testing.T) {
	calc, err := NewRefundCalculator(500)
	if err != nil {
		t.Fatalf("NewRefundCalculator: %v", err)
	}
	items := []domain.ReturnItem{
		{ProductID: "tee", Quantity: 2, UnitPrice: 199_000},
		{ProductID: "jeans", Quantity: 1, UnitPrice: 450_000},
	}
	for _, method := range []domain.RefundMethod{domain.RefundMethodCardReversal, domain.RefundMethodBankTransfer} {
		got, err := calc.ComputeRefund(items, method)
		if err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		if got.Bonus != 0 || got.Total != got.Base || got.Base != 848_000 {
			t.Fatalf("%s: unexpected breakdown %+v", method, got)
		}
	}
}

func TestRefundCalculatorTruncatesBonus(t *testing.T) {
	got, err := ComputeRefundAtRate([]domain.ReturnItem{{ProductID: "sock", Quantity: 1, UnitPrice: 19_999}}, 500)
	if err != nil {
		t.Fatalf("ComputeRefundAtRate: %v", err)
	}
	// 19999 * 0.05 = 999.95
	if got.Bonus != 999 {
		t.Fatalf("expected truncated bonus 999, got %d", got.Bonus)
	}
}

func TestRefundCalculatorSmallBaseBonusThreshold(t *testing.T) {
	cases := []struct {
		unitPrice int64
		bonus     int64
	}{
		{unitPrice: 1, bonus: 0},
		{unitPrice: 19, bonus: 0},
		{unitPrice: 20, bonus: 1},
		{unitPrice: 39, bonus: 1},
		{unitPrice: 40, bonus: 2},
	}
	for _, tc := range cases {
		got, err := ComputeRefundAtRate([]domain.ReturnItem{{ProductID: "pin", Quantity: 1, UnitPrice: tc.unitPrice}}, 500)
		if err != nil {
			t.Fatalf("ComputeRefundAtRate(%d): %v", tc.unitPrice, err)
		}
		if got.Bonus != tc.bonus || got.Total != tc.unitPrice+tc.bonus {
			t.Fatalf("base %d: expected bonus %d, got %+v", tc.unitPrice, tc.bonus, got)
		}
		if tc.bonus > 0 && got.Total <= got.Base {
			t.Fatalf("base %d: store credit total must exceed base once base*bps reaches a whole unit", tc.unitPrice)
		}
	}
}

func TestRefundCalculatorOrderIndependent(t *testing.T) {
	items := []domain.ReturnItem{
		{ProductID: "a", Quantity: 3, UnitPrice: 10_001},
		{ProductID: "b", Quantity: 1, UnitPrice: 77_777},
		{ProductID: "c", Quantity: 2, UnitPrice: 3},
	}
	first, err := ComputeRefundAtRate(items, 750)
	if err != nil {
		t.Fatalf("ComputeRefundAtRate: %v", err)
	}
	reversed := slices.Clone(items)
	slices.Reverse(reversed)
	second, err := ComputeRefundAtRate(reversed, 750)
	if err != nil {
		t.Fatalf("ComputeRefundAtRate: %v", err)
	}
	if first != second {
		t.Fatalf("expected order independence, got %+v and %+v", first, second)
	}
	if first.Total <= first.Base {
		t.Fatalf("expected bonus to raise the total: %+v", first)
	}
}

func TestRefundCalculatorRejectsBadInput(t *testing.T) {
	if _, err := NewRefundCalculator(-1); err == nil {
		t.Fatalf("expected error for negative rate")
	}
	if _, err := NewRefundCalculator(BasisPointsDenominator + 1); err == nil {
		t.Fatalf("expected error for rate above 100%%")
	}

	cases := map[string][]domain.ReturnItem{
		"zero quantity":  {{ProductID: "a", Quantity: 0, UnitPrice: 1}},
		"negative price": {{ProductID: "a", Quantity: 1, UnitPrice: -1}},
		"overflow":       {{ProductID: "a", Quantity: 2, UnitPrice: math.MaxInt64}},
	}
	for name, items := range cases {
		if _, err := ComputeRefundAtRate(items, 0); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", name, err)
		}
	}
}

func TestApplyBasisPointsLargeAmounts(t *testing.T) {
	amount := int64(math.MaxInt64 / 2)
	if got := applyBasisPoints(amount, BasisPointsDenominator); got != amount {
		t.Fatalf("expected full rate to return amount, got %d", got)
	}
	if got := applyBasisPoints(amount, 0); got != 0 {
		t.Fatalf("expected zero rate to return 0, got %d", got)
	}
}

func TestFractionToBasisPoints(t *testing.T) {
	cases := map[float64]int64{0: 0, 0.05: 500, 0.125: 1250, 1: 10_000}
	for fraction, want := range cases {
		got, err := FractionToBasisPoints(fraction)
		if err != nil {
			t.Fatalf("%v: %v", fraction, err)
		}
		if got != want {
			t.Fatalf("%v: expected %d bps, got %d", fraction, want, got)
		}
	}
	for _, bad := range []float64{-0.01, 1.5, math.NaN()} {
		if _, err := FractionToBasisPoints(bad); err == nil {
			t.Fatalf("expected error for %v", bad)
		}
	}
}
