package services

import (
	"fmt"
	"math"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
)

// BasisPointsDenominator expresses 100% in basis points.
const BasisPointsDenominator = 10_000

// RefundBreakdown is the result of a refund computation in minor currency units.
type RefundBreakdown struct {
	Base  int64
	Bonus int64
	Total int64
}

// RefundCalculator computes refund totals. It holds no mutable state.
type RefundCalculator struct {
	storeCreditBonusBps int64
}

// NewRefundCalculator validates the store credit bonus rate expressed in basis points.
func NewRefundCalculator(storeCreditBonusBps int64) (RefundCalculator, error) {
	if storeCreditBonusBps < 0 || storeCreditBonusBps > BasisPointsDenominator {
		return RefundCalculator{}, fmt.Errorf("refund calculator: bonus %d bps outside [0, %d]", storeCreditBonusBps, BasisPointsDenominator)
	}
	return RefundCalculator{storeCreditBonusBps: storeCreditBonusBps}, nil
}

// BonusRate returns the bonus rate in basis points applied to method.
func (c RefundCalculator) BonusRate(method domain.RefundMethod) int64 {
	if method == domain.RefundMethodStoreCredit {
		return c.storeCreditBonusBps
	}
	return 0
}

// ComputeRefund prices items with the configured bonus for method.
func (c RefundCalculator) ComputeRefund(items []domain.ReturnItem, method domain.RefundMethod) (RefundBreakdown, error) {
	return ComputeRefundAtRate(items, c.BonusRate(method))
}

// ComputeRefundAtRate prices items with an explicit bonus rate, used to honour the rate
// snapshotted on a return when it was requested.
func ComputeRefundAtRate(items []domain.ReturnItem, bonusBps int64) (RefundBreakdown, error) {
	if bonusBps < 0 || bonusBps > BasisPointsDenominator {
		return RefundBreakdown{}, fmt.Errorf("%w: bonus rate %d bps out of range", ErrValidation, bonusBps)
	}

	var base int64
	for _, item := range items {
		if item.Quantity <= 0 {
			return RefundBreakdown{}, fmt.Errorf("%w: quantity must be positive for %s", ErrValidation, item.Key())
		}
		if item.UnitPrice < 0 {
			return RefundBreakdown{}, fmt.Errorf("%w: unit price must be non-negative for %s", ErrValidation, item.Key())
		}
		line, ok := mulInt64(item.UnitPrice, int64(item.Quantity))
		if !ok {
			return RefundBreakdown{}, fmt.Errorf("%w: line amount overflows for %s", ErrValidation, item.Key())
		}
		if base, ok = addInt64(base, line); !ok {
			return RefundBreakdown{}, fmt.Errorf("%w: refund amount overflows", ErrValidation)
		}
	}

	bonus := applyBasisPoints(base, bonusBps)
	total, ok := addInt64(base, bonus)
	if !ok {
		return RefundBreakdown{}, fmt.Errorf("%w: refund amount overflows", ErrValidation)
	}
	return RefundBreakdown{Base: base, Bonus: bonus, Total: total}, nil
}

// applyBasisPoints returns amount*bps/10000 truncated toward zero without overflowing
// for non-negative amount and bps <= 10000.
func applyBasisPoints(amount, bps int64) int64 {
	whole := amount / BasisPointsDenominator
	rest := amount % BasisPointsDenominator
	return whole*bps + rest*bps/BasisPointsDenominator
}

// FractionToBasisPoints converts a configured fraction such as 0.05 into basis points.
func FractionToBasisPoints(fraction float64) (int64, error) {
	if math.IsNaN(fraction) || fraction < 0 || fraction > 1 {
		return 0, fmt.Errorf("refund calculator: fraction %v outside [0, 1]", fraction)
	}
	return int64(math.Round(fraction * BasisPointsDenominator)), nil
}

func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	product := a * b
	if product/b != a {
		return 0, false
	}
	return product, true
}

func addInt64(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}
