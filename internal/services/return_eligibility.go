package services

import (
	"fmt"
	"slices"
	"time"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
)

// DefaultReturnWindowDays applies when configuration leaves the window unset.
const DefaultReturnWindowDays = 7

// Eligibility describes whether an order can take another return.
type Eligibility struct {
	Eligible     bool
	Reason       EligibilityReason
	WindowEndsAt *time.Time
	// Remaining maps each ordered line to units still returnable.
	Remaining map[domain.ItemKey]int
}

// ReturnEligibilityEvaluator applies the status, window and quantity rules.
type ReturnEligibilityEvaluator struct {
	window time.Duration
}

// NewReturnEligibilityEvaluator builds an evaluator for a window of windowDays whole days.
func NewReturnEligibilityEvaluator(windowDays int) (ReturnEligibilityEvaluator, error) {
	if windowDays <= 0 {
		return ReturnEligibilityEvaluator{}, fmt.Errorf("eligibility: window days must be positive, got %d", windowDays)
	}
	return ReturnEligibilityEvaluator{window: time.Duration(windowDays) * 24 * time.Hour}, nil
}

// WindowEnd returns the last instant a return may be requested, or nil when the order was never delivered.
func (e ReturnEligibilityEvaluator) WindowEnd(order domain.Order) *time.Time {
	if order.DeliveredAt == nil {
		return nil
	}
	end := order.DeliveredAt.Add(e.window)
	return &end
}

// Evaluate checks order against existing returns. When requested is empty the order is eligible
// while any line has units left; otherwise every requested line must fit its remaining quantity.
func (e ReturnEligibilityEvaluator) Evaluate(order domain.Order, existing []domain.ReturnRequest, requested []domain.ReturnItem, now time.Time) Eligibility {
	result := Eligibility{
		WindowEndsAt: e.WindowEnd(order),
		Remaining:    RemainingQuantities(order, existing),
	}

	if order.Status != domain.OrderStatusDelivered || result.WindowEndsAt == nil {
		result.Reason = ReasonWrongStatus
		return result
	}
	if now.After(*result.WindowEndsAt) {
		result.Reason = ReasonWindowExpired
		return result
	}

	if len(requested) == 0 {
		for _, left := range result.Remaining {
			if left > 0 {
				result.Eligible = true
				return result
			}
		}
		result.Reason = ReasonQuantityExhausted
		return result
	}

	wanted := make(map[domain.ItemKey]int, len(requested))
	keys := make([]domain.ItemKey, 0, len(requested))
	for _, item := range requested {
		key := item.Key()
		if _, seen := wanted[key]; !seen {
			keys = append(keys, key)
		}
		wanted[key] += item.Quantity
	}
	for _, key := range keys {
		left, ok := result.Remaining[key]
		if !ok {
			result.Reason = ReasonItemNotInOrder
			return result
		}
		if wanted[key] > left {
			result.Reason = ReasonQuantityExhausted
			return result
		}
	}

	result.Eligible = true
	return result
}

// Check returns nil when eligible and an *EligibilityError otherwise.
func (e ReturnEligibilityEvaluator) Check(order domain.Order, existing []domain.ReturnRequest, requested []domain.ReturnItem, now time.Time) error {
	result := e.Evaluate(order, existing, requested, now)
	if result.Eligible {
		return nil
	}
	return &EligibilityError{Reason: result.Reason, Detail: "order " + order.ID}
}

// RemainingQuantities subtracts units held by non-rejected returns from the ordered quantities.
func RemainingQuantities(order domain.Order, existing []domain.ReturnRequest) map[domain.ItemKey]int {
	remaining := make(map[domain.ItemKey]int, len(order.Items))
	for _, item := range order.Items {
		remaining[item.Key()] += item.Quantity
	}
	for _, ret := range existing {
		if ret.Status == domain.ReturnStatusRejected {
			continue
		}
		for _, item := range ret.Items {
			if _, ok := remaining[item.Key()]; ok {
				remaining[item.Key()] -= item.Quantity
			}
		}
	}
	return remaining
}

// FullyReturned reports whether completed returns cover every ordered unit.
func FullyReturned(order domain.Order, returns []domain.ReturnRequest) bool {
	completed := slices.DeleteFunc(slices.Clone(returns), func(ret domain.ReturnRequest) bool {
		return ret.Status != domain.ReturnStatusCompleted
	})
	if len(completed) == 0 {
		return false
	}
	for _, left := range RemainingQuantities(order, completed) {
		if left > 0 {
			return false
		}
	}
	return true
}
