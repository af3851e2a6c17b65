package services

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/language"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/repositories"
)

var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:  {domain.OrderStatusReturned},
}

// notifiedOrderStatuses publish a lifecycle event when reached.
var notifiedOrderStatuses = []domain.OrderStatus{
	domain.OrderStatusCancelled,
	domain.OrderStatusDelivered,
	domain.OrderStatusReturned,
}

// archivedOrderStatuses soft-archive the order when reached.
var archivedOrderStatuses = []domain.OrderStatus{
	domain.OrderStatusCancelled,
	domain.OrderStatusReturned,
}

// CanTransitionOrder reports whether from -> to is in the adjacency table.
func CanTransitionOrder(from, to domain.OrderStatus) bool {
	return slices.Contains(orderTransitions[from], to)
}

// CanCancel reports whether the customer-facing cancel action applies.
func CanCancel(order domain.Order) bool {
	return order.Status == domain.OrderStatusPending
}

// IsTerminalOrderStatus reports whether no transition leaves status.
func IsTerminalOrderStatus(status domain.OrderStatus) bool {
	return len(orderTransitions[status]) == 0
}

// OrderTransition is the input to OrderStateMachine.Apply.
type OrderTransition struct {
	Target         domain.OrderStatus
	TrackingNumber string
	Carrier        string
	DeliveredAt    *time.Time
	// ReturnCascade is set only by the lifecycle service once completed returns cover the order.
	ReturnCascade bool
	Actor         domain.Actor
	Note          string
	At            time.Time
}

// OrderStateMachine validates order transitions and produces the resulting mutation.
type OrderStateMachine struct {
	timeline TimelineBuilder
}

// NewOrderStateMachine returns a state machine that renders entries with timeline.
func NewOrderStateMachine(timeline TimelineBuilder) OrderStateMachine {
	return OrderStateMachine{timeline: timeline}
}

// Apply checks the transition against order and returns the version-pinned mutation.
func (m OrderStateMachine) Apply(order domain.Order, t OrderTransition) (repositories.OrderMutation, error) {
	if !CanTransitionOrder(order.Status, t.Target) {
		return repositories.OrderMutation{}, fmt.Errorf("%w: order %s cannot move from %s to %s", ErrInvalidTransition, order.ID, order.Status, t.Target)
	}

	mutation := repositories.OrderMutation{
		OrderID:         order.ID,
		ExpectedVersion: order.Version,
		Status:          t.Target,
		UpdatedAt:       t.At,
	}

	switch t.Target {
	case domain.OrderStatusShipped:
		tracking := strings.TrimSpace(t.TrackingNumber)
		if tracking == "" {
			return repositories.OrderMutation{}, fmt.Errorf("%w: tracking number is required to ship", ErrValidation)
		}
		mutation.TrackingNumber = &tracking
		if carrier := strings.TrimSpace(t.Carrier); carrier != "" {
			mutation.Carrier = &carrier
		}
	case domain.OrderStatusDelivered:
		deliveredAt := t.At
		if t.DeliveredAt != nil && !t.DeliveredAt.IsZero() {
			deliveredAt = t.DeliveredAt.UTC()
		}
		if deliveredAt.After(t.At) {
			return repositories.OrderMutation{}, fmt.Errorf("%w: delivery time is in the future", ErrValidation)
		}
		mutation.DeliveredAt = &deliveredAt
	case domain.OrderStatusReturned:
		if !t.ReturnCascade {
			return repositories.OrderMutation{}, fmt.Errorf("%w: order %s is marked returned only by completed returns", ErrInvalidTransition, order.ID)
		}
	}

	if slices.Contains(archivedOrderStatuses, t.Target) {
		archived := true
		mutation.Archived = &archived
	}

	mutation.Entry = m.timeline.Entry(TimelineOrder, domain.TransitionEvent{
		From:       string(order.Status),
		To:         string(t.Target),
		OccurredAt: t.At,
		Actor:      t.Actor.String(),
		Note:       t.Note,
	}, language.English)
	return mutation, nil
}

// Initial renders the first timeline entry of a new order.
func (m OrderStateMachine) Initial(at time.Time, actor domain.Actor) domain.TimelineEntry {
	return m.timeline.Entry(TimelineOrder, domain.TransitionEvent{
		To:         string(domain.OrderStatusPending),
		OccurredAt: at,
		Actor:      actor.String(),
	}, language.English)
}
