package services

import (
	"context"
	"time"

	"golang.org/x/text/language"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
)

// OrderLifecycleService is the entry point used by the HTTP layer for orders and returns.
type OrderLifecycleService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string, viewer domain.Actor) (domain.Order, error)
	TransitionOrder(ctx context.Context, cmd OrderTransitionCommand) (domain.Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
	CheckEligibility(ctx context.Context, orderID string, viewer domain.Actor) (Eligibility, error)
	OrderTimeline(ctx context.Context, orderID string, viewer domain.Actor, locale language.Tag) ([]domain.TimelineEntry, error)
	ReconcileOrderReturns(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error)

	RequestReturn(ctx context.Context, cmd RequestReturnCommand) (domain.ReturnRequest, error)
	GetReturn(ctx context.Context, returnID string, viewer domain.Actor) (domain.ReturnRequest, error)
	ListOrderReturns(ctx context.Context, orderID string, viewer domain.Actor) ([]domain.ReturnRequest, error)
	ListReturnsByStatus(ctx context.Context, filter ReturnQueueFilter) (domain.CursorPage[domain.ReturnRequest], error)
	TransitionReturn(ctx context.Context, cmd ReturnTransitionCommand) (domain.ReturnRequest, error)
	CancelReturn(ctx context.Context, cmd CancelReturnCommand) (domain.ReturnRequest, error)
	ReturnTimeline(ctx context.Context, returnID string, viewer domain.Actor, locale language.Tag) ([]domain.TimelineEntry, error)

	GetReturnRefund(ctx context.Context, returnID string, viewer domain.Actor) (domain.RefundRecord, error)
	ListOrderRefunds(ctx context.Context, orderID string, viewer domain.Actor) ([]domain.RefundRecord, error)
}

// CreateOrderCommand carries checkout output. Totals are always recomputed from Items.
type CreateOrderCommand struct {
	CustomerID      string
	Items           []domain.OrderItem
	ShippingAddress domain.Address
	PaymentMethod   domain.PaymentMethod
	PaymentIntentID string
	ShippingFee     int64
	Discount        int64
	Actor           domain.Actor
}

// OrderTransitionCommand moves an order to Target. ExpectedVersion > 0 pins the version.
type OrderTransitionCommand struct {
	OrderID         string
	Target          domain.OrderStatus
	TrackingNumber  string
	Carrier         string
	DeliveredAt     *time.Time
	Note            string
	Actor           domain.Actor
	ExpectedVersion int64
}

// CancelOrderCommand cancels a pending order.
type CancelOrderCommand struct {
	OrderID         string
	Reason          string
	Actor           domain.Actor
	ExpectedVersion int64
}

// ReturnItemRequest selects units of an ordered line to return.
type ReturnItemRequest struct {
	ProductID string
	Variant   domain.Variant
	Quantity  int
	Reason    domain.ReasonCode
}

// RequestReturnCommand opens a return. Reason applies to items that omit their own.
type RequestReturnCommand struct {
	OrderID      string
	Items        []ReturnItemRequest
	Reason       domain.ReasonCode
	RefundMethod domain.RefundMethod
	Note         string
	Actor        domain.Actor
}

// ReturnTransitionCommand moves a return to Target. ExpectedVersion > 0 pins the version.
type ReturnTransitionCommand struct {
	ReturnID        string
	Target          domain.ReturnStatus
	AdminNote       string
	Actor           domain.Actor
	ExpectedVersion int64
}

// CancelReturnCommand withdraws a pending return on behalf of its customer.
type CancelReturnCommand struct {
	ReturnID        string
	Actor           domain.Actor
	ExpectedVersion int64
}

// ReturnQueueFilter pages through returns in one status.
type ReturnQueueFilter struct {
	Status     domain.ReturnStatus
	Pagination domain.Pagination
}

// LifecycleEvent is published when an order or return reaches a notified status.
type LifecycleEvent struct {
	Type           string
	EntityID       string
	OrderID        string
	CustomerID     string
	PreviousStatus string
	CurrentStatus  string
	Actor          string
	Amount         int64
	Currency       string
	OccurredAt     time.Time
}

// LifecycleNotifier delivers lifecycle events to downstream consumers such as email dispatch.
type LifecycleNotifier interface {
	PublishLifecycleEvent(ctx context.Context, event LifecycleEvent) error
}

// OrderArchiver stores a snapshot of an order that reached a terminal status.
type OrderArchiver interface {
	ArchiveOrder(ctx context.Context, order domain.Order) error
}

// RefundInitiation asks the payment provider to move money back to the customer.
type RefundInitiation struct {
	ReturnID        string
	OrderID         string
	CustomerID      string
	PaymentIntentID string
	PaymentMethod   domain.PaymentMethod
	Method          domain.RefundMethod
	Amount          int64
	Currency        string
	IdempotencyKey  string
}

// RefundReceipt is the provider's acknowledgement of a refund.
type RefundReceipt struct {
	Reference           string
	EstimatedCompletion *time.Time
}

// RefundGateway initiates refunds with the payment provider. Errors wrapping ErrUpstreamFailure are retried.
type RefundGateway interface {
	InitiateRefund(ctx context.Context, req RefundInitiation) (RefundReceipt, error)
}
