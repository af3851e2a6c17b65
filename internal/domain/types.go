package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownStatus is returned when a status, method or reason string is outside its closed vocabulary.
var ErrUnknownStatus = errors.New("domain: unknown enumeration value")

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage captures a page of results together with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusPending is the initial state after checkout.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing means staff confirmed the order and it is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped means a carrier has the parcel and a tracking reference exists.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered means delivery was confirmed.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal and only reachable from pending.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusReturned is terminal and only reachable through a completed return.
	OrderStatusReturned OrderStatus = "returned"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturned,
}

// OrderStatuses returns the closed order status vocabulary in lifecycle order.
func OrderStatuses() []OrderStatus {
	return append([]OrderStatus(nil), orderStatuses...)
}

// ParseOrderStatus converts raw input into an OrderStatus, rejecting unknown values.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	value := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, status := range orderStatuses {
		if status == value {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: order status %q", ErrUnknownStatus, raw)
}

// ReturnStatus enumerates the lifecycle states of a return request.
type ReturnStatus string

const (
	// ReturnStatusPending awaits staff review.
	ReturnStatusPending ReturnStatus = "pending"
	// ReturnStatusApproved was accepted and waits for the refund to be initiated.
	ReturnStatusApproved ReturnStatus = "approved"
	// ReturnStatusProcessing has a refund in flight with the payment provider.
	ReturnStatusProcessing ReturnStatus = "processing"
	// ReturnStatusCompleted is terminal; the refund record has been persisted.
	ReturnStatusCompleted ReturnStatus = "completed"
	// ReturnStatusRejected is terminal; covers staff rejection and customer cancellation.
	ReturnStatusRejected ReturnStatus = "rejected"
)

var returnStatuses = []ReturnStatus{
	ReturnStatusPending,
	ReturnStatusApproved,
	ReturnStatusProcessing,
	ReturnStatusCompleted,
	ReturnStatusRejected,
}

// ParseReturnStatus converts raw input into a ReturnStatus, rejecting unknown values.
func ParseReturnStatus(raw string) (ReturnStatus, error) {
	value := ReturnStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, status := range returnStatuses {
		if status == value {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: return status %q", ErrUnknownStatus, raw)
}

// RefundMethod selects how money goes back to the customer.
type RefundMethod string

const (
	RefundMethodCardReversal RefundMethod = "card_reversal"
	RefundMethodBankTransfer RefundMethod = "bank_transfer"
	RefundMethodStoreCredit  RefundMethod = "store_credit"
)

// ParseRefundMethod converts raw input into a RefundMethod, rejecting unknown values.
func ParseRefundMethod(raw string) (RefundMethod, error) {
	switch value := RefundMethod(strings.ToLower(strings.TrimSpace(raw))); value {
	case RefundMethodCardReversal, RefundMethodBankTransfer, RefundMethodStoreCredit:
		return value, nil
	}
	return "", fmt.Errorf("%w: refund method %q", ErrUnknownStatus, raw)
}

// PaymentMethod tags how the order was paid at checkout.
type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodCOD          PaymentMethod = "cod"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

// ParsePaymentMethod converts raw input into a PaymentMethod, rejecting unknown values.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch value := PaymentMethod(strings.ToLower(strings.TrimSpace(raw))); value {
	case PaymentMethodCard, PaymentMethodCOD, PaymentMethodBankTransfer:
		return value, nil
	}
	return "", fmt.Errorf("%w: payment method %q", ErrUnknownStatus, raw)
}

// ReasonCode is the customer supplied reason for returning an item.
type ReasonCode string

const (
	ReasonWrongSize      ReasonCode = "wrong_size"
	ReasonDefective      ReasonCode = "defective"
	ReasonNotAsDescribed ReasonCode = "not_as_described"
	ReasonChangedMind    ReasonCode = "changed_mind"
	ReasonWrongItem      ReasonCode = "wrong_item"
	ReasonOther          ReasonCode = "other"
)

// ParseReasonCode converts raw input into a ReasonCode, rejecting unknown values.
func ParseReasonCode(raw string) (ReasonCode, error) {
	switch value := ReasonCode(strings.ToLower(strings.TrimSpace(raw))); value {
	case ReasonWrongSize, ReasonDefective, ReasonNotAsDescribed, ReasonChangedMind, ReasonWrongItem, ReasonOther:
		return value, nil
	}
	return "", fmt.Errorf("%w: reason code %q", ErrUnknownStatus, raw)
}

// ActorKind distinguishes who triggered a transition.
type ActorKind string

const (
	ActorCustomer ActorKind = "customer"
	ActorStaff    ActorKind = "staff"
	ActorSystem   ActorKind = "system"
)

// Actor identifies the principal that performed an operation.
type Actor struct {
	ID   string
	Kind ActorKind
}

// String renders the actor as "kind:id" for timeline entries and logs.
func (a Actor) String() string {
	kind := a.Kind
	if kind == "" {
		kind = ActorSystem
	}
	if strings.TrimSpace(a.ID) == "" {
		return string(kind)
	}
	return string(kind) + ":" + strings.TrimSpace(a.ID)
}

// SystemActor is used for transitions the service performs on its own behalf.
var SystemActor = Actor{ID: "lifecycle", Kind: ActorSystem}

// Variant is the chosen size and color of a clothing item.
type Variant struct {
	Size  string
	Color string
}

// ItemKey identifies a line across an order and its returns.
type ItemKey struct {
	ProductID string
	Size      string
	Color     string
}

// String renders the key as productID/size/color.
func (k ItemKey) String() string {
	return k.ProductID + "/" + k.Size + "/" + k.Color
}

// OrderItem is a purchased line. UnitPrice is the checkout snapshot in minor units.
type OrderItem struct {
	ProductID string
	Name      string
	Variant   Variant
	Quantity  int
	UnitPrice int64
}

// Key returns the matching key for the line.
func (i OrderItem) Key() ItemKey {
	return ItemKey{ProductID: i.ProductID, Size: i.Variant.Size, Color: i.Variant.Color}
}

// Address is the shipping address snapshot taken at checkout.
type Address struct {
	Recipient  string
	Phone      string
	Line1      string
	Line2      string
	Ward       string
	District   string
	City       string
	PostalCode string
	Country    string
}

// OrderTotals holds monetary totals in minor currency units.
type OrderTotals struct {
	Subtotal int64
	Shipping int64
	Discount int64
	Total    int64
	Currency string
}

// Validate checks the totals invariant.
func (t OrderTotals) Validate() error {
	if t.Subtotal < 0 || t.Shipping < 0 || t.Discount < 0 || t.Total < 0 {
		return errors.New("totals must be non-negative")
	}
	if t.Discount > t.Subtotal {
		return errors.New("discount exceeds subtotal")
	}
	if t.Total != t.Subtotal+t.Shipping-t.Discount {
		return errors.New("total does not equal subtotal + shipping - discount")
	}
	return nil
}

// TimelineEntry is one append-only history record of an order or return.
type TimelineEntry struct {
	Status      string
	Previous    string
	Timestamp   time.Time
	Label       string
	Description string
	Actor       string
	Note        string
}

// Order is the persisted order aggregate.
type Order struct {
	ID              string
	CustomerID      string
	Items           []OrderItem
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	PaymentIntentID string
	Totals          OrderTotals
	Status          OrderStatus
	TrackingNumber  string
	Carrier         string
	DeliveredAt     *time.Time
	Archived        bool
	Timeline        []TimelineEntry
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ReturnItem is one returned line with the unit price copied from the order.
type ReturnItem struct {
	ProductID string
	Variant   Variant
	Quantity  int
	Reason    ReasonCode
	UnitPrice int64
}

// Key returns the matching key for the returned line.
func (i ReturnItem) Key() ItemKey {
	return ItemKey{ProductID: i.ProductID, Size: i.Variant.Size, Color: i.Variant.Color}
}

// RefundRecord is the final refund persisted when a return completes.
type RefundRecord struct {
	ID          string
	ReturnID    string
	OrderID     string
	Method      RefundMethod
	BaseAmount  int64
	BonusAmount int64
	TotalAmount int64
	Currency    string
	ExternalRef string
	RecordedAt  time.Time
}

// ReturnRequest is the persisted return aggregate.
type ReturnRequest struct {
	ID                  string
	OrderID             string
	CustomerID          string
	Items               []ReturnItem
	Status              ReturnStatus
	RefundMethod        RefundMethod
	RequestedAmount     int64
	BonusAmount         int64
	BonusRateBps        int64
	Currency            string
	RefundReference     string
	Refund              *RefundRecord
	EstimatedCompletion *time.Time
	CompletedAt         *time.Time
	AdminNote           string
	CustomerNote        string
	Timeline            []TimelineEntry
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TotalQuantity sums the returned units.
func (r ReturnRequest) TotalQuantity() int {
	total := 0
	for _, item := range r.Items {
		total += item.Quantity
	}
	return total
}

// TransitionEvent is a raw state change that the timeline view is built from.
type TransitionEvent struct {
	From       string
	To         string
	OccurredAt time.Time
	Actor      string
	Note       string
}

const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// HealthCheck is the outcome of one dependency probe.
type HealthCheck struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency probes for the health endpoint.
type HealthReport struct {
	Status      string
	Checks      map[string]HealthCheck
	Version     string
	GeneratedAt time.Time
}
