package repositories

import (
	"context"
	"time"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Returns() ReturnRepository
	Refunds() RefundRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderMutation is a partial, version-checked update of an order. Nil pointers leave fields untouched.
type OrderMutation struct {
	OrderID         string
	ExpectedVersion int64
	Status          domain.OrderStatus
	TrackingNumber  *string
	Carrier         *string
	DeliveredAt     *time.Time
	Archived        *bool
	Entry           domain.TimelineEntry
	UpdatedAt       time.Time
}

// OrderRepository persists order aggregates.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// ApplyTransition writes the mutation only when the stored version equals ExpectedVersion,
	// appending Entry to the timeline and incrementing the version. A mismatch yields a conflict error.
	ApplyTransition(ctx context.Context, mutation OrderMutation) (domain.Order, error)
}

// ReturnMutation is a partial, version-checked update of a return request.
type ReturnMutation struct {
	ReturnID            string
	ExpectedVersion     int64
	Status              domain.ReturnStatus
	AdminNote           *string
	RefundReference     *string
	EstimatedCompletion *time.Time
	CompletedAt         *time.Time
	// Refund, when set, is stored in the refunds collection in the same write.
	Refund    *domain.RefundRecord
	Entry     domain.TimelineEntry
	UpdatedAt time.Time
}

// ReturnCreateCheck re-validates a new return against the freshest order and sibling returns
// inside the repository's write boundary.
type ReturnCreateCheck func(order domain.Order, existing []domain.ReturnRequest) error

// ReturnQuery filters the admin return queue.
type ReturnQuery struct {
	Status     domain.ReturnStatus
	Pagination domain.Pagination
}

// ReturnRepository persists return requests.
type ReturnRepository interface {
	// CreateForOrder inserts ret after check accepts the current order and its returns.
	CreateForOrder(ctx context.Context, ret domain.ReturnRequest, check ReturnCreateCheck) error
	FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.ReturnRequest, error)
	ListByStatus(ctx context.Context, query ReturnQuery) (domain.CursorPage[domain.ReturnRequest], error)
	ApplyTransition(ctx context.Context, mutation ReturnMutation) (domain.ReturnRequest, error)
}

// RefundRepository exposes persisted refund records.
type RefundRepository interface {
	FindByReturnID(ctx context.Context, returnID string) (domain.RefundRecord, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.RefundRecord, error)
}

// HealthRepository probes backing dependencies for the readiness endpoint.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
