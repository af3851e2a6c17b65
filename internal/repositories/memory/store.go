// Package memory provides process-local repositories used by tests and local runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/pagination"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/repositories"
)

// Error implements repositories.RepositoryError.
type Error struct {
	op       string
	msg      string
	notFound bool
	conflict bool
}

func (e *Error) Error() string { return fmt.Sprintf("memory %s: %s", e.op, e.msg) }
func (e *Error) IsNotFound() bool { return e.notFound }
func (e *Error) IsConflict() bool { return e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), notFound: true}
}

func conflict(op, format string, args ...any) error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), conflict: true}
}

// Store holds orders, returns and refunds behind one mutex so return creation can
// re-check the order and its siblings atomically.
type Store struct {
	mu      sync.RWMutex
	orders  map[string]domain.Order
	returns map[string]domain.ReturnRequest
	refunds map[string]domain.RefundRecord
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		orders:  make(map[string]domain.Order),
		returns: make(map[string]domain.ReturnRequest),
		refunds: make(map[string]domain.RefundRecord),
	}
}

// Registry exposes the store through repositories.Registry.
type Registry struct {
	store  *Store
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds a registry over store. health may be nil.
func NewRegistry(store *Store, health repositories.HealthRepository) *Registry {
	return &Registry{store: store, health: health}
}

func (r *Registry) Close(context.Context) error { return nil }
func (r *Registry) Orders() repositories.OrderRepository { return orderRepository{r.store} }
func (r *Registry) Returns() repositories.ReturnRepository { return returnRepository{r.store} }
func (r *Registry) Refunds() repositories.RefundRepository { return refundRepository{r.store} }
func (r *Registry) Health() repositories.HealthRepository { return r.health }

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(_ context.Context, order domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.orders[order.ID]; exists {
		return conflict("order insert", "order %s already exists", order.ID)
	}
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("order get", "order %s", orderID)
	}
	return cloneOrder(order), nil
}

func (r orderRepository) ApplyTransition(_ context.Context, m repositories.OrderMutation) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[m.OrderID]
	if !ok {
		return domain.Order{}, notFound("order transition", "order %s", m.OrderID)
	}
	if order.Version != m.ExpectedVersion {
		return domain.Order{}, conflict("order transition", "order %s at version %d, expected %d", m.OrderID, order.Version, m.ExpectedVersion)
	}
	order = cloneOrder(order)
	order.Status = m.Status
	if m.TrackingNumber != nil {
		order.TrackingNumber = *m.TrackingNumber
	}
	if m.Carrier != nil {
		order.Carrier = *m.Carrier
	}
	if m.DeliveredAt != nil {
		at := *m.DeliveredAt
		order.DeliveredAt = &at
	}
	if m.Archived != nil {
		order.Archived = *m.Archived
	}
	order.Timeline = append(order.Timeline, m.Entry)
	order.UpdatedAt = m.UpdatedAt
	order.Version++
	r.s.orders[order.ID] = order
	return cloneOrder(order), nil
}

type returnRepository struct{ s *Store }

func (r returnRepository) CreateForOrder(_ context.Context, ret domain.ReturnRequest, check repositories.ReturnCreateCheck) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[ret.OrderID]
	if !ok {
		return notFound("return create", "order %s", ret.OrderID)
	}
	if _, exists := r.s.returns[ret.ID]; exists {
		return conflict("return create", "return %s already exists", ret.ID)
	}
	if check != nil {
		if err := check(cloneOrder(order), r.byOrderLocked(ret.OrderID)); err != nil {
			return err
		}
	}
	r.s.returns[ret.ID] = cloneReturn(ret)
	return nil
}

func (r returnRepository) FindByID(_ context.Context, returnID string) (domain.ReturnRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ret, ok := r.s.returns[returnID]
	if !ok {
		return domain.ReturnRequest{}, notFound("return get", "return %s", returnID)
	}
	return cloneReturn(ret), nil
}

func (r returnRepository) ListByOrder(_ context.Context, orderID string) ([]domain.ReturnRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.byOrderLocked(orderID), nil
}

func (r returnRepository) byOrderLocked(orderID string) []domain.ReturnRequest {
	var result []domain.ReturnRequest
	for _, ret := range r.s.returns {
		if ret.OrderID == orderID {
			result = append(result, cloneReturn(ret))
		}
	}
	sortReturns(result)
	return result
}

func (r returnRepository) ListByStatus(_ context.Context, query repositories.ReturnQuery) (domain.CursorPage[domain.ReturnRequest], error) {
	after, hasCursor, err := pagination.ReturnKeyFromToken(query.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, err
	}
	size := pagination.ClampPageSize(query.Pagination.PageSize)

	r.s.mu.RLock()
	var matches []domain.ReturnRequest
	for _, ret := range r.s.returns {
		if ret.Status == query.Status {
			matches = append(matches, cloneReturn(ret))
		}
	}
	r.s.mu.RUnlock()
	sortReturns(matches)

	start := 0
	if hasCursor {
		start = sort.Search(len(matches), func(i int) bool {
			return pagination.ReturnKeyOf(matches[i]).Compare(after) > 0
		})
	}
	end := min(start+size, len(matches))
	page := domain.CursorPage[domain.ReturnRequest]{Items: matches[start:end]}
	if end < len(matches) {
		token, err := pagination.ReturnKeyOf(matches[end-1]).Token()
		if err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func (r returnRepository) ApplyTransition(_ context.Context, m repositories.ReturnMutation) (domain.ReturnRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ret, ok := r.s.returns[m.ReturnID]
	if !ok {
		return domain.ReturnRequest{}, notFound("return transition", "return %s", m.ReturnID)
	}
	if ret.Version != m.ExpectedVersion {
		return domain.ReturnRequest{}, conflict("return transition", "return %s at version %d, expected %d", m.ReturnID, ret.Version, m.ExpectedVersion)
	}
	if m.Refund != nil {
		if _, exists := r.s.refunds[ret.ID]; exists {
			return domain.ReturnRequest{}, conflict("return transition", "refund already recorded for %s", ret.ID)
		}
	}

	ret = cloneReturn(ret)
	ret.Status = m.Status
	if m.AdminNote != nil {
		ret.AdminNote = *m.AdminNote
	}
	if m.RefundReference != nil {
		ret.RefundReference = *m.RefundReference
	}
	if m.EstimatedCompletion != nil {
		at := *m.EstimatedCompletion
		ret.EstimatedCompletion = &at
	}
	if m.CompletedAt != nil {
		at := *m.CompletedAt
		ret.CompletedAt = &at
	}
	if m.Refund != nil {
		record := *m.Refund
		ret.Refund = &record
		r.s.refunds[ret.ID] = record
	}
	ret.Timeline = append(ret.Timeline, m.Entry)
	ret.UpdatedAt = m.UpdatedAt
	ret.Version++
	r.s.returns[ret.ID] = ret
	return cloneReturn(ret), nil
}

type refundRepository struct{ s *Store }

func (r refundRepository) FindByReturnID(_ context.Context, returnID string) (domain.RefundRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	record, ok := r.s.refunds[returnID]
	if !ok {
		return domain.RefundRecord{}, notFound("refund get", "refund for return %s", returnID)
	}
	return record, nil
}

func (r refundRepository) ListByOrder(_ context.Context, orderID string) ([]domain.RefundRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []domain.RefundRecord
	for _, record := range r.s.refunds {
		if record.OrderID == orderID {
			result = append(result, record)
		}
	}
	slices.SortFunc(result, func(a, b domain.RefundRecord) int {
		if c := a.RecordedAt.Compare(b.RecordedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

func sortReturns(returns []domain.ReturnRequest) {
	slices.SortFunc(returns, func(a, b domain.ReturnRequest) int {
		return pagination.ReturnKeyOf(a).Compare(pagination.ReturnKeyOf(b))
	})
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = slices.Clone(order.Items)
	order.Timeline = slices.Clone(order.Timeline)
	if order.DeliveredAt != nil {
		at := *order.DeliveredAt
		order.DeliveredAt = &at
	}
	return order
}

func cloneReturn(ret domain.ReturnRequest) domain.ReturnRequest {
	ret.Items = slices.Clone(ret.Items)
	ret.Timeline = slices.Clone(ret.Timeline)
	if ret.Refund != nil {
		record := *ret.Refund
		ret.Refund = &record
	}
	return ret
}
