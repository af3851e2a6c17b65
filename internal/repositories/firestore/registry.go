package firestore

import (
	"context"
	"fmt"

	pfirestore "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/firestore"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/repositories"
)

// Registry exposes the Firestore repositories through repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	returns  *ReturnRepository
	refunds  *RefundRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires every repository over provider. health may be nil.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}
	returns, err := NewReturnRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}
	refunds, err := NewRefundRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}
	return &Registry{provider: provider, orders: orders, returns: returns, refunds: refunds, health: health}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) Returns() repositories.ReturnRepository { return r.returns }
func (r *Registry) Refunds() repositories.RefundRepository { return r.refunds }
func (r *Registry) Health() repositories.HealthRepository { return r.health }
