package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
	pfirestore "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/firestore"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists orders in the orders collection keyed by order id.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection, nil),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.orders.Create(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(orderID)
}

// ApplyTransition re-reads the order inside a transaction and writes only the touched fields
// when the stored version still matches.
func (r *OrderRepository) ApplyTransition(ctx context.Context, m repositories.OrderMutation) (domain.Order, error) {
	op := r.orders.Op("transition")
	var updated domain.Order
	err := r.provider.RunTransaction(ctx, op, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.Doc(ctx, m.OrderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if pfirestore.IsNotFoundCode(err) {
				return pfirestore.NotFound(op, "order %s not found", m.OrderID)
			}
			return err
		}
		doc, err := r.orders.Decode(snap)
		if err != nil {
			return err
		}
		if doc.Version != m.ExpectedVersion {
			return pfirestore.Conflict(op, "order %s at version %d, expected %d", m.OrderID, doc.Version, m.ExpectedVersion)
		}

		entry := newTimelineDocument(m.Entry)
		doc.Status = string(m.Status)
		doc.Version++
		doc.UpdatedAt = m.UpdatedAt.UTC()
		doc.Timeline = append(doc.Timeline, entry)
		updates := []firestore.Update{
			{Path: "status", Value: doc.Status},
			{Path: "version", Value: doc.Version},
			{Path: "updatedAt", Value: doc.UpdatedAt},
			{Path: "timeline", Value: firestore.ArrayUnion(entry)},
		}
		if m.TrackingNumber != nil {
			doc.TrackingNumber = *m.TrackingNumber
			updates = append(updates, firestore.Update{Path: "trackingNumber", Value: doc.TrackingNumber})
		}
		if m.Carrier != nil {
			doc.Carrier = *m.Carrier
			updates = append(updates, firestore.Update{Path: "carrier", Value: doc.Carrier})
		}
		if m.DeliveredAt != nil {
			doc.DeliveredAt = utcPtr(m.DeliveredAt)
			updates = append(updates, firestore.Update{Path: "deliveredAt", Value: *doc.DeliveredAt})
		}
		if m.Archived != nil {
			doc.Archived = *m.Archived
			updates = append(updates, firestore.Update{Path: "archived", Value: doc.Archived})
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		updated, err = doc.toDomain(m.OrderID)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}
