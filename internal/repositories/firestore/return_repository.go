package firestore

import (
	"context"
	"errors"
	"slices"

	"cloud.google.com/go/firestore"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
	pfirestore "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/firestore"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/pagination"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/repositories"
)

const (
	returnsCollection = "returns"
	refundsCollection = "refunds"
)

// ReturnRepository persists returns keyed by return id. Completed returns also write their
// refund record to the refunds collection, keyed by return id, in the same transaction.
type ReturnRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	returns  *pfirestore.Collection[returnDocument]
	refunds  *pfirestore.Collection[refundDocument]
}

var _ repositories.ReturnRepository = (*ReturnRepository)(nil)

func NewReturnRepository(provider *pfirestore.Provider) (*ReturnRepository, error) {
	if provider == nil {
		return nil, errors.New("return repository requires firestore provider")
	}
	return &ReturnRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection, nil),
		returns:  pfirestore.NewCollection[returnDocument](provider, returnsCollection, nil),
		refunds:  pfirestore.NewCollection[refundDocument](provider, refundsCollection, nil),
	}, nil
}

// CreateForOrder reads the order and its returns in a transaction, runs check, and creates ret.
// Concurrent requests for the same order contend on the order document and are serialised.
func (r *ReturnRepository) CreateForOrder(ctx context.Context, ret domain.ReturnRequest, check repositories.ReturnCreateCheck) error {
	op := r.returns.Op("create")
	return r.provider.RunTransaction(ctx, op, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.Doc(ctx, ret.OrderID)
		if err != nil {
			return err
		}
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			if pfirestore.IsNotFoundCode(err) {
				return pfirestore.NotFound(op, "order %s not found", ret.OrderID)
			}
			return err
		}
		orderDoc, err := r.orders.Decode(orderSnap)
		if err != nil {
			return err
		}

		coll, err := r.returns.Ref(ctx)
		if err != nil {
			return err
		}
		siblings, err := r.decodeReturns(tx.Documents(coll.Where("orderId", "==", ret.OrderID)))
		if err != nil {
			return err
		}
		if check != nil {
			order, err := orderDoc.toDomain(ret.OrderID)
			if err != nil {
				return err
			}
			if err := check(order, siblings); err != nil {
				return err
			}
		}

		retRef, err := r.returns.Doc(ctx, ret.ID)
		if err != nil {
			return err
		}
		return tx.Create(retRef, newReturnDocument(ret))
	})
}

func (r *ReturnRepository) FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	doc, err := r.returns.Get(ctx, returnID)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	return doc.toDomain(returnID)
}

func (r *ReturnRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.ReturnRequest, error) {
	coll, err := r.returns.Ref(ctx)
	if err != nil {
		return nil, err
	}
	return r.decodeReturns(coll.Where("orderId", "==", orderID).Documents(ctx))
}

// ListByStatus pages the queue oldest first. It needs the composite index (status, createdAt, __name__).
func (r *ReturnRepository) ListByStatus(ctx context.Context, query repositories.ReturnQuery) (domain.CursorPage[domain.ReturnRequest], error) {
	after, hasCursor, err := pagination.ReturnKeyFromToken(query.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, err
	}
	size := pagination.ClampPageSize(query.Pagination.PageSize)

	coll, err := r.returns.Ref(ctx)
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, err
	}
	q := coll.Where("status", "==", string(query.Status)).
		OrderBy("createdAt", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc)
	if hasCursor {
		q = q.StartAfter(after.CreatedAt, after.ID)
	}
	items, err := r.decodeReturns(q.Limit(size + 1).Documents(ctx))
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, err
	}

	page := domain.CursorPage[domain.ReturnRequest]{Items: items}
	if len(items) > size {
		page.Items = items[:size]
		token, err := pagination.ReturnKeyOf(page.Items[size-1]).Token()
		if err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// ApplyTransition writes the touched fields when the stored version matches. A refund record
// is created alongside and conflicts when one already exists for the return.
func (r *ReturnRepository) ApplyTransition(ctx context.Context, m repositories.ReturnMutation) (domain.ReturnRequest, error) {
	op := r.returns.Op("transition")
	var updated domain.ReturnRequest
	err := r.provider.RunTransaction(ctx, op, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.returns.Doc(ctx, m.ReturnID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if pfirestore.IsNotFoundCode(err) {
				return pfirestore.NotFound(op, "return %s not found", m.ReturnID)
			}
			return err
		}
		doc, err := r.returns.Decode(snap)
		if err != nil {
			return err
		}
		if doc.Version != m.ExpectedVersion {
			return pfirestore.Conflict(op, "return %s at version %d, expected %d", m.ReturnID, doc.Version, m.ExpectedVersion)
		}

		var refundRef *firestore.DocumentRef
		if m.Refund != nil {
			if refundRef, err = r.refunds.Doc(ctx, m.ReturnID); err != nil {
				return err
			}
			if _, err := tx.Get(refundRef); err == nil {
				return pfirestore.Conflict(op, "refund already recorded for return %s", m.ReturnID)
			} else if !pfirestore.IsNotFoundCode(err) {
				return err
			}
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
		if m.AdminNote != nil {
			doc.AdminNote = *m.AdminNote
			updates = append(updates, firestore.Update{Path: "adminNote", Value: doc.AdminNote})
		}
		if m.RefundReference != nil {
			doc.RefundReference = *m.RefundReference
			updates = append(updates, firestore.Update{Path: "refundReference", Value: doc.RefundReference})
		}
		if m.EstimatedCompletion != nil {
			doc.EstimatedCompletion = utcPtr(m.EstimatedCompletion)
			updates = append(updates, firestore.Update{Path: "estimatedCompletion", Value: *doc.EstimatedCompletion})
		}
		if m.CompletedAt != nil {
			doc.CompletedAt = utcPtr(m.CompletedAt)
			updates = append(updates, firestore.Update{Path: "completedAt", Value: *doc.CompletedAt})
		}
		if m.Refund != nil {
			refund := newRefundDocument(*m.Refund)
			doc.Refund = &refund
			updates = append(updates, firestore.Update{Path: "refund", Value: refund})
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		if refundRef != nil {
			if err := tx.Create(refundRef, *doc.Refund); err != nil {
				return err
			}
		}
		updated, err = doc.toDomain(m.ReturnID)
		return err
	})
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	return updated, nil
}

func (r *ReturnRepository) decodeReturns(iter *firestore.DocumentIterator) ([]domain.ReturnRequest, error) {
	var out []domain.ReturnRequest
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err != nil {
			if isIteratorDone(err) {
				break
			}
			return nil, pfirestore.WrapError(r.returns.Op("query"), err)
		}
		doc, err := r.returns.Decode(snap)
		if err != nil {
			return nil, err
		}
		ret, err := doc.toDomain(snap.Ref.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ret)
	}
	slices.SortFunc(out, func(a, b domain.ReturnRequest) int {
		return pagination.ReturnKeyOf(a).Compare(pagination.ReturnKeyOf(b))
	})
	return out, nil
}
