package firestore

import (
	"context"
	"errors"
	"slices"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
	pfirestore "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/firestore"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/repositories"
)

// RefundRepository reads refund records written by ReturnRepository.ApplyTransition.
type RefundRepository struct {
	refunds *pfirestore.Collection[refundDocument]
}

var _ repositories.RefundRepository = (*RefundRepository)(nil)

func NewRefundRepository(provider *pfirestore.Provider) (*RefundRepository, error) {
	if provider == nil {
		return nil, errors.New("refund repository requires firestore provider")
	}
	return &RefundRepository{refunds: pfirestore.NewCollection[refundDocument](provider, refundsCollection, nil)}, nil
}

func (r *RefundRepository) FindByReturnID(ctx context.Context, returnID string) (domain.RefundRecord, error) {
	doc, err := r.refunds.Get(ctx, returnID)
	if err != nil {
		return domain.RefundRecord{}, err
	}
	return doc.toDomain()
}

func (r *RefundRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.RefundRecord, error) {
	docs, err := r.refunds.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID)
	})
	if err != nil {
		return nil, err
	}
	records := make([]domain.RefundRecord, 0, len(docs))
	for _, doc := range docs {
		record, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	slices.SortFunc(records, func(a, b domain.RefundRecord) int {
		if c := a.RecordedAt.Compare(b.RecordedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return records, nil
}

func isIteratorDone(err error) bool {
	return errors.Is(err, iterator.Done)
}
