package payments

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/services"
)

// RefundGateway adapts the Manager to the lifecycle service's refund contract.
type RefundGateway struct {
	manager *Manager
}

var _ services.RefundGateway = (*RefundGateway)(nil)

// NewRefundGateway wraps manager.
func NewRefundGateway(manager *Manager) (*RefundGateway, error) {
	if manager == nil {
		return nil, errors.New("payments: manager is required")
	}
	return &RefundGateway{manager: manager}, nil
}

// InitiateRefund routes the refund by method and maps provider errors onto service errors.
func (g *RefundGateway) InitiateRefund(ctx context.Context, req services.RefundInitiation) (services.RefundReceipt, error) {
	kind := RefundKind(req.Method)
	if req.Method == domain.RefundMethodCardReversal && req.PaymentMethod != domain.PaymentMethodCard {
		return services.RefundReceipt{}, fmt.Errorf("%w: card reversal needs a card payment, order was paid by %s", services.ErrValidation, req.PaymentMethod)
	}

	result, err := g.manager.Refund(ctx, PaymentContext{Kind: kind}, RefundRequest{
		Kind:           kind,
		IntentID:       req.PaymentIntentID,
		CustomerRef:    req.CustomerID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
		Metadata: map[string]string{
			"return_id": req.ReturnID,
			"order_id":  req.OrderID,
		},
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrProviderUnavailable):
		return services.RefundReceipt{}, fmt.Errorf("%w: %v", services.ErrUpstreamFailure, err)
	case errors.Is(err, ErrInvalidRefund), errors.Is(err, ErrUnsupportedProvider):
		return services.RefundReceipt{}, fmt.Errorf("%w: %v", services.ErrValidation, err)
	default:
		return services.RefundReceipt{}, fmt.Errorf("%w: %v", services.ErrUpstreamFailure, err)
	}

	return services.RefundReceipt{
		Reference:           result.Reference,
		EstimatedCompletion: result.EstimatedArrival,
	}, nil
}
