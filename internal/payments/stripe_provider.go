package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/textutil"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	// SettlementDelay estimates when a card reversal reaches the customer.
	SettlementDelay time.Duration
	refunds         stripeRefundAPI
}

// StripeProvider reverses card payments through Stripe refunds.
type StripeProvider struct {
	refunds         stripeRefundAPI
	account         string
	clock           func() time.Time
	settlementDelay time.Duration
	logger          StripeLogger
}

const defaultStripeSettlementDelay = 10 * 24 * time.Hour

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	refunds := cfg.refunds
	if refunds == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		refunds = client.New(apiKey, cfg.Backends).Refunds
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	delay := cfg.SettlementDelay
	if delay <= 0 {
		delay = defaultStripeSettlementDelay
	}

	return &StripeProvider{
		refunds: refunds,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		settlementDelay: delay,
		logger:          logger,
	}, nil
}

// Refund creates a refund for the Payment Intent behind a card order.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("stripe: provider is nil")
	}
	if req.Kind != KindCardReversal {
		return RefundResult{}, fmt.Errorf("%w: stripe only handles card reversals, got %q", ErrInvalidRefund, req.Kind)
	}
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		return RefundResult{}, fmt.Errorf("%w: payment intent is required for card reversal", ErrInvalidRefund)
	}
	if req.Amount <= 0 {
		return RefundResult{}, fmt.Errorf("%w: refund amount must be positive", ErrInvalidRefund)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(req.Amount),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	for k, v := range textutil.NormalizeMetadata(req.Metadata, 40, 500) {
		params.AddMetadata(k, v)
	}

	refund, err := p.refunds.New(params)
	if err != nil {
		return RefundResult{}, classifyStripeError(err)
	}

	status := StatusPending
	switch refund.Status {
	case stripe.RefundStatusSucceeded:
		status = StatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return RefundResult{}, fmt.Errorf("%w: stripe refund %s is %s", ErrInvalidRefund, refund.ID, refund.Status)
	}

	eta := p.clock().Add(p.settlementDelay)
	p.logger(ctx, "payments.stripe.intent.refunded", map[string]any{
		"paymentIntent": intentID,
		"refund":        refund.ID,
		"status":        string(refund.Status),
	})
	return RefundResult{
		Provider:         "stripe",
		Reference:        refund.ID,
		Status:           status,
		Amount:           refund.Amount,
		Currency:         strings.ToUpper(string(refund.Currency)),
		EstimatedArrival: &eta,
	}, nil
}

// classifyStripeError marks server side and rate limit failures as retryable.
func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: stripe: %v", ErrProviderUnavailable, err)
	}
	switch {
	case stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.Type == stripe.ErrorTypeAPI:
		return fmt.Errorf("%w: stripe: %s", ErrProviderUnavailable, stripeErr.Msg)
	default:
		return fmt.Errorf("%w: stripe: %s", ErrInvalidRefund, stripeErr.Msg)
	}
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case "", string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return string(stripe.RefundReasonRequestedByCustomer)
	}
}
