package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ManualProviderConfig configures a ManualProvider.
type ManualProviderConfig struct {
	Name            string
	Kinds           []RefundKind
	ReferencePrefix string
	SettlementDelay time.Duration
	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

// ManualProvider records refunds settled outside a PSP, such as bank transfers made by the
// finance team or store credit issued to the customer wallet. References derive from the
// idempotency key so repeated calls for the same return agree.
type ManualProvider struct {
	name   string
	kinds  map[RefundKind]struct{}
	prefix string
	delay  time.Duration
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewManualProvider validates cfg and returns a ManualProvider.
func NewManualProvider(cfg ManualProviderConfig) (*ManualProvider, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, errors.New("manual provider: name is required")
	}
	if len(cfg.Kinds) == 0 {
		return nil, errors.New("manual provider: at least one refund kind is required")
	}
	kinds := make(map[RefundKind]struct{}, len(cfg.Kinds))
	for _, kind := range cfg.Kinds {
		kinds[kind] = struct{}{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	prefix := strings.TrimSpace(cfg.ReferencePrefix)
	if prefix == "" {
		prefix = name + "_"
	}
	return &ManualProvider{
		name:   name,
		kinds:  kinds,
		prefix: prefix,
		delay:  cfg.SettlementDelay,
		clock:  clock,
		logger: logger,
	}, nil
}

// Refund records the refund and returns its reference.
func (p *ManualProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if _, ok := p.kinds[req.Kind]; !ok {
		return RefundResult{}, fmt.Errorf("%w: %s does not handle %q", ErrInvalidRefund, p.name, req.Kind)
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return RefundResult{}, fmt.Errorf("%w: idempotency key is required", ErrInvalidRefund)
	}
	if req.Amount <= 0 {
		return RefundResult{}, fmt.Errorf("%w: refund amount must be positive", ErrInvalidRefund)
	}

	status := StatusPending
	var eta *time.Time
	if p.delay > 0 {
		at := p.clock().UTC().Add(p.delay)
		eta = &at
	} else {
		status = StatusSucceeded
	}

	p.logger(ctx, "payments.manual.refund.recorded", map[string]any{
		"provider": p.name,
		"kind":     string(req.Kind),
		"amount":   req.Amount,
	})
	return RefundResult{
		Provider:         p.name,
		Reference:        p.prefix + key,
		Status:           status,
		Amount:           req.Amount,
		Currency:         strings.ToUpper(strings.TrimSpace(req.Currency)),
		EstimatedArrival: eta,
	}, nil
}
