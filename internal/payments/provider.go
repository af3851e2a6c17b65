package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised refund states shared across providers.
type Status string

const (
	// StatusPending indicates the provider accepted the refund but money has not moved yet.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the provider reports the refund as settled.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the provider rejected the refund.
	StatusFailed Status = "failed"
)

// RefundKind selects the refund channel.
type RefundKind string

const (
	KindCardReversal RefundKind = "card_reversal"
	KindBankTransfer RefundKind = "bank_transfer"
	KindStoreCredit  RefundKind = "store_credit"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidRefund is returned when a refund request cannot be sent as given.
	ErrInvalidRefund = errors.New("payments: invalid refund request")
	// ErrProviderUnavailable marks transient provider failures worth retrying.
	ErrProviderUnavailable = errors.New("payments: provider unavailable")
)

// RefundRequest defines a refund attempt.
type RefundRequest struct {
	Kind           RefundKind
	IntentID       string
	CustomerRef    string
	Amount         int64
	Currency       string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundResult normalises provider specific refund fields.
type RefundResult struct {
	Provider         string
	Reference        string
	Status           Status
	Amount           int64
	Currency         string
	EstimatedArrival *time.Time
}

// Provider defines the contract for refund adapters to implement.
type Provider interface {
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// Manager coordinates provider selection by refund kind.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	kindRoutes      map[RefundKind]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used for kinds without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithKindRoutes configures static refund kind to provider mappings.
func WithKindRoutes(routes map[RefundKind]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.kindRoutes == nil {
			m.kindRoutes = make(map[RefundKind]string, len(routes))
		}
		for k, v := range routes {
			m.kindRoutes[RefundKind(strings.ToLower(strings.TrimSpace(string(k))))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Kind              RefundKind
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	if providerKey, ok := m.kindRoutes[ctx.Kind]; ok {
		provider := strings.TrimSpace(strings.ToLower(providerKey))
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, paymentCtx PaymentContext, req RefundRequest) (RefundResult, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return RefundResult{}, err
	}
	result, err := provider.Refund(ctx, req)
	if err != nil {
		return RefundResult{}, err
	}
	if result.Provider == "" {
		result.Provider = key
	}
	return result, nil
}
