package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/auth"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/httpx"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/services"
)

const (
	defaultReturnRateLimit  = 5
	defaultReturnRateWindow = time.Minute
)

// LifecycleHandlers exposes the order and return lifecycle over HTTP.
type LifecycleHandlers struct {
	lifecycle   services.OrderLifecycleService
	authn       *auth.Authenticator
	idempotency func(http.Handler) http.Handler
	returnLimit rateLimiter
	clock       func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// LifecycleOption customises LifecycleHandlers.
type LifecycleOption func(*LifecycleHandlers)

// WithLifecycleAuthenticator sets the Firebase authenticator guarding customer and admin routes.
func WithLifecycleAuthenticator(authn *auth.Authenticator) LifecycleOption {
	return func(h *LifecycleHandlers) {
		h.authn = authn
	}
}

// WithLifecycleIdempotency installs the Idempotency-Key middleware on mutating routes.
// It runs after authentication so keys are scoped to the caller.
func WithLifecycleIdempotency(mw func(http.Handler) http.Handler) LifecycleOption {
	return func(h *LifecycleHandlers) {
		h.idempotency = mw
	}
}

// WithReturnRateLimit caps return requests per customer within window. A zero limit disables it.
func WithReturnRateLimit(limit int, window time.Duration) LifecycleOption {
	return func(h *LifecycleHandlers) {
		h.returnLimit = newSimpleRateLimiter(limit, window, h.now)
	}
}

// WithLifecycleClock overrides the clock used for rate limiting.
func WithLifecycleClock(clock func() time.Time) LifecycleOption {
	return func(h *LifecycleHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithLifecycleLogger sets the event logger for webhook and internal calls.
func WithLifecycleLogger(logger func(ctx context.Context, event string, fields map[string]any)) LifecycleOption {
	return func(h *LifecycleHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewLifecycleHandlers builds the lifecycle handlers around svc.
func NewLifecycleHandlers(svc services.OrderLifecycleService, opts ...LifecycleOption) *LifecycleHandlers {
	h := &LifecycleHandlers{
		lifecycle: svc,
		clock:     time.Now,
		logger:    func(context.Context, string, map[string]any) {},
	}
	h.returnLimit = newSimpleRateLimiter(defaultReturnRateLimit, defaultReturnRateWindow, h.now)
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *LifecycleHandlers) now() time.Time {
	return h.clock()
}

func (h *LifecycleHandlers) guard(r chi.Router, roles ...string) {
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(roles...))
	}
	if h.idempotency != nil {
		r.Use(h.idempotency)
	}
}

// OrderRoutes registers the customer facing /orders routes.
func (h *LifecycleHandlers) OrderRoutes(r chi.Router) {
	if r == nil {
		return
	}
	h.guard(r)
	r.Post("/", h.createOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Get("/{orderID}/timeline", h.orderTimeline)
	r.Get("/{orderID}/eligibility", h.orderEligibility)
	r.Post("/{orderID}/returns", h.requestReturn)
	r.Get("/{orderID}/returns", h.listOrderReturns)
	r.Get("/{orderID}/refunds", h.listOrderRefunds)
}

// ReturnRoutes registers the customer facing /returns routes.
func (h *LifecycleHandlers) ReturnRoutes(r chi.Router) {
	if r == nil {
		return
	}
	h.guard(r)
	r.Get("/{returnID}", h.getReturn)
	r.Post("/{returnID}:cancel", h.cancelReturn)
	r.Get("/{returnID}/timeline", h.returnTimeline)
	r.Get("/{returnID}/refund", h.returnRefund)
}

// AdminRoutes registers the staff operations under /admin.
func (h *LifecycleHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	h.guard(r, auth.RoleStaff, auth.RoleAdmin)
	r.Post("/orders/{orderID}:transition", h.adminTransitionOrder)
	r.Post("/orders/{orderID}:reconcile", h.adminReconcileOrder)
	r.Get("/returns", h.adminListReturns)
	r.Post("/returns/{returnID}:transition", h.adminTransitionReturn)
}

// WebhookRoutes registers carrier callbacks. Signature checks are installed by the router group.
func (h *LifecycleHandlers) WebhookRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/carrier/delivery", h.carrierDelivered)
}

// InternalRoutes registers service-to-service calls. Token checks are installed by the router group.
func (h *LifecycleHandlers) InternalRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.idempotency != nil {
		r.Use(h.idempotency)
	}
	r.Post("/orders/{orderID}:ship", h.fulfilmentShipped)
}

// begin resolves the caller. It writes the error response and returns false when the request cannot proceed.
func (h *LifecycleHandlers) begin(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	ctx := r.Context()
	if h.lifecycle == nil {
		httpx.WriteError(ctx, w, httpx.NewError("lifecycle_service_unavailable", "lifecycle service unavailable", http.StatusServiceUnavailable))
		return domain.Actor{}, false
	}
	actor, ok := actorFromRequest(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return domain.Actor{}, false
	}
	return actor, true
}

func requirePathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := pathParam(r, name)
	if value == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", strings.TrimSuffix(name, "ID")+" id is required", http.StatusBadRequest))
		return "", false
	}
	return value, true
}
