package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/httpx"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/requestctx"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/services"
)

const upstreamRetryAfter = 5 * time.Second

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

// writeLifecycleError maps service sentinels onto the HTTP error envelope.
func writeLifecycleError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var eligibility *services.EligibilityError
	switch {
	case errors.As(err, &eligibility):
		httpx.WriteError(ctx, w, httpx.NewError("not_eligible", err.Error(), http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"reason": string(eligibility.Reason)}))
	case errors.Is(err, services.ErrNotEligible):
		httpx.WriteError(ctx, w, httpx.NewError("not_eligible", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "caller may not access this resource", http.StatusForbidden))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrConcurrencyConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "resource was modified concurrently; reload and retry", http.StatusConflict))
	case errors.Is(err, services.ErrUpstreamFailure):
		requestctx.Logger(ctx).Warn("lifecycle upstream failure", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("upstream_unavailable", "a dependency is temporarily unavailable", http.StatusServiceUnavailable).
			WithRetryAfter(upstreamRetryAfter))
	default:
		requestctx.Logger(ctx).Error("lifecycle request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal", "internal server error", http.StatusInternalServerError))
	}
}
