package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/httpx"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/pagination"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/services"
)

type orderTransitionRequest struct {
	Status          string `json:"status"`
	TrackingNumber  string `json:"tracking_number,omitempty"`
	Carrier         string `json:"carrier,omitempty"`
	DeliveredAt     string `json:"delivered_at,omitempty"`
	Note            string `json:"note,omitempty"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type returnTransitionRequest struct {
	Status          string `json:"status"`
	AdminNote       string `json:"admin_note,omitempty"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

func (h *LifecycleHandlers) adminTransitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	orderID, ok := requirePathParam(w, r, "orderID")
	if !ok {
		return
	}

	var req orderTransitionRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	target, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		writeLifecycleError(ctx, w, fmt.Errorf("%w: %v", services.ErrValidation, err))
		return
	}
	deliveredAt, err := parseOptionalTime("delivered_at", req.DeliveredAt)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	version, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	order, err := h.lifecycle.TransitionOrder(ctx, services.OrderTransitionCommand{
		OrderID:         orderID,
		Target:          target,
		TrackingNumber:  req.TrackingNumber,
		Carrier:         req.Carrier,
		DeliveredAt:     deliveredAt,
		Note:            req.Note,
		Actor:           actor,
		ExpectedVersion: version,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeVersioned(w, http.StatusOK, order.Version, orderResponse{Order: buildOrderPayload(order)})
}

func (h *LifecycleHandlers) adminReconcileOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	orderID, ok := requirePathParam(w, r, "orderID")
	if !ok {
		return
	}

	order, err := h.lifecycle.ReconcileOrderReturns(ctx, orderID, actor)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeVersioned(w, http.StatusOK, order.Version, orderResponse{Order: buildOrderPayload(order)})
}

func (h *LifecycleHandlers) adminTransitionReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	returnID, ok := requirePathParam(w, r, "returnID")
	if !ok {
		return
	}

	var req returnTransitionRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	target, err := domain.ParseReturnStatus(req.Status)
	if err != nil {
		writeLifecycleError(ctx, w, fmt.Errorf("%w: %v", services.ErrValidation, err))
		return
	}
	version, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	ret, err := h.lifecycle.TransitionReturn(ctx, services.ReturnTransitionCommand{
		ReturnID:        returnID,
		Target:          target,
		AdminNote:       req.AdminNote,
		Actor:           actor,
		ExpectedVersion: version,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeVersioned(w, http.StatusOK, ret.Version, returnResponse{Return: buildReturnPayload(ret)})
}

func (h *LifecycleHandlers) adminListReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.begin(w, r); !ok {
		return
	}

	rawStatus := strings.TrimSpace(r.URL.Query().Get("status"))
	if rawStatus == "" {
		rawStatus = string(domain.ReturnStatusPending)
	}
	status, err := domain.ParseReturnStatus(rawStatus)
	if err != nil {
		writeLifecycleError(ctx, w, fmt.Errorf("%w: %v", services.ErrValidation, err))
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		code := "invalid_request"
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			code = "invalid_page_token"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.lifecycle.ListReturnsByStatus(ctx, services.ReturnQueueFilter{
		Status:     status,
		Pagination: domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	items := make([]returnPayload, 0, len(page.Items))
	for _, ret := range page.Items {
		items = append(items, buildReturnPayload(ret))
	}
	writeJSONResponse(w, http.StatusOK, returnListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func parseOptionalTime(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an RFC3339 timestamp", services.ErrValidation, field)
	}
	parsed = parsed.UTC()
	return &parsed, nil
}
