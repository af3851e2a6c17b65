package handlers

import (
	"net/http"
	"strings"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/httpx"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/services"
)

type createOrderRequest struct {
	CustomerID      string             `json:"customer_id"`
	Items           []orderItemPayload `json:"items"`
	ShippingAddress addressPayload     `json:"shipping_address"`
	PaymentMethod   string             `json:"payment_method"`
	PaymentIntentID string             `json:"payment_intent_id"`
	ShippingFee     int64              `json:"shipping_fee"`
	Discount        int64              `json:"discount"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *LifecycleHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" || actor.Kind == domain.ActorCustomer {
		customerID = actor.ID
	}
	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Variant:   domain.Variant{Size: item.Size, Color: item.Color},
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	order, err := h.lifecycle.CreateOrder(ctx, services.CreateOrderCommand{
		CustomerID:      customerID,
		Items:           items,
		ShippingAddress: req.ShippingAddress.domain(),
		PaymentMethod:   domain.PaymentMethod(req.PaymentMethod),
		PaymentIntentID: req.PaymentIntentID,
		ShippingFee:     req.ShippingFee,
		Discount:        req.Discount,
		Actor:           actor,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+order.ID)
	writeVersioned(w, http.StatusCreated, order.Version, orderResponse{Order: buildOrderPayload(order)})
}

func (h *LifecycleHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	orderID, ok := requirePathParam(w, r, "orderID")
	if !ok {
		return
	}

	order, err := h.lifecycle.GetOrder(ctx, orderID, actor)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeVersioned(w, http.StatusOK, order.Version, orderResponse{Order: buildOrderPayload(order)})
}

func (h *LifecycleHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	orderID, ok := requirePathParam(w, r, "orderID")
	if !ok {
		return
	}

	var req cancelOrderRequest
	if err := decodeJSONBody(r, &req, true); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	version, err := expectedVersion(r, 0)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	order, err := h.lifecycle.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID:         orderID,
		Reason:          req.Reason,
		Actor:           actor,
		ExpectedVersion: version,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeVersioned(w, http.StatusOK, order.Version, orderResponse{Order: buildOrderPayload(order)})
}

func (h *LifecycleHandlers) orderTimeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	orderID, ok := requirePathParam(w, r, "orderID")
	if !ok {
		return
	}

	entries, err := h.lifecycle.OrderTimeline(ctx, orderID, actor, requestLocale(r))
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildTimelinePayload(entries))
}

func (h *LifecycleHandlers) orderEligibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	orderID, ok := requirePathParam(w, r, "orderID")
	if !ok {
		return
	}

	result, err := h.lifecycle.CheckEligibility(ctx, orderID, actor)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildEligibilityPayload(result))
}

func (h *LifecycleHandlers) listOrderReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	orderID, ok := requirePathParam(w, r, "orderID")
	if !ok {
		return
	}

	returns, err := h.lifecycle.ListOrderReturns(ctx, orderID, actor)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	items := make([]returnPayload, 0, len(returns))
	for _, ret := range returns {
		items = append(items, buildReturnPayload(ret))
	}
	writeJSONResponse(w, http.StatusOK, returnListResponse{Items: items})
}

func (h *LifecycleHandlers) listOrderRefunds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	orderID, ok := requirePathParam(w, r, "orderID")
	if !ok {
		return
	}

	records, err := h.lifecycle.ListOrderRefunds(ctx, orderID, actor)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	items := make([]refundPayload, 0, len(records))
	for _, record := range records {
		items = append(items, buildRefundPayload(record))
	}
	writeJSONResponse(w, http.StatusOK, refundListResponse{Items: items})
}

func (h *LifecycleHandlers) requestReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	orderID, ok := requirePathParam(w, r, "orderID")
	if !ok {
		return
	}
	if h.returnLimit != nil {
		if allowed, wait := h.returnLimit.Allow(actor.String()); !allowed {
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many return requests; try again later", http.StatusTooManyRequests).
				WithRetryAfter(wait))
			return
		}
	}

	var req requestReturnRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	items := make([]services.ReturnItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.ReturnItemRequest{
			ProductID: item.ProductID,
			Variant:   domain.Variant{Size: item.Size, Color: item.Color},
			Quantity:  item.Quantity,
			Reason:    domain.ReasonCode(item.Reason),
		})
	}
	ret, err := h.lifecycle.RequestReturn(ctx, services.RequestReturnCommand{
		OrderID:      orderID,
		Items:        items,
		Reason:       domain.ReasonCode(req.Reason),
		RefundMethod: domain.RefundMethod(req.RefundMethod),
		Note:         req.Note,
		Actor:        actor,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	w.Header().Set("Location", routePrefix(r, "/orders/")+"/returns/"+ret.ID)
	writeVersioned(w, http.StatusCreated, ret.Version, returnResponse{Return: buildReturnPayload(ret)})
}

// routePrefix returns the path up to the mount point of segment, e.g. "/api/v1" for "/api/v1/orders/x".
func routePrefix(r *http.Request, segment string) string {
	path := r.URL.Path
	if idx := strings.Index(path, segment); idx >= 0 {
		return path[:idx]
	}
	return ""
}
