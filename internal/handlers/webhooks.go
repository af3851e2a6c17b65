package handlers

import (
	"net/http"
	"strings"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/httpx"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/services"
)

type carrierDeliveryRequest struct {
	OrderID        string `json:"order_id"`
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier,omitempty"`
	DeliveredAt    string `json:"delivered_at,omitempty"`
}

type webhookAck struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
}

type shipOrderRequest struct {
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
	Note           string `json:"note,omitempty"`
}

// carrierDelivered marks a shipped order delivered. Repeated callbacks for an order that is
// already delivered are acknowledged without another transition.
func (h *LifecycleHandlers) carrierDelivered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}

	var req carrierDeliveryRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id is required", http.StatusBadRequest))
		return
	}
	deliveredAt, err := parseOptionalTime("delivered_at", req.DeliveredAt)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	order, err := h.lifecycle.GetOrder(ctx, orderID, actor)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	tracking := strings.TrimSpace(req.TrackingNumber)
	if tracking != "" && order.TrackingNumber != "" && !strings.EqualFold(tracking, order.TrackingNumber) {
		httpx.WriteError(ctx, w, httpx.NewError("tracking_mismatch", "tracking number does not match the order", http.StatusUnprocessableEntity))
		return
	}
	if order.Status == domain.OrderStatusDelivered || order.Status == domain.OrderStatusReturned {
		h.logger(ctx, "webhook.carrier.duplicate", map[string]any{"orderId": order.ID, "status": string(order.Status)})
		writeJSONResponse(w, http.StatusOK, webhookAck{Status: "ignored", OrderID: order.ID})
		return
	}

	updated, err := h.lifecycle.TransitionOrder(ctx, services.OrderTransitionCommand{
		OrderID:     order.ID,
		Target:      domain.OrderStatusDelivered,
		DeliveredAt: deliveredAt,
		Carrier:     req.Carrier,
		Actor:       actor,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	h.logger(ctx, "webhook.carrier.delivered", map[string]any{"orderId": updated.ID, "tracking": updated.TrackingNumber})
	writeJSONResponse(w, http.StatusOK, webhookAck{Status: string(updated.Status), OrderID: updated.ID})
}

// fulfilmentShipped is called by the fulfilment service once a parcel is handed to the carrier.
func (h *LifecycleHandlers) fulfilmentShipped(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	orderID, ok := requirePathParam(w, r, "orderID")
	if !ok {
		return
	}

	var req shipOrderRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	version, err := expectedVersion(r, 0)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	order, err := h.lifecycle.TransitionOrder(ctx, services.OrderTransitionCommand{
		OrderID:         orderID,
		Target:          domain.OrderStatusShipped,
		TrackingNumber:  req.TrackingNumber,
		Carrier:         req.Carrier,
		Note:            req.Note,
		Actor:           actor,
		ExpectedVersion: version,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	h.logger(ctx, "internal.order.shipped", map[string]any{"orderId": order.ID, "actor": actor.String()})
	writeVersioned(w, http.StatusOK, order.Version, orderResponse{Order: buildOrderPayload(order)})
}
