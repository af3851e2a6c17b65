package handlers

import (
	"net/http"

	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/services"
)

type requestReturnItem struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason,omitempty"`
}

type requestReturnRequest struct {
	Items        []requestReturnItem `json:"items"`
	Reason       string              `json:"reason"`
	RefundMethod string              `json:"refund_method"`
	Note         string              `json:"note,omitempty"`
}

func (h *LifecycleHandlers) getReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	returnID, ok := requirePathParam(w, r, "returnID")
	if !ok {
		return
	}

	ret, err := h.lifecycle.GetReturn(ctx, returnID, actor)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeVersioned(w, http.StatusOK, ret.Version, returnResponse{Return: buildReturnPayload(ret)})
}

func (h *LifecycleHandlers) cancelReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	returnID, ok := requirePathParam(w, r, "returnID")
	if !ok {
		return
	}
	version, err := expectedVersion(r, 0)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	ret, err := h.lifecycle.CancelReturn(ctx, services.CancelReturnCommand{
		ReturnID:        returnID,
		Actor:           actor,
		ExpectedVersion: version,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeVersioned(w, http.StatusOK, ret.Version, returnResponse{Return: buildReturnPayload(ret)})
}

func (h *LifecycleHandlers) returnTimeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	returnID, ok := requirePathParam(w, r, "returnID")
	if !ok {
		return
	}

	entries, err := h.lifecycle.ReturnTimeline(ctx, returnID, actor, requestLocale(r))
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildTimelinePayload(entries))
}

func (h *LifecycleHandlers) returnRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	returnID, ok := requirePathParam(w, r, "returnID")
	if !ok {
		return
	}

	record, err := h.lifecycle.GetReturnRefund(ctx, returnID, actor)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, refundResponse{Refund: buildRefundPayload(record)})
}
