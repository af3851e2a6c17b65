package handlers

import (
	"slices"
	"strings"
	"time"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/services"
)

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type addressPayload struct {
	Recipient  string `json:"recipient"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	Ward       string `json:"ward,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

type totalsPayload struct {
	Subtotal int64  `json:"subtotal"`
	Shipping int64  `json:"shipping"`
	Discount int64  `json:"discount"`
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	CustomerID      string             `json:"customer_id"`
	Status          string             `json:"status"`
	Items           []orderItemPayload `json:"items"`
	ShippingAddress addressPayload     `json:"shipping_address"`
	PaymentMethod   string             `json:"payment_method"`
	Totals          totalsPayload      `json:"totals"`
	TrackingNumber  string             `json:"tracking_number,omitempty"`
	Carrier         string             `json:"carrier,omitempty"`
	DeliveredAt     string             `json:"delivered_at,omitempty"`
	Archived        bool               `json:"archived,omitempty"`
	Version         int64              `json:"version"`
	CreatedAt       string             `json:"created_at"`
	UpdatedAt       string             `json:"updated_at,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type returnItemPayload struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
	UnitPrice int64  `json:"unit_price"`
}

type refundPayload struct {
	ID          string `json:"id"`
	ReturnID    string `json:"return_id,omitempty"`
	OrderID     string `json:"order_id,omitempty"`
	Method      string `json:"method"`
	BaseAmount  int64  `json:"base_amount"`
	BonusAmount int64  `json:"bonus_amount"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency"`
	ExternalRef string `json:"external_ref,omitempty"`
	RecordedAt  string `json:"recorded_at"`
}

type returnPayload struct {
	ID                  string              `json:"id"`
	OrderID             string              `json:"order_id"`
	CustomerID          string              `json:"customer_id"`
	Status              string              `json:"status"`
	Items               []returnItemPayload `json:"items"`
	RefundMethod        string              `json:"refund_method"`
	RequestedAmount     int64               `json:"requested_amount"`
	BonusAmount         int64               `json:"bonus_amount"`
	Currency            string              `json:"currency"`
	RefundReference     string              `json:"refund_reference,omitempty"`
	Refund              *refundPayload      `json:"refund,omitempty"`
	EstimatedCompletion string              `json:"estimated_completion,omitempty"`
	CompletedAt         string              `json:"completed_at,omitempty"`
	AdminNote           string              `json:"admin_note,omitempty"`
	CustomerNote        string              `json:"customer_note,omitempty"`
	Version             int64               `json:"version"`
	CreatedAt           string              `json:"created_at"`
	UpdatedAt           string              `json:"updated_at,omitempty"`
}

type returnResponse struct {
	Return returnPayload `json:"return"`
}

type returnListResponse struct {
	Items         []returnPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type refundResponse struct {
	Refund refundPayload `json:"refund"`
}

type refundListResponse struct {
	Items []refundPayload `json:"items"`
}

type timelineEntryPayload struct {
	Status      string `json:"status"`
	Previous    string `json:"previous,omitempty"`
	Timestamp   string `json:"timestamp"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Actor       string `json:"actor,omitempty"`
	Note        string `json:"note,omitempty"`
}

type timelineResponse struct {
	Items []timelineEntryPayload `json:"items"`
}

type remainingItemPayload struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
}

type eligibilityResponse struct {
	Eligible     bool                   `json:"eligible"`
	Reason       string                 `json:"reason,omitempty"`
	WindowEndsAt string                 `json:"window_ends_at,omitempty"`
	Remaining    []remainingItemPayload `json:"remaining"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Size:      item.Variant.Size,
			Color:     item.Variant.Color,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return orderPayload{
		ID:              order.ID,
		CustomerID:      order.CustomerID,
		Status:          string(order.Status),
		Items:           items,
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		PaymentMethod:   string(order.PaymentMethod),
		Totals: totalsPayload{
			Subtotal: order.Totals.Subtotal,
			Shipping: order.Totals.Shipping,
			Discount: order.Totals.Discount,
			Total:    order.Totals.Total,
			Currency: order.Totals.Currency,
		},
		TrackingNumber: order.TrackingNumber,
		Carrier:        order.Carrier,
		DeliveredAt:    formatTimePtr(order.DeliveredAt),
		Archived:       order.Archived,
		Version:        order.Version,
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
	}
}

func buildAddressPayload(address domain.Address) addressPayload {
	return addressPayload{
		Recipient:  address.Recipient,
		Phone:      address.Phone,
		Line1:      address.Line1,
		Line2:      address.Line2,
		Ward:       address.Ward,
		District:   address.District,
		City:       address.City,
		PostalCode: address.PostalCode,
		Country:    address.Country,
	}
}

func (a addressPayload) domain() domain.Address {
	return domain.Address{
		Recipient:  a.Recipient,
		Phone:      a.Phone,
		Line1:      a.Line1,
		Line2:      a.Line2,
		Ward:       a.Ward,
		District:   a.District,
		City:       a.City,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func buildReturnPayload(ret domain.ReturnRequest) returnPayload {
	items := make([]returnItemPayload, 0, len(ret.Items))
	for _, item := range ret.Items {
		items = append(items, returnItemPayload{
			ProductID: item.ProductID,
			Size:      item.Variant.Size,
			Color:     item.Variant.Color,
			Quantity:  item.Quantity,
			Reason:    string(item.Reason),
			UnitPrice: item.UnitPrice,
		})
	}
	payload := returnPayload{
		ID:                  ret.ID,
		OrderID:             ret.OrderID,
		CustomerID:          ret.CustomerID,
		Status:              string(ret.Status),
		Items:               items,
		RefundMethod:        string(ret.RefundMethod),
		RequestedAmount:     ret.RequestedAmount,
		BonusAmount:         ret.BonusAmount,
		Currency:            ret.Currency,
		RefundReference:     ret.RefundReference,
		EstimatedCompletion: formatTimePtr(ret.EstimatedCompletion),
		CompletedAt:         formatTimePtr(ret.CompletedAt),
		AdminNote:           ret.AdminNote,
		CustomerNote:        ret.CustomerNote,
		Version:             ret.Version,
		CreatedAt:           formatTime(ret.CreatedAt),
		UpdatedAt:           formatTime(ret.UpdatedAt),
	}
	if ret.Refund != nil {
		refund := buildRefundPayload(*ret.Refund)
		payload.Refund = &refund
	}
	return payload
}

func buildRefundPayload(record domain.RefundRecord) refundPayload {
	return refundPayload{
		ID:          record.ID,
		ReturnID:    record.ReturnID,
		OrderID:     record.OrderID,
		Method:      string(record.Method),
		BaseAmount:  record.BaseAmount,
		BonusAmount: record.BonusAmount,
		TotalAmount: record.TotalAmount,
		Currency:    record.Currency,
		ExternalRef: record.ExternalRef,
		RecordedAt:  formatTime(record.RecordedAt),
	}
}

func buildTimelinePayload(entries []domain.TimelineEntry) timelineResponse {
	items := make([]timelineEntryPayload, 0, len(entries))
	for _, entry := range entries {
		items = append(items, timelineEntryPayload{
			Status:      entry.Status,
			Previous:    entry.Previous,
			Timestamp:   formatTime(entry.Timestamp),
			Label:       entry.Label,
			Description: entry.Description,
			Actor:       entry.Actor,
			Note:        entry.Note,
		})
	}
	return timelineResponse{Items: items}
}

func buildEligibilityPayload(result services.Eligibility) eligibilityResponse {
	remaining := make([]remainingItemPayload, 0, len(result.Remaining))
	for key, quantity := range result.Remaining {
		remaining = append(remaining, remainingItemPayload{
			ProductID: key.ProductID,
			Size:      key.Size,
			Color:     key.Color,
			Quantity:  quantity,
		})
	}
	slices.SortFunc(remaining, func(a, b remainingItemPayload) int {
		if c := strings.Compare(a.ProductID, b.ProductID); c != 0 {
			return c
		}
		if c := strings.Compare(a.Size, b.Size); c != 0 {
			return c
		}
		return strings.Compare(a.Color, b.Color)
	})
	return eligibilityResponse{
		Eligible:     result.Eligible,
		Reason:       string(result.Reason),
		WindowEndsAt: formatTimePtr(result.WindowEndsAt),
		Remaining:    remaining,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
