package firestore

import (
	"fmt"
	"time"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
)

type variantDocument struct {
	Size  string `firestore:"size,omitempty"`
	Color string `firestore:"color,omitempty"`
}

type orderItemDocument struct {
	ProductID string          `firestore:"productId"`
	Name      string          `firestore:"name,omitempty"`
	Variant   variantDocument `firestore:"variant"`
	Quantity  int             `firestore:"quantity"`
	UnitPrice int64           `firestore:"unitPrice"`
}

type addressDocument struct {
	Recipient  string `firestore:"recipient"`
	Phone      string `firestore:"phone"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	Ward       string `firestore:"ward,omitempty"`
	District   string `firestore:"district,omitempty"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country,omitempty"`
}

type totalsDocument struct {
	Subtotal int64  `firestore:"subtotal"`
	Shipping int64  `firestore:"shipping"`
	Discount int64  `firestore:"discount"`
	Total    int64  `firestore:"total"`
	Currency string `firestore:"currency"`
}

type timelineDocument struct {
	Status      string    `firestore:"status"`
	Previous    string    `firestore:"previous,omitempty"`
	Timestamp   time.Time `firestore:"timestamp"`
	Label       string    `firestore:"label"`
	Description string    `firestore:"description,omitempty"`
	Actor       string    `firestore:"actor,omitempty"`
	Note        string    `firestore:"note,omitempty"`
}

type orderDocument struct {
	CustomerID      string              `firestore:"customerId"`
	Items           []orderItemDocument `firestore:"items"`
	ShippingAddress addressDocument     `firestore:"shippingAddress"`
	PaymentMethod   string              `firestore:"paymentMethod"`
	PaymentIntentID string              `firestore:"paymentIntentId,omitempty"`
	Totals          totalsDocument      `firestore:"totals"`
	Status          string              `firestore:"status"`
	TrackingNumber  string              `firestore:"trackingNumber,omitempty"`
	Carrier         string              `firestore:"carrier,omitempty"`
	DeliveredAt     *time.Time          `firestore:"deliveredAt,omitempty"`
	Archived        bool                `firestore:"archived"`
	Timeline        []timelineDocument  `firestore:"timeline"`
	Version         int64               `firestore:"version"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
}

type returnItemDocument struct {
	ProductID string          `firestore:"productId"`
	Variant   variantDocument `firestore:"variant"`
	Quantity  int             `firestore:"quantity"`
	Reason    string          `firestore:"reason"`
	UnitPrice int64           `firestore:"unitPrice"`
}

type refundDocument struct {
	ID          string    `firestore:"id"`
	ReturnID    string    `firestore:"returnId"`
	OrderID     string    `firestore:"orderId"`
	Method      string    `firestore:"method"`
	BaseAmount  int64     `firestore:"baseAmount"`
	BonusAmount int64     `firestore:"bonusAmount"`
	TotalAmount int64     `firestore:"totalAmount"`
	Currency    string    `firestore:"currency"`
	ExternalRef string    `firestore:"externalRef,omitempty"`
	RecordedAt  time.Time `firestore:"recordedAt"`
}

type returnDocument struct {
	OrderID             string               `firestore:"orderId"`
	CustomerID          string               `firestore:"customerId"`
	Items               []returnItemDocument `firestore:"items"`
	Status              string               `firestore:"status"`
	RefundMethod        string               `firestore:"refundMethod"`
	RequestedAmount     int64                `firestore:"requestedAmount"`
	BonusAmount         int64                `firestore:"bonusAmount"`
	BonusRateBps        int64                `firestore:"bonusRateBps"`
	Currency            string               `firestore:"currency"`
	RefundReference     string               `firestore:"refundReference,omitempty"`
	Refund              *refundDocument      `firestore:"refund,omitempty"`
	EstimatedCompletion *time.Time           `firestore:"estimatedCompletion,omitempty"`
	CompletedAt         *time.Time           `firestore:"completedAt,omitempty"`
	AdminNote           string               `firestore:"adminNote,omitempty"`
	CustomerNote        string               `firestore:"customerNote,omitempty"`
	Timeline            []timelineDocument   `firestore:"timeline"`
	Version             int64                `firestore:"version"`
	CreatedAt           time.Time            `firestore:"createdAt"`
	UpdatedAt           time.Time            `firestore:"updatedAt"`
}

func newTimelineDocuments(entries []domain.TimelineEntry) []timelineDocument {
	docs := make([]timelineDocument, 0, len(entries))
	for _, entry := range entries {
		docs = append(docs, newTimelineDocument(entry))
	}
	return docs
}

func newTimelineDocument(entry domain.TimelineEntry) timelineDocument {
	return timelineDocument{
		Status:      entry.Status,
		Previous:    entry.Previous,
		Timestamp:   entry.Timestamp.UTC(),
		Label:       entry.Label,
		Description: entry.Description,
		Actor:       entry.Actor,
		Note:        entry.Note,
	}
}

func (d timelineDocument) toDomain() domain.TimelineEntry {
	return domain.TimelineEntry{
		Status:      d.Status,
		Previous:    d.Previous,
		Timestamp:   d.Timestamp.UTC(),
		Label:       d.Label,
		Description: d.Description,
		Actor:       d.Actor,
		Note:        d.Note,
	}
}

func timelineToDomain(docs []timelineDocument) []domain.TimelineEntry {
	entries := make([]domain.TimelineEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, doc.toDomain())
	}
	return entries
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Variant:   variantDocument(item.Variant),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return orderDocument{
		CustomerID:      order.CustomerID,
		Items:           items,
		ShippingAddress: addressDocument(order.ShippingAddress),
		PaymentMethod:   string(order.PaymentMethod),
		PaymentIntentID: order.PaymentIntentID,
		Totals:          totalsDocument(order.Totals),
		Status:          string(order.Status),
		TrackingNumber:  order.TrackingNumber,
		Carrier:         order.Carrier,
		DeliveredAt:     utcPtr(order.DeliveredAt),
		Archived:        order.Archived,
		Timeline:        newTimelineDocuments(order.Timeline),
		Version:         order.Version,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
}

// toDomain rejects stored status and method strings outside the domain vocabulary.
func (d orderDocument) toDomain(id string) (domain.Order, error) {
	status, err := domain.ParseOrderStatus(d.Status)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, err)
	}
	payment, err := domain.ParsePaymentMethod(d.PaymentMethod)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, err)
	}
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Variant:   domain.Variant(item.Variant),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return domain.Order{
		ID:              id,
		CustomerID:      d.CustomerID,
		Items:           items,
		ShippingAddress: domain.Address(d.ShippingAddress),
		PaymentMethod:   payment,
		PaymentIntentID: d.PaymentIntentID,
		Totals:          domain.OrderTotals(d.Totals),
		Status:          status,
		TrackingNumber:  d.TrackingNumber,
		Carrier:         d.Carrier,
		DeliveredAt:     utcPtr(d.DeliveredAt),
		Archived:        d.Archived,
		Timeline:        timelineToDomain(d.Timeline),
		Version:         d.Version,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}, nil
}

func newRefundDocument(record domain.RefundRecord) refundDocument {
	return refundDocument{
		ID:          record.ID,
		ReturnID:    record.ReturnID,
		OrderID:     record.OrderID,
		Method:      string(record.Method),
		BaseAmount:  record.BaseAmount,
		BonusAmount: record.BonusAmount,
		TotalAmount: record.TotalAmount,
		Currency:    record.Currency,
		ExternalRef: record.ExternalRef,
		RecordedAt:  record.RecordedAt.UTC(),
	}
}

func (d refundDocument) toDomain() (domain.RefundRecord, error) {
	method, err := domain.ParseRefundMethod(d.Method)
	if err != nil {
		return domain.RefundRecord{}, fmt.Errorf("refund %s: %w", d.ID, err)
	}
	return domain.RefundRecord{
		ID:          d.ID,
		ReturnID:    d.ReturnID,
		OrderID:     d.OrderID,
		Method:      method,
		BaseAmount:  d.BaseAmount,
		BonusAmount: d.BonusAmount,
		TotalAmount: d.TotalAmount,
		Currency:    d.Currency,
		ExternalRef: d.ExternalRef,
		RecordedAt:  d.RecordedAt.UTC(),
	}, nil
}

func newReturnDocument(ret domain.ReturnRequest) returnDocument {
	items := make([]returnItemDocument, 0, len(ret.Items))
	for _, item := range ret.Items {
		items = append(items, returnItemDocument{
			ProductID: item.ProductID,
			Variant:   variantDocument(item.Variant),
			Quantity:  item.Quantity,
			Reason:    string(item.Reason),
			UnitPrice: item.UnitPrice,
		})
	}
	doc := returnDocument{
		OrderID:             ret.OrderID,
		CustomerID:          ret.CustomerID,
		Items:               items,
		Status:              string(ret.Status),
		RefundMethod:        string(ret.RefundMethod),
		RequestedAmount:     ret.RequestedAmount,
		BonusAmount:         ret.BonusAmount,
		BonusRateBps:        ret.BonusRateBps,
		Currency:            ret.Currency,
		RefundReference:     ret.RefundReference,
		EstimatedCompletion: utcPtr(ret.EstimatedCompletion),
		CompletedAt:         utcPtr(ret.CompletedAt),
		AdminNote:           ret.AdminNote,
		CustomerNote:        ret.CustomerNote,
		Timeline:            newTimelineDocuments(ret.Timeline),
		Version:             ret.Version,
		CreatedAt:           ret.CreatedAt.UTC(),
		UpdatedAt:           ret.UpdatedAt.UTC(),
	}
	if ret.Refund != nil {
		refund := newRefundDocument(*ret.Refund)
		doc.Refund = &refund
	}
	return doc
}

func (d returnDocument) toDomain(id string) (domain.ReturnRequest, error) {
	status, err := domain.ParseReturnStatus(d.Status)
	if err != nil {
		return domain.ReturnRequest{}, fmt.Errorf("return %s: %w", id, err)
	}
	method, err := domain.ParseRefundMethod(d.RefundMethod)
	if err != nil {
		return domain.ReturnRequest{}, fmt.Errorf("return %s: %w", id, err)
	}
	items := make([]domain.ReturnItem, 0, len(d.Items))
	for _, item := range d.Items {
		reason, err := domain.ParseReasonCode(item.Reason)
		if err != nil {
			return domain.ReturnRequest{}, fmt.Errorf("return %s: %w", id, err)
		}
		items = append(items, domain.ReturnItem{
			ProductID: item.ProductID,
			Variant:   domain.Variant(item.Variant),
			Quantity:  item.Quantity,
			Reason:    reason,
			UnitPrice: item.UnitPrice,
		})
	}
	ret := domain.ReturnRequest{
		ID:                  id,
		OrderID:             d.OrderID,
		CustomerID:          d.CustomerID,
		Items:               items,
		Status:              status,
		RefundMethod:        method,
		RequestedAmount:     d.RequestedAmount,
		BonusAmount:         d.BonusAmount,
		BonusRateBps:        d.BonusRateBps,
		Currency:            d.Currency,
		RefundReference:     d.RefundReference,
		EstimatedCompletion: utcPtr(d.EstimatedCompletion),
		CompletedAt:         utcPtr(d.CompletedAt),
		AdminNote:           d.AdminNote,
		CustomerNote:        d.CustomerNote,
		Timeline:            timelineToDomain(d.Timeline),
		Version:             d.Version,
		CreatedAt:           d.CreatedAt.UTC(),
		UpdatedAt:           d.UpdatedAt.UTC(),
	}
	if d.Refund != nil {
		refund, err := d.Refund.toDomain()
		if err != nil {
			return domain.ReturnRequest{}, fmt.Errorf("return %s: %w", id, err)
		}
		ret.Refund = &refund
	}
	return ret, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
