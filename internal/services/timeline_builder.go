package services

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/language"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
)

// TimelineSubject selects the label vocabulary.
type TimelineSubject string

const (
	TimelineOrder  TimelineSubject = "order"
	TimelineReturn TimelineSubject = "return"
)

var supportedTimelineLocales = []language.Tag{language.English, language.Vietnamese}

var timelineLocaleMatcher = language.NewMatcher(supportedTimelineLocales)

type timelineCopy struct {
	label       string
	description string
}

// timelineCatalog is keyed by subject, status, then base language.
var timelineCatalog = map[TimelineSubject]map[string]map[string]timelineCopy{
	TimelineOrder: {
		string(domain.OrderStatusPending): {
			"en": {"Order placed", "We received your order."},
			"vi": {"Đã đặt hàng", "Chúng tôi đã nhận được đơn hàng của bạn."},
		},
		string(domain.OrderStatusProcessing): {
			"en": {"Processing", "Your order was confirmed and is being prepared."},
			"vi": {"Đang xử lý", "Đơn hàng đã được xác nhận và đang được chuẩn bị."},
		},
		string(domain.OrderStatusShipped): {
			"en": {"Shipped", "Your parcel is on its way."},
			"vi": {"Đang giao hàng", "Đơn hàng đang trên đường giao đến bạn."},
		},
		string(domain.OrderStatusDelivered): {
			"en": {"Delivered", "Your parcel was delivered."},
			"vi": {"Đã giao hàng", "Đơn hàng đã được giao thành công."},
		},
		string(domain.OrderStatusCancelled): {
			"en": {"Cancelled", "The order was cancelled."},
			"vi": {"Đã hủy", "Đơn hàng đã bị hủy."},
		},
		string(domain.OrderStatusReturned): {
			"en": {"Returned", "All items were returned and refunded."},
			"vi": {"Đã trả hàng", "Tất cả sản phẩm đã được trả và hoàn tiền."},
		},
	},
	TimelineReturn: {
		string(domain.ReturnStatusPending): {
			"en": {"Return requested", "Your return request is waiting for review."},
			"vi": {"Đã gửi yêu cầu", "Yêu cầu trả hàng đang chờ xét duyệt."},
		},
		string(domain.ReturnStatusApproved): {
			"en": {"Return approved", "Your return was approved."},
			"vi": {"Đã duyệt", "Yêu cầu trả hàng đã được chấp nhận."},
		},
		string(domain.ReturnStatusProcessing): {
			"en": {"Refund in progress", "Your refund was sent to the payment provider."},
			"vi": {"Đang hoàn tiền", "Khoản hoàn tiền đang được xử lý."},
		},
		string(domain.ReturnStatusCompleted): {
			"en": {"Refund completed", "Your refund was completed."},
			"vi": {"Hoàn tiền thành công", "Khoản hoàn tiền đã hoàn tất."},
		},
		string(domain.ReturnStatusRejected): {
			"en": {"Return rejected", "Your return request was closed."},
			"vi": {"Từ chối", "Yêu cầu trả hàng đã bị đóng."},
		},
	},
}

// TimelineBuilder turns transition events into display entries. It is a pure projection.
type TimelineBuilder struct{}

// NewTimelineBuilder returns a TimelineBuilder.
func NewTimelineBuilder() TimelineBuilder {
	return TimelineBuilder{}
}

// MatchTimelineLocale picks the supported locale for an Accept-Language header, defaulting to English.
func MatchTimelineLocale(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, index, confidence := timelineLocaleMatcher.Match(tags...)
	if confidence == language.No {
		return language.English
	}
	return supportedTimelineLocales[index]
}

// Entry renders one event.
func (TimelineBuilder) Entry(subject TimelineSubject, event domain.TransitionEvent, locale language.Tag) domain.TimelineEntry {
	copyText := lookupTimelineCopy(subject, event.To, locale)
	return domain.TimelineEntry{
		Status:      event.To,
		Previous:    event.From,
		Timestamp:   event.OccurredAt.UTC(),
		Label:       copyText.label,
		Description: copyText.description,
		Actor:       event.Actor,
		Note:        strings.TrimSpace(event.Note),
	}
}

// Build renders events in chronological order; ties keep insertion order.
func (b TimelineBuilder) Build(subject TimelineSubject, events []domain.TransitionEvent, locale language.Tag) []domain.TimelineEntry {
	ordered := slices.Clone(events)
	slices.SortStableFunc(ordered, func(a, c domain.TransitionEvent) int {
		return a.OccurredAt.Compare(c.OccurredAt)
	})
	entries := make([]domain.TimelineEntry, 0, len(ordered))
	for _, event := range ordered {
		entries = append(entries, b.Entry(subject, event, locale))
	}
	return entries
}

// Relabel rebuilds stored entries in another locale.
func (b TimelineBuilder) Relabel(subject TimelineSubject, entries []domain.TimelineEntry, locale language.Tag) []domain.TimelineEntry {
	return b.Build(subject, EventsFromTimeline(entries), locale)
}

// EventsFromTimeline recovers the transition events behind stored entries.
func EventsFromTimeline(entries []domain.TimelineEntry) []domain.TransitionEvent {
	events := make([]domain.TransitionEvent, 0, len(entries))
	for _, entry := range entries {
		events = append(events, domain.TransitionEvent{
			From:       entry.Previous,
			To:         entry.Status,
			OccurredAt: entry.Timestamp,
			Actor:      entry.Actor,
			Note:       entry.Note,
		})
	}
	return events
}

func lookupTimelineCopy(subject TimelineSubject, status string, locale language.Tag) timelineCopy {
	base, _ := locale.Base()
	byStatus, ok := timelineCatalog[subject][status]
	if !ok {
		return timelineCopy{label: status, description: fmt.Sprintf("Status changed to %s.", status)}
	}
	if text, ok := byStatus[base.String()]; ok {
		return text
	}
	return byStatus["en"]
}
