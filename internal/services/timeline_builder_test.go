package services

import (
	"testing"
	"time"

	"golang.org/x/text/language"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
)

func TestTimelineBuildIsStableChronological(t *testing.T) {
	base := time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC)
	events := []domain.TransitionEvent{
		{To: string(domain.OrderStatusShipped), From: string(domain.OrderStatusProcessing), OccurredAt: base.Add(2 * time.Hour)},
		{To: string(domain.OrderStatusPending), OccurredAt: base},
		{To: string(domain.OrderStatusProcessing), From: string(domain.OrderStatusPending), OccurredAt: base.Add(time.Hour), Note: "first"},
		{To: string(domain.OrderStatusProcessing), From: string(domain.OrderStatusPending), OccurredAt: base.Add(time.Hour), Note: "second"},
	}

	entries := NewTimelineBuilder().Build(TimelineOrder, events, language.English)
	if len(entries) != len(events) {
		t.Fatalf("expected %d entries, got %d", len(events), len(entries))
	}
	wantNotes := []string{"", "first", "second", ""}
	for i, entry := range entries {
		if entry.Note != wantNotes[i] {
			t.Fatalf("entry %d: expected note %q, got %q", i, wantNotes[i], entry.Note)
		}
	}
	if entries[0].Label != "Order placed" || entries[3].Label != "Shipped" {
		t.Fatalf("unexpected labels %q, %q", entries[0].Label, entries[3].Label)
	}
}

func TestTimelineRelabelsInVietnamese(t *testing.T) {
	builder := NewTimelineBuilder()
	at := time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC)
	entry := builder.Entry(TimelineReturn, domain.TransitionEvent{To: string(domain.ReturnStatusCompleted), From: string(domain.ReturnStatusProcessing), OccurredAt: at, Actor: "staff:stf_1"}, language.English)
	if entry.Label != "Refund completed" {
		t.Fatalf("unexpected label %q", entry.Label)
	}

	relabelled := builder.Relabel(TimelineReturn, []domain.TimelineEntry{entry}, MatchTimelineLocale("vi-VN,vi;q=0.9,en;q=0.5"))
	if relabelled[0].Label != "Hoàn tiền thành công" {
		t.Fatalf("unexpected vi label %q", relabelled[0].Label)
	}
	if relabelled[0].Actor != entry.Actor || !relabelled[0].Timestamp.Equal(at) || relabelled[0].Previous != entry.Previous {
		t.Fatalf("relabel must keep event data, got %+v", relabelled[0])
	}
}

func TestMatchTimelineLocaleFallsBackToEnglish(t *testing.T) {
	for _, header := range []string{"", "fr-FR", "not a header;;"} {
		if got := MatchTimelineLocale(header); got != language.English {
			t.Fatalf("%q: expected English, got %v", header, got)
		}
	}
}

func TestTimelineUnknownStatusUsesRawValue(t *testing.T) {
	entry := NewTimelineBuilder().Entry(TimelineOrder, domain.TransitionEvent{To: "on_hold"}, language.English)
	if entry.Label != "on_hold" {
		t.Fatalf("unexpected label %q", entry.Label)
	}
}
