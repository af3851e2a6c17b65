package auth

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/httpx"
)

const instrumentationName = "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/auth"

// Logger receives structured verification events.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// rejection is a failed verification, rendered as an error envelope.
type rejection struct {
	status int
	code   string
	reason string
	msg    string
}

func reject(status int, code, reason, msg string) *rejection {
	return &rejection{status: status, code: code, reason: reason, msg: msg}
}

func (r *rejection) write(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError(r.code, r.msg, r.status))
}

// verificationMetrics counts webhook and service token checks by outcome.
type verificationMetrics struct {
	kind     string
	outcomes metric.Int64Counter
	latency  metric.Float64Histogram
}

func newVerificationMetrics(kind string, meter metric.Meter) verificationMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	outcomes, _ := meter.Int64Counter("auth.verifications",
		metric.WithDescription("Signed request verifications by kind and outcome"))
	latency, _ := meter.Float64Histogram("auth.verification.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent verifying signed requests"))
	return verificationMetrics{kind: kind, outcomes: outcomes, latency: latency}
}

func (m verificationMetrics) record(ctx context.Context, reason string, start, end time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("kind", m.kind),
		attribute.Bool("success", reason == "ok"),
		attribute.String("reason", reason),
	)
	if m.outcomes != nil {
		m.outcomes.Add(ctx, 1, attrs)
	}
	if m.latency != nil {
		m.latency.Record(ctx, float64(end.Sub(start))/float64(time.Millisecond), attrs)
	}
}
