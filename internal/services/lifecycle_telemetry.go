package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/services"

var tracer = otel.Tracer(instrumentationName)

type lifecycleMetrics struct {
	orderTransitions  metric.Int64Counter
	returnTransitions metric.Int64Counter
	cascadeFailures   metric.Int64Counter
	refundedAmount    metric.Int64Counter
}

func newLifecycleMetrics(meter metric.Meter) (lifecycleMetrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	orderTransitions, err := meter.Int64Counter(
		"lifecycle.order.transitions",
		metric.WithDescription("Order status transitions by target status"),
	)
	if err != nil {
		return lifecycleMetrics{}, err
	}
	returnTransitions, err := meter.Int64Counter(
		"lifecycle.return.transitions",
		metric.WithDescription("Return status transitions by target status"),
	)
	if err != nil {
		return lifecycleMetrics{}, err
	}
	cascadeFailures, err := meter.Int64Counter(
		"lifecycle.order.cascade_failures",
		metric.WithDescription("Completed returns whose order could not be marked returned"),
	)
	if err != nil {
		return lifecycleMetrics{}, err
	}
	refundedAmount, err := meter.Int64Counter(
		"lifecycle.refunds.amount",
		metric.WithUnit("{minor_unit}"),
		metric.WithDescription("Refunded totals recorded on completed returns"),
	)
	if err != nil {
		return lifecycleMetrics{}, err
	}
	return lifecycleMetrics{
		orderTransitions:  orderTransitions,
		returnTransitions: returnTransitions,
		cascadeFailures:   cascadeFailures,
		refundedAmount:    refundedAmount,
	}, nil
}

func noopLifecycleMetrics() lifecycleMetrics {
	metrics, _ := newLifecycleMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	return metrics
}

func (m lifecycleMetrics) orderTransitioned(ctx context.Context, from, to string) {
	m.orderTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m lifecycleMetrics) returnTransitioned(ctx context.Context, from, to string) {
	m.returnTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m lifecycleMetrics) cascadeFailed(ctx context.Context) {
	m.cascadeFailures.Add(ctx, 1)
}

func (m lifecycleMetrics) refunded(ctx context.Context, method string, currency string, amount int64) {
	m.refundedAmount.Add(ctx, amount, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("currency", currency),
	))
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func recordSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}
