package channel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("enginebridge.channel")
	meter  = otel.Meter("enginebridge.channel")
)

var (
	requestsSent      metric.Int64Counter
	requestsCancelled metric.Int64Counter
	requestsFailed    metric.Int64Counter
	responseLatency   metric.Float64Histogram
	protocolErrors    metric.Int64Counter
	connects          metric.Int64Counter
	connectLatency    metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		if requestsSent, err = meter.Int64Counter(
			"engine_requests_sent_total",
			metric.WithDescription("Requests written to the engine"),
		); err != nil {
			metricsErr = err
			return
		}

		if requestsCancelled, err = meter.Int64Counter(
			"engine_requests_cancelled_total",
			metric.WithDescription("Requests cancelled before a response arrived"),
		); err != nil {
			metricsErr = err
			return
		}

		if requestsFailed, err = meter.Int64Counter(
			"engine_requests_failed_total",
			metric.WithDescription("Requests failed by a write error or a lost connection"),
		); err != nil {
			metricsErr = err
			return
		}

		if responseLatency, err = meter.Float64Histogram(
			"engine_response_duration_seconds",
			metric.WithDescription("Time from request to response"),
			metric.WithUnit("s"),
		); err != nil {
			metricsErr = err
			return
		}

		if protocolErrors, err = meter.Int64Counter(
			"engine_protocol_errors_total",
			metric.WithDescription("Malformed inbound envelopes dropped"),
		); err != nil {
			metricsErr = err
			return
		}

		if connects, err = meter.Int64Counter(
			"engine_connects_total",
			metric.WithDescription("Connection attempts to the engine"),
		); err != nil {
			metricsErr = err
			return
		}

		connectLatency, metricsErr = meter.Float64Histogram(
			"engine_connect_duration_seconds",
			metric.WithDescription("Time to connect to the engine"),
			metric.WithUnit("s"),
		)
	})
	return metricsErr
}

func startConnectSpan(ctx context.Context) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Channel.Connect")
}

func recordSent(ctx context.Context, typ string) {
	if initMetrics() != nil {
		return
	}
	requestsSent.Add(ctx, 1, metric.WithAttributes(attribute.String("type", typ)))
}

func recordResponse(ctx context.Context, typ string, latency time.Duration) {
	if initMetrics() != nil {
		return
	}
	responseLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attribute.String("type", typ)))
}

func recordCancelled(ctx context.Context, typ string) {
	if initMetrics() != nil {
		return
	}
	requestsCancelled.Add(ctx, 1, metric.WithAttributes(attribute.String("type", typ)))
}

func recordFailed(ctx context.Context, typ string) {
	if initMetrics() != nil {
		return
	}
	requestsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("type", typ)))
}

func recordProtocolError(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	protocolErrors.Add(ctx, 1)
}

func recordConnect(ctx context.Context, latency time.Duration, success bool) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	connects.Add(ctx, 1, attrs)
	connectLatency.Record(ctx, latency.Seconds(), attrs)
}
