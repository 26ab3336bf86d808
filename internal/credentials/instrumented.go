package credentials

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce    sync.Once
	requestCounter metric.Int64Counter
	fetchCounter   metric.Int64Counter
	fetchDuration  metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/ecovate/turnrest/internal/credentials")

		var err error
		requestCounter, err = meter.Int64Counter(
			"credentials.requests",
			metric.WithDescription("Credential lookups, by cache decision"),
		)
		if err != nil {
			otel.Handle(err)
		}

		fetchCounter, err = meter.Int64Counter(
			"credentials.fetches",
			metric.WithDescription("Completed credential fetches"),
		)
		if err != nil {
			otel.Handle(err)
		}

		fetchDuration, err = meter.Float64Histogram(
			"credentials.fetch.duration",
			metric.WithDescription("Credential fetch duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

func recordRequest(ctx context.Context, reason refetchReason) {
	if requestCounter == nil {
		return
	}

	decision := "reuse"
	if reason != reasonNone {
		decision = "fetch"
	}

	requestCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("credentials.decision", decision),
			attribute.String("credentials.reason", string(reason)),
		),
	)
}

func recordFetch(ctx context.Context, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}

	if fetchCounter != nil {
		fetchCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("credentials.status", status)),
		)
	}

	if fetchDuration != nil {
		fetchDuration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("credentials.status", status)),
		)
	}
}
