package query

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const (
	instrumentationName    = "github.com/adeilh/rakh-sync/query"
	instrumentationVersion = "0.1.0"
	metricKeyPrefix        = "query."
)

type instruments struct {
	hits          metric.Int64Counter
	misses        metric.Int64Counter
	fetches       metric.Int64Counter
	retries       metric.Int64Counter
	invalidations metric.Int64Counter
	evictions     metric.Int64Counter
	fetchDuration metric.Float64Histogram
}

func newInstruments(mp metric.MeterProvider, logger *zap.Logger) *instruments {
	meter := mp.Meter(instrumentationName, metric.WithInstrumentationVersion(instrumentationVersion))
	fallback := metricnoop.NewMeterProvider().Meter(instrumentationName)

	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(metricKeyPrefix+name, metric.WithDescription(desc), metric.WithUnit("{events}"))
		if err != nil {
			logger.Warn("query: counter unavailable", zap.String("name", name), zap.Error(err))
			c, _ = fallback.Int64Counter(metricKeyPrefix + name)
		}
		return c
	}

	hist, err := meter.Float64Histogram(
		metricKeyPrefix+"fetch.duration",
		metric.WithDescription("Duration of settled fetches including retries"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		logger.Warn("query: histogram unavailable", zap.Error(err))
		hist, _ = fallback.Float64Histogram(metricKeyPrefix + "fetch.duration")
	}

	return &instruments{
		hits:          counter("cache.hits", "Reads served from fresh cache"),
		misses:        counter("cache.misses", "Reads that found no fresh data"),
		fetches:       counter("fetches", "Fetch attempts sent to the gateway"),
		retries:       counter("retries", "Retried fetch attempts"),
		invalidations: counter("invalidations", "Entries marked stale"),
		evictions:     counter("evictions", "Entries removed by garbage collection"),
		fetchDuration: hist,
	}
}

func tagAttr(k Key) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("query.tag", string(k.tag)))
}

func (m *instruments) recordFetch(ctx context.Context, k Key, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.fetchDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
		attribute.String("query.tag", string(k.tag)),
		attribute.String("status", status),
	))
}
