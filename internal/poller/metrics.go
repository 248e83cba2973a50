package poller

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/slotwatch/slotwatch/internal/poller"

// cycleMetrics holds the OpenTelemetry instruments for poll cycles.
type cycleMetrics struct {
	cycles        metric.Int64Counter
	qualifying    metric.Int64Counter
	cycleDuration metric.Float64Histogram
}

func newCycleMetrics() (*cycleMetrics, error) {
	meter := otel.Meter(instrumentationName)

	cycles, err := meter.Int64Counter(
		"poller.cycles",
		metric.WithDescription("Number of poll cycles by outcome"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	qualifying, err := meter.Int64Counter(
		"poller.qualifying_slots",
		metric.WithDescription("Number of slots that passed the baseline filter"),
		metric.WithUnit("{slot}"),
	)
	if err != nil {
		return nil, err
	}

	cycleDuration, err := meter.Float64Histogram(
		"poller.cycle.duration",
		metric.WithDescription("Duration of poll cycles in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &cycleMetrics{
		cycles:        cycles,
		qualifying:    qualifying,
		cycleDuration: cycleDuration,
	}, nil
}

func (m *cycleMetrics) record(ctx context.Context, result *CycleResult) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", string(result.Outcome)),
		attribute.String("policy", string(result.Policy)),
	)

	m.cycles.Add(ctx, 1, attrs)
	m.qualifying.Add(ctx, int64(len(result.Slots)), attrs)
	m.cycleDuration.Record(ctx, result.Duration().Seconds(), attrs)
}
