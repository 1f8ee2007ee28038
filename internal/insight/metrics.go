package insight

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/quillhaven/insightd/internal/insight"

// Metrics holds orchestration-level counters.
type Metrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	analyses       metric.Int64Counter
	clusters       metric.Int64Histogram
	consolidations metric.Int64Counter
}

// NewMetrics creates the service metrics.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.analyses, err = m.meter.Int64Counter(
		"insightd.analysis.completed_total",
		metric.WithDescription("Completed entry analyses, labeled by degraded fallback use"),
		metric.WithUnit("{analysis}"),
	)
	if err != nil {
		m.logger.Warn("failed to create analyses counter", zap.Error(err))
	}

	m.clusters, err = m.meter.Int64Histogram(
		"insightd.pattern.clusters_per_run",
		metric.WithDescription("Clusters produced per pattern discovery run"),
		metric.WithUnit("{cluster}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 25, 50, 100),
	)
	if err != nil {
		m.logger.Warn("failed to create clusters histogram", zap.Error(err))
	}

	m.consolidations, err = m.meter.Int64Counter(
		"insightd.wisdom.consolidations_total",
		metric.WithDescription("Completed wisdom consolidations"),
		metric.WithUnit("{consolidation}"),
	)
	if err != nil {
		m.logger.Warn("failed to create consolidations counter", zap.Error(err))
	}
}

// RecordAnalysis counts one completed analysis.
func (m *Metrics) RecordAnalysis(ctx context.Context, degraded bool) {
	if m.analyses != nil {
		m.analyses.Add(ctx, 1, metric.WithAttributes(attribute.Bool("degraded", degraded)))
	}
}

// RecordDiscovery records one pattern discovery run.
func (m *Metrics) RecordDiscovery(ctx context.Context, clusters, patterns int) {
	if m.clusters != nil {
		m.clusters.Record(ctx, int64(clusters),
			metric.WithAttributes(attribute.Int("patterns", patterns)))
	}
}

// RecordConsolidation counts one wisdom consolidation.
func (m *Metrics) RecordConsolidation(ctx context.Context, entryCount int) {
	if m.consolidations != nil {
		m.consolidations.Add(ctx, 1,
			metric.WithAttributes(attribute.Int("entries", entryCount)))
	}
}
