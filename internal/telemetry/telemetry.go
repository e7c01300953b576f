// Package telemetry wires OpenTelemetry tracing and Prometheus metrics for
// Doorway.
package telemetry

import (
	"context"
	"fmt"

	"github.com/ethosengine/doorway/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Metrics are the Prometheus gauges/counters the spec's ambient stack adds
// on top of the core components (SPEC_FULL.md §2b).
type Metrics struct {
	WorkerPoolConnected *prometheus.GaugeVec
	WorkerPoolTotal     *prometheus.GaugeVec
	CacheHits           *prometheus.CounterVec
	CacheMisses         *prometheus.CounterVec
	ReplicationProgress *prometheus.GaugeVec
}

// NewMetrics registers and returns Doorway's Prometheus collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		WorkerPoolConnected: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "doorway_worker_pool_connected",
			Help: "Connected sessions per conductor worker pool.",
		}, []string{"conductor_id"}),
		WorkerPoolTotal: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "doorway_worker_pool_total",
			Help: "Sessions held (established at startup) per conductor worker pool.",
		}, []string{"conductor_id"}),
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "doorway_cache_hits_total",
			Help: "REST cache hits by source (legacy, projection).",
		}, []string{"source"}),
		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "doorway_cache_misses_total",
			Help: "REST cache misses.",
		}, []string{"source"}),
		ReplicationProgress: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "doorway_replication_percent",
			Help: "Most recent replication percent by content id.",
		}, []string{"content_id"}),
	}
}

// Init sets up OpenTelemetry tracing with an OTLP gRPC exporter. Returns a
// shutdown function that should be called on graceful shutdown.
func Init(cfg config.TelemetryConfig) (func(context.Context) error, error) {
	if !cfg.Enabled || cfg.OTLPEndpoint == "" {
		log.Info().Msg("OpenTelemetry disabled")
		return func(ctx context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(), // production should use TLS via OTEL_EXPORTER_OTLP_CERTIFICATE
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("endpoint", cfg.OTLPEndpoint).
		Str("service", cfg.ServiceName).
		Msg("OpenTelemetry tracing initialized")

	return tp.Shutdown, nil
}
