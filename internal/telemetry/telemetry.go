// Package telemetry wires OpenTelemetry tracing for the fetch pipeline.
package telemetry

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	serviceName    = "hubcache"
	serviceVersion = "1.0.0"
)

// Config holds the configuration for telemetry
type Config struct {
	Enabled      bool
	OTLPEndpoint string
}

// Provider manages the tracer provider lifecycle
type Provider struct {
	enabled bool
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
}

// NewProvider creates a telemetry provider. When disabled, spans are no-ops
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: noop.NewTracerProvider().Tracer(serviceName)}, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Printf("[telemetry] exporting traces to %s", cfg.OTLPEndpoint)
	return &Provider{enabled: true, tp: tp, tracer: tp.Tracer(serviceName)}, nil
}

// Shutdown flushes and stops the tracer provider
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// StartBatch opens a span for one batch fetch
func (p *Provider) StartBatch(ctx context.Context, repo string, itemCount int, warmup bool) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "content.fetch_batch", trace.WithAttributes(
		attribute.String("repo", repo),
		attribute.Int("item_count", itemCount),
		attribute.Bool("warmup", warmup),
	))
}

// RecordBatchMetrics attaches fetch counters to a batch span
func RecordBatchMetrics(span trace.Span, cacheHits, cacheMisses, refreshed, staleHits, warmed, errorHits int) {
	span.SetAttributes(
		attribute.Int("cache_hits", cacheHits),
		attribute.Int("cache_misses", cacheMisses),
		attribute.Int("refreshed", refreshed),
		attribute.Int("stale_hits", staleHits),
		attribute.Int("warmed", warmed),
		attribute.Int("error_hits", errorHits),
	)
}

// NewRequestID generates an identifier attached to each batch result and its
// log lines
func NewRequestID() string {
	return uuid.New().String()
}
