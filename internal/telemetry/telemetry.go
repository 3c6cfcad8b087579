// Package telemetry installs the process-wide OpenTelemetry tracer provider and exposes the
// trace mode the HTTP layer and upstream clients consult before emitting spans.
package telemetry

import (
	"context"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName is the default OpenTelemetry service name.
const ServiceName = "delivery-heatmap"

const (
	traceModeOff      = "off"
	traceModeErrors   = "errors"
	traceModeSampled  = "sampled"
	traceModeDetailed = "detailed"

	// errors mode still keeps a trickle of traces when no ratio is configured.
	defaultErrorSampleRatio = 0.01
)

var knownTraceModes = map[string]struct{}{
	traceModeOff:      {},
	traceModeErrors:   {},
	traceModeSampled:  {},
	traceModeDetailed: {},
}

var activeTraceMode atomic.Pointer[string]

// Config selects how spans are sampled and where they are sent.
type Config struct {
	Enabled          bool
	ServiceName      string
	TraceMode        string
	TraceSampleRatio float64
	// SpanProcessors are registered on the provider, e.g. a tracetest.SpanRecorder.
	SpanProcessors []sdktrace.SpanProcessor
}

// Runtime holds the installed provider. Callers must invoke Shutdown on exit to flush spans.
type Runtime struct {
	TracerProvider *sdktrace.TracerProvider
	Shutdown       func(ctx context.Context) error
}

// Setup builds a tracer provider from cfg and installs it globally. A disabled config still
// installs a provider, one that never samples, so Tracer is always safe to call.
func Setup(cfg Config) (Runtime, error) {
	mode := traceModeOff
	if cfg.Enabled {
		mode = normalizeTraceMode(cfg.TraceMode)
	}
	activeTraceMode.Store(&mode)

	res, err := newResource(cfg.ServiceName)
	if err != nil {
		return Runtime{}, err
	}

	options := make([]sdktrace.TracerProviderOption, 0, len(cfg.SpanProcessors)+2)
	options = append(options,
		sdktrace.WithSampler(samplerForMode(mode, cfg.TraceSampleRatio)),
		sdktrace.WithResource(res),
	)
	for _, processor := range cfg.SpanProcessors {
		options = append(options, sdktrace.WithSpanProcessor(processor))
	}

	provider := sdktrace.NewTracerProvider(options...)
	otel.SetTracerProvider(provider)
	return Runtime{TracerProvider: provider, Shutdown: provider.Shutdown}, nil
}

func newResource(serviceName string) (*resource.Resource, error) {
	name := strings.TrimSpace(serviceName)
	if name == "" {
		name = ServiceName
	}
	return resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceNameKey.String(name)),
	)
}

// Tracer returns the tracer of one internal component, e.g. "heatmap".
func Tracer(component string) trace.Tracer {
	component = strings.TrimSpace(component)
	if component == "" {
		return otel.Tracer(ServiceName)
	}
	return otel.Tracer(ServiceName + "/internal/" + component)
}

// TraceMode reports the mode installed by the last Setup call, "off" before any.
func TraceMode() string {
	if mode := activeTraceMode.Load(); mode != nil && *mode != "" {
		return *mode
	}
	return traceModeOff
}

// ShouldTraceDependencies reports whether per-request upstream spans are wanted.
func ShouldTraceDependencies() bool {
	return TraceMode() == traceModeDetailed
}

func samplerForMode(mode string, ratio float64) sdktrace.Sampler {
	ratio = clampRatio(ratio)
	switch normalizeTraceMode(mode) {
	case traceModeOff:
		return sdktrace.NeverSample()
	case traceModeDetailed:
		return sdktrace.AlwaysSample()
	case traceModeErrors:
		if ratio == 0 {
			ratio = defaultErrorSampleRatio
		}
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// normalizeTraceMode folds case and whitespace; unknown modes fall back to sampled.
func normalizeTraceMode(mode string) string {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if _, ok := knownTraceModes[mode]; ok {
		return mode
	}
	return traceModeSampled
}

func clampRatio(ratio float64) float64 {
	return min(max(ratio, 0), 1)
}
