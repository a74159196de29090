package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/topi314/tint"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/mrajeshsfdc/sfdoc/internal/config"
)

const (
	Name      = "sfdoc"
	Namespace = "docs"
)

// Shutdown flushes exporters and stops the metrics listener.
type Shutdown func(ctx context.Context) error

// SetupOtel installs the global tracer and meter providers. Disabled parts
// leave the no-op providers in place.
func SetupOtel(version string, cfg config.OtelConfig, logger *slog.Logger) (Shutdown, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var shutdowns []Shutdown
	shutdown := func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}

	traceShutdown, err := setupTrace(version, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup tracing: %w", err)
	}
	if traceShutdown != nil {
		shutdowns = append(shutdowns, traceShutdown)
	}

	meterShutdown, err := setupMeter(version, cfg, logger)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}
	if meterShutdown != nil {
		shutdowns = append(shutdowns, meterShutdown)
	}

	return shutdown, nil
}

func resources(version string, cfg config.OtelConfig) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(Name),
		semconv.ServiceNamespace(Namespace),
		semconv.ServiceInstanceID(cfg.InstanceID),
		semconv.ServiceVersion(version),
	)
}

func setupTrace(version string, cfg config.OtelConfig) (Shutdown, error) {
	if !cfg.Trace.Enabled {
		return nil, nil
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Trace.Endpoint),
	}
	if cfg.Trace.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resources(version, cfg)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}

func setupMeter(version string, cfg config.OtelConfig, logger *slog.Logger) (Shutdown, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}

	exp, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exp),
		sdkmetric.WithResource(resources(version, cfg)),
	)
	otel.SetMeterProvider(mp)

	httpServer := &http.Server{
		Addr:              cfg.Metrics.ListenAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.Error("failed to listen metrics server", tint.Err(listenErr))
		}
	}()

	return func(ctx context.Context) error {
		return errors.Join(httpServer.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
