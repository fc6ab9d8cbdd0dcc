package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	goAuthCore "github.com/MrEthical07/goAuthCore"
	otelexport "github.com/MrEthical07/goAuthCore/metrics/export/otel"
	promexport "github.com/MrEthical07/goAuthCore/metrics/export/prometheus"
)

const (
	metricsOTel       = "otel"
	metricsPrometheus = "prometheus"
)

// newMetricsHandler exposes engine metrics in Prometheus text format, either
// through an OpenTelemetry meter provider or a native collector. The returned
// func releases the backend.
func newMetricsHandler(backend string, engine *goAuthCore.Engine) (http.Handler, func() error, error) {
	reg := prometheus.NewRegistry()
	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	switch backend {
	case metricsPrometheus:
		if err := reg.Register(promexport.NewPrometheusExporter(engine)); err != nil {
			return nil, nil, fmt.Errorf("register collector: %w", err)
		}
		return handler, func() error { return nil }, nil

	case metricsOTel:
		reader, err := otelprom.New(otelprom.WithRegisterer(reg))
		if err != nil {
			return nil, nil, fmt.Errorf("otel prometheus exporter: %w", err)
		}
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		exporter, err := otelexport.NewOTelExporter(provider.Meter("github.com/MrEthical07/goAuthCore"), engine)
		if err != nil {
			return nil, nil, err
		}
		return handler, func() error {
			if err := exporter.Close(); err != nil {
				return err
			}
			return provider.Shutdown(context.Background())
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown metrics backend %q", backend)
	}
}
