// SPDX-License-Identifier: MIT
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"pcmframe/pkg/build"
)

// Provider is an installed MeterProvider together with the HTTP handler
// that serves its metrics in the Prometheus text format.
type Provider struct {
	*sdkmetric.MeterProvider
	Handler http.Handler
}

// InitProvider builds a MeterProvider backed by a Prometheus exporter on a
// private registry and registers it as the global OTel provider. Call
// Shutdown on the result before exit.
func InitProvider() (*Provider, error) {
	flags := build.GetBuildFlags()
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(flags.Name),
			semconv.ServiceVersion(flags.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)

	return &Provider{
		MeterProvider: mp,
		Handler:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, nil
}
