package metrics

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitProvider installs a MeterProvider backed by the Prometheus exporter and builds the
// instruments on it. The exporter registers with the default Prometheus registry, which
// promhttp.Handler serves. The returned function flushes and stops the provider.
func InitProvider() (func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, errors.Wrap(err, "create prometheus exporter")
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)

	if err := Init(); err != nil {
		return nil, errors.Wrap(err, "create instruments")
	}
	return mp.Shutdown, nil
}
