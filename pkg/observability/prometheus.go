package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// textfileSink bridges the OTel meter provider to a Prometheus registry that
// is dumped to a node_exporter textfile.
type textfileSink struct {
	registry *prometheus.Registry
	reader   sdkmetric.Reader
	path     string
}

func newTextfileSink(path string) (*textfileSink, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	return &textfileSink{registry: registry, reader: exporter, path: path}, nil
}

// Write gathers the registry and atomically replaces the textfile.
func (s *textfileSink) Write() error {
	err := prometheus.WriteToTextfile(s.path, s.registry)
	if err != nil {
		return fmt.Errorf("write prometheus textfile %s: %w", s.path, err)
	}

	return nil
}
