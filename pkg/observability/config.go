package observability

import "log/slog"

// AppMode identifies how duvet was started.
type AppMode string

const (
	// ModeCLI is a one-shot command invocation.
	ModeCLI AppMode = "cli"
	// ModeMCP is the long-running MCP stdio server.
	ModeMCP AppMode = "mcp"
)

const (
	defaultServiceName        = "duvet"
	defaultShutdownTimeoutSec = 5
)

// Config holds observability settings.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Mode           AppMode

	// OTLPEndpoint enables OTLP gRPC export of traces and metrics.
	// Empty means no-op providers.
	OTLPEndpoint string
	OTLPHeaders  map[string]string
	OTLPInsecure bool
	SampleRatio  float64

	// PrometheusTextfile, when set, receives all metrics in the Prometheus
	// text exposition format at shutdown.
	PrometheusTextfile string

	LogLevel slog.Level
	LogJSON  bool

	ShutdownTimeoutSec int
}

// DefaultConfig returns a CLI configuration with no exporters.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeCLI,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}
