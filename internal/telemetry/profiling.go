package telemetry

import (
	"fmt"

	"github.com/grafana/pyroscope-go"
)

// ProfilingConfig configures Pyroscope continuous profiling for one
// daemon process.
type ProfilingConfig struct {
	// Enabled controls whether profiling is started at all.
	Enabled bool

	// ServiceName is the application name shown in Pyroscope.
	ServiceName string

	// ServiceVersion tags every profile with a build identifier.
	ServiceVersion string

	// Endpoint is the Pyroscope server URL (e.g. "http://localhost:4040").
	Endpoint string

	// Rank tags profiles with the reporting process's job rank, so
	// profiles from different ranks of the same job can be compared.
	Rank int
}

var profilingEnabled bool

// defaultProfileTypes covers CPU and heap; a node serving as the
// global metadata/lock server cares most about both under load.
var defaultProfileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileInuseObjects,
}

// InitProfiling starts a Pyroscope profiler when cfg.Enabled, returning
// a shutdown function that stops it.
func InitProfiling(cfg ProfilingConfig) (shutdown func() error, err error) {
	if !cfg.Enabled {
		profilingEnabled = false
		return func() error { return nil }, nil
	}

	profilingEnabled = true
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags: map[string]string{
			"version": cfg.ServiceVersion,
			"rank":    fmt.Sprintf("%d", cfg.Rank),
		},
		ProfileTypes: defaultProfileTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: start pyroscope profiler: %w", err)
	}

	return profiler.Stop, nil
}

// IsProfilingEnabled reports whether the last InitProfiling call started
// a profiler.
func IsProfilingEnabled() bool {
	return profilingEnabled
}
