// Package config loads TangramFS's process configuration from the
// environment, following the variable table a job launcher sets before
// exec'ing a rank.
package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Semantics selects the consistency mode a Session enforces for a file.
type Semantics int

const (
	// SemanticsStrong takes a lock for every read/write operation.
	SemanticsStrong Semantics = iota
	// SemanticsCommit batches posts behind an explicit commit call.
	SemanticsCommit
	// SemanticsRelaxed posts extents only when the file is closed.
	SemanticsRelaxed
)

func (s Semantics) String() string {
	switch s {
	case SemanticsStrong:
		return "STRONG"
	case SemanticsCommit:
		return "COMMIT"
	case SemanticsRelaxed:
		return "RELAXED"
	default:
		return "UNKNOWN"
	}
}

// Config is the static, per-process configuration for a TangramFS node:
// a client rank, the metadata/lock server, or a delegator.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (TANGRAM_*)
//  2. Default values
//
// There is no config file and no REST-managed dynamic configuration:
// every running rank in a job gets its configuration from the same
// environment the job launcher set up.
type Config struct {
	// PersistDir is the root of the durable PFS-backed store and also
	// holds the global config file / node list written at job start.
	PersistDir string `mapstructure:"persist_dir" validate:"required"`

	// BufferDir is the node-local scratch root backing this rank's
	// append-only scratch file.
	BufferDir string `mapstructure:"buffer_dir" validate:"required"`

	// RPCDevice and RPCTransport select the device and provider used by
	// the RPC plane's active-message transport.
	RPCDevice    string `mapstructure:"rpc_device"`
	RPCTransport string `mapstructure:"rpc_transport"`

	// RMADevice and RMATransport select the device and provider used by
	// the RMA data plane's transport.
	RMADevice    string `mapstructure:"rma_device"`
	RMATransport string `mapstructure:"rma_transport"`

	// Semantics selects the consistency mode new sessions open with.
	Semantics Semantics `mapstructure:"semantics" validate:"gte=0,lte=2"`

	// UseLocalServer selects a per-node metadata/lock server instead of
	// one global server shared by the whole job. The rank-0 process
	// still hosts a full lock server and location service, publishes its
	// address under BufferDir, and the other ranks reach it over RPC.
	UseLocalServer bool `mapstructure:"use_local_server"`

	// Debug enables verbose logging and continuous profiling.
	Debug bool `mapstructure:"debug"`

	// Rank is this process's position in the job's rank-ordered
	// participant list, used to derive its scratch-file naming and
	// nodelist.txt entry. A job launcher sets this per rank the way it
	// sets RPCDevice/RMADevice.
	Rank int `mapstructure:"rank"`

	// ListenAddr is the "host:port" (or "host:0" for an ephemeral port)
	// this node's transport binds to. The tcp.Transport stand-in carries
	// both the RPC plane and the RMA data plane over the same connection
	// (distinguished by tcp.rmaKind), so one listener serves both.
	ListenAddr string `mapstructure:"listen_addr"`

	// MetricsAddr is the "host:port" the daemon's /healthz and /metrics
	// HTTP endpoints bind to.
	MetricsAddr string `mapstructure:"metrics_addr"`

	// PFSBackend selects the durable store implementation: "local"
	// (default, disk-backed under PersistDir) or "s3".
	PFSBackend string `mapstructure:"pfs_backend" validate:"oneof=local s3"`

	// S3Bucket, S3Region, S3Endpoint and S3ForcePathStyle configure
	// pkg/pfs/s3 when PFSBackend is "s3".
	S3Bucket         string `mapstructure:"s3_bucket" validate:"required_if=PFSBackend s3"`
	S3Region         string `mapstructure:"s3_region"`
	S3Endpoint       string `mapstructure:"s3_endpoint"`
	S3ForcePathStyle bool   `mapstructure:"s3_force_path_style"`

	// TelemetryEndpoint is the OTLP gRPC collector endpoint. Telemetry
	// is enabled whenever this is non-empty.
	TelemetryEndpoint string `mapstructure:"telemetry_endpoint"`

	// ProfilingEndpoint is the Pyroscope server URL. Continuous
	// profiling is enabled whenever this is non-empty and Debug is set.
	ProfilingEndpoint string `mapstructure:"profiling_endpoint"`
}

// envBindings lists every TANGRAM_* variable this process recognizes,
// mapped to the mapstructure key it decodes into.
var envBindings = map[string]string{
	"TANGRAM_PERSIST_DIR":         "persist_dir",
	"TANGRAM_BUFFER_DIR":          "buffer_dir",
	"TANGRAM_UCX_RPC_DEV":         "rpc_device",
	"TANGRAM_UCX_RPC_TL":          "rpc_transport",
	"TANGRAM_UCX_RMA_DEV":         "rma_device",
	"TANGRAM_UCX_RMA_TL":          "rma_transport",
	"TANGRAM_SEMANTICS":           "semantics",
	"TANGRAM_USE_LOCAL_SERVER":    "use_local_server",
	"TANGRAM_DEBUG":               "debug",
	"TANGRAM_RANK":                "rank",
	"TANGRAM_LISTEN_ADDR":         "listen_addr",
	"TANGRAM_METRICS_ADDR":        "metrics_addr",
	"TANGRAM_PFS_BACKEND":         "pfs_backend",
	"TANGRAM_S3_BUCKET":           "s3_bucket",
	"TANGRAM_S3_REGION":           "s3_region",
	"TANGRAM_S3_ENDPOINT":         "s3_endpoint",
	"TANGRAM_S3_FORCE_PATH_STYLE": "s3_force_path_style",
	"TANGRAM_TELEMETRY_ENDPOINT":  "telemetry_endpoint",
	"TANGRAM_PROFILING_ENDPOINT":  "profiling_endpoint",
}

// Load reads the TANGRAM_* environment variables, applies defaults for
// anything unset, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for env, key := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", env, err)
		}
	}

	applyViperDefaults(v)

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(semanticsDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

// applyViperDefaults sets the fallback values used when a TANGRAM_*
// variable is unset.
func applyViperDefaults(v *viper.Viper) {
	v.SetDefault("persist_dir", "/mnt/pfs/tangramfs")
	v.SetDefault("buffer_dir", "/tmp/tangramfs")
	v.SetDefault("rpc_transport", "tcp")
	v.SetDefault("rma_transport", "tcp")
	v.SetDefault("semantics", 0)
	v.SetDefault("use_local_server", false)
	v.SetDefault("debug", false)
	v.SetDefault("rank", 0)
	v.SetDefault("listen_addr", "0.0.0.0:0")
	v.SetDefault("metrics_addr", "0.0.0.0:9400")
	v.SetDefault("pfs_backend", "local")
}

// Validate runs struct-tag validation plus any cross-field checks that
// validator can't express on its own.
func Validate(cfg *Config) error {
	val := validator.New()
	if err := val.Struct(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// semanticsDecodeHook converts TANGRAM_SEMANTICS's string or numeric
// form ("0"/"1"/"2") into a Semantics value.
func semanticsDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(Semantics(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid semantics value %q: %w", v, err)
			}
			return Semantics(n), nil
		case int:
			return Semantics(v), nil
		case int64:
			return Semantics(v), nil
		case float64:
			return Semantics(v), nil
		default:
			return data, nil
		}
	}
}
