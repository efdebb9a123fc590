// Command tangramfsd is the per-rank TangramFS daemon: it opens this
// rank's transport, hosts or connects to the job's metadata/lock
// server depending on TANGRAM_USE_LOCAL_SERVER, and serves RMA fetches
// against whatever files this rank's sessions have open.
//
// Every rank in a job execs the same binary; a job launcher sets the
// TANGRAM_* environment table per rank the way it sets MPI's rank and
// device environment today.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tangramfs/tangramfs/internal/config"
	"github.com/tangramfs/tangramfs/internal/logger"
	"github.com/tangramfs/tangramfs/internal/metrics"
	"github.com/tangramfs/tangramfs/internal/telemetry"
	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/lock"
	"github.com/tangramfs/tangramfs/pkg/location"
	"github.com/tangramfs/tangramfs/pkg/persistedconfig"
	"github.com/tangramfs/tangramfs/pkg/pfs"
	"github.com/tangramfs/tangramfs/pkg/pfs/local"
	"github.com/tangramfs/tangramfs/pkg/pfs/s3"
	"github.com/tangramfs/tangramfs/pkg/rma"
	"github.com/tangramfs/tangramfs/pkg/rpc"
	"github.com/tangramfs/tangramfs/pkg/session"
	"github.com/tangramfs/tangramfs/pkg/transport"
	"github.com/tangramfs/tangramfs/pkg/transport/tcp"
	"github.com/tangramfs/tangramfs/pkg/wire"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tangramfsd: load config: %v\n", err)
		os.Exit(1)
	}

	level := "INFO"
	if cfg.Debug {
		level = "DEBUG"
	}
	if err := logger.Init(logger.Config{Level: level, Format: "text", Output: "stdout"}); err != nil {
		fmt.Fprintf(os.Stderr, "tangramfsd: init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEndpoint != "",
		ServiceName:    "tangramfsd",
		ServiceVersion: version,
		Endpoint:       cfg.TelemetryEndpoint,
		Insecure:       true,
		SampleRate:     1.0,
	})
	if err != nil {
		logger.Error("init telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Debug && cfg.ProfilingEndpoint != "",
		ServiceName:    "tangramfsd",
		ServiceVersion: version,
		Endpoint:       cfg.ProfilingEndpoint,
		Rank:           cfg.Rank,
	})
	if err != nil {
		logger.Error("init profiling", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown", "error", err)
		}
	}()

	logger.Info("tangramfsd starting", "version", version, "commit", commit, "rank", cfg.Rank)

	hostname, err := os.Hostname()
	if err != nil {
		logger.Error("resolve hostname", "error", err)
		os.Exit(1)
	}

	self, err := resolveSelf(hostname, cfg)
	if err != nil {
		logger.Error("resolve self address", "error", err)
		os.Exit(1)
	}

	t, err := tcp.New(self, cfg.ListenAddr)
	if err != nil {
		logger.Error("bind transport", "error", err)
		os.Exit(1)
	}
	defer t.Close()
	logger.Info("transport bound", "self", self.String(), "listen_addr", t.ListenAddr())

	store, err := newPFSStore(ctx, cfg)
	if err != nil {
		logger.Error("init pfs store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	metricsReg := metrics.New()
	ready := &metrics.Ready{}

	meta, locks, runServer, err := wireServer(ctx, cfg, hostname, self, t, metricsReg, cancel)
	if err != nil {
		logger.Error("wire metadata/lock server", "error", err)
		os.Exit(1)
	}

	rmaClient := rma.NewClient(t)
	sessions := session.NewManager(session.ManagerConfig{
		BufferDir: cfg.BufferDir,
		Rank:      cfg.Rank,
		Self:      self,
		Semantics: cfg.Semantics,
		Meta:      meta,
		RMA:       rmaClient,
		PFS:       store,
		Locks:     locks,
	})
	rma.NewServer(t, sessions)

	serverDone := make(chan error, 1)
	go func() { serverDone <- runServer(ctx) }()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.NewRouter(metricsReg, ready)}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	ready.Set(true)
	logger.Info("tangramfsd ready", "metrics_addr", cfg.MetricsAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, draining")
		cancel()
		shutdownMetrics(metricsSrv)
		if err := <-serverDone; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server shutdown error", "error", err)
			os.Exit(1)
		}
		logger.Info("tangramfsd stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		shutdownMetrics(metricsSrv)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		logger.Info("tangramfsd stopped")
	}
}

func shutdownMetrics(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown", "error", err)
	}
}

// resolveSelf builds this rank's advertised address: an opaque
// per-rank device id plus the "host:port" peers should dial to reach
// it. A 0.0.0.0 bind host is replaced with this node's hostname since
// 0.0.0.0 is not itself dialable; a job launcher assigning concrete
// per-rank ports (rather than ":0") is otherwise assumed, the way it
// already assigns concrete RPCDevice/RMADevice values per rank.
func resolveSelf(hostname string, cfg *config.Config) (addr.Address, error) {
	host, port, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return addr.Address{}, fmt.Errorf("parse listen_addr %q: %w", cfg.ListenAddr, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = hostname
	}
	dial := net.JoinHostPort(host, port)
	device := fmt.Sprintf("%s#%d", hostname, cfg.Rank)
	return addr.New([]byte(device), []byte(dial)), nil
}

func newPFSStore(ctx context.Context, cfg *config.Config) (pfs.Store, error) {
	switch cfg.PFSBackend {
	case "s3":
		return s3.NewFromConfig(ctx, s3.Config{
			Bucket:         cfg.S3Bucket,
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3Endpoint,
			ForcePathStyle: cfg.S3ForcePathStyle,
		})
	default:
		return local.New(cfg.PersistDir)
	}
}

// wireServer decides, from cfg.UseLocalServer and cfg.Rank, whether
// this process hosts the job's metadata/lock server or connects to it
// as an RPC client, and returns the resulting session.MetadataClient,
// lock.Delegator, and the function that runs this rank's share of the
// RPC plane (either the hosting Server.Serve, or a bare progress loop
// for a pure client).
func wireServer(ctx context.Context, cfg *config.Config, hostname string, self addr.Address, t transport.Transport, metricsReg *metrics.Registry, shutdown func()) (session.MetadataClient, *lock.Delegator, func(context.Context) error, error) {
	hosting := cfg.Rank == 0

	if hosting {
		return hostServer(cfg, hostname, self, t, metricsReg, shutdown)
	}
	return connectServer(ctx, cfg, hostname, self, t)
}

// hostServer runs the in-process location.Service and lock.Server this
// rank is designated to host (the job's sole authority when
// UseLocalServer is false, or this node's authority when it's true),
// publishes its address for other ranks to discover, and serves the
// RPC plane's handlers. It uses LocalClient/Delegator directly for its
// own sessions rather than looping an RPC call back to itself.
func hostServer(cfg *config.Config, hostname string, self addr.Address, t transport.Transport, metricsReg *metrics.Registry, shutdown func()) (session.MetadataClient, *lock.Delegator, func(context.Context) error, error) {
	loc := location.New()
	lockSrv := lock.NewServer(
		lock.WithNotifier(rpc.NewRemoteNotifier(t)),
		lock.WithMetrics(metricsReg.Lock),
	)

	if err := publishServerAddr(cfg, hostname, self); err != nil {
		return nil, nil, nil, err
	}

	srv := rpc.NewServer(t, rpc.WithWorkers(rpc.DefaultWorkers))
	for kind, h := range rpc.LocationHandlers(loc) {
		srv.Register(kind, h)
	}
	for kind, h := range rpc.LockHandlers(lockSrv) {
		srv.Register(kind, h)
	}
	jobSize, err := jobSize(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	for kind, h := range rpc.ControlHandlers(jobSize, shutdown) {
		srv.Register(kind, h)
	}

	meta := location.NewLocalClient(loc, self)
	locks := lock.NewDelegator(lockSrv)

	logger.Info("hosting metadata/lock server", "local_only", cfg.UseLocalServer, "job_size", jobSize)
	return meta, locks, srv.Serve, nil
}

// connectServer discovers the hosting rank's published address and
// connects to it as an RPC client, retrying while the hosting rank is
// still starting up.
func connectServer(ctx context.Context, cfg *config.Config, hostname string, self addr.Address, t transport.Transport) (session.MetadataClient, *lock.Delegator, func(context.Context) error, error) {
	serverAddr, err := awaitServerAddr(ctx, cfg, hostname)
	if err != nil {
		return nil, nil, nil, err
	}

	ep, err := t.CreateEndpoint(ctx, serverAddr.Interface, serverAddr)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to server %s: %w", serverAddr, err)
	}

	c := rpc.NewClient(t)
	c.RegisterResponseKinds(
		wire.PostResp, wire.QueryResp, wire.StatResp,
		wire.AcquireLockResp, wire.ReleaseLockResp, wire.ReleaseLockFileResp, wire.ReleaseLockClientResp,
		wire.MPISize,
	)

	locDelegate := rpc.NewLocationStub(c, ep)
	lockDelegate := rpc.NewServerStub(c, ep)
	locks := lock.NewDelegator(lockDelegate)
	rpc.RegisterRevokeHandler(t, locks)

	runClient := func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
				if err := t.Progress(ctx, 0); err != nil && ctx.Err() == nil {
					return fmt.Errorf("client progress loop: %w", err)
				}
				time.Sleep(time.Millisecond)
			}
		}
	}

	logger.Info("connected to metadata/lock server", "server", serverAddr.String())
	return locDelegate, locks, runClient, nil
}

func publishServerAddr(cfg *config.Config, hostname string, self addr.Address) error {
	if cfg.UseLocalServer {
		return persistedconfig.WriteNodeServerAddr(cfg.BufferDir, hostname, self)
	}
	return persistedconfig.WriteGlobalServerAddr(cfg.PersistDir, self)
}

// awaitServerAddr polls for the hosting rank's published address,
// backing off briefly between attempts since a job's ranks do not
// start in a guaranteed order.
func awaitServerAddr(ctx context.Context, cfg *config.Config, hostname string) (addr.Address, error) {
	path := persistedconfig.GlobalConfigName
	dir := cfg.PersistDir
	if cfg.UseLocalServer {
		path = persistedconfig.NodeConfigName(hostname)
		dir = cfg.BufferDir
	}
	full := dir + "/" + path

	const maxWait = 30 * time.Second
	deadline := time.Now().Add(maxWait)
	for {
		a, err := persistedconfig.ReadServerAddr(full)
		if err == nil {
			return a, nil
		}
		if time.Now().After(deadline) {
			return addr.Address{}, fmt.Errorf("await server addr %s: %w", full, err)
		}
		select {
		case <-ctx.Done():
			return addr.Address{}, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func jobSize(cfg *config.Config) (int, error) {
	hosts, err := persistedconfig.ReadNodelist(cfg.PersistDir)
	if err != nil {
		// No nodelist yet (single-rank run, or launcher hasn't written
		// one): report this rank alone rather than failing startup.
		return 1, nil
	}
	if len(hosts) == 0 {
		return 1, nil
	}
	return len(hosts), nil
}
