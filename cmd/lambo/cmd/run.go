package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/archway-network/lambo/internal/api"
	"github.com/archway-network/lambo/internal/coldstore"
	"github.com/archway-network/lambo/internal/config"
	"github.com/archway-network/lambo/internal/coordinator"
	"github.com/archway-network/lambo/internal/factors"
	"github.com/archway-network/lambo/internal/ingest"
	"github.com/archway-network/lambo/internal/nginxconfig"
	"github.com/archway-network/lambo/internal/obs"
	"github.com/archway-network/lambo/internal/policy"
	"github.com/archway-network/lambo/internal/reconcile"
	"github.com/archway-network/lambo/internal/registry"
	"github.com/archway-network/lambo/internal/scheduler"
	"github.com/archway-network/lambo/internal/store"
)

const shutdownGrace = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the lambo control plane",
	Long: `Run starts the lambo control plane instance. It will:

1. Connect to the shared Redis store and the durable cold store
2. Serve the admin/ingest HTTP API and Prometheus metrics
3. Drive the per-cycle weight calculation, heartbeat, drift-reconcile and
   cleanup loops until an interrupt or termination signal arrives`,
	RunE: runControlPlane,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runControlPlane(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	level := logrus.InfoLevel
	if verbose {
		level = logrus.DebugLevel
	}
	baseLogger := obs.NewLogger(true, level)
	entry := logrus.NewEntry(baseLogger).WithField("instance", "startup")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	entry = logrus.NewEntry(baseLogger).WithField("instance_id", cfg.InstanceID)
	entry.Info("starting lambo control plane")

	// 1. Shared-state store (hot) and durable backup (cold).
	rdb := store.NewClient(cfg.Store.Addr, cfg.Store.Password, cfg.Store.DB)
	hot := store.New(rdb, cfg.Store.KeyPrefix, store.TTLs{
		Metrics:  cfg.Store.MetricsTTL,
		Weights:  cfg.Store.WeightsTTL,
		Proxy:    cfg.Store.ProxyTTL,
		Instance: cfg.Store.InstanceTTL,
		Generic:  cfg.Store.GenericTTL,
	}, entry)

	cold, err := coldstore.Open(cfg.ColdStore.Driver, cfg.ColdStore.DSN)
	if err != nil {
		return fmt.Errorf("failed to open cold store: %w", err)
	}

	// 2. Registry, policy store, weight-factors administration.
	reg := registry.New(cfg.ServersByPool())

	policies, err := policy.New(cold)
	if err != nil {
		return fmt.Errorf("failed to build policy store: %w", err)
	}

	factorsMgr := factors.New(ctx, hot, cfg.WeightFactors, entry)

	// 3. Observability: one Prometheus registry, wired into every component
	// that records against it.
	metrics := obs.NewMetrics(prometheus.DefaultRegisterer)
	policies.Metrics = metrics

	// 4. Ingest, proxy-config materializer, coordinator, reconciler.
	recompute := make(chan struct{}, 1)
	ingestor := ingest.New(hot, cold, policies, reg, cfg.EWMAAlpha, recompute, entry)
	ingestor.Metrics = metrics

	materializer := nginxconfig.New(nginxconfig.Options{
		ConfigDir:     cfg.Proxy.ConfigDir,
		ConfigFile:    cfg.Proxy.ConfigFile,
		BackupOnWrite: cfg.Proxy.BackupOnWrite,
		ReloadCommand: cfg.Proxy.ReloadCommand,
	}, hot, entry)
	materializer.Metrics = metrics

	coord := coordinator.New(cfg.InstanceID, hot, cold, reg, policies, factorsMgr.Get, materializer,
		cfg.Intervals.LockTTL, cfg.Intervals.CycleFreshness, recompute, entry)
	coord.Metrics = metrics

	configPath := cfg.Proxy.ConfigDir + "/" + cfg.Proxy.ConfigFile
	reconciler := reconcile.New(hot, materializer, configPath, entry)

	sched := scheduler.New(coord, reconciler, hot, cold, scheduler.Intervals{
		WeightCycle:    cfg.Intervals.WeightCycle,
		Heartbeat:      cfg.Intervals.Heartbeat,
		DriftReconcile: cfg.Intervals.DriftReconcile,
		HotCleanup:     cfg.Intervals.HotCleanup,
		RetentionDays:  cfg.ColdStore.RetentionDays,
	}, entry)

	// 5. Admin/ingest HTTP API and Prometheus exposition.
	router := api.NewRouter(api.Deps{
		Ingest:      ingestor,
		Policies:    policies,
		Factors:     factorsMgr,
		Registry:    reg,
		Coordinator: coord,
		Reconciler:  reconciler,
		Reload:      materializer,
		Instances:   hot,
		Recompute:   recompute,
		Gatherer:    prometheus.DefaultGatherer,
		Metrics:     metrics,
		Log:         entry,
	})
	srv := &http.Server{Addr: cfg.Admin.ListenAddr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sched.Run(gctx) })

	g.Go(func() error {
		entry.WithField("addr", cfg.Admin.ListenAddr).Info("admin/ingest HTTP API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("admin http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("control plane exited with error: %w", err)
	}
	entry.Info("lambo control plane shut down cleanly")
	return nil
}
