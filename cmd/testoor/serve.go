package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/qaops/testoor/pkg/access"
	"github.com/qaops/testoor/pkg/aggregate"
	"github.com/qaops/testoor/pkg/api"
	"github.com/qaops/testoor/pkg/artifacts"
	"github.com/qaops/testoor/pkg/config"
	"github.com/qaops/testoor/pkg/discovery"
	"github.com/qaops/testoor/pkg/executor"
	"github.com/qaops/testoor/pkg/queue"
	"github.com/qaops/testoor/pkg/retention"
	"github.com/qaops/testoor/pkg/scheduler"
	"github.com/qaops/testoor/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator",
	Long: `Start the orchestrator: recover any runs interrupted by the previous
shutdown, synchronize the test catalog, then serve the HTTP API with
the queue, scheduler and retention workers running.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	environments, err := config.LoadEnvironments(configDir)
	if err != nil {
		return fmt.Errorf("loading environments: %w", err)
	}

	users, err := config.LoadUsers(configDir)
	if err != nil {
		return fmt.Errorf("loading users: %w", err)
	}

	policy := access.NewPolicy(users)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// The store must be up (and migrated) before anything else.
	st := store.NewStore(log, cfg.DatabasePath)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	// Startup recovery runs before the workers and the HTTP server so
	// that no stale run is left non-terminal once serving begins.
	if _, err := st.RecoverInterruptedRuns(ctx); err != nil {
		return fmt.Errorf("recovering interrupted runs: %w", err)
	}

	disc := discovery.New(log, st, cfg.TestRoot)
	if _, err := disc.DiscoverAndSync(ctx); err != nil {
		return fmt.Errorf("synchronizing test catalog: %w", err)
	}

	am := artifacts.NewManager(log, cfg.ArtifactRoot)

	exec := executor.NewExecutor(log, &executor.Config{
		DeployRoot:    cfg.DeployRoot,
		DriverCommand: cfg.DriverCommand,
	}, st, am)

	q := queue.NewQueue(log, &queue.Config{
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
	}, st, exec)

	sched := scheduler.NewScheduler(log, &scheduler.Config{}, st)

	ret := retention.New(log, &retention.Config{
		RetentionDays: cfg.RetentionDays,
	}, st, am)

	engine := aggregate.NewEngine(log, st)

	srv := api.NewServer(log, cfg.Port, st, policy, environments, engine, am)

	if err := exec.Start(ctx); err != nil {
		return fmt.Errorf("starting executor: %w", err)
	}

	// The background workers are independent of each other.
	g := new(errgroup.Group)
	g.Go(func() error { return q.Start(ctx) })
	g.Go(func() error { return sched.Start(ctx) })
	g.Go(func() error { return ret.Start(ctx) })

	if err := g.Wait(); err != nil {
		return fmt.Errorf("starting workers: %w", err)
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down")
	cancel()

	if err := srv.Stop(); err != nil {
		log.WithError(err).Warn("API server stop error")
	}

	if err := ret.Stop(); err != nil {
		log.WithError(err).Warn("Retention stop error")
	}

	if err := sched.Stop(); err != nil {
		log.WithError(err).Warn("Scheduler stop error")
	}

	if err := q.Stop(); err != nil {
		log.WithError(err).Warn("Queue stop error")
	}

	if err := exec.Stop(); err != nil {
		log.WithError(err).Warn("Executor stop error")
	}

	if err := st.Stop(); err != nil {
		return fmt.Errorf("stopping store: %w", err)
	}

	return nil
}
