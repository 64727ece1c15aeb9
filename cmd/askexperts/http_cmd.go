package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/askexperts/askexperts/accounts"
	"github.com/askexperts/askexperts/log"
	"github.com/askexperts/askexperts/scheduler"
	"github.com/askexperts/askexperts/service"
)

func newHTTPCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "http",
		Short: "Run the admin HTTP API, scheduler and worker/job managers",
		RunE: func(c *cobra.Command, args []string) error {
			return runHTTP(cfg)
		},
	}
}

// runHTTP wires accounts.Store, the scheduler's WorkerManager/JobsManager
// and the admin API into one process lifecycle via service.APIService,
// the component this binary's `http` and `wallet server` commands both
// start.
func runHTTP(cfg *cliConfig) error {
	database, err := cfg.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	store := accounts.New(database)
	signer, err := cfg.loadOrCreateSigner()
	if err != nil {
		return err
	}

	svc := service.NewAPI(store, signer, "0.0.0.0", cfg.portNumber(), false)
	workers := scheduler.NewWorkerManager(database, scheduler.DefaultWorkerBanRules)
	jobs := scheduler.NewJobsManager(database, 2*time.Minute, scheduler.DefaultWorkerBanRules)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	workers.Start(ctx)
	defer workers.Stop()
	jobs.Start(ctx)
	defer jobs.Stop()

	if err := svc.Start(ctx, workers, jobs); err != nil {
		return err
	}
	defer svc.Stop()

	log.Infow("askexperts admin API running", "port", cfg.portNumber())
	<-ctx.Done()
	return nil
}
