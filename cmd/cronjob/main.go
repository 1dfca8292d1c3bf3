package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"library-circulation-backend/internal/app"
	"library-circulation-backend/internal/config"
	"library-circulation-backend/internal/jobs"
	"library-circulation-backend/internal/logger"
	"library-circulation-backend/internal/scheduler"
)

var onceJobs = map[string]func(*jobs.JobRunner){
	"mark-overdue-loans":     (*jobs.JobRunner).MarkOverdueLoans,
	"send-overdue-reminders": (*jobs.JobRunner).SendOverdueReminders,
	"all-nightly":            (*jobs.JobRunner).RunAllNightlyJobs,
}

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "cronjob",
		Short:         "Scheduled jobs for the library circulation backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.dev.yaml", "Path to configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the cron scheduler until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, closeStore, err := setup(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer closeStore()

			cronScheduler, err := scheduler.NewScheduler(runner)
			if err != nil {
				return err
			}
			cronScheduler.Start()
			logger.Info("Cronjob scheduler is running. Press Ctrl+C to stop.")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			logger.Info("Shutting down cronjob scheduler...")
			cronScheduler.Stop()
			logger.Info("Cronjob scheduler stopped. Goodbye!")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:       "run-once <job>",
		Short:     "Run a single job once and exit",
		Long:      "Run a single job once and exit. Jobs: " + jobNames(),
		Args:      cobra.ExactArgs(1),
		ValidArgs: names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, ok := onceJobs[args[0]]
			if !ok {
				return fmt.Errorf("unknown job %q, available: %s", args[0], jobNames())
			}
			runner, closeStore, err := setup(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer closeStore()

			logger.Info("Running job once", "job", args[0])
			job(runner)
			logger.Info("Job execution completed", "job", args[0])
			return nil
		},
	})

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setup(ctx context.Context, configPath string) (*jobs.JobRunner, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting library cronjob runner...", "log_level", cfg.Log.Level)

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	services := app.NewServices(store, cfg)

	runner := jobs.NewJobRunner(&jobs.Services{
		Loans:    services.Loans,
		Patrons:  services.Patrons,
		Catalog:  services.Catalog,
		Notifier: services.Notifier,
		Clock:    services.Clock,
	}, cfg)
	return runner, func() { store.Close() }, nil
}

func names() []string {
	out := make([]string, 0, len(onceJobs))
	for name := range onceJobs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func jobNames() string {
	return strings.Join(names(), ", ")
}
