package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/genieflow/genieflow/internal/worker"
	"github.com/genieflow/genieflow/internal/worker/queue"
)

// newWorkerCmd builds the `genieflow worker` subcommand: a standalone
// process that subscribes to the shared NATS subject and executes
// compiled DAGs (spec §5: "parallel workers consume from a shared task
// queue"), independent of the HTTP front door started by `serve
// --distributed`. Multiple instances share one queue group, so NATS
// delivers each job to exactly one of them.
func newWorkerCmd() *cobra.Command {
	var queueGroup string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a standalone task worker consuming from NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(queueGroup)
		},
	}
	cmd.Flags().StringVar(&queueGroup, "queue-group", "genieflow-workers", "NATS queue group name")
	return cmd
}

func runWorker(queueGroup string) error {
	c, err := buildCommon()
	if err != nil {
		return err
	}
	log := c.log
	defer log.Sync()

	log.Info("starting GenieFlow worker", zap.String("queue_group", queueGroup))

	runtime := worker.NewRuntime(c.store, c.env, c.flows, log)

	transport, err := queue.NewNATSTransport(c.cfg.NATS.URL, c.cfg.NATS.Subject)
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	defer transport.Close()

	if err := worker.RunConsumer(transport, runtime, queueGroup, log); err != nil {
		return fmt.Errorf("subscribing to task subject: %w", err)
	}

	reaper := worker.NewReaper(runtime, time.Duration(c.cfg.Worker.ReaperGraceSeconds)*time.Second, log)
	if err := reaper.Start(c.cfg.Worker.ReaperIntervalCron); err != nil {
		return fmt.Errorf("starting reaper: %w", err)
	}
	defer reaper.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("GenieFlow worker stopped")
	return nil
}
