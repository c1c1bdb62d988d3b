package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/genieflow/genieflow/internal/api"
	orchapi "github.com/genieflow/genieflow/internal/orchestrator/api"
	"github.com/genieflow/genieflow/internal/session"
	"github.com/genieflow/genieflow/internal/worker"
	"github.com/genieflow/genieflow/internal/worker/queue"
)

// newServeCmd builds the `genieflow serve` subcommand: the HTTP session
// API (spec §6). By default it also runs an in-process worker pool
// against a LocalQueue, matching spec §8's single-process test scenarios.
// --distributed switches Dispatch to publish onto NATS instead, for use
// alongside one or more standalone `genieflow worker` processes.
func newServeCmd() *cobra.Command {
	var distributed bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP session API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(distributed)
		},
	}
	cmd.Flags().BoolVar(&distributed, "distributed", false, "publish tasks to NATS instead of running an in-process worker pool")
	return cmd
}

func runServe(distributed bool) error {
	c, err := buildCommon()
	if err != nil {
		return err
	}
	log := c.log
	defer log.Sync()

	log.Info("starting GenieFlow API server", zap.Bool("distributed", distributed))

	runtime := worker.NewRuntime(c.store, c.env, c.flows, log)

	var dispatcher worker.Dispatcher
	var stopDispatch func()

	if distributed {
		transport, err := queue.NewNATSTransport(c.cfg.NATS.URL, c.cfg.NATS.Subject)
		if err != nil {
			return fmt.Errorf("connecting to nats: %w", err)
		}
		dispatcher = worker.NewNATSDispatcher(transport)
		stopDispatch = transport.Close
	} else {
		localQueue := queue.NewLocalQueue(0)
		qd := worker.NewQueueDispatcher(localQueue, runtime, log)
		qd.Run(c.cfg.Worker.Concurrency)
		dispatcher = qd
		stopDispatch = qd.Stop
	}
	defer stopDispatch()

	reaper := worker.NewReaper(runtime, time.Duration(c.cfg.Worker.ReaperGraceSeconds)*time.Second, log)
	if err := reaper.Start(c.cfg.Worker.ReaperIntervalCron); err != nil {
		return fmt.Errorf("starting reaper: %w", err)
	}
	defer reaper.Stop()

	mgr := session.NewManager(c.flows, c.models, c.store, dispatcher, c.env, log)

	if c.cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(orchapi.Recovery(log), orchapi.RequestLogger(log), orchapi.CORS())

	v1 := router.Group(c.cfg.Server.RoutePrefix + "/v1")
	api.SetupRoutes(v1, mgr, log)
	router.GET("/health", func(ctx *gin.Context) { ctx.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", c.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  c.cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: c.cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening", zap.Int("port", c.cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down GenieFlow")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Server.ShutdownGraceDuration())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	return nil
}
