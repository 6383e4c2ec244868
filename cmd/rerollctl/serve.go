package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/reroll-core/pkg/core"
	"github.com/cuemby/reroll-core/pkg/log"
	"github.com/cuemby/reroll-core/pkg/metrics"
	"github.com/cuemby/reroll-core/pkg/query"
	"github.com/spf13/cobra"
)

var httpAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fleet coordinator",
	Long: `serve loads the configuration, opens the datastore (applying any
pending migrations), starts the scheduled maintenance tasks, and exposes
the query API and Prometheus metrics over HTTP until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&httpAddr, "http-addr", "127.0.0.1:8090", "Address for the query/metrics/health HTTP server")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	c, err := core.New(context.Background(), core.Options{Config: cfg})
	if err != nil {
		return &exitCodeError{code: exitStorageUnavailable, err: err}
	}
	c.Start()

	metrics.SetVersion(Version)
	// "storage" is not registered here: c.Start() above already started the
	// collector, which derives storage readiness from live pool/query
	// counters on every poll tick (pkg/metrics.Collector.collectStorageHealth).
	// ingest and scheduler have no comparable signal to poll, so successful
	// construction is the readiness signal for both.
	metrics.RegisterComponent("ingest", true, "ready")
	metrics.RegisterComponent("scheduler", true, "running")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	mux.Handle("/query/", query.NewHandler(c.Query))

	srv := &http.Server{Addr: httpAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	log.Logger.Info().Str("addr", httpAddr).Msg("http server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Logger.Error().Err(err).Msg("http server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "http server shutdown: %v\n", err)
	}

	if err := c.Shutdown(); err != nil {
		return &exitCodeError{code: exitStorageUnavailable, err: err}
	}
	log.Logger.Info().Msg("shutdown complete")
	return nil
}
