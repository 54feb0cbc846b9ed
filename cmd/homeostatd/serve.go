package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexshd/homeostat"
	"github.com/alexshd/homeostat/checkpoint"
	"github.com/alexshd/homeostat/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the core over HTTP JSON and run the control loop.",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", envOr("HOMEOSTAT_ADDR", ":8080"), "listen address (env HOMEOSTAT_ADDR)")
	f.String("db", os.Getenv("HOMEOSTAT_DB"), "checkpoint database path; empty disables checkpoints (env HOMEOSTAT_DB)")
	f.Bool("loop", true, "run the fixed-period control loop over observed latencies")
	f.Float64("shed-throttle", server.DefaultShedThrottle, "throttle at which /route sheds priority ≤ 0 requests")
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("addr")
	dbPath, _ := cmd.Flags().GetString("db")
	loop, _ := cmd.Flags().GetBool("loop")
	shed, _ := cmd.Flags().GetFloat64("shed-throttle")

	core, err := homeostat.NewCore(cfg, logger)
	if err != nil {
		return err
	}

	var store *checkpoint.Store
	if dbPath != "" {
		if store, err = checkpoint.Open(dbPath); err != nil {
			return fmt.Errorf("checkpoint store: %w", err)
		}
		defer store.Close()
	}

	srv, err := server.New(core, server.Options{
		Store:        store,
		ShedThrottle: shed,
		Logger:       logger.With("component", "http"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("homeostat listening",
			"addr", addr,
			"lmax_ms", cfg.LmaxMs,
			"checkpoints", store != nil,
			"version", Version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if loop {
		go func() {
			if err := srv.RunLoop(ctx); err != nil {
				errCh <- fmt.Errorf("control loop: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		return err
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
