package cli

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

	"github.com/ogulcanaydogan/flow-guardian/internal/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring scheduler and status server",
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("listen", "l", "", "Status server listen address (default from config)")
	runCmd.Flags().Bool("no-server", false, "Do not start the status server")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	listen, _ := cmd.Flags().GetString("listen")
	if listen != "" {
		cfg.Server.Listen = listen
	}
	noServer, _ := cmd.Flags().GetBool("no-server")

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	pipeline, err := a.pipeline()
	if err != nil {
		return err
	}
	svc := a.scheduler(pipeline)
	if err := svc.Start(cmd.Context()); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	var srv *http.Server
	if !noServer {
		srv = &http.Server{
			Addr:              cfg.Server.Listen,
			Handler:           server.NewServer(svc, a.store, a.logger).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("status server started", "listen", cfg.Server.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-errCh:
	case sig := <-quit:
		a.logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("status server shutdown", "error", err)
		}
	}
	select {
	case <-svc.Stop().Done():
	case <-ctx.Done():
		a.logger.Warn("scheduler did not stop in time")
	}
	return runErr
}
