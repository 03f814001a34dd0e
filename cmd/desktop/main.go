// Package main runs the local desktop service: the sync facade over REST and
// a websocket event stream on localhost.
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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/wzl2223096755/AFitness-sub001/internal/app"
	"github.com/wzl2223096755/AFitness-sub001/internal/config"
	"github.com/wzl2223096755/AFitness-sub001/internal/logging"
)

var (
	configPath string
	listenAddr string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "afitness-desktop",
		Short:         "Local AFitness sync service for the desktop shell",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to afitness.yaml")
	cmd.Flags().StringVar(&listenAddr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Addr = listenAddr
	}
	if err := app.ConfigureLogging(cfg.Log); err != nil {
		return err
	}
	defer logging.Get().Sync()

	gin.SetMode(gin.ReleaseMode)

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to start sync core: %w", err)
	}
	defer a.Close()
	a.Start(ctx)

	hub := NewWSHub()
	defer hub.Stop()
	detach := hub.Attach(a.Bus, a.Facade)
	defer detach()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           NewRouter(a, hub),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("AFitness desktop service listening", map[string]interface{}{"addr": cfg.Server.Addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server shutdown failed", err)
	}
	logging.Info("AFitness desktop service stopped")
	return nil
}
