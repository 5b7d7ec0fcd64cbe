package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"finrep/internal/app"
	"finrep/internal/auth"
	"finrep/internal/handler"
	"finrep/internal/router"
	"finrep/internal/service"
)

var noWorker bool

func init() {
	serveCmd.Flags().BoolVar(&noWorker, "no-worker", false, "serve the API without draining the run queue")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run API and process queued runs",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	agents, err := app.Preflight(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, agents)
	if err != nil {
		return err
	}
	defer a.Close()

	tokens, err := auth.NewTokenManager(cfg.JWT)
	if err != nil {
		return err
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := router.Setup(tokens, cfg.CORS.AllowedOrigins, a.Registry,
		handler.NewRunHandler(a.Service),
		handler.NewHealthHandler(a.DB),
	)

	var wg sync.WaitGroup
	if !noWorker {
		worker := service.NewRunQueueWorker(a.Runs, a.Service, service.RunQueueConfig{
			PollInterval: time.Duration(cfg.Queue.PollIntervalSecs) * time.Second,
			MaxRetries:   cfg.Queue.MaxRetries,
			Concurrency:  cfg.Queue.Concurrency,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Start(ctx)
		}()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("Server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("Server shutdown failed", zap.Error(err))
	}
	wg.Wait()
	zap.L().Info("Server stopped")
	return nil
}
