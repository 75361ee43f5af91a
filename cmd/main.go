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

	"github.com/freekieb7/usermanager/internal/config"
	"github.com/freekieb7/usermanager/internal/container"
	apperrors "github.com/freekieb7/usermanager/internal/errors"
	"github.com/freekieb7/usermanager/internal/health"
)

// Set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		if apperrors.IsType(err, apperrors.CodeConfigError) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Users Manager web interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), envFile)
		},
	}

	rootCmd := &cobra.Command{
		Use:           "usermanager",
		Short:         "Administrative web front-end for the users backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCmd.RunE,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load the configuration and check the session store and the users backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), envFile)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	return rootCmd
}

func loadConfig(envFile string) (config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, err
	}
	return config.Load()
}

func runServe(ctx context.Context, envFile string) error {
	// Graceful shutdown on interruption
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	cfg, err := loadConfig(envFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	c, err := container.New(ctx, cfg, version)
	if err != nil {
		return err
	}
	defer c.Close(context.Background())

	go c.PurgeExpiredSessions(ctx)

	server := c.HttpServer

	srvErr := make(chan error, 1)
	go func() {
		c.Logger.Info("Listening and serving", "addr", server.Addr, "environment", cfg.Server.Environment, "version", version)
		srvErr <- server.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		c.Logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}

		c.Logger.Info("Shutdown completed")
	}

	return nil
}

func runCheck(ctx context.Context, envFile string) error {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	c, err := container.New(ctx, cfg, version)
	if err != nil {
		return err
	}
	defer c.Close(context.Background())

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	status := c.Health.CheckHealth(checkCtx)
	for name, component := range status.Components {
		fmt.Printf("%-14s %-10s %s\n", name, component.Status, component.Message)
	}
	if c.Cache.Distributed() {
		fmt.Printf("%-14s %v\n", "redis pool", c.Cache.Stats())
	}

	if status.Status != health.StatusHealthy {
		return fmt.Errorf("status %s", status.Status)
	}
	return nil
}
