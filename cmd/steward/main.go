// Package main is the entry point for the steward binary. It serves the
// governed worker routing and orchestration API, or routes a single request
// from the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stewardai/steward-oss/pkg/config"
	"github.com/stewardai/steward-oss/pkg/domain"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "steward",
		Short: "Governed worker routing and orchestration",
		Long: `Steward routes requests to capability-matched workers and executes
task workflows behind governance checkpoints. Every worker invocation passes
a permission check before it runs and a validation check after, and feeds a
per-worker trust score.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRouteCmd())
	return rootCmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, cfg.Validate()
}

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the steward API server",
		RunE:  runServe,
	}
	serveCmd.Flags().StringP("addr", "a", "", "Listen address (overrides config)")
	return serveCmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Address = addr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}

	go a.decayLoop(ctx)
	go a.watchManifest(ctx)

	server := newHTTPServer(a)
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("steward listening", "addr", cfg.Server.Address)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("server error", "error", err)
			return err
		}
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received", "signal", sig.String())
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("server shutdown", "error", err)
	}
	a.close(shutdownCtx)

	a.logger.Info("steward stopped")
	return nil
}

func newRouteCmd() *cobra.Command {
	routeCmd := &cobra.Command{
		Use:   "route <request text>",
		Short: "Route and execute a single request, printing the result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRoute,
	}
	routeCmd.Flags().StringSliceP("resource", "r", nil, "Attached resource as type:name (repeatable)")
	return routeCmd
}

func runRoute(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Logging.Pretty = true

	resources, err := parseResourceFlags(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Engine.DefaultTaskDeadline)
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		a.close(shutdownCtx)
	}()

	result, err := a.planner.Run(ctx, domain.RoutingRequest{
		Text:      strings.Join(args, " "),
		Resources: resources,
	})
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(workflowToView(result))
}

func parseResourceFlags(cmd *cobra.Command) ([]domain.ResourceRef, error) {
	raw, err := cmd.Flags().GetStringSlice("resource")
	if err != nil {
		return nil, err
	}
	resources := make([]domain.ResourceRef, 0, len(raw))
	for _, spec := range raw {
		resourceType, name, _ := strings.Cut(spec, ":")
		if resourceType == "" {
			return nil, fmt.Errorf("invalid resource %q, expected type:name", spec)
		}
		resources = append(resources, domain.ResourceRef{Type: resourceType, Name: name})
	}
	return resources, nil
}
