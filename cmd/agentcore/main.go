package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentcore-lab/agentcore/internal/bootstrap"
	"github.com/agentcore-lab/agentcore/internal/observability"
	"github.com/agentcore-lab/agentcore/pkg/config"
	metrics "github.com/agentcore-lab/agentcore/pkg/observability"
)

// Version information (set via ldflags)
var Version = "dev"

var configFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agentcore",
		Short:        "Event-sourced chat sessions in front of an AI agent",
		Version:      Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("CONFIG_FILE"), "configuration file (defaults plus environment when empty)")

	root.AddCommand(
		newServeCmd(),
		newRuntimeCmd(),
		newChatCmd(),
		newReplayCmd(),
		newRelayCmd(),
		newModelsCmd(),
	)
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setup loads configuration, starts tracing and wires the container.
// The returned cleanup closes the container and flushes spans.
func setup(ctx context.Context, withAgent bool) (*bootstrap.Container, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	metrics.SetVersion(Version)
	if cfg.Observability.MetricsEnabled {
		metrics.InitMetrics()
	}
	if err := observability.InitFromEnv(cfg.Observability.ServiceName, cfg.Observability.TracingEnabled); err != nil {
		log.Printf("[agentcore] tracing disabled: %v", err)
	}

	c, err := bootstrap.Build(ctx, cfg, withAgent)
	if err != nil {
		shutdownTracing()
		return nil, nil, err
	}
	cleanup := func() {
		if err := c.Close(); err != nil {
			log.Printf("[agentcore] close: %v", err)
		}
		shutdownTracing()
	}
	return c, cleanup, nil
}

func shutdownTracing() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := observability.Shutdown(ctx); err != nil {
		log.Printf("[agentcore] tracing shutdown: %v", err)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
