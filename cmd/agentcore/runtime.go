package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentcore-lab/agentcore/internal/agentruntime"
	"github.com/agentcore-lab/agentcore/pkg/agentport"
	"github.com/agentcore-lab/agentcore/pkg/config"
)

func newRuntimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runtime",
		Short: "Run a stand-in agent runtime container (/invocations, /ping)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// The runtime container must not call itself.
			if cfg.Agent.Provider == config.AgentRuntime {
				return fmt.Errorf("agent provider %q cannot back the runtime container", cfg.Agent.Provider)
			}
			agent, err := agentport.New(ctx, cfg.Agent, cfg.AWSRegion)
			if err != nil {
				return err
			}

			e := agentruntime.NewServer(agent, agentruntime.Info{
				ModelID: cfg.Agent.ModelID,
				Region:  cfg.AWSRegion,
			}).Echo()

			errChan := make(chan error, 1)
			go func() {
				addr := fmt.Sprintf(":%d", cfg.Server.RuntimePort)
				log.Printf("[runtime] listening on %s with %s agent", addr, agent.Name())
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errChan <- err
				}
			}()

			select {
			case err := <-errChan:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		},
	}
}
