package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentcore-lab/agentcore/internal/api"
	"github.com/agentcore-lab/agentcore/pkg/config"
	metrics "github.com/agentcore-lab/agentcore/pkg/observability"
)

func newServeCmd() *cobra.Command {
	var origins []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			c, cleanup, err := setup(ctx, true)
			if err != nil {
				return err
			}
			defer cleanup()
			cfg := c.Config

			if cfg.Publisher.Mode == config.ModeOutbox {
				relay, err := c.Relay()
				if err != nil {
					return err
				}
				if err := relay.Start(ctx); err != nil {
					return err
				}
				defer relay.Stop()
				log.Printf("[agentcore] outbox relay running on %q", cfg.Publisher.RelaySchedule)
			}

			errChan := make(chan error, 3)

			e := api.New(c.Handlers, api.Options{
				RateLimit:    cfg.Server.RateLimit,
				RateBurst:    cfg.Server.RateBurst,
				AllowOrigins: origins,
				Agent:        c.AgentInfo(),
			})
			go func() {
				addr := fmt.Sprintf(":%d", cfg.Server.Port)
				log.Printf("[agentcore] API listening on %s", addr)
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errChan <- fmt.Errorf("API server: %w", err)
				}
			}()

			var obsServer *metrics.Server
			if cfg.Server.HealthPort > 0 {
				obsServer = metrics.NewServer(cfg.Server.HealthPort)
				go func() {
					if err := obsServer.Start(ctx); err != nil {
						errChan <- fmt.Errorf("observability server: %w", err)
					}
				}()
			}

			select {
			case err := <-errChan:
				log.Printf("[agentcore] error: %v", err)
			case <-ctx.Done():
				log.Println("[agentcore] shutting down...")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := e.Shutdown(shutdownCtx); err != nil {
				log.Printf("[agentcore] API shutdown error: %v", err)
			}
			if obsServer != nil {
				if err := obsServer.Shutdown(shutdownCtx); err != nil {
					log.Printf("[agentcore] observability shutdown error: %v", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&origins, "cors-origin", []string{"http://localhost:3000", "http://localhost:3001"}, "allowed CORS origins")
	return cmd
}
