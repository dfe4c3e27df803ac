package main

import (
	"log"

	"github.com/spf13/cobra"
)

func newRelayCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay outbox records to the event bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			c, cleanup, err := setup(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()

			relay, err := c.Relay()
			if err != nil {
				return err
			}

			if once {
				n, err := relay.DrainOnce(ctx)
				log.Printf("[relay] delivered %d records", n)
				return err
			}

			if err := relay.Start(ctx); err != nil {
				return err
			}
			log.Printf("[relay] running on %q, press Ctrl+C to stop", c.Config.Publisher.RelaySchedule)
			<-ctx.Done()
			relay.Stop()
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "drain one batch and exit")
	return cmd
}
