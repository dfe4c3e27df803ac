package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentcore-lab/agentcore/pkg/session"
)

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <session-id>",
		Short: "Print a session's event stream and the state rebuilt from it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, cleanup, err := setup(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()

			events, err := c.Store.Events(ctx, args[0], 1)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				return fmt.Errorf("%w: %s", session.ErrSessionNotFound, args[0])
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tTYPE\tTIMESTAMP\tDATA")
			for _, ev := range events {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", ev.Version, ev.EventType, ev.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"), preview(string(ev.EventData), 80))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			s, err := session.Rebuild(events)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nsession %s\n  agent:    %s\n  user:     %s\n  state:    %s\n  version:  %d\n  messages: %d\n",
				s.ID(), s.AgentID(), s.UserID(), s.State(), s.Version(), s.MessageCount())
			for _, m := range s.Messages() {
				fmt.Fprintf(out, "  - %s: %s\n", m.Role(), preview(m.Content().Text(), 80))
			}
			return nil
		},
	}
}

func preview(s string, limit int) string {
	r := []rune(s)
	if len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}
