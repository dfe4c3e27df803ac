package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/agentcore-lab/agentcore/internal/app"
	"github.com/agentcore-lab/agentcore/internal/bootstrap"
)

func newChatCmd() *cobra.Command {
	var (
		agentID   string
		userID    string
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent in an interactive session",
		Long: `Start (or resume) a session and send each line to the agent.

Commands:
  /history   show the messages of this session
  /end       end the session and exit
  /quit      exit and leave the session active`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			c, cleanup, err := setup(ctx, true)
			if err != nil {
				return err
			}
			defer cleanup()

			if sessionID == "" {
				id, err := c.Handlers.StartSession.Handle(ctx, app.StartSession{AgentID: agentID, UserID: userID})
				if err != nil {
					return err
				}
				sessionID = string(id)
			} else if _, err := c.Handlers.GetSession.Handle(ctx, app.GetSession{SessionID: sessionID}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s (agent %s). Type /quit to exit.\n", sessionID, c.Agent.Name())

			line := liner.NewLiner()
			line.SetCtrlCAborts(true)
			historyPath := chatHistoryPath()
			if f, err := os.Open(historyPath); err == nil {
				_, _ = line.ReadHistory(f)
				_ = f.Close()
			}
			defer func() {
				if f, err := os.OpenFile(historyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
					_, _ = line.WriteHistory(f)
					_ = f.Close()
				}
				_ = line.Close()
			}()

			return chatLoop(ctx, c, sessionID, line, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "default-agent", "agent id for a new session")
	cmd.Flags().StringVar(&userID, "user", "anonymous", "user id for a new session")
	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session")
	return cmd
}

type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

func chatLoop(ctx context.Context, c *bootstrap.Container, sessionID string, p prompter, out io.Writer) error {
	for {
		input, err := p.Prompt("> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		p.AppendHistory(input)

		switch input {
		case "/quit", "/exit":
			return nil
		case "/end":
			if err := c.Handlers.EndSession.Handle(ctx, app.EndSession{SessionID: sessionID}); err != nil {
				return err
			}
			fmt.Fprintln(out, "Session ended.")
			return nil
		case "/history":
			messages, err := c.Handlers.GetSessionMessages.Handle(ctx, app.GetSessionMessages{SessionID: sessionID, Limit: 1000})
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			for _, m := range messages {
				fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Format("15:04:05"), m.Role, m.Content)
			}
			continue
		}

		if _, err := c.Handlers.SendMessage.Handle(ctx, app.SendMessage{SessionID: sessionID, Content: input}); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		result, err := c.Handlers.ExecuteAgent.Handle(ctx, app.ExecuteAgent{SessionID: sessionID, Instruction: input})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, result.Content)
		for _, call := range result.ToolCalls {
			fmt.Fprintf(out, "  tool call: %v %v\n", call["name"], call["params"])
		}
	}
}

func chatHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".agentcore_history")
	}
	return filepath.Join(home, ".agentcore_history")
}
