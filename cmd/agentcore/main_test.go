package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore-lab/agentcore/internal/app"
	"github.com/agentcore-lab/agentcore/internal/bootstrap"
	"github.com/agentcore-lab/agentcore/pkg/config"
)

type scriptedPrompter struct {
	lines   []string
	history []string
}

func (p *scriptedPrompter) Prompt(string) (string, error) {
	if len(p.lines) == 0 {
		return "", io.EOF
	}
	line := p.lines[0]
	p.lines = p.lines[1:]
	return line, nil
}

func (p *scriptedPrompter) AppendHistory(item string) {
	p.history = append(p.history, item)
}

func fileConfig(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Backend = config.StoreFile
	cfg.Store.File.Dir = filepath.Join(t.TempDir(), "events")
	cfg.Server.HealthPort = 0
	path := filepath.Join(t.TempDir(), "agentcore.yaml")
	require.NoError(t, config.SaveConfig(cfg, path))
	return path
}

func startChat(t *testing.T, cfgPath string, lines ...string) (string, string) {
	t.Helper()
	cfg, err := config.LoadConfig(cfgPath)
	require.NoError(t, err)
	c, err := bootstrap.Build(context.Background(), cfg, true)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	id, err := c.Handlers.StartSession.Handle(ctx, app.StartSession{AgentID: "cli", UserID: "tester"})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, chatLoop(ctx, c, string(id), &scriptedPrompter{lines: lines}, &out))
	return string(id), out.String()
}

func TestChatLoop(t *testing.T) {
	cfgPath := fileConfig(t)
	_, out := startChat(t, cfgPath, "hello there", "  ", "/history", "/end", "never sent")

	assert.Contains(t, out, "Your message: hello there")
	assert.Contains(t, out, "user: hello there")
	assert.Contains(t, out, "assistant: [Mock Response]")
	assert.Contains(t, out, "Session ended.")
	assert.NotContains(t, out, "never sent")
}

func TestChatLoopQuitLeavesSessionActive(t *testing.T) {
	cfgPath := fileConfig(t)
	id, _ := startChat(t, cfgPath, "/quit")

	configFile = cfgPath
	t.Cleanup(func() { configFile = "" })
	c, cleanup, err := setup(context.Background(), false)
	require.NoError(t, err)
	defer cleanup()

	dto, err := c.Handlers.GetSession.Handle(context.Background(), app.GetSession{SessionID: id})
	require.NoError(t, err)
	assert.Equal(t, "active", dto.State)
}

func TestReplayCommand(t *testing.T) {
	cfgPath := fileConfig(t)
	id, _ := startChat(t, cfgPath, "hello", "/end")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"replay", id, "--config", cfgPath})
	require.NoError(t, root.Execute())

	text := out.String()
	assert.Contains(t, text, "SessionStarted")
	assert.Contains(t, text, "MessageAdded")
	assert.Contains(t, text, "SessionEnded")
	assert.Contains(t, text, "state:    ended")
	assert.Contains(t, text, "version:  4")
	assert.Contains(t, text, "messages: 2")
}

func TestReplayUnknownSession(t *testing.T) {
	cfgPath := fileConfig(t)

	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"replay", "missing", "--config", cfgPath})
	assert.ErrorContains(t, root.Execute(), "session not found")
}

func TestRelayRequiresOutbox(t *testing.T) {
	cfgPath := fileConfig(t)

	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"relay", "--once", "--config", cfgPath})
	assert.ErrorContains(t, root.Execute(), "no outbox")
}
