// Package agentruntime is a stand-in for an AgentCore runtime container. It
// serves the /invocations and /ping contract in front of any agent, so the
// runtime agent provider can be exercised without a managed deployment.
package agentruntime

import (
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/agentcore-lab/agentcore/pkg/agentport"
	"github.com/agentcore-lab/agentcore/pkg/session"
)

// ServiceName is reported by GET /.
const ServiceName = "AgentCore Runtime Agent"

// Info describes the backing model for GET /.
type Info struct {
	ModelID string
	Region  string
}

// Server serves the runtime contract.
type Server struct {
	agent agentport.Agent
	info  Info
}

// NewServer creates a runtime server backed by agent.
func NewServer(agent agentport.Agent, info Info) *Server {
	return &Server{agent: agent, info: info}
}

// Echo builds the echo instance with all routes registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.POST("/invocations", s.Invoke)
	e.GET("/ping", s.Ping)
	e.GET("/", s.Root)
	return e
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Invoke runs the agent on the prompt.
// POST /invocations
func (s *Server) Invoke(c echo.Context) error {
	var req agentport.InvocationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Detail: "invalid request body"})
	}
	if req.Input.Prompt == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Detail: "No prompt found in input. Please provide a 'prompt' key."})
	}
	log.Printf("[runtime] processing request: %s", preview(req.Input.Prompt))

	history := toHistory(req.Input.Messages)

	var (
		resp *agentport.Response
		err  error
	)
	ctx := c.Request().Context()
	if len(req.Input.Tools) > 0 {
		resp, err = s.agent.ExecuteWithTools(ctx, history, req.Input.Prompt, req.Input.Tools)
	} else {
		resp, err = s.agent.Execute(ctx, history, req.Input.Prompt)
	}
	if err != nil {
		log.Printf("[runtime] agent processing failed: %v", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Detail: "Agent processing failed: " + err.Error()})
	}

	return c.JSON(http.StatusOK, agentport.InvocationResponse{
		Output: agentport.InvocationOutput{
			Message: agentport.OutputMessage{
				Role:    "assistant",
				Content: []agentport.ContentPart{{Text: resp.Content}},
			},
			ToolCalls: resp.ToolCalls,
			Metadata:  resp.Metadata,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
}

// Ping is the container health probe.
// GET /ping
func (s *Server) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Root describes the service.
// GET /
func (s *Server) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"service":  ServiceName,
		"provider": s.agent.Name(),
		"model":    s.info.ModelID,
		"region":   s.info.Region,
		"status":   "running",
	})
}

// toHistory rebuilds session messages from the wire history. Blank entries
// and unknown roles are skipped.
func toHistory(in []agentport.InvocationMessage) []session.Message {
	out := make([]session.Message, 0, len(in))
	for _, m := range in {
		content, err := session.NewTextContent(m.Content)
		if err != nil {
			continue
		}
		switch session.Role(m.Role) {
		case session.RoleUser:
			out = append(out, session.NewUserMessage(content, nil))
		case session.RoleAssistant:
			out = append(out, session.NewAssistantMessage(content, nil, nil))
		case session.RoleSystem:
			out = append(out, session.NewSystemMessage(content))
		}
	}
	return out
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 100 {
		return string(r[:100]) + "..."
	}
	return s
}
