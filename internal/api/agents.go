package api

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
)

// AgentInfo describes the agent the sessions are served by.
type AgentInfo struct {
	AgentType    string   `json:"agent_type"`
	ModelID      string   `json:"model_id"`
	Provider     string   `json:"provider"`
	Capabilities []string `json:"capabilities"`
}

// GetAgentInfo handles GET /agents/info.
func (h *Handler) GetAgentInfo(c echo.Context) error {
	if h.agent.Provider == "" {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "no agent configured"})
	}
	info := h.agent
	info.Capabilities = slices.Clone(info.Capabilities)
	if info.Capabilities == nil {
		info.Capabilities = []string{}
	}
	return c.JSON(http.StatusOK, info)
}
