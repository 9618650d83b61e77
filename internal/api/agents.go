package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jeffstoner/ganymede/internal/fleet"
	"github.com/jeffstoner/ganymede/internal/txlog"
)

// enabledValue is the form value that marks an agent enabled; anything
// else disables it
const enabledValue = "ENABLE"

type agentView struct {
	AgentID           string `json:"agent_id"`
	Name              string `json:"agent_name"`
	GeoID             string `json:"geo_id"`
	Enabled           bool   `json:"enabled"`
	Active            bool   `json:"active"`
	AgentURL          string `json:"agent_url"`
	TransactionLogURL string `json:"transaction_log_url"`
}

type transactionView struct {
	TransactionID  string `json:"transaction_id"`
	Timestamp      string `json:"timestamp"`
	TransactionURL string `json:"transaction_url"`
}

func agentURL(uid string) string {
	return BasePath + "/agent/" + uid
}

func agentLogURL(uid string) string {
	return agentURL(uid) + "/log"
}

func transactionURL(uid, transactionID string) string {
	return agentLogURL(uid) + "/" + transactionID
}

func toAgentView(a fleet.Agent) agentView {
	return agentView{
		AgentID:           a.UID,
		Name:              a.Name,
		GeoID:             a.Geo,
		Enabled:           a.Enabled,
		Active:            a.Active,
		AgentURL:          agentURL(a.UID),
		TransactionLogURL: agentLogURL(a.UID),
	}
}

// Heartbeat reports the registered agent count
func (h *Handler) Heartbeat(c *gin.Context) {
	n, err := h.fleet.CountAgents(c.Request.Context())
	if err != nil {
		h.logger.Error("heartbeat failed", "error", err)
		RespondError(c, http.StatusServiceUnavailable, "unavailable", err)
		return
	}

	c.Header(HeaderAgentCount, strconv.Itoa(n))
	RespondOK(c, gin.H{"num": n})
}

func (h *Handler) ListAgents(c *gin.Context) {
	agents, err := h.fleet.ListAgents(c.Request.Context())
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	views := make([]agentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, toAgentView(a))
	}
	RespondOK(c, gin.H{"agents": views})
}

func (h *Handler) CreateAgent(c *gin.Context) {
	name := c.PostForm("name")
	enabled, ok := c.GetPostForm("enabled")
	if name == "" || !ok {
		RespondError(c, http.StatusBadRequest, "invalid_parameters",
			&txlog.ValidationError{Field: "parameters", Reason: "name and enabled are required"})
		return
	}

	uid, err := h.fleet.CreateAgent(c.Request.Context(), name, enabled == enabledValue)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	c.Header("Location", agentURL(uid))
	c.JSON(http.StatusCreated, gin.H{"agent_id": uid, "agent_url": agentURL(uid)})
}

func (h *Handler) GetAgent(c *gin.Context) {
	agent, err := h.fleet.GetAgent(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	RespondOK(c, gin.H{
		"agent":      toAgentView(*agent),
		"parent_url": BasePath + "/agent",
	})
}

func (h *Handler) UpdateAgent(c *gin.Context) {
	uid := c.Param("agent_id")

	var name *string
	var enabled *bool
	if v, ok := c.GetPostForm("name"); ok && v != "" {
		name = &v
	}
	if v, ok := c.GetPostForm("enabled"); ok {
		b := v == enabledValue
		enabled = &b
	}

	if err := h.fleet.UpdateAgent(c.Request.Context(), uid, name, enabled); err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	c.Header("Location", agentURL(uid))
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeleteAgent(c *gin.Context) {
	if err := h.fleet.DeleteAgent(c.Request.Context(), c.Param("agent_id")); err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) AssignAgent(c *gin.Context) {
	uid := c.Param("agent_id")
	err := h.fleet.AssignAgent(c.Request.Context(), uid, c.PostForm("geo"), c.PostForm("release"))
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	c.Header("Location", agentURL(uid))
	c.Status(http.StatusNoContent)
}

// AgentLog lists the transactions an agent has opened
func (h *Handler) AgentLog(c *gin.Context) {
	uid := c.Param("agent_id")
	filter := fleet.ParseLogFilter(c.Query("year"), c.Query("month"), c.Query("day"))

	transactions, err := h.fleet.AgentLog(c.Request.Context(), uid, filter)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	views := make([]transactionView, 0, len(transactions))
	for _, t := range transactions {
		views = append(views, transactionView{
			TransactionID:  t.TransactionID,
			Timestamp:      stamp(t.Timestamp),
			TransactionURL: transactionURL(uid, t.TransactionID),
		})
	}

	RespondOK(c, gin.H{
		"transactions": views,
		"parent_url":   agentURL(uid),
	})
}
