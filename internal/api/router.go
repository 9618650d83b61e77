// Package api exposes the agent registry, stage reporting and worker
// handoff operations over HTTP under /api/v1. It performs no
// authentication.
package api

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jeffstoner/ganymede/internal/db"
	"github.com/jeffstoner/ganymede/internal/fleet"
	"github.com/jeffstoner/ganymede/internal/reporting"
)

const (
	BasePath = "/api/v1"

	// HeaderAgentCount carries the registered agent count on heartbeats
	HeaderAgentCount = "X-Ganymede-Agentcount"
)

// RunLister reads recent reconciliation runs
type RunLister interface {
	ListReconcileRuns(ctx context.Context, limit int) ([]db.ReconcileRun, error)
}

type RouterConfig struct {
	Fleet       *fleet.Manager
	Reporting   *reporting.Service
	Runs        RunLister
	Logger      *slog.Logger
	ServiceName string
	CORSOrigins []string

	// Upper bound on an upload request body; zero leaves it unbounded.
	// Larger bodies are answered with 413.
	MaxUploadBytes int64
}

// Handler serves every route of the API
type Handler struct {
	fleet     *fleet.Manager
	reporting *reporting.Service
	runs      RunLister
	logger    *slog.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	h := &Handler{
		fleet:     cfg.Fleet,
		reporting: cfg.Reporting,
		runs:      cfg.Runs,
		logger:    cfg.Logger,
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "ganymede"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(RequestLogger(cfg.Logger))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}

	api := r.Group(BasePath)
	api.Use(ValidIDs())
	{
		api.GET("/heartbeat", h.Heartbeat)
		api.GET("/runs", h.ListRuns)

		// Agents
		api.GET("/agent", h.ListAgents)
		api.POST("/agent", h.CreateAgent)
		api.GET("/agent/:agent_id", h.GetAgent)
		api.POST("/agent/:agent_id", h.UpdateAgent)
		api.DELETE("/agent/:agent_id", h.DeleteAgent)
		api.POST("/agent/:agent_id/assign", h.AssignAgent)

		// Agent transaction logs
		api.GET("/agent/:agent_id/log", h.AgentLog)
		api.POST("/agent/:agent_id/log", h.CreateTransaction)
		api.GET("/agent/:agent_id/log/:trans_id", h.TransactionLog)
		api.POST("/agent/:agent_id/log/:trans_id", h.AppendAgentStage)
		api.POST("/agent/:agent_id/transfer/:trans_id", LimitBody(cfg.MaxUploadBytes), h.Upload)

		// Workers
		api.GET("/worker/:trans_id", h.WorkerDetails)
		api.POST("/worker/:trans_id", h.ManageSchema)
		api.POST("/worker/log/:trans_id", h.AppendWorkerStage)
	}

	return r
}
