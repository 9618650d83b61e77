package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jeffstoner/ganymede/internal/db"
	"github.com/jeffstoner/ganymede/internal/txlog"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
)

type runView struct {
	RunID           string `json:"run_id"`
	StartedAt       string `json:"started_at"`
	FinishedAt      string `json:"finished_at"`
	WindowStart     string `json:"window_start"`
	WindowEnd       string `json:"window_end"`
	ExpectedSources int    `json:"expected_sources"`
	Iterations      int    `json:"iterations"`
	Dispatched      int    `json:"dispatched"`
	Outcome         string `json:"outcome"`
}

func stamp(t time.Time) string {
	return t.UTC().Format(txlog.TimestampLayout)
}

func toRunView(r db.ReconcileRun) runView {
	return runView{
		RunID:           r.RunID,
		StartedAt:       stamp(r.StartedAt),
		FinishedAt:      stamp(r.FinishedAt),
		WindowStart:     stamp(r.WindowStart),
		WindowEnd:       stamp(r.WindowEnd),
		ExpectedSources: r.ExpectedSources,
		Iterations:      r.Iterations,
		Dispatched:      r.Dispatched,
		Outcome:         r.Outcome,
	}
}

// WorkerDetails hands a worker the upload and nonce of a finished
// transaction
func (h *Handler) WorkerDetails(c *gin.Context) {
	details, err := h.reporting.WorkerDetails(c.Request.Context(), c.Param("trans_id"))
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	RespondOK(c, details)
}

// ManageSchema creates or drops the transaction's downstream schema
func (h *Handler) ManageSchema(c *gin.Context) {
	action := c.PostForm("action")

	schema, err := h.reporting.ManageSchema(c.Request.Context(), c.Param("trans_id"), action)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	RespondOK(c, gin.H{
		"status_message": fmt.Sprintf("%s schema action completed", action),
		"schema":         schema,
	})
}

func (h *Handler) AppendWorkerStage(c *gin.Context) {
	event, err := h.reporting.AppendWorkerStage(c.Request.Context(), c.Param("trans_id"), reportFromForm(c))
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, toEventView(*event))
}

// ListRuns returns the most recent reconciliation runs, newest first
func (h *Handler) ListRuns(c *gin.Context) {
	limit := defaultRunLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			RespondError(c, http.StatusBadRequest, "invalid_limit",
				&txlog.ValidationError{Field: "limit", Reason: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.runs.ListReconcileRuns(c.Request.Context(), limit)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	views := make([]runView, 0, len(runs))
	for _, r := range runs {
		views = append(views, toRunView(r))
	}
	RespondOK(c, gin.H{"runs": views})
}
