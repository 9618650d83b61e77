package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jeffstoner/ganymede/internal/reporting"
	"github.com/jeffstoner/ganymede/internal/txlog"
)

// uploadField is the multipart field carrying an agent's dump
const uploadField = "upload"

type eventView struct {
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

type handoffView struct {
	*reporting.Handoff
	TransactionURL string `json:"transaction_url"`
}

func toEventView(e txlog.Event) eventView {
	return eventView{
		Stage:     string(e.Stage),
		Status:    string(e.Status),
		Timestamp: stamp(e.Timestamp),
		Message:   e.Message,
	}
}

func reportFromForm(c *gin.Context) txlog.Report {
	return txlog.Report{
		Stage:     c.PostForm("stage"),
		Status:    c.PostForm("status"),
		Timestamp: c.PostForm("timestamp"),
		Message:   c.PostForm("message"),
	}
}

// CreateTransaction opens a transaction and hands the agent its
// connection profile
func (h *Handler) CreateTransaction(c *gin.Context) {
	uid := c.Param("agent_id")

	handoff, err := h.reporting.CreateTransaction(c.Request.Context(), uid)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	location := transactionURL(uid, handoff.TransactionID)
	c.Header("Location", location)
	c.JSON(http.StatusCreated, handoffView{Handoff: handoff, TransactionURL: location})
}

func (h *Handler) TransactionLog(c *gin.Context) {
	uid := c.Param("agent_id")

	events, err := h.reporting.TransactionLog(c.Request.Context(), uid, c.Param("trans_id"))
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, toEventView(e))
	}

	RespondOK(c, gin.H{
		"transactions": views,
		"parent_url":   agentLogURL(uid),
	})
}

func (h *Handler) AppendAgentStage(c *gin.Context) {
	event, err := h.reporting.AppendAgentStage(c.Request.Context(),
		c.Param("agent_id"), c.Param("trans_id"), reportFromForm(c))
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, toEventView(*event))
}

// Upload stores an agent's encrypted dump for its transaction
func (h *Handler) Upload(c *gin.Context) {
	header, err := c.FormFile(uploadField)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		RespondError(c, http.StatusRequestEntityTooLarge, "upload_too_large",
			fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit))
		return
	}
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_upload",
			&txlog.ValidationError{Field: uploadField, Reason: "multipart field is required"})
		return
	}

	file, err := header.Open()
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	defer file.Close()

	err = h.reporting.RecordUpload(c.Request.Context(),
		c.Param("agent_id"), c.Param("trans_id"), header.Filename, file)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status_message": "Upload complete"})
}
