// Package handlers implements masterd's REST surface (spec §6), thin
// gin handlers delegating to the MasterActionCoordinator and Journal,
// grounded on the teacher's internal/http/handlers package.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	domain "github.com/yungbote/masterctl/internal/domain/masteraction"
	"github.com/yungbote/masterctl/internal/httpapi/response"
	"github.com/yungbote/masterctl/internal/journal/changeindex"
	"github.com/yungbote/masterctl/internal/masteraction"
	"github.com/yungbote/masterctl/internal/platform/apierr"
)

// JournalReader is the narrow Journal slice the Change Journal HTTP
// endpoint needs.
type JournalReader interface {
	ListChanges(ctx context.Context, f changeindex.Filter) ([]domain.SystemChangeRecord, int, error)
}

type HealthHandler struct{}

func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// OperationHandler implements the operations endpoints: initiate,
// status, cancel.
type OperationHandler struct {
	coordinator *masteraction.Coordinator
}

func NewOperationHandler(coordinator *masteraction.Coordinator) *OperationHandler {
	return &OperationHandler{coordinator: coordinator}
}

type initiateBody struct {
	OperationType string                 `json:"operationType" binding:"required"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	Initiator     string                 `json:"initiator"`
	Parameters    map[string]interface{} `json:"parameters"`
}

// POST /operations
func (h *OperationHandler) Initiate(c *gin.Context) {
	var body initiateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	initiator := body.Initiator
	if initiator == "" {
		initiator = "unknown"
	}

	action, err := h.coordinator.Initiate(c.Request.Context(), masteraction.InitiateRequest{
		OperationType: domain.OperationType(body.OperationType),
		Name:          body.Name,
		Description:   body.Description,
		Parameters:    body.Parameters,
	}, initiator)
	if err != nil {
		respondCoordinatorError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"masterAction": action.Snapshot()})
}

// GET /operations/:id
func (h *OperationHandler) GetStatus(c *gin.Context) {
	id := c.Param("id")
	view, err := h.coordinator.GetStatus(c.Request.Context(), id)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "status_lookup_failed", err)
		return
	}
	if view == nil {
		response.RespondError(c, http.StatusNotFound, "not_found", errors.New("master action not found"))
		return
	}
	response.RespondOK(c, gin.H{
		"masterAction": view.Action,
		"nodeTasks":    view.NodeTasks,
	})
}

// POST /operations/:id/cancel
func (h *OperationHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	by := c.Query("by")
	if by == "" {
		by = "unknown"
	}
	status, err := h.coordinator.RequestCancel(c.Request.Context(), id, by)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "cancel_failed", err)
		return
	}
	switch status {
	case masteraction.CancelNotFound:
		response.RespondError(c, http.StatusNotFound, "not_found", errors.New("master action not found"))
	case masteraction.CancelAlreadyCompleted:
		response.RespondOK(c, gin.H{"status": status})
	default:
		response.RespondOK(c, gin.H{"status": status})
	}
}

func respondCoordinatorError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, masteraction.ErrAnotherInProgress):
		response.RespondError(c, http.StatusConflict, "another_in_progress", err)
	case errors.Is(err, masteraction.ErrUnsupportedOperation):
		response.RespondError(c, http.StatusBadRequest, "unsupported_operation", err)
	default:
		var apiErr *apierr.Error
		if errors.As(err, &apiErr) {
			response.RespondError(c, apiErr.Status, apiErr.Code, apiErr)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}

// JournalHandler implements GET /journal (the Change Journal query
// surface), grounded on the teacher's job.go list-style handlers.
type JournalHandler struct {
	journal JournalReader
}

func NewJournalHandler(j JournalReader) *JournalHandler {
	return &JournalHandler{journal: j}
}

// GET /journal?eventType=&outcome=&since=&limit=&offset=
func (h *JournalHandler) List(c *gin.Context) {
	f := changeindex.Filter{
		EventType: c.Query("eventType"),
		Outcome:   c.Query("outcome"),
		Limit:     50,
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_since", err)
			return
		}
		f.Since = t
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if n, err := strconv.Atoi(offsetStr); err == nil && n >= 0 {
			f.Offset = n
		}
	}

	rows, total, err := h.journal.ListChanges(c.Request.Context(), f)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "journal_query_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"changes": rows, "total": total})
}
