// Package handlers provides REST API handlers for the sync facade.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wzl2223096755/AFitness-sub001/internal/connectivity"
	apperrors "github.com/wzl2223096755/AFitness-sub001/internal/errors"
	"github.com/wzl2223096755/AFitness-sub001/internal/logging"
	"github.com/wzl2223096755/AFitness-sub001/internal/models"
	syncpkg "github.com/wzl2223096755/AFitness-sub001/internal/sync"
	"github.com/wzl2223096755/AFitness-sub001/internal/sync/facade"
)

// ItemLister lists queued items by status.
type ItemLister interface {
	List(statuses ...models.ItemStatus) []models.SyncItem
}

// SyncHandler handles sync queue operations.
type SyncHandler struct {
	facade  *facade.Facade
	items   ItemLister
	monitor *connectivity.Monitor
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(f *facade.Facade, items ItemLister, monitor *connectivity.Monitor) *SyncHandler {
	return &SyncHandler{
		facade:  f,
		items:   items,
		monitor: monitor,
	}
}

// EnqueueRequest is the body of POST /api/sync/:domain.
type EnqueueRequest struct {
	Action models.Action   `json:"action" binding:"required"`
	Data   json.RawMessage `json:"data"`
}

// ConnectivityRequest is the body of PUT /api/connectivity.
type ConnectivityRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// statusFor maps an error code to an HTTP status.
func statusFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrInvalid:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrStorage:
		return http.StatusInsufficientStorage
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithCode("Request failed", string(apperrors.CodeOf(err)), err, map[string]interface{}{
			"path": c.FullPath(),
		})
	}
	c.JSON(status, gin.H{
		"error": err.Error(),
		"code":  apperrors.CodeOf(err),
	})
}

// GetStatus returns the facade state.
// GET /api/sync/status
func (h *SyncHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.facade.State())
}

// ListItems returns queued items in send order.
// GET /api/sync/items?status=pending,failed
func (h *SyncHandler) ListItems(c *gin.Context) {
	var statuses []models.ItemStatus
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := models.ItemStatus(strings.TrimSpace(s))
			if !status.IsValid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + string(status)})
				return
			}
			statuses = append(statuses, status)
		}
	}

	items := h.items.List(statuses...)
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": len(items),
	})
}

// Enqueue queues a mutation for the domain in the path.
// POST /api/sync/:domain
func (h *SyncHandler) Enqueue(c *gin.Context) {
	domain := models.Domain(c.Param("domain"))
	if !domain.IsValid() {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown domain " + string(domain)})
		return
	}

	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if !req.Action.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action " + string(req.Action)})
		return
	}

	var data interface{}
	if len(req.Data) > 0 {
		data = req.Data
	}
	id, err := h.facade.Add(c.Request.Context(), domain, req.Action, data)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":    id,
		"state": h.facade.State(),
	})
}

// Trigger drains the queue now and reports the outcome.
// POST /api/sync/trigger
func (h *SyncHandler) Trigger(c *gin.Context) {
	res := h.facade.TriggerSync(c.Request.Context())

	status := http.StatusOK
	switch res.Reason {
	case syncpkg.ReasonOffline, syncpkg.ReasonClosed:
		status = http.StatusServiceUnavailable
	case syncpkg.ReasonInProgress:
		status = http.StatusConflict
	case syncpkg.ReasonStorage:
		status = http.StatusInsufficientStorage
	}
	c.JSON(status, gin.H{
		"result": res,
		"state":  h.facade.State(),
	})
}

// Retry returns failed items to the queue.
// POST /api/sync/retry
func (h *SyncHandler) Retry(c *gin.Context) {
	n, err := h.facade.RetryFailed()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": n})
}

// Discard drops a queued item.
// DELETE /api/sync/items/:id
func (h *SyncHandler) Discard(c *gin.Context) {
	if err := h.facade.DiscardFailed(c.Param("id")); err != nil {
		if apperrors.Is(err, apperrors.ErrInvalid) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetConnectivity records a connectivity report from the UI shell.
// PUT /api/connectivity
func (h *SyncHandler) SetConnectivity(c *gin.Context) {
	var req ConnectivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "online is required"})
		return
	}
	changed := h.monitor.Set(*req.Online)
	c.JSON(http.StatusOK, gin.H{
		"online":  h.monitor.IsOnline(),
		"changed": changed,
	})
}
