package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/activity-records-go/internal/models"
	"github.com/jengzang/activity-records-go/internal/service"
	"github.com/jengzang/activity-records-go/pkg/response"
)

// RecordHandler handles HTTP requests for persisted records
type RecordHandler struct {
	service *service.RecordService
}

// NewRecordHandler creates a new record handler
func NewRecordHandler(service *service.RecordService) *RecordHandler {
	return &RecordHandler{service: service}
}

// listRecords binds the filter, runs the query and writes one page
func listRecords[T any](c *gin.Context, what string, query func(context.Context, models.RecordFilter) ([]T, int64, error)) {
	var filter models.RecordFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters", err)
		return
	}
	filter.Normalize()

	items, total, err := query(c.Request.Context(), filter)
	if err != nil {
		response.InternalError(c, "Failed to get "+what, err)
		return
	}

	response.Success(c, models.NewPaginatedResponse(items, total, filter))
}

// GetStillRecords handles GET /api/v1/records/still
func (h *RecordHandler) GetStillRecords(c *gin.Context) {
	listRecords(c, "still records", h.service.GetStillRecords)
}

// GetMovementRecords handles GET /api/v1/records/movement
func (h *RecordHandler) GetMovementRecords(c *gin.Context) {
	listRecords(c, "movement records", h.service.GetMovementRecords)
}

// GetMovementByID handles GET /api/v1/records/movement/:id
func (h *RecordHandler) GetMovementByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid movement record ID", err)
		return
	}

	detail, err := h.service.GetMovementDetail(c.Request.Context(), id)
	if err != nil {
		response.InternalError(c, "Failed to get movement record", err)
		return
	}
	if detail == nil {
		response.NotFound(c, "Movement record not found")
		return
	}

	response.Success(c, detail)
}

// GetSleepSessions handles GET /api/v1/records/sleep
func (h *RecordHandler) GetSleepSessions(c *gin.Context) {
	listRecords(c, "sleep sessions", h.service.GetSleepSessions)
}

// GetVisits handles GET /api/v1/records/visits
func (h *RecordHandler) GetVisits(c *gin.Context) {
	listRecords(c, "place visits", h.service.GetVisits)
}

// GetSummary handles GET /api/v1/records/summary
func (h *RecordHandler) GetSummary(c *gin.Context) {
	var filter models.RecordFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters", err)
		return
	}

	summary, err := h.service.GetSummary(c.Request.Context(), filter)
	if err != nil {
		response.InternalError(c, "Failed to summarize records", err)
		return
	}

	response.Success(c, summary)
}
