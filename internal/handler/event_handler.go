package handler

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/activity-records-go/internal/models"
	"github.com/jengzang/activity-records-go/internal/tracker"
	"github.com/jengzang/activity-records-go/pkg/response"
)

// eventTime picks the explicit timestamp, then timestamp_ms. Zero means "now".
func eventTime(ts *time.Time, ms *int64) time.Time {
	if ts != nil {
		return *ts
	}
	if ms != nil && *ms > 0 {
		return time.UnixMilli(*ms).UTC()
	}
	return time.Time{}
}

// ActivityEventRequest is one activity transition callback
type ActivityEventRequest struct {
	Kind        string     `json:"kind"`
	Code        *int       `json:"code"` // platform detected-activity code, used when kind is empty
	IsEnter     *bool      `json:"is_enter" binding:"required"`
	Timestamp   *time.Time `json:"timestamp"`
	TimestampMs *int64     `json:"timestamp_ms"`
}

// LocationEventRequest is one location fix
type LocationEventRequest struct {
	Latitude       *float64   `json:"latitude" binding:"required"`
	Longitude      *float64   `json:"longitude" binding:"required"`
	Speed          *float64   `json:"speed"`
	AccuracyMeters float64    `json:"accuracy_meters"`
	Timestamp      *time.Time `json:"timestamp"`
	TimestampMs    *int64     `json:"timestamp_ms"`
}

// PlaceEventRequest is one geofence callback
type PlaceEventRequest struct {
	PlaceID     int64      `json:"place_id" binding:"required"`
	Kind        string     `json:"kind" binding:"required"`
	Latitude    *float64   `json:"latitude"`
	Longitude   *float64   `json:"longitude"`
	Timestamp   *time.Time `json:"timestamp"`
	TimestampMs *int64     `json:"timestamp_ms"`
}

// ActivityStateResponse is the current activity as exposed over HTTP
type ActivityStateResponse struct {
	Kind              models.ActivityKind `json:"kind"`
	IsEntering        bool                `json:"is_entering"`
	PollingIntervalMs int64               `json:"polling_interval_ms"`
	UpdatedAt         *time.Time          `json:"updated_at,omitempty"`
}

// EventHandler handles HTTP requests delivering platform callbacks
type EventHandler struct {
	engine *tracker.Engine
}

// NewEventHandler creates a new event handler
func NewEventHandler(engine *tracker.Engine) *EventHandler {
	return &EventHandler{engine: engine}
}

// PostActivity handles POST /api/v1/events/activity
func (h *EventHandler) PostActivity(c *gin.Context) {
	var req ActivityEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid activity event", err)
		return
	}

	var kind models.ActivityKind
	switch {
	case strings.TrimSpace(req.Kind) != "":
		kind = models.ParseActivityKind(req.Kind)
	case req.Code != nil:
		kind = models.ActivityKindFromCode(*req.Code)
	default:
		response.BadRequest(c, "Either kind or code is required", nil)
		return
	}

	ev := models.ActivityTransitionEvent{
		Kind:      kind,
		IsEnter:   *req.IsEnter,
		Timestamp: eventTime(req.Timestamp, req.TimestampMs),
	}
	if err := h.engine.SubmitTransition(c.Request.Context(), ev); err != nil {
		submitError(c, err)
		return
	}

	response.Accepted(c, gin.H{"kind": kind, "is_enter": ev.IsEnter})
}

// PostLocation handles POST /api/v1/events/location
func (h *EventHandler) PostLocation(c *gin.Context) {
	var req LocationEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid location fix", err)
		return
	}
	if !models.ValidCoordinates(*req.Latitude, *req.Longitude) {
		response.BadRequest(c, "Coordinates out of range", models.ErrInvalidCoordinates)
		return
	}

	fix := models.LocationFix{
		Latitude:       *req.Latitude,
		Longitude:      *req.Longitude,
		Speed:          req.Speed,
		AccuracyMeters: req.AccuracyMeters,
		Timestamp:      eventTime(req.Timestamp, req.TimestampMs),
	}
	if err := h.engine.SubmitFix(c.Request.Context(), fix); err != nil {
		submitError(c, err)
		return
	}

	response.Accepted(c, nil)
}

// PostPlace handles POST /api/v1/events/place
func (h *EventHandler) PostPlace(c *gin.Context) {
	var req PlaceEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid place event", err)
		return
	}

	kind, ok := models.ParsePlaceTransitionKind(req.Kind)
	if !ok {
		response.BadRequest(c, "Unknown place transition kind", nil)
		return
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		response.BadRequest(c, "Latitude and longitude must be given together", nil)
		return
	}
	if req.Latitude != nil && !models.ValidCoordinates(*req.Latitude, *req.Longitude) {
		response.BadRequest(c, "Coordinates out of range", models.ErrInvalidCoordinates)
		return
	}

	visit, err := h.engine.HandlePlaceTransition(c.Request.Context(), models.PlaceTransition{
		PlaceID:   req.PlaceID,
		Kind:      kind,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Timestamp: eventTime(req.Timestamp, req.TimestampMs),
	})
	if err != nil {
		if errors.Is(err, tracker.ErrUnknownPlace) {
			response.NotFound(c, "Place not found")
			return
		}
		response.InternalError(c, "Failed to record place transition", err)
		return
	}

	response.Success(c, gin.H{"visit": visit})
}

// GetCurrentActivity handles GET /api/v1/activity/current
func (h *EventHandler) GetCurrentActivity(c *gin.Context) {
	state := h.engine.Tracker().Current()
	resp := ActivityStateResponse{
		Kind:              state.Kind,
		IsEntering:        state.IsEntering,
		PollingIntervalMs: state.PollingInterval.Milliseconds(),
	}
	if !state.UpdatedAt.IsZero() {
		resp.UpdatedAt = &state.UpdatedAt
	}
	response.Success(c, resp)
}

func submitError(c *gin.Context, err error) {
	if errors.Is(err, tracker.ErrEngineStopped) {
		response.ServiceUnavailable(c, "Event engine is shutting down", err)
		return
	}
	response.InternalError(c, "Failed to queue event", err)
}
