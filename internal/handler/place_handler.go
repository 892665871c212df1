package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/activity-records-go/internal/models"
	"github.com/jengzang/activity-records-go/internal/service"
	"github.com/jengzang/activity-records-go/internal/tracker"
	"github.com/jengzang/activity-records-go/pkg/response"
)

// CreatePlaceRequest is the body of POST /api/v1/places
type CreatePlaceRequest struct {
	Name          string  `json:"name" binding:"required"`
	CenterLat     float64 `json:"center_lat"`
	CenterLon     float64 `json:"center_lon"`
	RadiusMeters  float64 `json:"radius_meters" binding:"required"`
	NotifyOnEnter *bool   `json:"notify_on_enter"`
	NotifyOnExit  *bool   `json:"notify_on_exit"`
	IsActive      *bool   `json:"is_active"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// PlaceHandler handles HTTP requests for tracked places
type PlaceHandler struct {
	service *service.PlaceService
}

// NewPlaceHandler creates a new place handler
func NewPlaceHandler(service *service.PlaceService) *PlaceHandler {
	return &PlaceHandler{service: service}
}

// ListPlaces handles GET /api/v1/places
func (h *PlaceHandler) ListPlaces(c *gin.Context) {
	places, err := h.service.ListPlaces(c.Request.Context())
	if err != nil {
		response.InternalError(c, "Failed to list places", err)
		return
	}

	response.Success(c, gin.H{
		"data":  places,
		"total": len(places),
	})
}

// CreatePlace handles POST /api/v1/places
func (h *PlaceHandler) CreatePlace(c *gin.Context) {
	var req CreatePlaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid place", err)
		return
	}

	place, err := h.service.CreatePlace(c.Request.Context(), &models.Place{
		Name:          req.Name,
		CenterLat:     req.CenterLat,
		CenterLon:     req.CenterLon,
		RadiusMeters:  req.RadiusMeters,
		NotifyOnEnter: boolOr(req.NotifyOnEnter, true),
		NotifyOnExit:  boolOr(req.NotifyOnExit, true),
		IsActive:      boolOr(req.IsActive, true),
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidPlace) {
			response.BadRequest(c, "Invalid place", err)
			return
		}
		response.InternalError(c, "Failed to create place", err)
		return
	}

	response.Created(c, place)
}

// GetOpenVisit handles GET /api/v1/places/:id/visit
func (h *PlaceHandler) GetOpenVisit(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid place ID", err)
		return
	}

	visit, err := h.service.GetOpenVisit(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, tracker.ErrUnknownPlace) {
			response.NotFound(c, "Place not found")
			return
		}
		response.InternalError(c, "Failed to get open visit", err)
		return
	}

	response.Success(c, gin.H{
		"place_id": id,
		"inside":   visit != nil,
		"visit":    visit,
	})
}
