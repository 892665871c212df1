package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jengzang/activity-records-go/internal/models"
	"github.com/jengzang/activity-records-go/internal/repository"
	"github.com/jengzang/activity-records-go/internal/tracker"
)

// ErrInvalidPlace wraps a place validation failure
var ErrInvalidPlace = errors.New("invalid place")

// PlaceService handles business logic for tracked places
type PlaceService struct {
	store    repository.PlaceStore
	geofence *tracker.GeofenceTracker
	logger   *slog.Logger
}

// NewPlaceService creates a new place service
func NewPlaceService(store repository.PlaceStore, geofence *tracker.GeofenceTracker, logger *slog.Logger) *PlaceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaceService{store: store, geofence: geofence, logger: logger}
}

// ListPlaces returns every active place
func (s *PlaceService) ListPlaces(ctx context.Context) ([]models.Place, error) {
	places, err := s.store.ListActivePlaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("list places: %w", err)
	}
	if places == nil {
		places = []models.Place{}
	}
	return places, nil
}

// CreatePlace validates and stores a new place
func (s *PlaceService) CreatePlace(ctx context.Context, p *models.Place) (*models.Place, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlace, err)
	}

	id, err := s.store.InsertPlace(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("insert place: %w", err)
	}
	p.ID = id
	s.geofence.InvalidatePlace(id)

	s.logger.Info("PlaceService.CreatePlace: place created", "place_id", id, "name", p.Name, "radius_m", p.RadiusMeters)
	return p, nil
}

// GetOpenVisit returns the open visit of a place, or nil when the device is outside it.
// Unknown places yield tracker.ErrUnknownPlace.
func (s *PlaceService) GetOpenVisit(ctx context.Context, placeID int64) (*models.PlaceVisit, error) {
	if _, err := s.geofence.Place(ctx, placeID); err != nil {
		return nil, err
	}
	visit, err := s.store.GetOpenVisit(ctx, placeID)
	if err != nil {
		return nil, fmt.Errorf("get open visit: %w", err)
	}
	return visit, nil
}
