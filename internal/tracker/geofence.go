package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	"github.com/jengzang/activity-records-go/internal/models"
	"github.com/jengzang/activity-records-go/internal/repository"
	"github.com/jengzang/activity-records-go/internal/spatial"
)

// Place transition outcome labels
const (
	PlaceOpened      = "opened"
	PlaceClosed      = "closed"
	PlaceDuplicate   = "duplicate_enter"
	PlaceNoOpenVisit = "no_open_visit"
	PlaceDwell       = "dwell"
	PlaceInactive    = "inactive"
)

// GeofenceConfig holds place cache settings
type GeofenceConfig struct {
	CacheSize int
	CacheTTL  time.Duration
	Now       func() time.Time
}

// GeofenceTracker keeps at most one open visit per place.
// Transitions for one place are serialized; different places never block each other.
type GeofenceTracker struct {
	store   repository.PlaceStore
	places  *otter.Cache[int64, models.Place]
	locksMu sync.Mutex
	locks   map[int64]*placeLock
	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics

	// place id -> visit id whose EXIT event is stored but whose close failed
	exitLogged sync.Map
}

// NewGeofenceTracker creates a geofence tracker with an empty place cache
func NewGeofenceTracker(store repository.PlaceStore, cfg GeofenceConfig, logger *slog.Logger, metrics *Metrics) *GeofenceTracker {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1_000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &GeofenceTracker{
		store: store,
		places: otter.Must(&otter.Options[int64, models.Place]{
			MaximumSize:      cfg.CacheSize,
			ExpiryCalculator: otter.ExpiryWriting[int64, models.Place](cfg.CacheTTL),
		}),
		locks:   make(map[int64]*placeLock),
		now:     cfg.Now,
		logger:  logger,
		metrics: metrics,
	}
}

// Warm loads every active place into the cache
func (g *GeofenceTracker) Warm(ctx context.Context) (int, error) {
	places, err := g.store.ListActivePlaces(ctx)
	if err != nil {
		return 0, persistenceError("list active places", err)
	}
	for _, p := range places {
		g.places.Set(p.ID, p)
	}
	g.logger.Info("GeofenceTracker.Warm: place cache loaded", "places", len(places))
	return len(places), nil
}

// InvalidatePlace drops a cached place after it was edited
func (g *GeofenceTracker) InvalidatePlace(id int64) {
	g.places.Invalidate(id)
}

// Place returns a place through the cache
func (g *GeofenceTracker) Place(ctx context.Context, id int64) (*models.Place, error) {
	if p, ok := g.places.GetIfPresent(id); ok {
		return &p, nil
	}

	p, err := g.store.GetPlace(ctx, id)
	if err != nil {
		return nil, persistenceError("get place", err)
	}
	if p == nil {
		return nil, fmt.Errorf("place %d: %w", id, ErrUnknownPlace)
	}
	g.places.Set(id, *p)
	return p, nil
}

// placeLock serializes transitions of one place. Entries live only while a transition holds or waits for them.
type placeLock struct {
	mu   sync.Mutex
	refs int
}

func (g *GeofenceTracker) lockPlace(placeID int64) func() {
	g.locksMu.Lock()
	l, ok := g.locks[placeID]
	if !ok {
		l = &placeLock{}
		g.locks[placeID] = l
	}
	l.refs++
	g.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		g.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, placeID)
		}
		g.locksMu.Unlock()
	}
}

// lockedPlaces returns the number of places with a held or awaited lock
func (g *GeofenceTracker) lockedPlaces() int {
	g.locksMu.Lock()
	defer g.locksMu.Unlock()
	return len(g.locks)
}

// HandleTransition applies one geofence callback.
// It returns the visit opened or closed by the transition, or nil when nothing changed.
func (g *GeofenceTracker) HandleTransition(ctx context.Context, tr models.PlaceTransition) (*models.PlaceVisit, error) {
	place, err := g.Place(ctx, tr.PlaceID)
	if err != nil {
		return nil, err
	}

	kind := string(tr.Kind)
	if !place.IsActive {
		g.metrics.IncPlaceTransition(kind, PlaceInactive)
		g.logger.Debug("GeofenceTracker.HandleTransition: ignoring inactive place", "place_id", place.ID, "kind", kind)
		return nil, nil
	}

	at := tr.Timestamp
	if at.IsZero() {
		at = g.now()
	}

	// Fall back to the place center when the platform gave no location
	loc := spatial.Point{Lat: place.CenterLat, Lon: place.CenterLon}
	if tr.Latitude != nil && tr.Longitude != nil {
		loc = spatial.Point{Lat: *tr.Latitude, Lon: *tr.Longitude}
	}

	unlock := g.lockPlace(place.ID)
	defer unlock()

	switch tr.Kind {
	case models.PlaceTransitionEnter:
		return g.enter(ctx, place, at, loc)
	case models.PlaceTransitionExit:
		return g.exit(ctx, place, at, loc)
	case models.PlaceTransitionDwell:
		g.metrics.IncPlaceTransition(kind, PlaceDwell)
		g.logger.Info("GeofenceTracker.HandleTransition: dwell", "place_id", place.ID, "place", place.Name, "at", at)
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported place transition %q", tr.Kind)
	}
}

func (g *GeofenceTracker) enter(ctx context.Context, place *models.Place, at time.Time, loc spatial.Point) (*models.PlaceVisit, error) {
	open, err := g.store.GetOpenVisit(ctx, place.ID)
	if err != nil {
		return nil, persistenceError("get open visit", err)
	}
	if open != nil {
		g.metrics.IncPlaceTransition(string(models.PlaceTransitionEnter), PlaceDuplicate)
		g.logger.Debug("GeofenceTracker.enter: visit already open", "place_id", place.ID, "visit_id", open.ID)
		return nil, nil
	}

	if !spatial.WithinRadius(spatial.Point{Lat: place.CenterLat, Lon: place.CenterLon}, loc, place.RadiusMeters) {
		g.logger.Debug("GeofenceTracker.enter: triggering location outside place radius", "place_id", place.ID,
			"lat", loc.Lat, "lon", loc.Lon, "radius_m", place.RadiusMeters)
	}

	event := &models.PlaceTransitionEvent{
		PlaceID:   place.ID,
		EventType: models.PlaceEventEnter,
		Timestamp: at,
		Latitude:  loc.Lat,
		Longitude: loc.Lon,
	}
	if _, err := g.store.InsertTransitionEvent(ctx, event); err != nil {
		g.metrics.IncPersistenceError("insert_transition_event")
		return nil, persistenceError("insert enter event", err)
	}

	visit := &models.PlaceVisit{
		PlaceID:   place.ID,
		EntryTime: at,
		EntryLat:  loc.Lat,
		EntryLon:  loc.Lon,
	}
	if _, err := g.store.InsertVisit(ctx, visit); err != nil {
		g.metrics.IncPersistenceError("insert_visit")
		return nil, persistenceError("insert visit", err)
	}

	g.metrics.IncPlaceTransition(string(models.PlaceTransitionEnter), PlaceOpened)
	g.logger.Info("GeofenceTracker.enter: visit opened", "place_id", place.ID, "place", place.Name, "visit_id", visit.ID)
	return visit, nil
}

// exit appends the EXIT event and closes the open visit. When closing fails the event
// is remembered, so a retried exit for the same visit does not append a second one.
func (g *GeofenceTracker) exit(ctx context.Context, place *models.Place, at time.Time, loc spatial.Point) (*models.PlaceVisit, error) {
	open, err := g.store.GetOpenVisit(ctx, place.ID)
	if err != nil {
		return nil, persistenceError("get open visit", err)
	}

	logged := false
	if open != nil {
		if id, ok := g.exitLogged.Load(place.ID); ok && id.(int64) == open.ID {
			logged = true
		}
	}
	if !logged {
		event := &models.PlaceTransitionEvent{
			PlaceID:   place.ID,
			EventType: models.PlaceEventExit,
			Timestamp: at,
			Latitude:  loc.Lat,
			Longitude: loc.Lon,
		}
		if _, err := g.store.InsertTransitionEvent(ctx, event); err != nil {
			g.metrics.IncPersistenceError("insert_transition_event")
			return nil, persistenceError("insert exit event", err)
		}
	}

	if open == nil {
		g.metrics.IncPlaceTransition(string(models.PlaceTransitionExit), PlaceNoOpenVisit)
		g.logger.Debug("GeofenceTracker.exit: no open visit", "place_id", place.ID)
		return nil, nil
	}

	exitTime := at
	duration := exitTime.Sub(open.EntryTime).Milliseconds()
	lat, lon := loc.Lat, loc.Lon
	open.ExitTime = &exitTime
	open.DurationMillis = &duration
	open.ExitLat = &lat
	open.ExitLon = &lon

	if err := g.store.UpdateVisit(ctx, open); err != nil {
		g.exitLogged.Store(place.ID, open.ID)
		g.metrics.IncPersistenceError("update_visit")
		return nil, persistenceError("close visit", err)
	}
	g.exitLogged.Delete(place.ID)

	g.metrics.IncPlaceTransition(string(models.PlaceTransitionExit), PlaceClosed)
	g.logger.Info("GeofenceTracker.exit: visit closed", "place_id", place.ID, "place", place.Name,
		"visit_id", open.ID, "duration", time.Duration(duration)*time.Millisecond)
	return open, nil
}
