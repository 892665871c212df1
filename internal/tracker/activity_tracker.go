package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jengzang/activity-records-go/internal/models"
	"github.com/jengzang/activity-records-go/internal/repository"
	"github.com/jengzang/activity-records-go/internal/spatial"
)

// TrackerConfig holds movement classification settings
type TrackerConfig struct {
	MovementRadiusMeters float64
	TrackBufferSize      int
	Now                  func() time.Time
}

// ActivityTracker owns the activity state of one subject and its open session.
//
// OnTransition, OnLocationFix, RetryPending and Shutdown mutate session state and
// must be called from a single goroutine (the Engine loop). Current and Subscribe
// are safe for concurrent use.
type ActivityTracker struct {
	store   repository.MovementStore
	sleep   *SleepDetector
	cfg     TrackerConfig
	logger  *slog.Logger
	metrics *Metrics

	mu          sync.RWMutex
	state       models.ActivityState
	subscribers map[chan models.ActivityState]struct{}

	lastKnown *spatial.Point
	still     *StillSession
	movement  *MovementSession
	buffer    *TrackBuffer
	pending   []*emission
}

// NewActivityTracker creates a tracker in the STILL state with no open session.
// sleep may be nil to disable sleep detection.
func NewActivityTracker(store repository.MovementStore, sleep *SleepDetector, cfg TrackerConfig, logger *slog.Logger, metrics *Metrics) *ActivityTracker {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if cfg.MovementRadiusMeters <= 0 {
		cfg.MovementRadiusMeters = DefaultMovementRadiusMeters
	}
	if cfg.TrackBufferSize <= 0 {
		cfg.TrackBufferSize = DefaultTrackBufferSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &ActivityTracker{
		store:   store,
		sleep:   sleep,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		state: models.ActivityState{
			Kind:            models.ActivityStill,
			PollingInterval: models.PollingInterval(models.ActivityStill),
		},
		subscribers: make(map[chan models.ActivityState]struct{}),
	}
}

// Current returns the latest activity state
func (t *ActivityTracker) Current() models.ActivityState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Subscribe returns a channel receiving every state change and a function to cancel it.
// A subscriber that falls behind misses updates; the tracker never blocks on it.
func (t *ActivityTracker) Subscribe(buffer int) (<-chan models.ActivityState, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan models.ActivityState, buffer)

	t.mu.Lock()
	t.subscribers[ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subscribers, ch)
			t.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (t *ActivityTracker) publish(state models.ActivityState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
	for ch := range t.subscribers {
		select {
		case ch <- state:
		default:
			t.metrics.IncSubscriberDrop()
		}
	}
}

func (t *ActivityTracker) eventTime(ts time.Time) time.Time {
	if ts.IsZero() {
		return t.cfg.Now()
	}
	return ts
}

// OnTransition applies one activity enter/exit signal.
// A returned ErrPersistence leaves the classified record queued for RetryPending.
func (t *ActivityTracker) OnTransition(ctx context.Context, ev models.ActivityTransitionEvent) error {
	kind := models.NormalizeActivityKind(ev.Kind)
	at := t.eventTime(ev.Timestamp)
	t.metrics.IncTransition(kind.String(), ev.IsEnter)

	var err error
	if ev.IsEnter {
		err = t.enter(ctx, kind, at)
	} else {
		err = t.exit(ctx, kind, at)
	}

	t.publish(models.ActivityState{
		Kind:            kind,
		IsEntering:      ev.IsEnter,
		PollingInterval: models.PollingInterval(kind),
		UpdatedAt:       at,
	})
	return err
}

func (t *ActivityTracker) enter(ctx context.Context, kind models.ActivityKind, at time.Time) error {
	if kind == models.ActivityStill {
		if t.still != nil {
			t.logger.Debug("ActivityTracker.enter: still session already open", "since", t.still.StartTime)
			return nil
		}

		var err error
		if t.movement != nil {
			t.logger.Debug("ActivityTracker.enter: closing movement session without exit", "kind", t.movement.Kind)
			err = t.closeMovement(ctx, at)
		}

		s := StillSession{StartTime: at}
		if t.lastKnown != nil {
			s = s.WithLocation(*t.lastKnown)
		}
		t.still = &s
		t.logger.Debug("ActivityTracker.enter: still session opened", "at", at, "has_location", s.Location != nil)
		return err
	}

	if t.movement != nil && t.movement.Kind == kind {
		t.logger.Debug("ActivityTracker.enter: movement session already open", "kind", kind, "since", t.movement.StartTime)
		return nil
	}

	var errs []error
	if t.movement != nil {
		t.logger.Debug("ActivityTracker.enter: closing movement session without exit", "kind", t.movement.Kind, "next", kind)
		errs = append(errs, t.closeMovement(ctx, at))
	}
	if t.still != nil {
		t.logger.Debug("ActivityTracker.enter: closing still session without exit", "next", kind)
		errs = append(errs, t.closeStill(ctx, at))
	}

	s := NewMovementSession(kind, at, t.lastKnown)
	t.movement = &s
	t.buffer = NewTrackBuffer(t.cfg.TrackBufferSize)
	t.logger.Debug("ActivityTracker.enter: movement session opened", "kind", kind, "at", at, "has_centroid", s.Centroid != nil)
	return errors.Join(errs...)
}

// exit closes whichever session is open. The session is chosen by the previous
// kind, so an exit carrying a different kind still ends it.
func (t *ActivityTracker) exit(ctx context.Context, kind models.ActivityKind, at time.Time) error {
	switch {
	case t.still != nil:
		if kind != models.ActivityStill {
			t.logger.Debug("ActivityTracker.exit: kind differs from open still session", "kind", kind)
		}
		return t.closeStill(ctx, at)
	case t.movement != nil:
		if kind != t.movement.Kind {
			t.logger.Debug("ActivityTracker.exit: kind differs from open movement session", "kind", kind, "open", t.movement.Kind)
		}
		return t.closeMovement(ctx, at)
	}
	t.logger.Debug("ActivityTracker.exit: no open session", "kind", kind)
	return nil
}

func (t *ActivityTracker) closeStill(ctx context.Context, end time.Time) error {
	s := *t.still
	t.still = nil

	e := &emission{session: "still"}
	e.still = s.Close(end, t.lastKnown)

	candidate := &sleepCandidate{start: s.StartTime, end: end}
	if e.still != nil {
		lat, lon := e.still.Latitude, e.still.Longitude
		candidate.lat, candidate.lon = &lat, &lon
		t.metrics.IncSessionClosed("still", OutcomeStill)
	} else {
		t.metrics.IncSessionClosed("still", OutcomeSkipped)
		t.logger.Warn("ActivityTracker.closeStill: no location known, skipping still record", "start", s.StartTime, "end", end)
	}
	e.sleep = candidate

	return t.emit(ctx, e)
}

func (t *ActivityTracker) closeMovement(ctx context.Context, end time.Time) error {
	s := *t.movement
	buf := t.buffer
	t.movement, t.buffer = nil, nil

	c := Classify(s, end)
	e := &emission{
		session:    "movement",
		pendingKey: buf.PendingKey(),
		flushed:    buf.Flushed(),
	}

	switch {
	case c.Movement != nil:
		e.movement = c.Movement
		e.points = buf.Take()
		t.metrics.IncSessionClosed("movement", OutcomeMoved)
		t.metrics.ObserveMovementDistance(s.Kind.String(), c.Movement.DistanceMeters)
		t.logger.Info("ActivityTracker.closeMovement: movement recorded", "kind", s.Kind,
			"distance_m", c.Movement.DistanceMeters, "path_m", s.PathMeters, "max_distance_m", s.MaxDistanceMeters,
			"points", e.flushed+len(e.points), "duration", end.Sub(s.StartTime))
	case c.Still != nil:
		e.still = c.Still
		e.dropPending = true
		t.metrics.IncSessionClosed("movement", OutcomeCollapsed)
		t.logger.Info("ActivityTracker.closeMovement: stayed within radius, recording still", "kind", s.Kind,
			"max_distance_m", s.MaxDistanceMeters, "radius_m", t.cfg.MovementRadiusMeters)
	default:
		e.dropPending = true
		t.metrics.IncSessionClosed("movement", OutcomeSkipped)
		t.logger.Warn("ActivityTracker.closeMovement: no location known, skipping record", "kind", s.Kind, "start", s.StartTime)
	}

	return t.emit(ctx, e)
}

// emit queues a closed session's output and persists the queue in order
func (t *ActivityTracker) emit(ctx context.Context, e *emission) error {
	t.pending = append(t.pending, e)
	return t.RetryPending(ctx)
}

// RetryPending persists queued emissions in order, stopping at the first failure
func (t *ActivityTracker) RetryPending(ctx context.Context) error {
	defer func() { t.metrics.SetPending(len(t.pending)) }()

	for len(t.pending) > 0 {
		e := t.pending[0]
		if err := e.persist(ctx, t.store, t.sleep, t.metrics); err != nil {
			t.logger.Warn("ActivityTracker.RetryPending: persistence failed, keeping record queued",
				"session", e.session, "queued", len(t.pending), "error", err)
			return err
		}
		t.pending[0] = nil
		t.pending = t.pending[1:]
	}
	return nil
}

// Pending returns the number of queued emissions
func (t *ActivityTracker) Pending() int {
	return len(t.pending)
}

// OnLocationFix routes a fix to the open session
func (t *ActivityTracker) OnLocationFix(ctx context.Context, fix models.LocationFix) error {
	if !models.ValidCoordinates(fix.Latitude, fix.Longitude) {
		t.logger.Warn("ActivityTracker.OnLocationFix: dropping fix with invalid coordinates", "lat", fix.Latitude, "lon", fix.Longitude)
		t.metrics.IncFix(RouteDropped)
		return nil
	}
	fix.Timestamp = t.eventTime(fix.Timestamp)

	p := spatial.Point{Lat: fix.Latitude, Lon: fix.Longitude}
	t.lastKnown = &p

	switch {
	case t.still != nil:
		s := t.still.WithLocation(p)
		t.still = &s
		t.metrics.IncFix(RouteStill)
		return nil

	case t.movement != nil:
		prev := *t.movement
		next := Advance(prev, fix, t.cfg.MovementRadiusMeters)
		t.movement = &next
		t.metrics.IncFix(RouteMovement)

		if next.ExceededThreshold && !prev.ExceededThreshold {
			t.logger.Debug("ActivityTracker.OnLocationFix: left movement radius", "kind", next.Kind,
				"distance_m", next.MaxDistanceMeters, "radius_m", t.cfg.MovementRadiusMeters)
		}

		if t.buffer.Append(models.TrackPointFromFix(fix)) {
			n, err := t.buffer.Flush(ctx, t.store)
			if err != nil {
				t.metrics.IncPersistenceError("insert_track_points")
				t.logger.Warn("ActivityTracker.OnLocationFix: track point flush failed, keeping points buffered",
					"buffered", t.buffer.Len(), "error", err)
				return persistenceError("flush track points", err)
			}
			t.metrics.AddPointsFlushed(n)
			t.logger.Debug("ActivityTracker.OnLocationFix: flushed pending track points", "count", n, "pending_key", t.buffer.PendingKey())
		}
		return nil
	}

	t.metrics.IncFix(RouteDropped)
	t.logger.Debug("ActivityTracker.OnLocationFix: no open session, fix only updates last known location")
	return nil
}

// Shutdown closes any open session at the current time and persists the queue
func (t *ActivityTracker) Shutdown(ctx context.Context) error {
	now := t.cfg.Now()
	var errs []error

	if t.movement != nil {
		t.logger.Info("ActivityTracker.Shutdown: closing open movement session", "kind", t.movement.Kind)
		errs = append(errs, t.closeMovement(ctx, now))
	}
	if t.still != nil {
		t.logger.Info("ActivityTracker.Shutdown: closing open still session", "since", t.still.StartTime)
		errs = append(errs, t.closeStill(ctx, now))
	}
	if len(errs) == 0 && len(t.pending) > 0 {
		errs = append(errs, t.RetryPending(ctx))
	}
	return errors.Join(errs...)
}
