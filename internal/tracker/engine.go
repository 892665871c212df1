package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/jengzang/activity-records-go/internal/models"
)

// EngineConfig holds event loop settings
type EngineConfig struct {
	QueueSize       int
	RetryAttempts   uint
	RetryDelay      time.Duration
	RetryMaxDelay   time.Duration
	RetryInterval   time.Duration // periodic retry of queued emissions
	ShutdownTimeout time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// event is one queued activity transition or location fix
type event struct {
	transition *models.ActivityTransitionEvent
	fix        *models.LocationFix
}

// Engine serializes activity transitions and location fixes through one ordered
// queue so the tracker never sees interleaved mutations. Place transitions bypass
// the queue and rely on the geofence tracker's per-place locks.
type Engine struct {
	tracker  *ActivityTracker
	geofence *GeofenceTracker
	cfg      EngineConfig
	logger   *slog.Logger

	events   chan event
	stopping chan struct{}
	done     chan struct{}

	mu      sync.RWMutex
	stopped bool
	once    sync.Once
}

// NewEngine creates an engine. Call Run to start processing.
func NewEngine(tracker *ActivityTracker, geofence *GeofenceTracker, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		tracker:  tracker,
		geofence: geofence,
		cfg:      cfg,
		logger:   logger,
		events:   make(chan event, cfg.QueueSize),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Tracker returns the activity tracker driven by the engine
func (e *Engine) Tracker() *ActivityTracker {
	return e.tracker
}

// Geofence returns the geofence tracker
func (e *Engine) Geofence() *GeofenceTracker {
	return e.geofence
}

// Done is closed once Run has drained the queue and shut the tracker down
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// SubmitTransition queues an activity transition
func (e *Engine) SubmitTransition(ctx context.Context, ev models.ActivityTransitionEvent) error {
	return e.submit(ctx, event{transition: &ev})
}

// SubmitFix queues a location fix
func (e *Engine) SubmitFix(ctx context.Context, fix models.LocationFix) error {
	return e.submit(ctx, event{fix: &fix})
}

func (e *Engine) submit(ctx context.Context, ev event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return ErrEngineStopped
	}

	select {
	case e.events <- ev:
		return nil
	case <-e.stopping:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandlePlaceTransition applies a geofence callback on the caller's goroutine
func (e *Engine) HandlePlaceTransition(ctx context.Context, tr models.PlaceTransition) (*models.PlaceVisit, error) {
	return e.geofence.HandleTransition(ctx, tr)
}

// Run processes events until ctx is cancelled, then drains the queue and closes
// any open session. It returns the shutdown error, if any.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Engine.Run: starting event loop", "queue_size", e.cfg.QueueSize)

	ticker := time.NewTicker(e.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.shutdown(ctx)
		case ev := <-e.events:
			e.handle(ctx, ev)
		case <-ticker.C:
			if e.tracker.Pending() > 0 {
				e.retryPending(ctx)
			}
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev event) {
	var err error
	switch {
	case ev.transition != nil:
		err = e.tracker.OnTransition(ctx, *ev.transition)
	case ev.fix != nil:
		err = e.tracker.OnLocationFix(ctx, *ev.fix)
	}
	if err == nil {
		return
	}

	if errors.Is(err, ErrPersistence) && e.tracker.Pending() > 0 {
		e.retryPending(ctx)
		return
	}
	e.logger.Error("Engine.handle: event failed", "error", err)
}

// retryPending re-persists queued emissions with jittered backoff.
// Emissions still failing afterwards stay queued for the next close or tick.
func (e *Engine) retryPending(ctx context.Context) {
	err := retry.Do(
		func() error {
			return e.tracker.RetryPending(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(e.cfg.RetryAttempts),
		retry.Delay(e.cfg.RetryDelay),
		retry.MaxDelay(e.cfg.RetryMaxDelay),
		retry.DelayType(retry.FullJitterBackoffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			e.logger.Debug("Engine.retryPending: retrying", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		e.logger.Error("Engine.retryPending: records still queued", "pending", e.tracker.Pending(), "error", err)
	}
}

func (e *Engine) shutdown(ctx context.Context) error {
	e.logger.Info("Engine.shutdown: draining queued events", "queued", len(e.events))

	// Unblock submitters waiting on a full queue, then refuse new events
	e.once.Do(func() { close(e.stopping) })
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ShutdownTimeout)
	defer cancel()

drain:
	for {
		select {
		case ev := <-e.events:
			e.handle(drainCtx, ev)
		default:
			break drain
		}
	}

	err := e.tracker.Shutdown(drainCtx)
	if err != nil {
		e.logger.Error("Engine.shutdown: open sessions not fully persisted", "pending", e.tracker.Pending(), "error", err)
	} else {
		e.logger.Info("Engine.shutdown: stopped")
	}
	close(e.done)
	return err
}
