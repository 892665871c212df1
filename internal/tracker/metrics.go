package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names
const (
	MetricActivityTransitionsTotal = "activity_transitions_total"
	MetricLocationFixesTotal       = "location_fixes_total"
	MetricSessionsClosedTotal      = "activity_sessions_closed_total"
	MetricMovementDistance         = "movement_distance_meters"
	MetricTrackPointsFlushedTotal  = "track_points_flushed_total"
	MetricSleepEvaluationsTotal    = "sleep_evaluations_total"
	MetricPlaceTransitionsTotal    = "place_transitions_total"
	MetricPersistenceErrorsTotal   = "persistence_errors_total"
	MetricPendingEmissions         = "pending_emissions"
	MetricSubscriberDropsTotal     = "activity_subscriber_drops_total"
)

// Session outcome labels
const (
	OutcomeStill     = "still"
	OutcomeMoved     = "moved"
	OutcomeCollapsed = "collapsed"
	OutcomeSkipped   = "skipped"
)

// Fix routing labels
const (
	RouteStill    = "still"
	RouteMovement = "movement"
	RouteDropped  = "dropped"
)

// Metrics contains Prometheus metrics for the classification core.
// All operations are thread-safe.
type Metrics struct {
	transitions      *prometheus.CounterVec
	fixes            *prometheus.CounterVec
	sessionsClosed   *prometheus.CounterVec
	movementDistance *prometheus.HistogramVec
	pointsFlushed    prometheus.Counter
	sleepEvaluations *prometheus.CounterVec
	placeTransitions *prometheus.CounterVec
	persistErrors    *prometheus.CounterVec
	pending          prometheus.Gauge
	subscriberDrops  prometheus.Counter
}

// NewMetrics creates a Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricActivityTransitionsTotal,
				Help: "Total number of activity transitions by normalized kind and direction",
			},
			[]string{"kind", "direction"},
		),
		fixes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricLocationFixesTotal,
				Help: "Total number of location fixes by the session they were routed to",
			},
			[]string{"route"},
		),
		sessionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSessionsClosedTotal,
				Help: "Total number of closed activity sessions by session type and outcome",
			},
			[]string{"session", "outcome"},
		),
		movementDistance: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricMovementDistance,
				Help:    "Straight-line distance of persisted movement sessions in meters",
				Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 25000, 50000, 100000},
			},
			[]string{"kind"},
		),
		pointsFlushed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricTrackPointsFlushedTotal,
				Help: "Total number of track points written as pending before their session closed",
			},
		),
		sleepEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSleepEvaluationsTotal,
				Help: "Total number of sleep evaluations by decision",
			},
			[]string{"decision"},
		),
		placeTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPlaceTransitionsTotal,
				Help: "Total number of place transitions by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		persistErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPersistenceErrorsTotal,
				Help: "Total number of failed store operations by operation",
			},
			[]string{"operation"},
		),
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricPendingEmissions,
				Help: "Number of classified records waiting to be persisted",
			},
		),
		subscriberDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricSubscriberDropsTotal,
				Help: "Total number of activity state updates dropped because a subscriber was full",
			},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.transitions,
		m.fixes,
		m.sessionsClosed,
		m.movementDistance,
		m.pointsFlushed,
		m.sleepEvaluations,
		m.placeTransitions,
		m.persistErrors,
		m.pending,
		m.subscriberDrops,
	}
}

// IncTransition counts an activity transition.
func (m *Metrics) IncTransition(kind string, enter bool) {
	direction := "exit"
	if enter {
		direction = "enter"
	}
	m.transitions.WithLabelValues(kind, direction).Inc()
}

// IncFix counts a location fix by route (RouteStill, RouteMovement or RouteDropped).
func (m *Metrics) IncFix(route string) {
	m.fixes.WithLabelValues(route).Inc()
}

// IncSessionClosed counts a closed session.
// session: "still" or "movement"
// outcome: OutcomeStill, OutcomeMoved, OutcomeCollapsed or OutcomeSkipped
func (m *Metrics) IncSessionClosed(session, outcome string) {
	m.sessionsClosed.WithLabelValues(session, outcome).Inc()
}

// ObserveMovementDistance records the distance of a persisted movement.
func (m *Metrics) ObserveMovementDistance(kind string, meters float64) {
	m.movementDistance.WithLabelValues(kind).Observe(meters)
}

// AddPointsFlushed counts track points written as pending.
func (m *Metrics) AddPointsFlushed(n int) {
	m.pointsFlushed.Add(float64(n))
}

// IncSleepEvaluation counts a sleep decision.
func (m *Metrics) IncSleepEvaluation(decision SleepDecision) {
	m.sleepEvaluations.WithLabelValues(string(decision)).Inc()
}

// IncPlaceTransition counts a place transition.
func (m *Metrics) IncPlaceTransition(kind, outcome string) {
	m.placeTransitions.WithLabelValues(kind, outcome).Inc()
}

// IncPersistenceError counts a failed store operation.
func (m *Metrics) IncPersistenceError(operation string) {
	m.persistErrors.WithLabelValues(operation).Inc()
}

// SetPending sets the number of queued emissions.
func (m *Metrics) SetPending(n int) {
	m.pending.Set(float64(n))
}

// IncSubscriberDrop counts a dropped state notification.
func (m *Metrics) IncSubscriberDrop() {
	m.subscriberDrops.Inc()
}
