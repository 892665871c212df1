package tracker

import (
	"context"
	"time"

	"github.com/jengzang/activity-records-go/internal/models"
	"github.com/jengzang/activity-records-go/internal/repository"
)

// sleepCandidate is a closed still interval waiting for the sleep detector
type sleepCandidate struct {
	start, end time.Time
	lat, lon   *float64
}

// emission is the persisted output of one closed session.
//
// Each step records its completion so a retry resumes at the failed step.
// Classification never runs again for a queued emission.
type emission struct {
	session string // "still" or "movement"

	still    *models.StillRecord
	movement *models.MovementRecord
	sleep    *sleepCandidate

	// Track points of a movement session
	pendingKey string
	flushed    int
	points     []models.TrackPoint

	dropPending bool

	stillDone, movementDone, pointsDone, assignDone, updateDone, dropDone, sleepDone bool
}

// persist runs every unfinished step in order and stops at the first failure
func (e *emission) persist(ctx context.Context, store repository.MovementStore, sleep *SleepDetector, metrics *Metrics) error {
	if e.dropPending && !e.dropDone {
		if e.flushed > 0 {
			if _, err := store.DeletePendingTrackPoints(ctx, e.pendingKey); err != nil {
				metrics.IncPersistenceError("delete_pending_track_points")
				return persistenceError("delete pending track points", err)
			}
		}
		e.dropDone = true
	}

	if e.still != nil && !e.stillDone {
		if _, err := store.InsertStill(ctx, e.still); err != nil {
			metrics.IncPersistenceError("insert_still")
			return persistenceError("insert still record", err)
		}
		e.stillDone = true
	}

	if e.movement != nil {
		if err := e.persistMovement(ctx, store, metrics); err != nil {
			return err
		}
	}

	if e.sleep != nil && sleep != nil && !e.sleepDone {
		if _, _, err := sleep.Evaluate(ctx, e.sleep.start, e.sleep.end, e.sleep.lat, e.sleep.lon); err != nil {
			return err
		}
		e.sleepDone = true
	}

	return nil
}

func (e *emission) persistMovement(ctx context.Context, store repository.MovementStore, metrics *Metrics) error {
	m := e.movement

	if !e.movementDone {
		m.TrackPointCount = 0
		if _, err := store.InsertMovement(ctx, m); err != nil {
			metrics.IncPersistenceError("insert_movement")
			return persistenceError("insert movement record", err)
		}
		e.movementDone = true
	}

	if !e.pointsDone {
		if len(e.points) > 0 {
			id := m.ID
			batch := make([]models.TrackPoint, len(e.points))
			for i, p := range e.points {
				p.MovementID = &id
				p.PendingKey = ""
				batch[i] = p
			}
			if err := store.InsertTrackPoints(ctx, batch); err != nil {
				metrics.IncPersistenceError("insert_track_points")
				return persistenceError("insert track points", err)
			}
		}
		e.pointsDone = true
	}

	if !e.assignDone {
		if e.flushed > 0 {
			if _, err := store.AssignTrackPoints(ctx, e.pendingKey, m.ID); err != nil {
				metrics.IncPersistenceError("assign_track_points")
				return persistenceError("assign track points", err)
			}
		}
		e.assignDone = true
	}

	if !e.updateDone {
		m.TrackPointCount = e.flushed + len(e.points)
		if err := store.UpdateMovement(ctx, m); err != nil {
			metrics.IncPersistenceError("update_movement")
			return persistenceError("update movement record", err)
		}
		e.updateDone = true
	}

	return nil
}
