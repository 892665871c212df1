package tracker

import (
	"context"

	"github.com/google/uuid"

	"github.com/jengzang/activity-records-go/internal/models"
	"github.com/jengzang/activity-records-go/internal/repository"
)

// DefaultTrackBufferSize is the number of buffered points that triggers a flush
const DefaultTrackBufferSize = 100

// TrackBuffer holds the track points of one movement session.
//
// Points flushed before the session closes are written as pending: no movement
// id, tagged with the session's PendingKey. On close they are either assigned to
// the movement record or deleted, and the retention sweep removes any pending
// point whose session never closed.
type TrackBuffer struct {
	pendingKey string
	limit      int
	points     []models.TrackPoint
	flushed    int
}

// NewTrackBuffer creates an empty buffer with a fresh pending key
func NewTrackBuffer(limit int) *TrackBuffer {
	if limit <= 0 {
		limit = DefaultTrackBufferSize
	}
	return &TrackBuffer{
		pendingKey: uuid.NewString(),
		limit:      limit,
		points:     make([]models.TrackPoint, 0, limit),
	}
}

// Append buffers a point and reports whether the buffer reached its flush size
func (b *TrackBuffer) Append(p models.TrackPoint) bool {
	b.points = append(b.points, p)
	return len(b.points) >= b.limit
}

// Flush writes the buffered points as pending. On failure the points stay buffered.
func (b *TrackBuffer) Flush(ctx context.Context, store repository.MovementStore) (int, error) {
	if len(b.points) == 0 {
		return 0, nil
	}

	batch := make([]models.TrackPoint, len(b.points))
	for i, p := range b.points {
		p.MovementID = nil
		p.PendingKey = b.pendingKey
		batch[i] = p
	}

	if err := store.InsertTrackPoints(ctx, batch); err != nil {
		return 0, err
	}

	n := len(batch)
	b.flushed += n
	b.points = make([]models.TrackPoint, 0, b.limit)
	return n, nil
}

// Take removes and returns the points not yet flushed
func (b *TrackBuffer) Take() []models.TrackPoint {
	out := b.points
	b.points = nil
	return out
}

// PendingKey returns the session handle stamped on flushed points
func (b *TrackBuffer) PendingKey() string {
	return b.pendingKey
}

// Len returns the number of buffered, unflushed points
func (b *TrackBuffer) Len() int {
	return len(b.points)
}

// Flushed returns the number of points already written as pending
func (b *TrackBuffer) Flushed() int {
	return b.flushed
}
