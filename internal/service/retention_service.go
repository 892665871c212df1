package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jengzang/activity-records-go/internal/repository"
)

// RetentionConfig holds retention settings
type RetentionConfig struct {
	MaxAge        time.Duration // records older than this are deleted; <= 0 keeps them forever
	PendingMaxAge time.Duration // unassigned track points older than this are deleted
	Interval      time.Duration
	Now           func() time.Time
}

// RetentionResult counts what one sweep deleted
type RetentionResult struct {
	Still         int64 `json:"still"`
	Movement      int64 `json:"movement"`
	Events        int64 `json:"events"`
	Visits        int64 `json:"visits"`
	PendingPoints int64 `json:"pending_points"`
}

// Total returns the number of deleted rows
func (r RetentionResult) Total() int64 {
	return r.Still + r.Movement + r.Events + r.Visits + r.PendingPoints
}

// RetentionService periodically deletes aged records and orphaned pending track points
type RetentionService struct {
	store  repository.RetentionStore
	cfg    RetentionConfig
	logger *slog.Logger
}

// NewRetentionService creates a new retention service
func NewRetentionService(store repository.RetentionStore, cfg RetentionConfig, logger *slog.Logger) *RetentionService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.PendingMaxAge <= 0 {
		cfg.PendingMaxAge = 48 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RetentionService{store: store, cfg: cfg, logger: logger}
}

// Sweep runs one retention pass. Every step runs even when an earlier one fails.
func (s *RetentionService) Sweep(ctx context.Context) (RetentionResult, error) {
	var (
		res  RetentionResult
		errs []error
	)
	now := s.cfg.Now()

	step := func(name string, fn func(context.Context, time.Time) (int64, error), cutoff time.Time, dst *int64) {
		n, err := fn(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			return
		}
		*dst = n
	}

	if s.cfg.MaxAge > 0 {
		cutoff := now.Add(-s.cfg.MaxAge)
		step("still records", s.store.DeleteStillBefore, cutoff, &res.Still)
		step("movement records", s.store.DeleteMovementBefore, cutoff, &res.Movement)
		step("transition events", s.store.DeleteEventsBefore, cutoff, &res.Events)
		step("visits", s.store.DeleteVisitsBefore, cutoff, &res.Visits)
	}
	step("pending track points", s.store.DeletePendingTrackPointsBefore, now.Add(-s.cfg.PendingMaxAge), &res.PendingPoints)

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("RetentionService.Sweep: sweep incomplete", "error", err)
	}
	if res.Total() > 0 {
		s.logger.Info("RetentionService.Sweep: deleted aged records", "still", res.Still, "movement", res.Movement,
			"events", res.Events, "visits", res.Visits, "pending_points", res.PendingPoints)
	}
	return res, err
}

// Run sweeps once immediately and then every interval until ctx is cancelled.
func (s *RetentionService) Run(ctx context.Context) {
	s.logger.Info("RetentionService.Run: starting", "interval", s.cfg.Interval, "max_age", s.cfg.MaxAge)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	_, _ = s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("RetentionService.Run: stopping")
			return
		case <-ticker.C:
			_, _ = s.Sweep(ctx)
		}
	}
}
