// Package scheduler runs reconciliation pulls on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/orquestrix/internal/logger"
	"github.com/zulandar/orquestrix/internal/reconcile"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Puller pulls one resource kind into the local store.
type Puller interface {
	Pull(ctx context.Context, db *gorm.DB, kind string) (reconcile.Result, error)
}

// Scheduler fires a pull of every kind at each schedule tick.
type Scheduler struct {
	expr   string
	sched  cron.Schedule
	db     *gorm.DB
	puller Puller
	kinds  []string
	log    *logger.Logger
}

// Validate reports whether expr is a valid 5-field cron expression.
func Validate(expr string) error {
	if _, err := cronParser.Parse(strings.TrimSpace(expr)); err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", expr, err)
	}
	return nil
}

// New returns a Scheduler pulling reconcile.Kinds on expr.
func New(expr string, db *gorm.DB, puller Puller, log *logger.Logger) (*Scheduler, error) {
	expr = strings.TrimSpace(expr)
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", expr, err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		expr:   expr,
		sched:  sched,
		db:     db,
		puller: puller,
		kinds:  append([]string(nil), reconcile.Kinds...),
		log:    log.With("component", "scheduler"),
	}, nil
}

// Next returns the first fire time after from.
func (s *Scheduler) Next(from time.Time) time.Time {
	return s.sched.Next(from)
}

// Run fires at each tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduled sync enabled", "schedule", s.expr)
	for {
		wait := time.Until(s.Next(time.Now()))
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		s.RunOnce(ctx)
	}
}

// RunOnce pulls every kind in order. A failed pull is logged and the rest
// still run. It returns the number of failed pulls.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	failed := 0
	for _, kind := range s.kinds {
		if ctx.Err() != nil {
			return failed
		}
		res, err := s.puller.Pull(ctx, s.db, kind)
		if err != nil {
			failed++
			s.log.Warn("scheduled pull failed", "kind", kind, "error", err.Error())
			continue
		}
		s.log.Info("scheduled pull done", "kind", kind, "added", res.Added, "updated", res.Updated)
	}
	return failed
}
