// Package backfill retries bookings that could not be placed when they were
// created.
package backfill

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"table-allocation-backend/config"
	"table-allocation-backend/internal/allocator"
	"table-allocation-backend/internal/apperr"
	"table-allocation-backend/internal/parse"
	"table-allocation-backend/internal/store"
)

// Actor is recorded on audits written by the sweeper.
const Actor = "backfill"

// Dispatcher is told about every booking a sweep places.
type Dispatcher interface {
	Dispatch(bookingID string) bool
}

// Report summarises one sweep of one date. A booking placed by someone else
// while the sweep ran counts as scanned only.
type Report struct {
	Date             string `json:"date"`
	Scanned          int    `json:"scanned"`
	Allocated        int    `json:"allocated"`
	StillUnallocated int    `json:"still_unallocated"`
	Errors           int    `json:"errors"`
}

// Sweeper re-runs the allocator over the unallocated backlog. It takes no
// locks of its own; each allocation is atomic on its own.
type Sweeper struct {
	cfg      config.BackfillConfig
	loc      *time.Location
	store    store.Store
	alloc    *allocator.Allocator
	notifier Dispatcher
	now      func() time.Time
	log      *zap.Logger
}

// NewSweeper creates a sweeper. notifier may be nil.
func NewSweeper(cfg config.BackfillConfig, loc *time.Location, s store.Store, a *allocator.Allocator, notifier Dispatcher, log *zap.Logger) *Sweeper {
	if loc == nil {
		loc = time.UTC
	}
	return &Sweeper{cfg: cfg, loc: loc, store: s, alloc: a, notifier: notifier, now: time.Now, log: log}
}

// Sweep tries to place up to max_attempts unallocated bookings on date.
// Bookings never tried go first, then the ones tried longest ago, so a
// backlog that never fits cannot starve newer bookings. Cancelling ctx stops
// the loop; allocations already made stay.
func (s *Sweeper) Sweep(ctx context.Context, date string) (Report, error) {
	const op = "backfill.Sweep"

	date, err := parse.ParseDate(date)
	if err != nil {
		return Report{}, apperr.ValidationFrom(op, err)
	}
	report := Report{Date: date}

	backlog, err := s.store.ListUnallocated(ctx, date, s.cfg.MaxAttempts)
	if err != nil {
		return report, err
	}

	tried := make([]string, 0, len(backlog))
	defer func() { s.markSwept(ctx, tried) }()

	for _, b := range backlog {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		tried = append(tried, b.ID)

		out, err := s.alloc.Allocate(ctx, allocator.Request{
			BookingID:       b.ID,
			PartySize:       b.PartySize,
			Date:            b.Date,
			StartMinute:     b.StartMinute,
			DurationMinutes: b.DurationMinutes,
			Actor:           Actor,
			Reason:          "backfill sweep",
		})
		switch {
		case err != nil:
			report.Errors++
			report.StillUnallocated++
			s.log.Warn("backfill allocation failed", zap.String("booking_id", b.ID), zap.Error(err))
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return report, err
			}
		case out.Unchanged:
		case out.Allocated:
			report.Allocated++
			if s.notifier != nil {
				s.notifier.Dispatch(b.ID)
			}
		default:
			report.StillUnallocated++
		}
	}

	s.log.Info("backfill sweep finished",
		zap.String("date", report.Date),
		zap.Int("scanned", report.Scanned),
		zap.Int("allocated", report.Allocated),
		zap.Int("still_unallocated", report.StillUnallocated),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

func (s *Sweeper) markSwept(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := s.store.MarkSwept(context.WithoutCancel(ctx), ids, s.now().UTC()); err != nil {
		s.log.Warn("failed to record backfill attempts", zap.Int("bookings", len(ids)), zap.Error(err))
	}
}

// Run sweeps today and the configured lookahead days, then repeats every
// interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info("backfill sweeper is disabled, not starting")
		return
	}
	s.log.Info("starting backfill sweeper",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("lookahead_days", s.cfg.LookaheadDays),
	)

	s.SweepUpcoming(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("backfill sweeper shutting down")
			return
		case <-timer.C:
			s.SweepUpcoming(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// SweepUpcoming runs one sweep per date from today through the lookahead.
func (s *Sweeper) SweepUpcoming(ctx context.Context) []Report {
	today := parse.DateOf(s.now().In(s.loc))

	reports := make([]Report, 0, s.cfg.LookaheadDays+1)
	for i := 0; i <= s.cfg.LookaheadDays; i++ {
		date, err := parse.AddDays(today, i)
		if err != nil {
			s.log.Error("failed to compute sweep date", zap.String("from", today), zap.Int("days", i), zap.Error(err))
			return reports
		}
		report, err := s.Sweep(ctx, date)
		if err != nil {
			s.log.Error("backfill sweep failed", zap.String("date", date), zap.Error(err))
			if ctx.Err() != nil {
				return reports
			}
			continue
		}
		reports = append(reports, report)
	}
	return reports
}
