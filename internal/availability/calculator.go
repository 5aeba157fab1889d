package availability

import (
	"context"
	"iter"

	validation "github.com/go-ozzo/ozzo-validation"
	"go.uber.org/zap"

	"table-allocation-backend/internal/apperr"
	"table-allocation-backend/internal/catalog"
	"table-allocation-backend/internal/parse"
	"table-allocation-backend/internal/store"
)

// Validate rejects queries that cannot describe a window.
func (q Query) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Date, validation.Required, validation.Date(parse.DateLayout)),
		validation.Field(&q.StartMinute, validation.Min(0), validation.Max(parse.MinutesPerDay-1)),
		validation.Field(&q.PartySize, validation.Required, validation.Min(1)),
		validation.Field(&q.DurationMinutes, validation.Required, validation.Min(1), validation.Max(parse.MinutesPerDay)),
	)
}

// Calculator loads snapshots from the store and evaluates queries against them.
type Calculator struct {
	store     store.Store
	directory *catalog.Directory
	log       *zap.Logger
}

// NewCalculator creates a calculator reading through s and d.
func NewCalculator(s store.Store, d *catalog.Directory, log *zap.Logger) *Calculator {
	return &Calculator{store: s, directory: d, log: log}
}

// WithStore returns a calculator bound to s, typically a transaction.
func (c *Calculator) WithStore(s store.Store) *Calculator {
	return &Calculator{store: s, directory: c.directory.WithStore(s), log: c.log}
}

// Load reads the snapshot for date. Tables, and with them their versions, are
// read before bookings so a later version claim detects any booking committed
// in between.
func (c *Calculator) Load(ctx context.Context, date string, partySize int) (Snapshot, error) {
	tables, err := c.directory.ListActiveTables(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	groups, err := c.directory.ListJoinGroups(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	bookings, err := c.store.ListBookingsForDate(ctx, date)
	if err != nil {
		return Snapshot{}, err
	}
	priority, err := c.directory.PriorityOrder(ctx, partySize)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Tables: tables, Groups: groups, Bookings: bookings, Priority: priority}, nil
}

// CheckAvailability returns the ranked free candidates for q.
func (c *Calculator) CheckAvailability(ctx context.Context, q Query) (Result, error) {
	if err := q.Validate(); err != nil {
		return Result{}, apperr.ValidationFrom("availability.CheckAvailability", err)
	}

	snap, err := c.Load(ctx, q.Date, q.PartySize)
	if err != nil {
		return Result{}, err
	}
	res := Evaluate(snap, q)
	c.log.Debug("availability checked",
		zap.String("date", q.Date),
		zap.Int("start_minute", q.StartMinute),
		zap.Int("party_size", q.PartySize),
		zap.Int("candidates", len(res.Candidates)),
		zap.String("reason", res.Reason),
	)
	return res, nil
}

// FindAvailableSlots yields every start minute in [rangeStart, rangeEnd],
// stepping by step, at which a party of partySize can be seated for
// duration minutes. Each range over the sequence loads a fresh snapshot and
// starts again at rangeStart. Invalid arguments yield a single error.
func (c *Calculator) FindAvailableSlots(ctx context.Context, date string, partySize, rangeStart, rangeEnd, duration, step int) iter.Seq2[int, error] {
	const op = "availability.FindAvailableSlots"

	return func(yield func(int, error) bool) {
		if step <= 0 {
			yield(0, apperr.Validation(op, "step must be positive, got %d", step))
			return
		}
		if rangeStart < 0 || rangeEnd >= parse.MinutesPerDay || rangeStart > rangeEnd {
			yield(0, apperr.Validation(op, "invalid range %d..%d", rangeStart, rangeEnd))
			return
		}
		base := Query{Date: date, StartMinute: rangeStart, PartySize: partySize, DurationMinutes: duration}
		if err := base.Validate(); err != nil {
			yield(0, apperr.ValidationFrom(op, err))
			return
		}

		snap, err := c.Load(ctx, date, partySize)
		if err != nil {
			yield(0, err)
			return
		}

		for minute := rangeStart; minute <= rangeEnd; minute += step {
			if err := ctx.Err(); err != nil {
				yield(0, err)
				return
			}
			q := base
			q.StartMinute = minute
			if !Evaluate(snap, q).Available {
				continue
			}
			if !yield(minute, nil) {
				return
			}
		}
	}
}
