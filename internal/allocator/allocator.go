// Package allocator commits bookings to tables under concurrent writers.
//
// Every attempt runs in one transaction: the booking row is locked, the
// snapshot is read (table versions first, then bookings), a candidate is
// chosen and each of its tables is claimed with a version compare-and-swap.
// A writer that committed in between makes the claim fail, so two attempts
// racing for the same last table cannot both succeed.
package allocator

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"go.uber.org/zap"

	"table-allocation-backend/config"
	"table-allocation-backend/internal/apperr"
	"table-allocation-backend/internal/availability"
	"table-allocation-backend/internal/model"
	"table-allocation-backend/internal/parse"
	"table-allocation-backend/internal/store"
)

// SystemActor is recorded on audits written without a named actor.
const SystemActor = "system"

// Request asks for bookingID to be placed for a window.
type Request struct {
	BookingID   string
	PartySize   int
	Date        string
	StartMinute int
	// DurationMinutes falls back to the booking's stored duration, then the configured default.
	DurationMinutes int
	Actor           string
	Reason          string
	// Force reassigns a booking that already holds a table.
	Force bool
	// Preferred pins the allocation to one resource; if that resource is not
	// free the attempt fails with ErrNoCapacity instead of falling through.
	Preferred *model.PriorityItem
	// IgnoreCapacity lets a Preferred resource seat a party larger than it.
	IgnoreCapacity bool
}

// Validate rejects requests that cannot be allocated.
func (r Request) Validate(maxPartySize int) error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.BookingID, validation.Required),
		validation.Field(&r.PartySize, validation.Required, validation.Min(1), validation.Max(maxPartySize)),
		validation.Field(&r.Date, validation.Required, validation.Date(parse.DateLayout)),
		validation.Field(&r.StartMinute, validation.Min(0), validation.Max(parse.MinutesPerDay-1)),
		validation.Field(&r.DurationMinutes, validation.Min(0), validation.Max(parse.MinutesPerDay)),
		validation.Field(&r.Preferred, validation.By(func(value interface{}) error {
			p, _ := value.(*model.PriorityItem)
			if p == nil {
				return nil
			}
			if p.ID == "" || (p.Type != model.ItemTypeTable && p.Type != model.ItemTypeJoinGroup) {
				return errors.New("must name a table or join group")
			}
			return nil
		})),
	)
}

// Outcome reports what an allocation did.
type Outcome struct {
	BookingID   string                 `json:"booking_id"`
	Allocated   bool                   `json:"allocated"`
	Unchanged   bool                   `json:"unchanged,omitempty"`
	Unallocated bool                   `json:"unallocated"`
	Resource    *availability.Resource `json:"resource,omitempty"`
	TableID     string                 `json:"table_id,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	Attempts    int                    `json:"attempts"`
	// LostRace is set when every attempt lost to a concurrent writer and the
	// booking was left in the backlog instead.
	LostRace bool `json:"lost_race,omitempty"`
}

// Allocator assigns bookings to tables.
type Allocator struct {
	store store.Store
	calc  *availability.Calculator
	cfg   config.AllocatorConfig
	log   *zap.Logger
}

// New creates an allocator.
func New(s store.Store, calc *availability.Calculator, cfg config.AllocatorConfig, log *zap.Logger) *Allocator {
	return &Allocator{store: s, calc: calc, cfg: cfg, log: log}
}

// WithStore returns an allocator bound to s. Attempts then run as savepoints
// inside the caller's transaction.
func (a *Allocator) WithStore(s store.Store) *Allocator {
	return &Allocator{store: s, calc: a.calc.WithStore(s), cfg: a.cfg, log: a.log}
}

// Allocate places the booking on the best free resource. When nothing fits the
// booking is flagged unallocated and a nil error is returned. A lost race is
// retried up to the configured budget; after that the booking is left in the
// backlog and ErrConcurrencyConflict is returned.
func (a *Allocator) Allocate(ctx context.Context, req Request) (Outcome, error) {
	const op = "allocator.Allocate"

	if err := req.Validate(a.cfg.MaxPartySize); err != nil {
		return Outcome{}, apperr.ValidationFrom(op, err)
	}
	if req.Actor == "" {
		req.Actor = SystemActor
	}

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxRetries+1; attempt++ {
		out, err := a.attempt(ctx, req)
		if err == nil {
			out.Attempts = attempt
			return out, nil
		}
		if !errors.Is(err, apperr.ErrConcurrencyConflict) {
			return Outcome{BookingID: req.BookingID, Attempts: attempt}, err
		}
		lastErr = err
		a.log.Warn("allocation lost a race",
			zap.String("booking_id", req.BookingID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}

	if err := a.backlog(ctx, req.BookingID); err != nil {
		a.log.Error("failed to move booking to the backlog", zap.String("booking_id", req.BookingID), zap.Error(err))
	}
	return Outcome{BookingID: req.BookingID, Unallocated: true, Attempts: a.cfg.MaxRetries + 1}, lastErr
}

// backlog flags a booking that does not hold a table as unallocated. A booking
// that still holds its previous table keeps it.
func (a *Allocator) backlog(ctx context.Context, bookingID string) error {
	return a.store.Transaction(ctx, func(tx store.Store) error {
		b, err := tx.GetBooking(ctx, bookingID, true)
		if err != nil {
			return err
		}
		if b.Allocated() {
			return nil
		}
		return tx.MarkUnallocated(ctx, bookingID)
	})
}

func (a *Allocator) attempt(ctx context.Context, req Request) (Outcome, error) {
	const op = "allocator.Allocate"
	out := Outcome{BookingID: req.BookingID}

	err := a.store.Transaction(ctx, func(tx store.Store) error {
		b, err := tx.GetBooking(ctx, req.BookingID, true)
		if err != nil {
			return err
		}
		if !b.Status.Active() {
			return apperr.Validation(op, "booking %s is %s", b.ID, b.Status)
		}
		if b.Allocated() && !req.Force {
			out.Allocated, out.Unchanged, out.TableID = true, true, *b.TableID
			return nil
		}

		q := availability.Query{
			Date:             req.Date,
			StartMinute:      req.StartMinute,
			PartySize:        req.PartySize,
			DurationMinutes:  a.duration(req, b),
			ExcludeBookingID: b.ID,
		}
		snap, err := a.calc.WithStore(tx).Load(ctx, q.Date, q.PartySize)
		if err != nil {
			return err
		}

		var chosen availability.Resource
		if req.Preferred != nil {
			chosen, err = a.preferred(snap, q, req)
			if err != nil {
				return err
			}
		} else {
			res := availability.Evaluate(snap, q)
			if !res.Available {
				out.Unallocated, out.Reason = true, res.Reason
				return tx.MarkUnallocated(ctx, b.ID)
			}
			chosen = res.Candidates[0]
		}

		if err := tx.ClaimTables(ctx, chosen.Versions); err != nil {
			return err
		}

		assignment := store.Assignment{
			BookingID:       b.ID,
			TableID:         chosen.TableIDs[0],
			HeldTableIDs:    chosen.TableIDs,
			PartySize:       q.PartySize,
			Date:            q.Date,
			StartMinute:     q.StartMinute,
			DurationMinutes: q.DurationMinutes,
		}
		if chosen.Type == model.ItemTypeJoinGroup {
			groupID := chosen.ID
			assignment.JoinGroupID = &groupID
		}
		if err := tx.AssignBooking(ctx, assignment); err != nil {
			return err
		}

		reason := req.Reason
		if reason == "" {
			reason = "auto-allocation"
			if req.Force {
				reason = "forced reassignment"
			}
		}
		if err := tx.CreateAudit(ctx, &model.AllocationAudit{
			BookingID:       b.ID,
			TableID:         assignment.TableID,
			JoinGroupID:     assignment.JoinGroupID,
			PreviousTableID: b.TableID,
			Actor:           req.Actor,
			Reason:          reason,
		}); err != nil {
			return err
		}

		out.Allocated, out.TableID = true, assignment.TableID
		out.Resource = &chosen
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	if out.Allocated && !out.Unchanged {
		a.log.Info("booking allocated",
			zap.String("booking_id", out.BookingID),
			zap.String("resource_type", string(out.Resource.Type)),
			zap.String("resource_id", out.Resource.ID),
			zap.String("actor", req.Actor),
		)
	} else if out.Unallocated {
		a.log.Info("booking left unallocated", zap.String("booking_id", out.BookingID), zap.String("reason", out.Reason))
	}
	return out, nil
}

func (a *Allocator) duration(req Request, b *model.Booking) int {
	switch {
	case req.DurationMinutes > 0:
		return req.DurationMinutes
	case b.DurationMinutes > 0:
		return b.DurationMinutes
	default:
		return a.cfg.DefaultDurationMinutes
	}
}

func (a *Allocator) preferred(snap availability.Snapshot, q availability.Query, req Request) (availability.Resource, error) {
	const op = "allocator.Allocate"

	r, ok := snap.Resource(*req.Preferred)
	if !ok {
		return availability.Resource{}, apperr.NotFound(op, "%s %s is not an active resource", req.Preferred.Type, req.Preferred.ID)
	}
	if !req.IgnoreCapacity && r.Capacity < q.PartySize {
		return availability.Resource{}, apperr.NoCapacity(op, "%s seats %d, party is %d", r.Label, r.Capacity, q.PartySize)
	}
	if !snap.Free(r, q) {
		return availability.Resource{}, apperr.NoCapacity(op, "%s is occupied at %s", r.Label, parse.FormatTimeOfDay(q.StartMinute))
	}
	return r, nil
}
