package allocator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"table-allocation-backend/internal/apperr"
	"table-allocation-backend/internal/availability"
	"table-allocation-backend/internal/model"
	"table-allocation-backend/internal/store"
)

// Transition moves a booking to next if its lifecycle allows it. The write is
// conditional on the status read, so two hosts racing on one booking cannot
// both apply a transition.
func (a *Allocator) Transition(ctx context.Context, bookingID string, next model.BookingStatus) (*model.Booking, error) {
	const op = "allocator.Transition"

	if !next.Valid() {
		return nil, apperr.Validation(op, "unknown status %q", next)
	}

	var updated *model.Booking
	err := a.store.Transaction(ctx, func(tx store.Store) error {
		b, err := tx.GetBooking(ctx, bookingID, true)
		if err != nil {
			return err
		}
		if !b.Status.CanTransition(next) {
			return apperr.InvalidTransition(op, "booking %s cannot go from %s to %s", b.ID, b.Status, next)
		}
		if err := tx.UpdateBookingStatus(ctx, b.ID, b.Status, next); err != nil {
			return err
		}
		b.Status = next
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.log.Info("booking status changed", zap.String("booking_id", bookingID), zap.String("status", string(next)))
	return updated, nil
}

// CreateAndAllocate inserts b and then allocates it. The booking is stored
// even when no table fits or the allocation loses every race; in those cases
// it stays in the backlog and the outcome says so, with LostRace marking the
// second case.
func (a *Allocator) CreateAndAllocate(ctx context.Context, b *model.Booking, actor string) (Outcome, error) {
	const op = "allocator.CreateAndAllocate"

	b.TableID, b.JoinGroupID, b.HeldTableIDs = nil, nil, nil
	if b.DurationMinutes == 0 {
		b.DurationMinutes = a.cfg.DefaultDurationMinutes
	}
	q := availability.Query{Date: b.Date, StartMinute: b.StartMinute, PartySize: b.PartySize, DurationMinutes: b.DurationMinutes}
	if err := q.Validate(); err != nil {
		return Outcome{}, apperr.ValidationFrom(op, err)
	}
	if b.PartySize > a.cfg.MaxPartySize {
		return Outcome{}, apperr.Validation(op, "party size %d exceeds %d", b.PartySize, a.cfg.MaxPartySize)
	}

	if err := a.store.CreateBooking(ctx, b); err != nil {
		return Outcome{}, err
	}

	out, err := a.Allocate(ctx, Request{
		BookingID:       b.ID,
		PartySize:       b.PartySize,
		Date:            b.Date,
		StartMinute:     b.StartMinute,
		DurationMinutes: b.DurationMinutes,
		Actor:           actor,
		Reason:          "booking created",
	})
	if errors.Is(err, apperr.ErrConcurrencyConflict) {
		a.log.Warn("new booking left in backlog", zap.String("booking_id", b.ID), zap.Error(err))
		out.LostRace = true
		return out, nil
	}
	return out, err
}
