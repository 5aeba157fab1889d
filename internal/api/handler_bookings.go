package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"table-allocation-backend/internal/allocator"
	"table-allocation-backend/internal/apperr"
	"table-allocation-backend/internal/model"
	"table-allocation-backend/internal/parse"
)

type bookingResponse struct {
	ID              string              `json:"id"`
	GuestID         *string             `json:"guest_id"`
	PartySize       int                 `json:"party_size"`
	Date            string              `json:"date"`
	Time            string              `json:"time"`
	StartMinute     int                 `json:"start_minute"`
	DurationMinutes int                 `json:"duration_minutes"`
	TableID         *string             `json:"table_id"`
	JoinGroupID     *string             `json:"join_group_id,omitempty"`
	TableIDs        []string            `json:"table_ids"`
	IsUnallocated   bool                `json:"is_unallocated"`
	Status          model.BookingStatus `json:"status"`
	Source          model.BookingSource `json:"source"`
	Notes           string              `json:"notes,omitempty"`
}

func newBookingResponse(b *model.Booking) bookingResponse {
	tables := b.Tables()
	if tables == nil {
		tables = []string{}
	}
	return bookingResponse{
		ID:              b.ID,
		GuestID:         b.GuestID,
		PartySize:       b.PartySize,
		Date:            b.Date,
		Time:            parse.FormatTimeOfDay(b.StartMinute),
		StartMinute:     b.StartMinute,
		DurationMinutes: b.DurationMinutes,
		TableID:         b.TableID,
		JoinGroupID:     b.JoinGroupID,
		TableIDs:        tables,
		IsUnallocated:   b.IsUnallocated,
		Status:          b.Status,
		Source:          b.Source,
		Notes:           b.Notes,
	}
}

type createBookingRequest struct {
	GuestID   *string             `json:"guest_id"`
	PartySize int                 `json:"party_size" binding:"required"`
	Date      string              `json:"date" binding:"required"`
	Time      string              `json:"time" binding:"required"`
	Duration  int                 `json:"duration"`
	Status    model.BookingStatus `json:"status"`
	Source    model.BookingSource `json:"source"`
	Notes     string              `json:"notes"`
	Actor     string              `json:"actor"`
}

// CreateBooking handles POST /api/bookings. The booking is always created;
// when no table fits it lands in the unallocated backlog.
func (h *Handler) CreateBooking(c *gin.Context) {
	ctx := c.Request.Context()

	var req createBookingRequest
	if !bindJSON(c, &req) {
		return
	}
	start, err := parse.ParseTimeOfDay(req.Time)
	if err != nil {
		h.fail(c, apperr.ValidationFrom("api.CreateBooking", err))
		return
	}
	switch req.Status {
	case "", model.BookingPending, model.BookingConfirmed:
	default:
		h.fail(c, apperr.Validation("api.CreateBooking", "a new booking cannot be %s", req.Status))
		return
	}
	switch req.Source {
	case "", model.SourceOnline, model.SourcePhone:
	default:
		h.fail(c, apperr.Validation("api.CreateBooking", "unknown source %q", req.Source))
		return
	}

	b := model.Booking{
		GuestID:         req.GuestID,
		PartySize:       req.PartySize,
		Date:            req.Date,
		StartMinute:     start,
		DurationMinutes: req.Duration,
		Status:          req.Status,
		Source:          req.Source,
		Notes:           req.Notes,
	}
	out, err := h.alloc.CreateAndAllocate(ctx, &b, actorOf(c, req.Actor))
	if err != nil {
		h.fail(c, err)
		return
	}

	stored, err := h.store.GetBooking(ctx, b.ID, false)
	if err != nil {
		h.fail(c, err)
		return
	}
	body := gin.H{"booking": newBookingResponse(stored), "allocation": out}
	if out.LostRace {
		body["kind"] = kindOf(apperr.ErrConcurrencyConflict)
	}
	c.JSON(http.StatusCreated, body)
}

type allocateRequest struct {
	PartySize int                 `json:"party_size"`
	Date      string              `json:"date"`
	Time      string              `json:"time"`
	Duration  int                 `json:"duration"`
	Force     bool                `json:"force"`
	Preferred *model.PriorityItem `json:"preferred"`
	Actor     string              `json:"actor"`
	Reason    string              `json:"reason"`
}

// AllocateBooking handles POST /api/bookings/:id/allocate. Omitted window
// fields default to the booking's stored ones.
func (h *Handler) AllocateBooking(c *gin.Context) {
	ctx := c.Request.Context()

	var req allocateRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	b, err := h.store.GetBooking(ctx, c.Param("id"), false)
	if err != nil {
		h.fail(c, err)
		return
	}
	start, err := timeOrDefault(req.Time, b.StartMinute)
	if err != nil {
		h.fail(c, err)
		return
	}

	r := allocator.Request{
		BookingID:       b.ID,
		PartySize:       b.PartySize,
		Date:            b.Date,
		StartMinute:     start,
		DurationMinutes: req.Duration,
		Actor:           actorOf(c, req.Actor),
		Reason:          req.Reason,
		Force:           req.Force,
		Preferred:       req.Preferred,
	}
	if req.PartySize > 0 {
		r.PartySize = req.PartySize
	}
	if req.Date != "" {
		r.Date = req.Date
	}

	out, err := h.alloc.Allocate(ctx, r)
	if err != nil {
		if errors.Is(err, apperr.ErrConcurrencyConflict) {
			h.fail(c, err, gin.H{"allocation": out})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type statusRequest struct {
	Status model.BookingStatus `json:"status" binding:"required"`
}

// UpdateBookingStatus handles PATCH /api/bookings/:id/status.
func (h *Handler) UpdateBookingStatus(c *gin.Context) {
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}
	b, err := h.alloc.Transition(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(b))
}
