package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"table-allocation-backend/internal/availability"
	"table-allocation-backend/internal/model"
	"table-allocation-backend/internal/parse"
)

// floorStatusResponse is one table as the host sees it at a moment.
type floorStatusResponse struct {
	tableResponse
	IsAvailable bool                `json:"is_available"`
	BookingID   string              `json:"booking_id,omitempty"`
	PartySize   int                 `json:"party_size,omitempty"`
	Status      model.BookingStatus `json:"status,omitempty"`
	Until       string              `json:"until,omitempty"`
	NextAt      string              `json:"next_at,omitempty"`
}

// GetFloor handles GET /api/floor?date=&time=. Without parameters it shows
// the venue right now.
func (h *Handler) GetFloor(c *gin.Context) {
	ctx := c.Request.Context()

	date, err := h.queryDate(c, "date")
	if err != nil {
		h.fail(c, err)
		return
	}
	minute, err := queryTime(c, "time", parse.MinuteOfDay(h.venueNow()))
	if err != nil {
		h.fail(c, err)
		return
	}

	tables, err := h.directory.ListActiveTables(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	bookings, err := h.store.ListBookingsForDate(ctx, date)
	if err != nil {
		h.fail(c, err)
		return
	}

	// current and next active booking per table
	current := make(map[string]model.Booking)
	next := make(map[string]model.Booking)
	for _, b := range bookings {
		if !b.Status.Active() {
			continue
		}
		for _, id := range b.Tables() {
			if availability.Overlaps(b.StartMinute, b.EndMinute(), minute, minute+1) {
				current[id] = b
			} else if b.StartMinute > minute {
				if n, ok := next[id]; !ok || b.StartMinute < n.StartMinute {
					next[id] = b
				}
			}
		}
	}

	response := make([]floorStatusResponse, 0, len(tables))
	for _, t := range tables {
		row := floorStatusResponse{tableResponse: newTableResponse(t), IsAvailable: true}
		if b, ok := current[t.ID]; ok {
			row.IsAvailable = false
			row.BookingID = b.ID
			row.PartySize = b.PartySize
			row.Status = b.Status
			row.Until = parse.FormatTimeOfDay(b.EndMinute())
		}
		if n, ok := next[t.ID]; ok {
			row.NextAt = parse.FormatTimeOfDay(n.StartMinute)
		}
		response = append(response, row)
	}
	c.JSON(http.StatusOK, response)
}
