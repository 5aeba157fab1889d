package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"table-allocation-backend/internal/apperr"
	"table-allocation-backend/internal/availability"
	"table-allocation-backend/internal/parse"
)

// GetAvailability handles GET /api/availability?date&time&party_size&duration.
func (h *Handler) GetAvailability(c *gin.Context) {
	q, err := h.availabilityQuery(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.calc.CheckAvailability(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) availabilityQuery(c *gin.Context) (availability.Query, error) {
	date, err := h.queryDate(c, "date")
	if err != nil {
		return availability.Query{}, err
	}
	if c.Query("time") == "" {
		return availability.Query{}, apperr.Validation("api", "time is required")
	}
	start, err := queryTime(c, "time", 0)
	if err != nil {
		return availability.Query{}, err
	}
	party, err := queryInt(c, "party_size", 0)
	if err != nil {
		return availability.Query{}, err
	}
	duration, err := queryInt(c, "duration", h.cfg.Allocator.DefaultDurationMinutes)
	if err != nil {
		return availability.Query{}, err
	}
	return availability.Query{Date: date, StartMinute: start, PartySize: party, DurationMinutes: duration}, nil
}

type slotResponse struct {
	Minute int    `json:"minute"`
	Time   string `json:"time"`
}

// GetSlots handles GET /api/availability/slots?date&party_size&from&to&duration&step.
func (h *Handler) GetSlots(c *gin.Context) {
	date, err := h.queryDate(c, "date")
	if err != nil {
		h.fail(c, err)
		return
	}
	party, err := queryInt(c, "party_size", 0)
	if err != nil {
		h.fail(c, err)
		return
	}
	from, err := queryTime(c, "from", 0)
	if err != nil {
		h.fail(c, err)
		return
	}
	to, err := queryTime(c, "to", parse.MinutesPerDay-1)
	if err != nil {
		h.fail(c, err)
		return
	}
	duration, err := queryInt(c, "duration", h.cfg.Allocator.DefaultDurationMinutes)
	if err != nil {
		h.fail(c, err)
		return
	}
	step, err := queryInt(c, "step", 15)
	if err != nil {
		h.fail(c, err)
		return
	}

	slots := make([]slotResponse, 0)
	for minute, err := range h.calc.FindAvailableSlots(c.Request.Context(), date, party, from, to, duration, step) {
		if err != nil {
			h.fail(c, err)
			return
		}
		slots = append(slots, slotResponse{Minute: minute, Time: parse.FormatTimeOfDay(minute)})
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "party_size": party, "slots": slots})
}
