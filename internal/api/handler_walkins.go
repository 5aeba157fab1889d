package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"table-allocation-backend/internal/conflict"
	"table-allocation-backend/internal/model"
	"table-allocation-backend/internal/parse"
	"table-allocation-backend/internal/walkin"
)

type detectRequest struct {
	GuestID   *string            `json:"guest_id"`
	PartySize int                `json:"party_size"`
	Resource  model.PriorityItem `json:"resource"`
	Date      string             `json:"date"`
	Time      string             `json:"time"`
	Duration  int                `json:"duration"`
}

// DetectConflicts handles POST /api/conflicts/detect. Date and time default
// to now at the venue.
func (h *Handler) DetectConflicts(c *gin.Context) {
	var req detectRequest
	if !bindJSON(c, &req) {
		return
	}

	now := h.venueNow()
	p := conflict.ProposedSeating{
		GuestID:         req.GuestID,
		PartySize:       req.PartySize,
		Resource:        req.Resource,
		Date:            req.Date,
		DurationMinutes: req.Duration,
	}
	if p.Date == "" {
		p.Date = parse.DateOf(now)
	}
	if p.DurationMinutes == 0 {
		p.DurationMinutes = h.cfg.WalkIn.DefaultDurationMinutes
	}
	start, err := timeOrDefault(req.Time, parse.MinuteOfDay(now))
	if err != nil {
		h.fail(c, err)
		return
	}
	p.StartMinute = start

	conflicts, err := h.detector.Detect(c.Request.Context(), p)
	if err != nil {
		h.fail(c, err)
		return
	}
	if conflicts == nil {
		conflicts = []conflict.Conflict{}
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts})
}

type walkInSelection struct {
	PartySize int                `json:"party_size"`
	Resource  model.PriorityItem `json:"resource"`
	Date      string             `json:"date"`
	Time      string             `json:"time"`
	Duration  int                `json:"duration"`
	Notes     string             `json:"notes"`
}

func (s walkInSelection) toSelection() (walkin.Selection, error) {
	sel := walkin.Selection{
		PartySize:       s.PartySize,
		Resource:        s.Resource,
		Date:            s.Date,
		DurationMinutes: s.Duration,
		Notes:           s.Notes,
	}
	if s.Time != "" {
		start, err := timeOrDefault(s.Time, 0)
		if err != nil {
			return walkin.Selection{}, err
		}
		sel.StartMinute = &start
	}
	return sel, nil
}

// walkInResponse renders a flow with the booking in its API shape.
type walkInResponse struct {
	walkin.View
	Booking *bookingResponse `json:"booking,omitempty"`
}

func newWalkInResponse(v walkin.View) walkInResponse {
	r := walkInResponse{View: v}
	if v.Booking != nil {
		b := newBookingResponse(v.Booking)
		r.Booking = &b
	}
	return r
}

type guestSearchRequest struct {
	Guest     walkin.GuestInput `json:"guest"`
	Selection walkInSelection   `json:"selection"`
}

type startWalkInRequest struct {
	Actor     string            `json:"actor"`
	Guest     walkin.GuestInput `json:"guest"`
	Selection walkInSelection   `json:"selection"`
}

// StartWalkIn handles POST /api/walkins. When the body already carries the
// guest and selection the guest search step is submitted too.
func (h *Handler) StartWalkIn(c *gin.Context) {
	var req startWalkInRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	f := h.walkins.Start(actorOf(c, req.Actor))
	if req.Selection.PartySize == 0 {
		c.JSON(http.StatusCreated, newWalkInResponse(f.View()))
		return
	}
	h.submitGuestSearch(c, f, guestSearchRequest{Guest: req.Guest, Selection: req.Selection}, http.StatusCreated)
}

// GetWalkIn handles GET /api/walkins/:id.
func (h *Handler) GetWalkIn(c *gin.Context) {
	f, err := h.walkins.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newWalkInResponse(f.View()))
}

// SubmitGuestSearch handles POST /api/walkins/:id/guest.
func (h *Handler) SubmitGuestSearch(c *gin.Context) {
	f, err := h.walkins.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	var req guestSearchRequest
	if !bindJSON(c, &req) {
		return
	}
	h.submitGuestSearch(c, f, req, http.StatusOK)
}

func (h *Handler) submitGuestSearch(c *gin.Context, f *walkin.Flow, req guestSearchRequest, status int) {
	sel, err := req.Selection.toSelection()
	if err != nil {
		h.fail(c, err, gin.H{"flow": newWalkInResponse(f.View())})
		return
	}
	v, err := f.SubmitGuestSearch(c.Request.Context(), req.Guest, sel)
	if err != nil {
		h.fail(c, err, gin.H{"flow": newWalkInResponse(v)})
		return
	}
	c.JSON(status, newWalkInResponse(v))
}

type resolveRequest struct {
	Mode   walkin.Mode           `json:"mode" binding:"required"`
	Choice *walkin.SuggestionRef `json:"choice"`
}

// ResolveWalkIn handles POST /api/walkins/:id/resolve.
func (h *Handler) ResolveWalkIn(c *gin.Context) {
	f, err := h.walkins.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	var req resolveRequest
	if !bindJSON(c, &req) {
		return
	}
	v, err := f.ResolveConflict(req.Mode, req.Choice)
	if err != nil {
		h.fail(c, err, gin.H{"flow": newWalkInResponse(v)})
		return
	}
	c.JSON(http.StatusOK, newWalkInResponse(v))
}

// ConfirmWalkIn handles POST /api/walkins/:id/confirm.
func (h *Handler) ConfirmWalkIn(c *gin.Context) {
	f, err := h.walkins.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	v, err := f.ConfirmValidation(c.Request.Context())
	if err != nil {
		h.fail(c, err, gin.H{"flow": newWalkInResponse(v)})
		return
	}
	c.JSON(http.StatusOK, newWalkInResponse(v))
}

type backRequest struct {
	State walkin.State `json:"state" binding:"required"`
}

// BackWalkIn handles POST /api/walkins/:id/back.
func (h *Handler) BackWalkIn(c *gin.Context) {
	f, err := h.walkins.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	var req backRequest
	if !bindJSON(c, &req) {
		return
	}
	v, err := f.Back(req.State)
	if err != nil {
		h.fail(c, err, gin.H{"flow": newWalkInResponse(v)})
		return
	}
	c.JSON(http.StatusOK, newWalkInResponse(v))
}

// AbortWalkIn handles DELETE /api/walkins/:id.
func (h *Handler) AbortWalkIn(c *gin.Context) {
	f, err := h.walkins.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	f.Abort()
	h.walkins.Remove(f.ID())
	c.Status(http.StatusNoContent)
}
