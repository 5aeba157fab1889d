// Package walkin drives the host-side flow that seats a guest who arrives
// without a reservation: identify the guest, resolve conflicts at the chosen
// table, then commit. Nothing is written until the commit step succeeds.
package walkin

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"go.uber.org/zap"

	"table-allocation-backend/config"
	"table-allocation-backend/internal/allocator"
	"table-allocation-backend/internal/apperr"
	"table-allocation-backend/internal/conflict"
	"table-allocation-backend/internal/model"
	"table-allocation-backend/internal/parse"
	"table-allocation-backend/internal/store"
)

// Mode selects how ResolveConflict clears the detected conflicts.
type Mode string

const (
	// ModeAuto applies the first suggestion of every conflict, least severe first.
	ModeAuto Mode = "auto"
	// ModeManual applies one suggestion picked by the host.
	ModeManual Mode = "manual"
	// ModeForce seats the party as proposed.
	ModeForce Mode = "force"
)

// GuestInput identifies the guest. An ID selects a known guest; otherwise the
// phone number is matched and a new guest is created at commit if none exists.
type GuestInput struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

func (g GuestInput) Validate() error {
	name := []validation.Rule{validation.Length(0, 128)}
	if g.ID == "" {
		name = append(name, validation.Required)
	}
	return validation.ValidateStruct(&g,
		validation.Field(&g.Name, name...),
		validation.Field(&g.Phone, validation.Length(0, 32)),
		validation.Field(&g.Email, is.Email),
	)
}

// Selection is the tentative seating. Date and StartMinute default to now in
// the venue's timezone.
type Selection struct {
	PartySize       int                `json:"party_size"`
	Resource        model.PriorityItem `json:"resource"`
	Date            string             `json:"date,omitempty"`
	StartMinute     *int               `json:"start_minute,omitempty"`
	DurationMinutes int                `json:"duration_minutes,omitempty"`
	Notes           string             `json:"notes,omitempty"`
}

func (s Selection) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.PartySize, validation.Required, validation.Min(1)),
		validation.Field(&s.Resource, validation.By(func(value interface{}) error {
			item, _ := value.(model.PriorityItem)
			if item.ID == "" || (item.Type != model.ItemTypeTable && item.Type != model.ItemTypeJoinGroup) {
				return errors.New("must name a table or join group")
			}
			return nil
		})),
		validation.Field(&s.Date, validation.Date(parse.DateLayout)),
		validation.Field(&s.DurationMinutes, validation.Min(0), validation.Max(parse.MinutesPerDay)),
		validation.Field(&s.Notes, validation.Length(0, 512)),
	)
}

// SuggestionRef points at one suggestion of one detected conflict.
type SuggestionRef struct {
	Conflict   int `json:"conflict"`
	Suggestion int `json:"suggestion"`
}

// View is a read-only copy of a flow.
type View struct {
	ID        string              `json:"id"`
	Actor     string              `json:"actor"`
	State     State               `json:"state"`
	Path      []State             `json:"path"`
	Guest     GuestInput          `json:"guest"`
	Known     bool                `json:"known_guest"`
	Selection Selection           `json:"selection"`
	Conflicts []conflict.Conflict `json:"conflicts"`
	Forced    bool                `json:"forced"`
	Booking   *model.Booking      `json:"booking,omitempty"`
	Outcome   *allocator.Outcome  `json:"outcome,omitempty"`
	LastError string              `json:"last_error,omitempty"`
}

// Orchestrator holds the collaborators shared by every flow.
type Orchestrator struct {
	store    store.Store
	detector *conflict.Detector
	alloc    *allocator.Allocator
	cfg      config.WalkInConfig
	loc      *time.Location
	now      func() time.Time
	log      *zap.Logger
}

// NewOrchestrator creates an orchestrator. loc is the venue's timezone.
func NewOrchestrator(s store.Store, d *conflict.Detector, a *allocator.Allocator, cfg config.WalkInConfig, loc *time.Location, log *zap.Logger) *Orchestrator {
	if loc == nil {
		loc = time.UTC
	}
	return &Orchestrator{store: s, detector: d, alloc: a, cfg: cfg, loc: loc, now: time.Now, log: log}
}

// NewFlow starts a flow at guest search on behalf of actor.
func (o *Orchestrator) NewFlow(id, actor string) *Flow {
	return &Flow{id: id, actor: actor, o: o, m: NewMachine()}
}

// Flow is one walk-in in progress. It is safe for concurrent use; steps are
// serialised.
type Flow struct {
	mu    sync.Mutex
	id    string
	actor string
	o     *Orchestrator

	m         Machine
	guest     GuestInput
	known     *model.Guest
	sel       Selection
	conflicts []conflict.Conflict
	forced    bool
	booking   *model.Booking
	outcome   *allocator.Outcome
	lastErr   error
}

func (f *Flow) ID() string {
	return f.id
}

// View returns the flow's current state.
func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view()
}

func (f *Flow) view() View {
	v := View{
		ID:        f.id,
		Actor:     f.actor,
		State:     f.m.State(),
		Path:      f.m.Path(),
		Guest:     f.guest,
		Known:     f.known != nil,
		Selection: f.sel,
		Conflicts: append([]conflict.Conflict{}, f.conflicts...),
		Forced:    f.forced,
		Booking:   f.booking,
		Outcome:   f.outcome,
	}
	if f.lastErr != nil {
		v.LastError = f.lastErr.Error()
	}
	return v
}

// SubmitGuestSearch records the guest and tentative seating, then runs the
// conflict detector. The flow moves to conflict resolution when anything is
// found and straight to validation otherwise.
func (f *Flow) SubmitGuestSearch(ctx context.Context, guest GuestInput, sel Selection) (View, error) {
	const op = "walkin.SubmitGuestSearch"

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.m.Require(op, StateGuestSearch); err != nil {
		return f.view(), err
	}
	if err := (validation.Errors{"guest": guest.Validate(), "selection": sel.Validate()}).Filter(); err != nil {
		return f.view(), apperr.ValidationFrom(op, err)
	}

	known, err := f.o.lookupGuest(ctx, guest)
	if err != nil {
		return f.view(), err
	}

	now := f.o.now().In(f.o.loc)
	if sel.Date == "" {
		sel.Date = parse.DateOf(now)
	}
	if sel.StartMinute == nil {
		minute := parse.MinuteOfDay(now)
		sel.StartMinute = &minute
	}
	if sel.DurationMinutes == 0 {
		sel.DurationMinutes = f.o.cfg.DefaultDurationMinutes
	}

	conflicts, err := f.o.detector.Detect(ctx, f.proposal(known, sel))
	if err != nil {
		return f.view(), err
	}

	f.guest, f.known, f.sel = guest, known, sel
	f.conflicts, f.forced, f.lastErr = conflicts, false, nil

	next := StateValidation
	if len(conflicts) > 0 {
		next = StateConflictResolution
	}
	if err := f.m.Advance(next); err != nil {
		return f.view(), err
	}
	f.o.log.Debug("walk-in guest search submitted",
		zap.String("flow_id", f.id),
		zap.String("state", string(next)),
		zap.Int("conflicts", len(conflicts)),
	)
	return f.view(), nil
}

func (f *Flow) proposal(known *model.Guest, sel Selection) conflict.ProposedSeating {
	p := conflict.ProposedSeating{
		PartySize:       sel.PartySize,
		Resource:        sel.Resource,
		Date:            sel.Date,
		StartMinute:     *sel.StartMinute,
		DurationMinutes: sel.DurationMinutes,
	}
	if known != nil {
		id := known.ID
		p.GuestID = &id
	}
	return p
}

func (o *Orchestrator) lookupGuest(ctx context.Context, g GuestInput) (*model.Guest, error) {
	if g.ID != "" {
		return o.store.GetGuest(ctx, g.ID)
	}
	if g.Phone == "" {
		return nil, nil
	}
	known, err := o.store.FindGuestByPhone(ctx, g.Phone)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return known, err
}

// ResolveConflict clears the detected conflicts and moves to validation.
func (f *Flow) ResolveConflict(mode Mode, choice *SuggestionRef) (View, error) {
	const op = "walkin.ResolveConflict"

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.m.Require(op, StateConflictResolution); err != nil {
		return f.view(), err
	}

	sel := f.sel
	forced := false
	switch mode {
	case ModeForce:
		forced = true
	case ModeManual:
		if choice == nil {
			return f.view(), apperr.Validation(op, "manual resolution needs a suggestion")
		}
		if choice.Conflict < 0 || choice.Conflict >= len(f.conflicts) {
			return f.view(), apperr.Validation(op, "no conflict %d", choice.Conflict)
		}
		suggestions := f.conflicts[choice.Conflict].Suggestions
		if choice.Suggestion < 0 || choice.Suggestion >= len(suggestions) {
			return f.view(), apperr.Validation(op, "conflict %d has no suggestion %d", choice.Conflict, choice.Suggestion)
		}
		forced = apply(&sel, suggestions[choice.Suggestion])
	case ModeAuto:
		ordered := append([]conflict.Conflict(nil), f.conflicts...)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Severity.Weight() < ordered[j].Severity.Weight()
		})
		for _, c := range ordered {
			if len(c.Suggestions) > 0 && apply(&sel, c.Suggestions[0]) {
				forced = true
			}
		}
	default:
		return f.view(), apperr.Validation(op, "unknown resolution mode %q", mode)
	}

	if err := f.m.Advance(StateValidation); err != nil {
		return f.view(), err
	}
	f.sel, f.forced = sel, forced
	f.o.log.Info("walk-in conflicts resolved",
		zap.String("flow_id", f.id),
		zap.String("mode", string(mode)),
		zap.Int("conflicts", len(f.conflicts)),
	)
	return f.view(), nil
}

// apply folds s into sel and reports whether it asks for a forced seating.
func apply(sel *Selection, s conflict.Suggestion) bool {
	switch s.Kind {
	case conflict.SuggestAlternateTable, conflict.SuggestAlternateJoinGroup:
		if s.Resource != nil {
			sel.Resource = s.Resource.Item()
		}
	case conflict.SuggestWait:
		start := *sel.StartMinute + s.WaitMinutes
		sel.StartMinute = &start
		if s.Resource != nil {
			sel.Resource = s.Resource.Item()
		}
	case conflict.SuggestOverride:
		return true
	}
	return false
}

// ConfirmValidation commits the walk-in: in one transaction the guest is
// upserted, the booking is created seated and allocated to the selected
// resource. On failure nothing is kept, the flow stays in validation and the
// step can be retried.
func (f *Flow) ConfirmValidation(ctx context.Context) (View, error) {
	const op = "walkin.ConfirmValidation"

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.m.Require(op, StateValidation); err != nil {
		return f.view(), err
	}

	var committed model.Booking
	var outcome allocator.Outcome
	err := f.o.store.Transaction(ctx, func(tx store.Store) error {
		guest := model.Guest{ID: f.guest.ID, Name: f.guest.Name, Email: f.guest.Email}
		if f.known != nil {
			guest.ID = f.known.ID
		}
		if f.guest.Phone != "" {
			phone := f.guest.Phone
			guest.Phone = &phone
		}
		if err := tx.UpsertGuest(ctx, &guest); err != nil {
			return err
		}

		b := model.Booking{
			GuestID:         &guest.ID,
			PartySize:       f.sel.PartySize,
			Date:            f.sel.Date,
			StartMinute:     *f.sel.StartMinute,
			DurationMinutes: f.sel.DurationMinutes,
			Status:          model.BookingSeated,
			Source:          model.SourceWalkIn,
			Notes:           f.sel.Notes,
		}
		if err := tx.CreateBooking(ctx, &b); err != nil {
			return err
		}

		reason := "walk-in"
		if f.forced {
			reason = "walk-in (forced)"
		}
		preferred := f.sel.Resource
		out, err := f.o.alloc.WithStore(tx).Allocate(ctx, allocator.Request{
			BookingID:       b.ID,
			PartySize:       b.PartySize,
			Date:            b.Date,
			StartMinute:     b.StartMinute,
			DurationMinutes: b.DurationMinutes,
			Actor:           f.actor,
			Reason:          reason,
			Preferred:       &preferred,
			IgnoreCapacity:  f.forced,
		})
		if err != nil {
			return err
		}
		if !out.Allocated {
			return apperr.NoCapacity(op, "%s %s could not be held", preferred.Type, preferred.ID)
		}

		fresh, err := tx.GetBooking(ctx, b.ID, false)
		if err != nil {
			return err
		}
		committed, outcome = *fresh, out
		return nil
	})
	if err != nil {
		f.lastErr = err
		f.o.log.Warn("walk-in commit failed", zap.String("flow_id", f.id), zap.Error(err))
		return f.view(), err
	}

	if err := f.m.Advance(StateConfirmed); err != nil {
		return f.view(), err
	}
	f.booking, f.outcome, f.lastErr = &committed, &outcome, nil
	f.o.log.Info("walk-in seated",
		zap.String("flow_id", f.id),
		zap.String("booking_id", committed.ID),
		zap.String("table_id", outcome.TableID),
		zap.Bool("forced", f.forced),
	)
	return f.view(), nil
}

// Back returns to an earlier step. Returning to guest search discards the
// detected conflicts.
func (f *Flow) Back(to State) (View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.m.Back(to); err != nil {
		return f.view(), err
	}
	f.lastErr = nil
	switch to {
	case StateGuestSearch:
		f.conflicts, f.forced = nil, false
	case StateConflictResolution:
		f.forced = false
	}
	return f.view(), nil
}

// Abort resets the flow to an empty guest search. A flow aborted before its
// commit leaves nothing behind.
func (f *Flow) Abort() View {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.m.Reset()
	f.guest, f.known, f.sel = GuestInput{}, nil, Selection{}
	f.conflicts, f.forced = nil, false
	f.booking, f.outcome, f.lastErr = nil, nil, nil
	return f.view()
}
