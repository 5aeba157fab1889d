// Package conflict inspects one proposed walk-in seating for problems the
// host should resolve before the party sits down.
package conflict

import (
	"context"
	"fmt"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation"
	"go.uber.org/zap"

	"table-allocation-backend/config"
	"table-allocation-backend/internal/apperr"
	"table-allocation-backend/internal/availability"
	"table-allocation-backend/internal/model"
	"table-allocation-backend/internal/parse"
)

// Type is the kind of conflict found.
type Type string

const (
	TableOccupied    Type = "table_occupied"
	DoubleBooking    Type = "double_booking"
	CapacityExceeded Type = "capacity_exceeded"
)

// Severity grades how disruptive a conflict is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Weight orders severities, low first.
func (s Severity) Weight() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// SuggestionKind is what a suggestion asks the host to do.
type SuggestionKind string

const (
	SuggestAlternateTable     SuggestionKind = "alternate_table"
	SuggestAlternateJoinGroup SuggestionKind = "alternate_join_group"
	SuggestWait               SuggestionKind = "wait"
	// SuggestKeep seats the party as proposed, acknowledging the conflict.
	SuggestKeep SuggestionKind = "keep"
	// SuggestOverride seats the party at the proposed resource despite its size.
	SuggestOverride SuggestionKind = "override"
	// SuggestRelease asks the host to finish or cancel the blocking bookings
	// before confirming at the proposed resource.
	SuggestRelease SuggestionKind = "release_blocking"
)

// Suggestion is one way of resolving a conflict.
type Suggestion struct {
	Kind        SuggestionKind         `json:"kind"`
	Resource    *availability.Resource `json:"resource,omitempty"`
	WaitMinutes int                    `json:"wait_minutes,omitempty"`
	Description string                 `json:"description"`
}

// Conflict is a single problem with a proposed seating.
type Conflict struct {
	Type               Type         `json:"type"`
	Severity           Severity     `json:"severity"`
	Message            string       `json:"message"`
	BlockingBookingIDs []string     `json:"blocking_booking_ids,omitempty"`
	Suggestions        []Suggestion `json:"suggestions"`
}

// ProposedSeating is a party about to be seated at one chosen resource.
type ProposedSeating struct {
	GuestID         *string            `json:"guest_id,omitempty"`
	PartySize       int                `json:"party_size"`
	Resource        model.PriorityItem `json:"resource"`
	Date            string             `json:"date"`
	StartMinute     int                `json:"start_minute"`
	DurationMinutes int                `json:"duration_minutes"`
	// IgnoreBookingID skips one booking, used when re-checking an existing seating.
	IgnoreBookingID string `json:"-"`
}

// Validate rejects seatings that cannot be checked.
func (p ProposedSeating) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.PartySize, validation.Required, validation.Min(1)),
		validation.Field(&p.Date, validation.Required, validation.Date(parse.DateLayout)),
		validation.Field(&p.StartMinute, validation.Min(0), validation.Max(parse.MinutesPerDay-1)),
		validation.Field(&p.DurationMinutes, validation.Required, validation.Min(1)),
		validation.Field(&p.Resource, validation.By(func(value interface{}) error {
			item, _ := value.(model.PriorityItem)
			if item.ID == "" || (item.Type != model.ItemTypeTable && item.Type != model.ItemTypeJoinGroup) {
				return fmt.Errorf("must name a table or join group")
			}
			return nil
		})),
	)
}

func (p ProposedSeating) query() availability.Query {
	return availability.Query{
		Date:             p.Date,
		StartMinute:      p.StartMinute,
		PartySize:        p.PartySize,
		DurationMinutes:  p.DurationMinutes,
		ExcludeBookingID: p.IgnoreBookingID,
		IncludeOffline:   true,
	}
}

// Loader supplies the availability snapshot for a date.
type Loader interface {
	Load(ctx context.Context, date string, partySize int) (availability.Snapshot, error)
}

// Detector finds conflicts for proposed seatings.
type Detector struct {
	loader Loader
	cfg    config.ConflictConfig
	log    *zap.Logger
}

// NewDetector creates a detector reading snapshots from loader.
func NewDetector(loader Loader, cfg config.ConflictConfig, log *zap.Logger) *Detector {
	return &Detector{loader: loader, cfg: cfg, log: log}
}

// Detect returns every conflict with p, most severe first. An empty result
// means the party can be seated as proposed.
func (d *Detector) Detect(ctx context.Context, p ProposedSeating) ([]Conflict, error) {
	const op = "conflict.Detect"

	if err := p.Validate(); err != nil {
		return nil, apperr.ValidationFrom(op, err)
	}

	snap, err := d.loader.Load(ctx, p.Date, p.PartySize)
	if err != nil {
		return nil, err
	}
	target, ok := snap.Resource(p.Resource)
	if !ok {
		return nil, apperr.NotFound(op, "%s %s is not an active resource", p.Resource.Type, p.Resource.ID)
	}

	q := p.query()
	alternates := d.alternates(snap, q, target)

	var conflicts []Conflict
	if p.PartySize > target.Capacity {
		suggestions := append([]Suggestion(nil), alternates...)
		if len(suggestions) == 0 {
			if s, ok := earliestElsewhere(snap, q, target); ok {
				suggestions = append(suggestions, s)
			}
		}
		suggestions = append(suggestions, Suggestion{
			Kind:        SuggestOverride,
			Description: fmt.Sprintf("seat the party of %d at %s anyway", p.PartySize, target.Label),
		})
		conflicts = append(conflicts, Conflict{
			Type:        CapacityExceeded,
			Severity:    SeverityHigh,
			Message:     fmt.Sprintf("party of %d exceeds %s capacity of %d", p.PartySize, target.Label, target.Capacity),
			Suggestions: suggestions,
		})
	}

	if c, ok := d.occupied(snap, q, target, alternates); ok {
		conflicts = append(conflicts, c)
	}

	if p.GuestID != nil && *p.GuestID != "" {
		conflicts = append(conflicts, d.doubleBookings(snap, q, target, *p.GuestID)...)
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		return conflicts[i].Severity.Weight() > conflicts[j].Severity.Weight()
	})

	d.log.Debug("walk-in conflicts detected",
		zap.String("resource_id", target.ID),
		zap.Int("party_size", p.PartySize),
		zap.Int("conflicts", len(conflicts)),
	)
	return conflicts, nil
}

func activeOnly(bookings []model.Booking) []model.Booking {
	var out []model.Booking
	for _, b := range bookings {
		if b.Status.Active() {
			out = append(out, b)
		}
	}
	return out
}

func (d *Detector) occupied(snap availability.Snapshot, q availability.Query, target availability.Resource, alternates []Suggestion) (Conflict, bool) {
	blocking := activeOnly(snap.Blocking(target.TableIDs, q))
	if len(blocking) == 0 {
		return Conflict{}, false
	}

	severity := SeverityMedium
	ids := make([]string, 0, len(blocking))
	for _, b := range blocking {
		ids = append(ids, b.ID)
		overlap := min(b.EndMinute(), q.EndMinute()) - max(b.StartMinute, q.StartMinute)
		if overlap >= d.cfg.HighOverlapMinutes || b.Status == model.BookingSeated {
			severity = SeverityHigh
		}
	}

	suggestions := append([]Suggestion(nil), alternates...)
	if wait, ok := waitMinutes(snap, q, target); ok {
		suggestions = append(suggestions, Suggestion{
			Kind:        SuggestWait,
			WaitMinutes: wait,
			Description: fmt.Sprintf("%s frees up at %s", target.Label, parse.FormatTimeOfDay(q.StartMinute+wait)),
		})
	}

	if len(suggestions) == 0 {
		if s, ok := earliestElsewhere(snap, q, target); ok {
			suggestions = append(suggestions, s)
		} else {
			suggestions = append(suggestions, Suggestion{
				Kind:        SuggestRelease,
				Description: fmt.Sprintf("nothing else frees up today; release the booking(s) holding %s", target.Label),
			})
		}
	}

	return Conflict{
		Type:               TableOccupied,
		Severity:           severity,
		Message:            fmt.Sprintf("%s is held by %d overlapping booking(s)", target.Label, len(blocking)),
		BlockingBookingIDs: ids,
		Suggestions:        suggestions,
	}, true
}

// waitMinutes finds how long the party must wait until target is free for the
// whole requested duration, stepping over back-to-back bookings.
func waitMinutes(snap availability.Snapshot, q availability.Query, target availability.Resource) (int, bool) {
	probe := q
	for probe.StartMinute < parse.MinutesPerDay {
		blocking := activeOnly(snap.Blocking(target.TableIDs, probe))
		if len(blocking) == 0 {
			return probe.StartMinute - q.StartMinute, true
		}
		next := probe.StartMinute
		for _, b := range blocking {
			next = max(next, b.EndMinute())
		}
		probe.StartMinute = next
	}
	return 0, false
}

// earliestElsewhere finds the resource other than target that can take the
// party soonest, for when nothing is free right now.
func earliestElsewhere(snap availability.Snapshot, q availability.Query, target availability.Resource) (Suggestion, bool) {
	best := -1
	var bestResource availability.Resource
	for _, r := range availability.Suitable(snap, q) {
		if r.Type == target.Type && r.ID == target.ID {
			continue
		}
		if wait, ok := waitMinutes(snap, q, r); ok && (best < 0 || wait < best) {
			best, bestResource = wait, r
		}
	}
	if best < 0 {
		return Suggestion{}, false
	}
	return Suggestion{
		Kind:        SuggestWait,
		Resource:    &bestResource,
		WaitMinutes: best,
		Description: fmt.Sprintf("%s frees up at %s", bestResource.Label, parse.FormatTimeOfDay(q.StartMinute+best)),
	}, true
}

// doubleBookings reports the guest's other active bookings whose windows fall
// within the recency window around the proposed seating.
func (d *Detector) doubleBookings(snap availability.Snapshot, q availability.Query, target availability.Resource, guestID string) []Conflict {
	onTarget := make(map[string]bool, len(target.TableIDs))
	for _, id := range target.TableIDs {
		onTarget[id] = true
	}

	windowStart := q.StartMinute - d.cfg.RecencyWindowMinutes
	windowEnd := q.EndMinute()

	var conflicts []Conflict
	for _, b := range snap.Bookings {
		if b.GuestID == nil || *b.GuestID != guestID || !b.Status.Active() || b.ID == q.ExcludeBookingID {
			continue
		}
		if !availability.Overlaps(b.StartMinute, b.EndMinute(), windowStart, windowEnd) {
			continue
		}
		tables := b.Tables()
		sameResource := len(tables) > 0
		for _, id := range tables {
			if !onTarget[id] {
				sameResource = false
				break
			}
		}
		if sameResource {
			continue
		}

		where := "an unallocated booking"
		if len(tables) > 0 {
			where = "another table"
		}
		conflicts = append(conflicts, Conflict{
			Type:               DoubleBooking,
			Severity:           SeverityMedium,
			Message:            fmt.Sprintf("guest already holds %s at %s (%s)", where, parse.FormatTimeOfDay(b.StartMinute), b.Status),
			BlockingBookingIDs: []string{b.ID},
			Suggestions: []Suggestion{{
				Kind:        SuggestKeep,
				Description: "seat the party here anyway and review the other booking",
			}},
		})
	}
	return conflicts
}

// alternates lists free resources that can seat the party now, excluding target.
func (d *Detector) alternates(snap availability.Snapshot, q availability.Query, target availability.Resource) []Suggestion {
	res := availability.Evaluate(snap, q)

	out := []Suggestion{}
	for _, r := range res.Candidates {
		if r.Type == target.Type && r.ID == target.ID {
			continue
		}
		if len(out) >= d.cfg.MaxSuggestions {
			break
		}
		r := r
		kind := SuggestAlternateTable
		if r.Type == model.ItemTypeJoinGroup {
			kind = SuggestAlternateJoinGroup
		}
		out = append(out, Suggestion{
			Kind:        kind,
			Resource:    &r,
			Description: fmt.Sprintf("seat at %s (%d seats)", r.Label, r.Capacity),
		})
	}
	return out
}
