// Package availability answers which tables and join groups can seat a party
// for a window on a date.
package availability

import (
	"sort"

	"table-allocation-backend/internal/model"
)

// Reasons reported when no candidate survives.
const (
	ReasonNoSuitableSize = "no suitable resource size"
	ReasonAllBooked      = "all suitable resources booked"
)

// Resource is a bookable unit: one table, or every member of a join group.
type Resource struct {
	Type     model.ItemType `json:"type"`
	ID       string         `json:"id"`
	Label    string         `json:"label"`
	Capacity int            `json:"capacity"`
	TableIDs []string       `json:"table_ids"`
	// Versions holds the version of every member table as read in the snapshot.
	Versions map[string]int64 `json:"-"`
}

// Item returns the priority reference for r.
func (r Resource) Item() model.PriorityItem {
	return model.PriorityItem{Type: r.Type, ID: r.ID}
}

// Query describes a requested window.
type Query struct {
	Date            string
	StartMinute     int
	PartySize       int
	DurationMinutes int
	// ExcludeBookingID ignores one booking's own hold, so a booking can be re-checked.
	ExcludeBookingID string
	// IncludeOffline also considers tables that are not online-bookable (host-side flows).
	IncludeOffline bool
}

// EndMinute is the exclusive end of the window.
func (q Query) EndMinute() int {
	return q.StartMinute + q.DurationMinutes
}

// Result is the answer to a Query.
type Result struct {
	Available  bool       `json:"available"`
	Candidates []Resource `json:"candidates"`
	Reason     string     `json:"reason,omitempty"`
}

// Snapshot is everything availability needs for one date.
type Snapshot struct {
	Tables   []model.Table
	Groups   []model.JoinGroup
	Bookings []model.Booking
	Priority []model.PriorityItem
}

// Overlaps is the half-open interval test for [s1,e1) and [s2,e2).
func Overlaps(s1, e1, s2, e2 int) bool {
	return s1 < e2 && s2 < e1
}

func tableResource(t model.Table) Resource {
	return Resource{
		Type:     model.ItemTypeTable,
		ID:       t.ID,
		Label:    t.Label,
		Capacity: t.SeatCount,
		TableIDs: []string{t.ID},
		Versions: map[string]int64{t.ID: t.Version},
	}
}

func groupResource(g model.JoinGroup) Resource {
	r := Resource{
		Type:     model.ItemTypeJoinGroup,
		ID:       g.ID,
		Label:    g.Name,
		Capacity: g.MaxPartySize,
		TableIDs: g.MemberIDs(),
		Versions: make(map[string]int64, len(g.Members)),
	}
	for _, m := range g.Members {
		r.Versions[m.ID] = m.Version
	}
	return r
}

// Resource looks up item among the snapshot's active tables and usable groups.
func (s Snapshot) Resource(item model.PriorityItem) (Resource, bool) {
	switch item.Type {
	case model.ItemTypeTable:
		for _, t := range s.Tables {
			if t.ID == item.ID && t.IsActive() {
				return tableResource(t), true
			}
		}
	case model.ItemTypeJoinGroup:
		for _, g := range s.Groups {
			if g.ID == item.ID && g.Usable() {
				return groupResource(g), true
			}
		}
	}
	return Resource{}, false
}

// Blocking returns the bookings that hold any of tableIDs during q's window.
// Cancelled bookings and q.ExcludeBookingID never block.
func (s Snapshot) Blocking(tableIDs []string, q Query) []model.Booking {
	wanted := make(map[string]bool, len(tableIDs))
	for _, id := range tableIDs {
		wanted[id] = true
	}

	var blocking []model.Booking
	for _, b := range s.Bookings {
		if b.Status == model.BookingCancelled || b.ID == q.ExcludeBookingID || b.Date != q.Date {
			continue
		}
		if !Overlaps(b.StartMinute, b.EndMinute(), q.StartMinute, q.EndMinute()) {
			continue
		}
		for _, id := range b.Tables() {
			if wanted[id] {
				blocking = append(blocking, b)
				break
			}
		}
	}
	return blocking
}

// Free reports whether every table of r is unheld for q's window.
func (s Snapshot) Free(r Resource, q Query) bool {
	return len(s.Blocking(r.TableIDs, q)) == 0
}

// Suitable lists every resource large enough for q's party, free or not.
func Suitable(snap Snapshot, q Query) []Resource {
	var suitable []Resource
	for _, t := range snap.Tables {
		if t.IsActive() && (t.OnlineBookable || q.IncludeOffline) && t.SeatCount >= q.PartySize {
			suitable = append(suitable, tableResource(t))
		}
	}
	for _, g := range snap.Groups {
		if g.Usable() && g.MaxPartySize >= q.PartySize {
			suitable = append(suitable, groupResource(g))
		}
	}
	return suitable
}

// Evaluate runs the availability algorithm over snap.
func Evaluate(snap Snapshot, q Query) Result {
	suitable := Suitable(snap, q)
	if len(suitable) == 0 {
		return Result{Candidates: []Resource{}, Reason: ReasonNoSuitableSize}
	}

	free := make([]Resource, 0, len(suitable))
	for _, r := range suitable {
		if snap.Free(r, q) {
			free = append(free, r)
		}
	}
	if len(free) == 0 {
		return Result{Candidates: free, Reason: ReasonAllBooked}
	}

	rankCandidates(free, snap.Priority)
	return Result{Available: true, Candidates: free}
}

// rankCandidates orders candidates by their position in priority; anything
// absent from it follows in ascending capacity.
func rankCandidates(candidates []Resource, priority []model.PriorityItem) {
	position := make(map[model.PriorityItem]int, len(priority))
	for i, item := range priority {
		if _, dup := position[item]; !dup {
			position[item] = i
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		pi, iRanked := position[candidates[i].Item()]
		pj, jRanked := position[candidates[j].Item()]
		switch {
		case iRanked && jRanked:
			return pi < pj
		case iRanked != jRanked:
			return iRanked
		}
		if candidates[i].Capacity != candidates[j].Capacity {
			return candidates[i].Capacity < candidates[j].Capacity
		}
		return candidates[i].Label < candidates[j].Label
	})
}
