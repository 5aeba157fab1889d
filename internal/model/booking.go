package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BookingStatus is the closed set of booking lifecycle states.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingSeated    BookingStatus = "seated"
	BookingFinished  BookingStatus = "finished"
	BookingCancelled BookingStatus = "cancelled"
	BookingNoShow    BookingStatus = "no_show"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingSeated, BookingCancelled, BookingNoShow},
	BookingConfirmed: {BookingSeated, BookingCancelled, BookingNoShow},
	BookingSeated:    {BookingFinished},
}

// Valid reports whether s is one of the known statuses.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingSeated, BookingFinished, BookingCancelled, BookingNoShow:
		return true
	}
	return false
}

// Active reports whether a booking in this status still holds its table right now.
func (s BookingStatus) Active() bool {
	return s == BookingPending || s == BookingConfirmed || s == BookingSeated
}

// CanTransition reports whether a booking may move from s to next.
func (s BookingStatus) CanTransition(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// BookingSource records which flow created the booking.
type BookingSource string

const (
	SourceOnline BookingSource = "online"
	SourcePhone  BookingSource = "phone"
	SourceWalkIn BookingSource = "walk_in"
)

// StringList stores a list of ids as a PostgreSQL array literal ({a,b,c}).
type StringList []string

func (l *StringList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}
	var s string
	switch v := src.(type) {
	case []byte:
		s = string(v)
	case string:
		s = v
	default:
		return fmt.Errorf("StringList.Scan: unsupported type %T", src)
	}
	s = strings.Trim(s, "{}")
	if s == "" {
		*l = StringList{}
		return nil
	}
	parts := strings.Split(s, ",")
	out := make(StringList, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.Trim(strings.TrimSpace(p), `"`))
	}
	*l = out
	return nil
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return "{" + strings.Join(l, ",") + "}", nil
}

// GormDataType keeps the column a plain text column on every dialect.
func (StringList) GormDataType() string {
	return "text"
}

// Booking is a party's claim on a resource for a window on one date.
//
// A booking placed on a join group stores the group id and holds every member
// table; TableID then points at the lowest member id. LastSweptAt is when the
// backfill sweeper last tried to place the booking.
type Booking struct {
	ID              string        `gorm:"primaryKey;size:36"`
	GuestID         *string       `gorm:"size:36;index"`
	PartySize       int           `gorm:"not null"`
	Date            string        `gorm:"column:booking_date;size:10;not null;index:idx_bookings_date_status,priority:1"`
	StartMinute     int           `gorm:"not null"`
	DurationMinutes int           `gorm:"not null"`
	TableID         *string       `gorm:"size:36;index"`
	JoinGroupID     *string       `gorm:"size:36"`
	HeldTableIDs    StringList    `gorm:"column:held_table_ids"`
	IsUnallocated   bool          `gorm:"not null;index"`
	Status          BookingStatus `gorm:"type:varchar(16);not null;default:'pending';index:idx_bookings_date_status,priority:2"`
	Source          BookingSource `gorm:"type:varchar(16);not null;default:'online'"`
	Notes           string        `gorm:"size:512"`
	LastSweptAt     *time.Time    `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = BookingPending
	}
	if b.Source == "" {
		b.Source = SourceOnline
	}
	b.IsUnallocated = b.TableID == nil
	return nil
}

// EndMinute is the exclusive end of the booking window.
func (b Booking) EndMinute() int {
	return b.StartMinute + b.DurationMinutes
}

// Tables returns every table the booking occupies.
func (b Booking) Tables() []string {
	if len(b.HeldTableIDs) > 0 {
		return b.HeldTableIDs
	}
	if b.TableID != nil {
		return []string{*b.TableID}
	}
	return nil
}

// Allocated reports whether the booking currently holds a resource.
func (b Booking) Allocated() bool {
	return !b.IsUnallocated && b.TableID != nil
}
