package store

import "table-allocation-backend/internal/model"

// Assignment is the committed result of an allocation for one booking.
type Assignment struct {
	BookingID       string
	TableID         string
	JoinGroupID     *string
	HeldTableIDs    []string
	PartySize       int
	Date            string
	StartMinute     int
	DurationMinutes int
}

// activeStatuses are the booking statuses that still claim a resource.
var activeStatuses = []model.BookingStatus{
	model.BookingPending,
	model.BookingConfirmed,
	model.BookingSeated,
}
