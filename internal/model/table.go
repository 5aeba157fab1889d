package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TableStatus is the lifecycle state of a physical table.
type TableStatus string

const (
	TableStatusActive  TableStatus = "active"
	TableStatusDeleted TableStatus = "deleted"
)

// Table represents a single physical seating resource.
//
// Tables are never hard-deleted: bookings keep pointing at them after they are
// retired, so deletion flips Status and stamps DeletedAt instead.
type Table struct {
	ID             string      `gorm:"primaryKey;size:36"`
	Label          string      `gorm:"size:64;not null"`
	SeatCount      int         `gorm:"not null"`
	SectionID      *string     `gorm:"size:36;index"`
	PriorityRank   int         `gorm:"not null;default:0"`
	OnlineBookable bool        `gorm:"not null"`
	Status         TableStatus `gorm:"type:varchar(16);not null;default:'active';index"`
	DeletedAt      *time.Time
	// Version is bumped by every allocation that claims this table and acts
	// as the compare-and-swap token for concurrent allocators.
	Version   int64     `gorm:"not null;default:1"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *Table) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TableStatusActive
	}
	if t.Version == 0 {
		t.Version = 1
	}
	return nil
}

// IsActive reports whether the table may take part in availability.
func (t Table) IsActive() bool {
	return t.Status == TableStatusActive && t.DeletedAt == nil
}
