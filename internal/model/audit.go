package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AllocationAudit records every committed table assignment.
type AllocationAudit struct {
	ID              string    `gorm:"primaryKey;size:36"`
	BookingID       string    `gorm:"size:36;not null;index"`
	TableID         string    `gorm:"size:36;not null"`
	JoinGroupID     *string   `gorm:"size:36"`
	PreviousTableID *string   `gorm:"size:36"`
	Actor           string    `gorm:"size:64;not null"`
	Reason          string    `gorm:"size:256;not null"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (a *AllocationAudit) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
