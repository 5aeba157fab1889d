package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Guest is the minimal CRM record a walk-in is attached to.
type Guest struct {
	ID         string  `gorm:"primaryKey;size:36"`
	Name       string  `gorm:"size:128;not null"`
	Phone      *string `gorm:"size:32;uniqueIndex"`
	Email      string  `gorm:"size:256"`
	VisitCount int     `gorm:"not null;default:0"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (g *Guest) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}
