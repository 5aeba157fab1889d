package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Section represents a dining area of the venue (terrace, main room, bar).
type Section struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Name      string    `gorm:"uniqueIndex;size:128;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	// Associations
	Tables []Table `gorm:"foreignKey:SectionID"`
}

func (s *Section) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
