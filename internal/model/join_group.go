package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JoinGroup is a named combination of tables pushed together for larger parties.
type JoinGroup struct {
	ID           string `gorm:"primaryKey;size:36"`
	Name         string `gorm:"size:128;not null"`
	MaxPartySize int    `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    gorm.DeletedAt `gorm:"index"`

	// Associations
	Members []Table `gorm:"many2many:join_group_members;"`
}

func (g *JoinGroup) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

// MemberIDs returns the member table ids in ascending order.
func (g JoinGroup) MemberIDs() []string {
	ids := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids
}

// Usable reports whether the group has at least two members and all of them are active.
func (g JoinGroup) Usable() bool {
	if len(g.Members) < 2 {
		return false
	}
	for _, m := range g.Members {
		if !m.IsActive() {
			return false
		}
	}
	return true
}
