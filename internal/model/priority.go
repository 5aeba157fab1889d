package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ItemType identifies what a priority entry points at.
type ItemType string

const (
	ItemTypeTable     ItemType = "table"
	ItemTypeJoinGroup ItemType = "join_group"
)

// PriorityEntry ranks one resource for one party size. For a fixed party size
// ranks form the dense sequence 1..N.
type PriorityEntry struct {
	ID        string   `gorm:"primaryKey;size:36"`
	PartySize int      `gorm:"not null;uniqueIndex:idx_priority_item,priority:1"`
	ItemType  ItemType `gorm:"type:varchar(16);not null;uniqueIndex:idx_priority_item,priority:2"`
	ItemID    string   `gorm:"size:36;not null;uniqueIndex:idx_priority_item,priority:3"`
	Rank      int      `gorm:"column:priority_rank;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *PriorityEntry) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// PriorityItem is the (type, id) pair a priority list is made of.
type PriorityItem struct {
	Type ItemType `json:"type"`
	ID   string   `json:"id"`
}

// Item returns the entry's resource reference.
func (p PriorityEntry) Item() PriorityItem {
	return PriorityItem{Type: p.ItemType, ID: p.ItemID}
}
