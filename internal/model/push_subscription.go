package model

import "time"

// PushSubscription holds a host device's browser push subscription.
type PushSubscription struct {
	Endpoint    string    `gorm:"primaryKey"`
	P256DH      string    `gorm:"column:p256dh;not null"`
	Auth        string    `gorm:"not null"`
	DeviceLabel string    `gorm:"size:64"`
	CreatedAt   time.Time `gorm:"not null"`

	// Associations
	Sections []*Section `gorm:"many2many:subscription_section_mapping;"`
}
