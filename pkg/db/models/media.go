package models

import (
	"time"
)

// MediaType represents a family of tapes and the drives able to mount them
type MediaType struct {
	ID      uint   `gorm:"primaryKey"`
	Name    string `gorm:"type:text;not null;uniqueIndex"`
	Pattern string `gorm:"type:text;not null"` // Regular expression matched against tape names
	Drives  int    `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// Relationships
	Allocations []Allocation `gorm:"foreignKey:MediaTypeID;constraint:OnDelete:CASCADE"`
}

// Allocation represents the share of drives of a media type reserved for one user
type Allocation struct {
	ID          uint    `gorm:"primaryKey"`
	MediaTypeID uint    `gorm:"not null;uniqueIndex:idx_allocation_user"`
	User        string  `gorm:"type:text;not null;uniqueIndex:idx_allocation_user"`
	Share       float64 `gorm:"not null;default:0"` // Fraction of Drives within [0, 1]

	CreatedAt time.Time
	UpdatedAt time.Time
}
