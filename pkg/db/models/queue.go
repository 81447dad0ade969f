package models

import (
	"time"
)

// QueueStatus represents the lifecycle state of a tape queue row
type QueueStatus string

const (
	QueueCreated   QueueStatus = "created"
	QueueActivated QueueStatus = "activated"
	QueueSuspended QueueStatus = "suspended"
	QueueEnded     QueueStatus = "ended"
	QueueAborted   QueueStatus = "aborted"
)

// Queue keeps the history of every per-tape queue the scheduler created
type Queue struct {
	ID        string      `gorm:"primaryKey;type:text"`
	Tape      string      `gorm:"type:text;not null;index"`
	MediaType string      `gorm:"type:text;not null"`
	Status    QueueStatus `gorm:"type:text;not null;index"`
	Owner     string      `gorm:"type:text"`

	HeadPosition   int64 `gorm:"default:0"`
	SuspendRetries int   `gorm:"default:0"`
	Readings       int   `gorm:"default:0"`

	ErrorCode    int    `gorm:"default:0"`
	ErrorMessage string `gorm:"type:text"`

	// Timestamps
	CreatedAt   time.Time
	ActivatedAt *time.Time
	SuspendedAt *time.Time
	EndedAt     *time.Time
	UpdatedAt   time.Time
}
