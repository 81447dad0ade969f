package models

import (
	"time"
)

// RequestStatus represents the lifecycle state of a stage request row
type RequestStatus string

const (
	RequestCreated   RequestStatus = "created"
	RequestSubmitted RequestStatus = "submitted"
	RequestQueued    RequestStatus = "queued"
	RequestStaged    RequestStatus = "staged"
	RequestFailed    RequestStatus = "failed"
	RequestInvalid   RequestStatus = "invalid"
)

// Final reports whether no further transition can happen
func (s RequestStatus) Final() bool {
	return s == RequestStaged || s == RequestFailed || s == RequestInvalid
}

// Request represents one user's demand to stage a file from tape to disk
type Request struct {
	ID     uint          `gorm:"primaryKey"`
	File   string        `gorm:"type:text;not null;index:idx_request_file"`
	User   string        `gorm:"type:text;not null"`
	Status RequestStatus `gorm:"type:text;not null;index"`

	// Placement, filled once the request has been dispatched
	QueueID  string `gorm:"type:text;index:idx_request_file"`
	Tape     string `gorm:"type:text"`
	Position int64  `gorm:"default:0"`
	Size     int64  `gorm:"default:0"`

	ErrorCode    int    `gorm:"default:0"`
	ErrorMessage string `gorm:"type:text"`

	// Timestamps
	CreatedAt   time.Time
	SubmittedAt *time.Time
	QueuedAt    *time.Time
	EndedAt     *time.Time
	UpdatedAt   time.Time
}
