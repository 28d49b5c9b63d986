package models

import "time"

// Action is a concrete unit of work dispatched to exactly one device.
// Payload is resolved (copied) from the script at creation time; later
// script edits never change an existing action.
type Action struct {
	ID       int64  `gorm:"primaryKey" json:"id"`
	DeviceID int64  `gorm:"not null;index" json:"device_id"`
	Type     string `gorm:"not null" json:"type"`
	Payload  *string `gorm:"type:text" json:"payload"`
	ScriptID *int64  `json:"script_id"`
	Status   string  `gorm:"not null;default:pending;index" json:"status"`
	Logs     *string `gorm:"type:text" json:"logs"`
	// StartedAt is set when a heartbeat picks the action up.
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Action) TableName() string { return "actions" }
