package models

import "time"

// Device models a managed endpoint enrolled with the fleet.
type Device struct {
	ID              int64  `gorm:"primaryKey" json:"id"`
	Hostname        string `gorm:"uniqueIndex;not null" json:"hostname"`
	ProfileID       *int64 `gorm:"index" json:"profile_id"`
	Status          string `gorm:"not null;default:unknown" json:"status"`
	OSType          string `gorm:"index" json:"os_type"`
	OSVersion       string `json:"os_version"`
	HardwareSummary string `gorm:"type:text" json:"hardware_summary"`
	LastCheckIn     *time.Time `json:"last_check_in"`
	// Devices are soft-deleted so historical actions keep a valid owner.
	IsDeleted bool      `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Device) TableName() string { return "devices" }
