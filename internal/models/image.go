package models

import "time"

// OSImage is a catalog entry for an installable OS image stored in the
// object store under StorageRef.
type OSImage struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Version     string    `json:"version"`
	StorageRef  string    `gorm:"not null" json:"storage_ref"`
	Description string    `gorm:"type:text" json:"description"`
	Checksum    string    `json:"checksum"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OSImage) TableName() string { return "os_images" }
