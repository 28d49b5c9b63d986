package models

import "time"

// Script is a named, language-tagged content blob referenced by profile
// tasks and ad-hoc device actions. Identity is immutable; content is not.
type Script struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"uniqueIndex;not null" json:"name"`
	Description  string    `gorm:"type:text" json:"description"`
	Language     string    `gorm:"not null;default:powershell" json:"language"`
	TargetOSType string    `json:"target_os_type"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Script) TableName() string { return "scripts" }
