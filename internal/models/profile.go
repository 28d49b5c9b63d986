package models

import "time"

// DeploymentProfile is a named ordered task list applied to devices.
// Profiles flagged is_template are reusable blueprints instantiated by
// cloning; concrete profiles are applied directly.
type DeploymentProfile struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"uniqueIndex;not null" json:"name"`
	Description  string    `gorm:"type:text" json:"description"`
	TargetOSType string    `gorm:"index" json:"target_os_type"`
	IsTemplate   bool      `gorm:"not null;default:false" json:"is_template"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DeploymentProfile) TableName() string { return "deployment_profiles" }

// ProfileTask is one step within a profile. OrderIndex defines execution
// order, ties broken by ascending id; the resolver iterates in exactly
// that order.
type ProfileTask struct {
	ID              int64     `gorm:"primaryKey" json:"id"`
	ProfileID       int64     `gorm:"not null;index" json:"profile_id"`
	Name            string    `gorm:"not null" json:"name"`
	Description     string    `gorm:"type:text" json:"description"`
	OrderIndex      int       `gorm:"not null;default:0" json:"order_index"`
	ActionType      string    `gorm:"not null;default:powershell_inline" json:"action_type"`
	ScriptID        *int64    `json:"script_id"`
	SoftwareID      *int64    `json:"software_id"`
	ContinueOnError bool      `gorm:"not null;default:true" json:"continue_on_error"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ProfileTask) TableName() string { return "profile_tasks" }
