package models

import "time"

// SoftwarePackage describes an installer definition referenced by
// software_install tasks. Source is optional for winget/choco installers,
// which resolve packages by name.
type SoftwarePackage struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"uniqueIndex;not null" json:"name"`
	Slug          *string   `gorm:"uniqueIndex" json:"slug"`
	Version       string    `json:"version"`
	InstallerType string    `gorm:"not null" json:"installer_type"`
	SourceType    string    `gorm:"not null" json:"source_type"`
	Source        string    `gorm:"type:text" json:"source"`
	InstallArgs   string    `gorm:"type:text" json:"install_args"`
	UninstallArgs string    `gorm:"type:text" json:"uninstall_args"`
	TargetOSType  string    `gorm:"index" json:"target_os_type"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SoftwarePackage) TableName() string { return "software_packages" }
