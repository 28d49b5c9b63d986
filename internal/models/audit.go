package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEntry records operator and agent activity against the fleet.
type AuditEntry struct {
	ID      int64             `gorm:"primaryKey" json:"id"`
	Actor   string            `gorm:"not null" json:"actor"`
	Action  string            `gorm:"not null" json:"action"`
	Obj     string            `json:"obj"`
	Details datatypes.JSONMap `json:"details"`
	At      time.Time         `gorm:"autoCreateTime" json:"at"`
}

func (AuditEntry) TableName() string { return "audit" }
