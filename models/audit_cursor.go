// models/audit_cursor.go
package models

import "time"

// AuditCursor is the archiver's per-shard watermark over wheel_draws.
// Keeping it out of the draw table keeps the draw log untouched.
type AuditCursor struct {
	Shard         int       `gorm:"primaryKey;autoIncrement:false" json:"shard"`
	LastCreatedAt time.Time `json:"last_created_at"`
	LastID        string    `gorm:"type:varchar(36)" json:"last_id"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
