package models

import "time"

// Timestamps adds GORM auto-times. Ledger tables are never soft-deleted,
// so unlike the catalog tables there is no DeletedAt.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
