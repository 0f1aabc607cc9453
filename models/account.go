// models/account.go
package models

import "time"

// Account lives on the shard chosen by the router for its ID.
// Balance is in coins and must never go below zero.
type Account struct {
	ID             string     `gorm:"primaryKey;type:varchar(128)" json:"id"`
	DisplayName    string     `gorm:"type:varchar(128)" json:"display_name"`
	Balance        int64      `gorm:"not null;default:0;check:balance >= 0" json:"balance"`
	TotalPurchased int64      `gorm:"not null;default:0" json:"total_purchased"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`

	Timestamps
}
