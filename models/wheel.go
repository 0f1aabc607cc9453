// models/wheel.go
package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"gorm.io/gorm"
)

// WheelPrize is a catalog row. Weight is relative; the wheel normalises
// over the affordable prizes at draw time.
type WheelPrize struct {
	ID     string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name   string  `gorm:"type:varchar(128);not null" json:"name"`
	Weight float64 `gorm:"not null;check:weight >= 0" json:"weight"`
	Cost   int64   `gorm:"not null;check:cost >= 0" json:"cost"`
	Value  int64   `gorm:"not null;default:0" json:"value"`
	Active bool    `gorm:"not null" json:"active"`

	// Case-folded Name; the catalog is upserted on it.
	NameKey string `gorm:"type:varchar(128);not null;uniqueIndex" json:"-"`

	Timestamps
}

func (p *WheelPrize) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.NameKey == "" {
		p.NameKey = PrizeKey(p.Name)
	}
	return nil
}

// PrizeKey is the identity of a prize name: "Gold Coin" and "gold coin"
// are the same prize.
func PrizeKey(name string) string {
	return cases.Fold().String(name)
}

// WheelDraw is the audit record of one spin, written on the spender's
// shard in the same transaction as the debit. Never updated.
type WheelDraw struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AccountID string    `gorm:"type:varchar(128);not null;index" json:"account_id"`
	PrizeID   string    `gorm:"type:varchar(36);not null" json:"prize_id"`
	PrizeName string    `gorm:"type:varchar(128);not null" json:"prize_name"`
	Cost      int64     `gorm:"not null" json:"cost"`
	Value     int64     `gorm:"not null" json:"value"`
	Budget    int64     `gorm:"not null" json:"budget"`
	CreatedAt time.Time `gorm:"not null;index:idx_draw_created,priority:1" json:"created_at"`
}

func (d *WheelDraw) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

func (d *WheelDraw) BeforeUpdate(tx *gorm.DB) error { return ErrAppendOnly }

func (d *WheelDraw) BeforeDelete(tx *gorm.DB) error { return ErrAppendOnly }
