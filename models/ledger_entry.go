// models/ledger_entry.go
package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EntryKind names the operation that moved coins.
type EntryKind string

const (
	EntryKindDeposit EntryKind = "deposit"
	EntryKindJoin    EntryKind = "join"
	EntryKindOutcome EntryKind = "outcome"
	EntryKindSettle  EntryKind = "settle"
	EntryKindCancel  EntryKind = "cancel"
	EntryKindSpin    EntryKind = "spin"
)

// EntryPhase separates the forward leg of an intent from its reversal.
type EntryPhase string

const (
	PhaseApply      EntryPhase = "apply"
	PhaseCompensate EntryPhase = "compensate"
)

// ErrAppendOnly is returned by hooks on journal tables.
var ErrAppendOnly = errors.New("append-only table: rows cannot be modified")

// LedgerEntry is one balance movement on one account, stored on the
// account's shard in the same transaction as the balance change. The
// unique key makes replaying an intent leg a constraint violation instead
// of a double charge.
type LedgerEntry struct {
	ID           string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	IntentID     string     `gorm:"type:varchar(36);not null;uniqueIndex:uniq_entry_intent_leg,priority:1" json:"intent_id"`
	AccountID    string     `gorm:"type:varchar(128);not null;uniqueIndex:uniq_entry_intent_leg,priority:2;index:idx_entry_account_created,priority:1" json:"account_id"`
	Phase        EntryPhase `gorm:"type:varchar(16);not null;uniqueIndex:uniq_entry_intent_leg,priority:3" json:"phase"`
	Kind         EntryKind  `gorm:"type:varchar(16);not null" json:"kind"`
	MatchID      *string    `gorm:"type:varchar(36);index" json:"match_id,omitempty"`
	Reference    string     `gorm:"type:varchar(128)" json:"reference,omitempty"`
	Delta        int64      `gorm:"not null" json:"delta"`
	BalanceAfter int64      `gorm:"not null" json:"balance_after"`
	CreatedAt    time.Time  `gorm:"not null;index:idx_entry_account_created,priority:2" json:"created_at"`
}

func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

func (e *LedgerEntry) BeforeUpdate(tx *gorm.DB) error { return ErrAppendOnly }

func (e *LedgerEntry) BeforeDelete(tx *gorm.DB) error { return ErrAppendOnly }
