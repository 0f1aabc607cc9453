// models/transfer_intent.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type IntentKind string

const (
	IntentJoin    IntentKind = "join"
	IntentOutcome IntentKind = "outcome"
	IntentSettle  IntentKind = "settle"
	IntentCancel  IntentKind = "cancel"
)

type IntentState string

const (
	IntentPending     IntentState = "pending"     // recorded, no shard commit observed yet
	IntentCommitted   IntentState = "committed"   // every leg committed, registry not yet updated
	IntentPartial     IntentState = "partial"     // some legs committed, others not
	IntentApplied     IntentState = "applied"     // terminal: balances and registry agree
	IntentCompensated IntentState = "compensated" // terminal: landed legs reversed
	IntentFailed      IntentState = "failed"      // terminal: nothing landed
)

// Open reports whether the reconciler still has work to do on the intent.
func (s IntentState) Open() bool {
	return s == IntentPending || s == IntentCommitted || s == IntentPartial
}

// IntentLeg is one signed balance change on one account.
type IntentLeg struct {
	AccountID string `json:"account_id"`
	Shard     int    `json:"shard"`
	Delta     int64  `json:"delta"`
}

// TransferIntent is the durable saga record written before any balance
// moves. It lives in the registry database next to the matches it touches.
type TransferIntent struct {
	ID        string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Kind      IntentKind  `gorm:"type:varchar(16);not null" json:"kind"`
	MatchID   string      `gorm:"type:varchar(36);not null;index" json:"match_id"`
	State     IntentState `gorm:"type:varchar(16);not null;index:idx_intent_state_updated,priority:1" json:"state"`
	Legs      []IntentLeg `gorm:"serializer:json;type:text" json:"legs"`
	// Squad the member joins with; join intents only.
	Squad     string      `gorm:"type:varchar(64)" json:"squad,omitempty"`
	LastError string      `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime;index:idx_intent_state_updated,priority:2"`
}

func (i *TransferIntent) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}
