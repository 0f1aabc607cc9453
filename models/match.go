// models/match.go
package models

import "time"

// Close reasons recorded when a match goes inactive.
const (
	CloseReasonSettled   = "settled"
	CloseReasonCancelled = "cancelled"
	CloseReasonEmpty     = "empty"
)

// SafeZoneStage is one shrink step consumed by the match simulation.
type SafeZoneStage struct {
	Radius        float64 `json:"radius"`
	ShrinkSeconds float64 `json:"shrink_seconds"`
	DamagePerTick float64 `json:"damage_per_tick"`
}

// Match is a stake pool held in escrow. Pot is owned by the match, not by
// any member, until settlement or cancellation drains it.
type Match struct {
	ID              string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name            string `gorm:"type:varchar(128);not null" json:"name"`
	Slug            string `gorm:"type:varchar(160);index" json:"slug"`
	StakeUnit       int64  `gorm:"not null;check:stake_unit >= 0" json:"stake_unit"`
	Pot             int64  `gorm:"not null;default:0;check:pot >= 0" json:"pot"`
	ExpectedPlayers int    `gorm:"not null" json:"expected_players"`
	Active          bool   `gorm:"not null;index" json:"active"`

	// Set while a settle or cancel is paying out; blocks every other mutation.
	SettlementIntentID *string `gorm:"type:varchar(36)" json:"settlement_intent_id,omitempty"`

	// Coins that left the pot without being paid to anyone.
	Forfeited    int64      `gorm:"not null;default:0" json:"forfeited"`
	ClosedReason string     `gorm:"type:varchar(16)" json:"closed_reason,omitempty"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`

	SafeZone []SafeZoneStage `gorm:"serializer:json;type:text" json:"safe_zone"`
	Version  int64           `gorm:"not null;default:1" json:"version"`

	Members []MatchMember `gorm:"foreignKey:MatchID" json:"members,omitempty"`

	Timestamps
}

// IsMember reports whether accountID joined the match.
func (m *Match) IsMember(accountID string) bool {
	return m.Member(accountID) != nil
}

// Member returns the roster entry for accountID, or nil.
func (m *Match) Member(accountID string) *MatchMember {
	for i := range m.Members {
		if m.Members[i].AccountID == accountID {
			return &m.Members[i]
		}
	}
	return nil
}

// Survivors lists members not yet eliminated, in roster order.
func (m *Match) Survivors() []MatchMember {
	var out []MatchMember
	for _, member := range m.Members {
		if !member.Eliminated {
			out = append(out, member)
		}
	}
	return out
}

// Eliminated lists the account ids knocked out of the match.
func (m *Match) Eliminated() []string {
	var out []string
	for _, member := range m.Members {
		if member.Eliminated {
			out = append(out, member.AccountID)
		}
	}
	return out
}

// MatchMember is a roster row. The composite unique index is what keeps an
// account from appearing twice in one match.
type MatchMember struct {
	ID           uint       `gorm:"primaryKey" json:"-"`
	MatchID      string     `gorm:"type:varchar(36);not null;uniqueIndex:uniq_match_member,priority:1" json:"match_id"`
	AccountID    string     `gorm:"type:varchar(128);not null;uniqueIndex:uniq_match_member,priority:2" json:"account_id"`
	Squad        string     `gorm:"type:varchar(64)" json:"squad"`
	Eliminated   bool       `gorm:"not null;default:false" json:"eliminated"`
	EliminatedBy string     `gorm:"type:varchar(128)" json:"eliminated_by,omitempty"`
	EliminatedAt *time.Time `json:"eliminated_at,omitempty"`
	JoinIntentID string     `gorm:"type:varchar(36);index" json:"join_intent_id"`
	// Outcome intent that eliminated this member.
	EliminationIntentID string `gorm:"type:varchar(36);index" json:"elimination_intent_id,omitempty"`

	Timestamps
}
