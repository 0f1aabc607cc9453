// services/match_registry.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"wager-ledger/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RegistryModels are migrated on the registry database.
var RegistryModels = []any{
	&models.Match{},
	&models.MatchMember{},
	&models.TransferIntent{},
	&models.WheelPrize{},
	&models.AuditCursor{},
}

// Caps limit a match at join time. Zero means unlimited.
type Caps struct {
	MaxMembers int
	MaxPot     int64
}

// MatchRegistry is the persisted match table. Every mutation runs in one
// registry transaction that locks the match row and bumps its version, so
// concurrent writers from any process see a consistent roster and pot.
type MatchRegistry struct {
	DB      *gorm.DB
	Intents *IntentLog
}

func NewMatchRegistry(db *gorm.DB, intents *IntentLog) *MatchRegistry {
	return &MatchRegistry{DB: db, Intents: intents}
}

func (r *MatchRegistry) Migrate() error {
	if err := r.DB.AutoMigrate(RegistryModels...); err != nil {
		return fmt.Errorf("migrate registry: %w", err)
	}
	return nil
}

func (r *MatchRegistry) Create(ctx context.Context, match *models.Match) error {
	if err := r.DB.WithContext(ctx).Create(match).Error; err != nil {
		return storageError("failed to register match", err)
	}
	return nil
}

// transaction runs fn in a registry transaction. Commit failures surface as
// storage errors; errors returned by fn pass through unchanged.
func (r *MatchRegistry) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return asLedgerError("registry transaction failed", r.DB.WithContext(ctx).Transaction(fn))
}

// Get loads a match with its roster.
func (r *MatchRegistry) Get(ctx context.Context, id string) (*models.Match, error) {
	return r.load(r.DB.WithContext(ctx), id, false)
}

func (r *MatchRegistry) load(db *gorm.DB, id string, lock bool) (*models.Match, error) {
	var match models.Match
	q := db.Preload("Members", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	})
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(&match, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "match %s not found", id)
		}
		return nil, storageError("failed to load match", err)
	}
	return &match, nil
}

// mutable rejects matches that are closed or mid-settlement.
func mutable(match *models.Match) error {
	if !match.Active {
		return newError(CodeInvalidState, "match %s is not active", match.ID)
	}
	if match.SettlementIntentID != nil {
		return newError(CodeInvalidState, "match %s is being settled", match.ID)
	}
	return nil
}

// CheckJoin validates a join against a snapshot of the match. The same
// checks run again under the row lock in AddMember.
func CheckJoin(match *models.Match, accountID string, caps Caps) error {
	if err := mutable(match); err != nil {
		return err
	}
	if match.IsMember(accountID) {
		return newError(CodeInvalidState, "account %s already joined match %s", accountID, match.ID)
	}
	if caps.MaxMembers > 0 && len(match.Members) >= caps.MaxMembers {
		return newError(CodeInvalidState, "match %s is full (%d members)", match.ID, caps.MaxMembers)
	}
	if caps.MaxPot > 0 && match.Pot+match.StakeUnit > caps.MaxPot {
		return newError(CodeInvalidState, "match %s pot cap %d reached", match.ID, caps.MaxPot)
	}
	return nil
}

// bump applies updates to the match row if nobody changed it since it was
// read, and advances the version.
func bump(tx *gorm.DB, match *models.Match, updates map[string]any) error {
	updates["version"] = match.Version + 1
	updates["updated_at"] = time.Now().UTC()
	res := tx.Model(&models.Match{}).
		Where("id = ? AND version = ?", match.ID, match.Version).
		Updates(updates)
	if res.Error != nil {
		return storageError("failed to update match", res.Error)
	}
	if res.RowsAffected != 1 {
		return newError(CodeInvalidState, "match %s was modified concurrently", match.ID)
	}
	match.Version++
	return nil
}

// AddMember records a paid join: roster row, pot increase and the join
// intent marked applied, all in one registry transaction. Replaying an
// intent that already added its member is a no-op.
func (r *MatchRegistry) AddMember(ctx context.Context, matchID, accountID, squad, intentID string, caps Caps) error {
	return r.transaction(ctx, func(tx *gorm.DB) error {
		match, err := r.load(tx, matchID, true)
		if err != nil {
			return err
		}
		if m := match.Member(accountID); m != nil && m.JoinIntentID == intentID {
			return r.Intents.MarkTx(tx, intentID, models.IntentApplied, nil)
		}
		if err := CheckJoin(match, accountID, caps); err != nil {
			return err
		}

		member := &models.MatchMember{
			MatchID:      matchID,
			AccountID:    accountID,
			Squad:        squad,
			JoinIntentID: intentID,
		}
		if err := tx.Create(member).Error; err != nil {
			return storageError("failed to add match member", err)
		}
		if err := bump(tx, match, map[string]any{"pot": match.Pot + match.StakeUnit}); err != nil {
			return err
		}
		return r.Intents.MarkTx(tx, intentID, models.IntentApplied, nil)
	})
}

// CheckOutcome validates an outcome transfer against a snapshot.
func CheckOutcome(match *models.Match, winnerID, loserID string) error {
	if err := mutable(match); err != nil {
		return err
	}
	if winnerID == loserID {
		return newError(CodeInvalidArgument, "winner and loser must differ")
	}
	for _, id := range []string{winnerID, loserID} {
		member := match.Member(id)
		if member == nil {
			return newError(CodeInvalidState, "account %s is not a member of match %s", id, match.ID)
		}
		if member.Eliminated {
			return newError(CodeInvalidState, "account %s is already eliminated from match %s", id, match.ID)
		}
	}
	return nil
}

// Eliminate marks the loser of an applied outcome transfer.
func (r *MatchRegistry) Eliminate(ctx context.Context, matchID, winnerID, loserID, intentID string) error {
	return r.transaction(ctx, func(tx *gorm.DB) error {
		match, err := r.load(tx, matchID, true)
		if err != nil {
			return err
		}
		if m := match.Member(loserID); m != nil && m.EliminationIntentID == intentID {
			return r.Intents.MarkTx(tx, intentID, models.IntentApplied, nil)
		}
		if err := CheckOutcome(match, winnerID, loserID); err != nil {
			return err
		}

		now := time.Now().UTC()
		res := tx.Model(&models.MatchMember{}).
			Where("match_id = ? AND account_id = ? AND eliminated = ?", matchID, loserID, false).
			Updates(map[string]any{
				"eliminated":            true,
				"eliminated_by":         winnerID,
				"eliminated_at":         now,
				"elimination_intent_id": intentID,
				"updated_at":            now,
			})
		if res.Error != nil {
			return storageError("failed to eliminate member", res.Error)
		}
		if res.RowsAffected != 1 {
			return newError(CodeInvalidState, "account %s is already eliminated from match %s", loserID, matchID)
		}
		if err := bump(tx, match, map[string]any{}); err != nil {
			return err
		}
		return r.Intents.MarkTx(tx, intentID, models.IntentApplied, nil)
	})
}

// BeginSettlement claims the match for a payout. While the claim is held
// joins, transfers and other settlements are rejected. The returned match
// is the locked snapshot the payout must be computed from.
func (r *MatchRegistry) BeginSettlement(ctx context.Context, matchID, intentID string) (*models.Match, error) {
	var claimed *models.Match
	err := r.transaction(ctx, func(tx *gorm.DB) error {
		match, err := r.load(tx, matchID, true)
		if err != nil {
			return err
		}
		if err := mutable(match); err != nil {
			return err
		}
		if err := bump(tx, match, map[string]any{"settlement_intent_id": intentID}); err != nil {
			return err
		}
		match.SettlementIntentID = &intentID
		claimed = match
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// FinishSettlement closes a claimed match: inactive, pot drained, claim
// cleared and the intent applied, in one registry transaction.
func (r *MatchRegistry) FinishSettlement(ctx context.Context, matchID, intentID string, forfeited int64, reason string) error {
	return r.transaction(ctx, func(tx *gorm.DB) error {
		match, err := r.load(tx, matchID, true)
		if err != nil {
			return err
		}
		if !match.Active && match.ClosedReason != "" {
			// Already closed by this intent on an earlier attempt.
			return r.Intents.MarkTx(tx, intentID, models.IntentApplied, nil)
		}
		if match.SettlementIntentID == nil || *match.SettlementIntentID != intentID {
			return newError(CodeInvalidState, "match %s is not claimed by intent %s", matchID, intentID)
		}

		now := time.Now().UTC()
		err = bump(tx, match, map[string]any{
			"active":               false,
			"pot":                  0,
			"forfeited":            match.Forfeited + forfeited,
			"closed_reason":        reason,
			"settled_at":           now,
			"settlement_intent_id": nil,
		})
		if err != nil {
			return err
		}
		log.Printf("🏁 [REGISTRY] Match %s closed (%s), forfeited %d", matchID, reason, forfeited)
		return r.Intents.MarkTx(tx, intentID, models.IntentApplied, nil)
	})
}

// ReleaseSettlement drops a claim after a failed payout. The match keeps
// its pot and roster so the payout can be retried.
func (r *MatchRegistry) ReleaseSettlement(ctx context.Context, matchID, intentID string) error {
	return r.transaction(ctx, func(tx *gorm.DB) error {
		match, err := r.load(tx, matchID, true)
		if err != nil {
			return err
		}
		if match.SettlementIntentID == nil || *match.SettlementIntentID != intentID {
			return nil
		}
		return bump(tx, match, map[string]any{"settlement_intent_id": nil})
	})
}
