// services/intent_log.go
package services

import (
	"context"
	"errors"
	"time"

	"wager-ledger/models"

	"gorm.io/gorm"
)

// IntentLog persists TransferIntents in the registry database. An intent
// is written before any balance moves so a crash between shard commits
// leaves a record the reconciler can finish or reverse.
type IntentLog struct {
	DB *gorm.DB
}

func NewIntentLog(db *gorm.DB) *IntentLog {
	return &IntentLog{DB: db}
}

// Create records intent as pending.
func (l *IntentLog) Create(ctx context.Context, intent *models.TransferIntent) error {
	intent.State = models.IntentPending
	if err := l.DB.WithContext(ctx).Create(intent).Error; err != nil {
		return storageError("failed to record transfer intent", err)
	}
	return nil
}

func (l *IntentLog) Get(ctx context.Context, id string) (*models.TransferIntent, error) {
	var intent models.TransferIntent
	if err := l.DB.WithContext(ctx).First(&intent, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "intent %s not found", id)
		}
		return nil, storageError("failed to load transfer intent", err)
	}
	return &intent, nil
}

// SetLegs records the legs of an intent whose amounts were only known after
// it was created (settlement computes them from the claimed snapshot).
func (l *IntentLog) SetLegs(ctx context.Context, id string, legs []models.IntentLeg) error {
	err := l.DB.WithContext(ctx).Model(&models.TransferIntent{}).
		Where("id = ?", id).
		Select("legs").
		Updates(&models.TransferIntent{Legs: legs}).Error
	if err != nil {
		return storageError("failed to record intent legs", err)
	}
	return nil
}

// Mark moves an intent to state. Terminal intents are never reopened.
func (l *IntentLog) Mark(ctx context.Context, id string, state models.IntentState, cause error) error {
	return l.MarkTx(l.DB.WithContext(ctx), id, state, cause)
}

// MarkTx is Mark inside an existing registry transaction, so the state
// change commits together with the registry update it describes.
func (l *IntentLog) MarkTx(tx *gorm.DB, id string, state models.IntentState, cause error) error {
	updates := map[string]any{"state": state, "updated_at": time.Now().UTC()}
	if cause != nil {
		updates["last_error"] = cause.Error()
	}
	err := tx.Model(&models.TransferIntent{}).
		Where("id = ? AND state IN ?", id, openStates).
		Updates(updates).Error
	if err != nil {
		return storageError("failed to update transfer intent", err)
	}
	return nil
}

var openStates = []models.IntentState{
	models.IntentPending,
	models.IntentCommitted,
	models.IntentPartial,
}

// Stale lists open intents not touched since before cutoff, oldest first.
func (l *IntentLog) Stale(ctx context.Context, cutoff time.Time, limit int) ([]models.TransferIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	var intents []models.TransferIntent
	err := l.DB.WithContext(ctx).
		Where("state IN ? AND updated_at < ?", openStates, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&intents).Error
	if err != nil {
		return nil, storageError("failed to list stale intents", err)
	}
	return intents, nil
}
