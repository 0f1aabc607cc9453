// services/account_store.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wager-ledger/models"
	"wager-ledger/shard"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ShardRouter is the slice of *shard.Router the services depend on.
type ShardRouter interface {
	Count() int
	ShardIndex(accountID string) int
	Begin(ctx context.Context, idx int) (shard.Session, error)
	DB(idx int) *gorm.DB
}

// AccountStore owns account rows and their journal on every shard.
type AccountStore struct {
	Router ShardRouter
}

func NewAccountStore(router ShardRouter) *AccountStore {
	return &AccountStore{Router: router}
}

// ShardModels are migrated on every shard.
var ShardModels = []any{
	&models.Account{},
	&models.LedgerEntry{},
	&models.WheelDraw{},
}

// Migrate creates the shard tables on every shard.
func (s *AccountStore) Migrate() error {
	for i := 0; i < s.Router.Count(); i++ {
		if err := s.Router.DB(i).AutoMigrate(ShardModels...); err != nil {
			return fmt.Errorf("migrate shard %d: %w", i, err)
		}
	}
	return nil
}

// CreateAccount inserts an empty account on its shard. Creating an account
// that already exists is an InvalidState error.
func (s *AccountStore) CreateAccount(ctx context.Context, id, displayName string) (*models.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, newError(CodeInvalidArgument, "account id is required")
	}
	db := s.Router.DB(s.Router.ShardIndex(id)).WithContext(ctx)

	var existing int64
	if err := db.Model(&models.Account{}).Where("id = ?", id).Count(&existing).Error; err != nil {
		return nil, storageError("failed to check account", err)
	}
	if existing > 0 {
		return nil, newError(CodeInvalidState, "account %s already exists", id)
	}

	now := time.Now().UTC()
	account := &models.Account{ID: id, DisplayName: displayName, LastActivityAt: &now}
	if err := db.Create(account).Error; err != nil {
		return nil, storageError("failed to create account", err)
	}
	return account, nil
}

// Get reads an account outside any transaction.
func (s *AccountStore) Get(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := s.Router.DB(s.Router.ShardIndex(id)).WithContext(ctx).First(&account, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "account %s not found", id)
		}
		return nil, storageError("failed to load account", err)
	}
	return &account, nil
}

// Entries returns the newest journal rows of an account.
func (s *AccountStore) Entries(ctx context.Context, id string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []models.LedgerEntry
	err := s.Router.DB(s.Router.ShardIndex(id)).WithContext(ctx).
		Where("account_id = ?", id).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, storageError("failed to load ledger entries", err)
	}
	return entries, nil
}

// Deposit credits purchased coins. A non-empty reference makes the call
// idempotent: the same (account, reference) pair is only credited once.
func (s *AccountStore) Deposit(ctx context.Context, id string, amount int64, reference string) (*models.Account, error) {
	if amount <= 0 {
		return nil, newError(CodeInvalidArgument, "deposit amount must be positive")
	}
	intentID := uuid.NewString()
	if reference != "" {
		intentID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("deposit:"+id+":"+reference)).String()
	}

	sess, err := s.Router.Begin(ctx, s.Router.ShardIndex(id))
	if err != nil {
		return nil, storageError("failed to open shard session", err)
	}
	defer sess.Rollback()

	account, _, err := s.adjust(sess.Tx(), id, amount, models.LedgerEntry{
		IntentID:  intentID,
		Kind:      models.EntryKindDeposit,
		Phase:     models.PhaseApply,
		Reference: reference,
	})
	if err != nil {
		return nil, err
	}
	if err := sess.Commit(); err != nil {
		return nil, storageError("failed to commit deposit", err)
	}
	return account, nil
}

// lockAccount reads the row with FOR UPDATE so concurrent transactions on the
// same account serialise instead of losing updates.
func (s *AccountStore) lockAccount(tx *gorm.DB, id string) (*models.Account, error) {
	var account models.Account
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&account, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "account %s not found", id)
		}
		return nil, storageError("failed to lock account", err)
	}
	return &account, nil
}

// hasEntry reports whether the journal already holds this leg. Callers hold
// the account lock, so the answer cannot change before they write.
func (s *AccountStore) hasEntry(tx *gorm.DB, intentID, accountID string, phase models.EntryPhase) (bool, error) {
	var count int64
	err := tx.Model(&models.LedgerEntry{}).
		Where("intent_id = ? AND account_id = ? AND phase = ?", intentID, accountID, phase).
		Count(&count).Error
	if err != nil {
		return false, storageError("failed to read ledger entry", err)
	}
	return count > 0, nil
}

// adjust applies delta to one account inside tx and journals it. The bool
// is false when the leg was already journalled, in which case nothing is
// written. A result below zero is rejected before any write.
func (s *AccountStore) adjust(tx *gorm.DB, accountID string, delta int64, entry models.LedgerEntry) (*models.Account, bool, error) {
	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, false, err
	}
	done, err := s.hasEntry(tx, entry.IntentID, accountID, entry.Phase)
	if err != nil {
		return nil, false, err
	}
	if done {
		return account, false, nil
	}

	newBalance := account.Balance + delta
	if newBalance < 0 {
		return nil, false, newError(CodeInsufficientFunds,
			"account %s has %d, needs %d", accountID, account.Balance, -delta)
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"balance":          newBalance,
		"last_activity_at": now,
	}
	if entry.Kind == models.EntryKindDeposit {
		updates["total_purchased"] = account.TotalPurchased + delta
	}
	res := tx.Model(&models.Account{}).
		Where("id = ? AND balance = ?", accountID, account.Balance).
		Updates(updates)
	if res.Error != nil {
		return nil, false, storageError("failed to update balance", res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, false, storageError("failed to update balance",
			fmt.Errorf("account %s changed underneath the lock", accountID))
	}

	entry.AccountID = accountID
	entry.Delta = delta
	entry.BalanceAfter = newBalance
	entry.CreatedAt = now
	if err := tx.Create(&entry).Error; err != nil {
		return nil, false, storageError("failed to journal balance change", err)
	}

	account.Balance = newBalance
	account.LastActivityAt = &now
	if entry.Kind == models.EntryKindDeposit {
		account.TotalPurchased += delta
	}
	return account, true, nil
}

// legEntries returns which phases of an intent are journalled for an
// account on its shard. Used by the reconciler to learn what landed.
func (s *AccountStore) legEntries(ctx context.Context, idx int, intentID, accountID string) (applied, compensated bool, err error) {
	var entries []models.LedgerEntry
	err = s.Router.DB(idx).WithContext(ctx).
		Where("intent_id = ? AND account_id = ?", intentID, accountID).
		Find(&entries).Error
	if err != nil {
		return false, false, storageError("failed to read ledger entries", err)
	}
	for _, e := range entries {
		switch e.Phase {
		case models.PhaseApply:
			applied = true
		case models.PhaseCompensate:
			compensated = true
		}
	}
	return applied, compensated, nil
}
