// services/wheel_service.go
package services

import (
	"context"
	"log"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"wager-ledger/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PrizeInput is one catalog row for SeedPrizes.
type PrizeInput struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Cost   int64   `json:"cost"`
	Value  int64   `json:"value"`
	Active *bool   `json:"active,omitempty"`
}

// WheelService draws prizes weighted among those the spender can afford.
// The catalog lives in the registry; draws and debits on the spender's
// shard.
type WheelService struct {
	Accounts *AccountStore
	DB       *gorm.DB

	mu  sync.Mutex
	rng *rand.Rand
}

// NewWheelService seeds the draw source. A zero seed picks a random one.
func NewWheelService(accounts *AccountStore, db *gorm.DB, seed uint64) *WheelService {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &WheelService{
		Accounts: accounts,
		DB:       db,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// normalizePrizeName folds runs of whitespace. Case is kept as typed.
func normalizePrizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// SeedPrizes upserts the catalog by prize name.
func (w *WheelService) SeedPrizes(ctx context.Context, inputs []PrizeInput) ([]models.WheelPrize, error) {
	if len(inputs) == 0 {
		return nil, newError(CodeInvalidArgument, "at least one prize is required")
	}
	prizes := make([]models.WheelPrize, 0, len(inputs))
	seen := map[string]bool{}
	for _, in := range inputs {
		name := normalizePrizeName(in.Name)
		key := models.PrizeKey(name)
		switch {
		case name == "":
			return nil, newError(CodeInvalidArgument, "prize name is required")
		case seen[key]:
			return nil, newError(CodeInvalidArgument, "prize %q listed twice", name)
		case in.Weight < 0:
			return nil, newError(CodeInvalidArgument, "prize %q has negative weight", name)
		case in.Cost < 0:
			return nil, newError(CodeInvalidArgument, "prize %q has negative cost", name)
		}
		seen[key] = true
		active := true
		if in.Active != nil {
			active = *in.Active
		}
		prizes = append(prizes, models.WheelPrize{
			Name:    name,
			NameKey: key,
			Weight:  in.Weight,
			Cost:    in.Cost,
			Value:   in.Value,
			Active:  active,
		})
	}

	err := w.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "weight", "cost", "value", "active", "updated_at"}),
	}).Create(&prizes).Error
	if err != nil {
		return nil, storageError("failed to upsert prizes", err)
	}
	log.Printf("✅ [WHEEL] Upserted %d prize(s)", len(prizes))
	return w.ListPrizes(ctx, true)
}

func (w *WheelService) ListPrizes(ctx context.Context, includeInactive bool) ([]models.WheelPrize, error) {
	q := w.DB.WithContext(ctx).Order("name ASC")
	if !includeInactive {
		q = q.Where("active = ?", true)
	}
	var prizes []models.WheelPrize
	if err := q.Find(&prizes).Error; err != nil {
		return nil, storageError("failed to list prizes", err)
	}
	return prizes, nil
}

func (w *WheelService) eligible(ctx context.Context, budget int64) ([]models.WheelPrize, error) {
	var prizes []models.WheelPrize
	err := w.DB.WithContext(ctx).
		Where("active = ? AND cost <= ? AND weight > 0", true, budget).
		Order("name ASC").
		Find(&prizes).Error
	if err != nil {
		return nil, storageError("failed to load prizes", err)
	}
	return prizes, nil
}

// pick draws proportionally to weight. Weights need not sum to one.
func (w *WheelService) pick(prizes []models.WheelPrize) models.WheelPrize {
	var total float64
	for _, p := range prizes {
		total += p.Weight
	}
	w.mu.Lock()
	roll := w.rng.Float64() * total
	w.mu.Unlock()

	for _, p := range prizes {
		if roll < p.Weight {
			return p
		}
		roll -= p.Weight
	}
	return prizes[len(prizes)-1]
}

// Spin draws a prize the spender can afford and charges its cost. The
// debit, its journal row and the draw record commit together or not at all.
func (w *WheelService) Spin(ctx context.Context, accountID string, budget int64) (*models.WheelDraw, error) {
	if budget < 0 {
		return nil, newError(CodeInvalidArgument, "budget must not be negative")
	}
	prizes, err := w.eligible(ctx, budget)
	if err != nil {
		return nil, err
	}
	if len(prizes) == 0 {
		return nil, newError(CodeNoEligiblePrizes, "no prize costs %d or less", budget)
	}
	prize := w.pick(prizes)

	sess, err := w.Accounts.Router.Begin(ctx, w.Accounts.Router.ShardIndex(accountID))
	if err != nil {
		return nil, storageError("failed to open shard session", err)
	}
	defer sess.Rollback()

	draw := &models.WheelDraw{
		ID:        uuid.NewString(),
		AccountID: accountID,
		PrizeID:   prize.ID,
		PrizeName: prize.Name,
		Cost:      prize.Cost,
		Value:     prize.Value,
		Budget:    budget,
		CreatedAt: time.Now().UTC(),
	}
	_, _, err = w.Accounts.adjust(sess.Tx(), accountID, -prize.Cost, models.LedgerEntry{
		IntentID:  draw.ID,
		Kind:      models.EntryKindSpin,
		Phase:     models.PhaseApply,
		Reference: prize.Name,
	})
	if err != nil {
		return nil, err
	}
	if err := sess.Tx().Create(draw).Error; err != nil {
		return nil, storageError("failed to record draw", err)
	}
	if err := sess.Commit(); err != nil {
		return nil, storageError("failed to commit draw", err)
	}
	log.Printf("🎡 [WHEEL] %s won %s (cost %d, budget %d)", accountID, prize.Name, prize.Cost, budget)
	return draw, nil
}

// ListDraws returns an account's draws, newest first.
func (w *WheelService) ListDraws(ctx context.Context, accountID string, limit int) ([]models.WheelDraw, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var draws []models.WheelDraw
	err := w.Accounts.Router.DB(w.Accounts.Router.ShardIndex(accountID)).WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&draws).Error
	if err != nil {
		return nil, storageError("failed to list draws", err)
	}
	return draws, nil
}
