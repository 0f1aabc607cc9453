package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"wager-ledger/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ObjectStore is where archived draw batches are written.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// ShardSet exposes the shard databases holding wheel_draws.
type ShardSet interface {
	Count() int
	DB(idx int) *gorm.DB
}

// AuditArchiveWorker copies new wheel draws from every shard to object
// storage as JSON lines. Progress is kept in audit_cursors on the registry;
// draw rows are only ever read.
type AuditArchiveWorker struct {
	Shards   ShardSet
	Registry *gorm.DB
	Store    ObjectStore
	Batch    int
}

func NewAuditArchiveWorker(shards ShardSet, registry *gorm.DB, store ObjectStore) *AuditArchiveWorker {
	return &AuditArchiveWorker{Shards: shards, Registry: registry, Store: store, Batch: 1000}
}

const keyTimeLayout = "20060102T150405.000000000Z"

// ArchiveKey names the object holding draws from..to of one shard.
func ArchiveKey(shard int, from, to time.Time) string {
	return fmt.Sprintf("audit/wheel-draws/shard-%02d/%s_%s.jsonl",
		shard, from.UTC().Format(keyTimeLayout), to.UTC().Format(keyTimeLayout))
}

// RunOnce archives one batch per shard and returns how many draws were
// exported. A failing shard does not stop the others.
func (w *AuditArchiveWorker) RunOnce(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for idx := 0; idx < w.Shards.Count(); idx++ {
		n, err := w.archiveShard(ctx, idx)
		if err != nil {
			log.Printf("❌ [AUDIT] Shard %d archive failed: %v", idx, err)
			errs = append(errs, fmt.Errorf("shard %d: %w", idx, err))
			continue
		}
		total += n
	}
	if total > 0 {
		log.Printf("✅ [AUDIT] Archived %d wheel draw(s)", total)
	}
	return total, errors.Join(errs...)
}

func (w *AuditArchiveWorker) cursor(ctx context.Context, idx int) (models.AuditCursor, error) {
	cur := models.AuditCursor{Shard: idx}
	err := w.Registry.WithContext(ctx).First(&cur, "shard = ?", idx).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return cur, fmt.Errorf("failed to load cursor: %w", err)
	}
	return cur, nil
}

func (w *AuditArchiveWorker) archiveShard(ctx context.Context, idx int) (int, error) {
	cur, err := w.cursor(ctx, idx)
	if err != nil {
		return 0, err
	}

	batch := w.Batch
	if batch <= 0 {
		batch = 1000
	}
	q := w.Shards.DB(idx).WithContext(ctx).Order("created_at ASC, id ASC").Limit(batch)
	if cur.LastID != "" {
		q = q.Where("created_at > ? OR (created_at = ? AND id > ?)", cur.LastCreatedAt, cur.LastCreatedAt, cur.LastID)
	}
	var draws []models.WheelDraw
	if err := q.Find(&draws).Error; err != nil {
		return 0, fmt.Errorf("failed to read draws: %w", err)
	}
	if len(draws) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range draws {
		if err := enc.Encode(&draws[i]); err != nil {
			return 0, fmt.Errorf("failed to encode draw %s: %w", draws[i].ID, err)
		}
	}

	first, last := draws[0], draws[len(draws)-1]
	key := ArchiveKey(idx, first.CreatedAt, last.CreatedAt)
	if err := w.Store.Put(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		// Cursor stays put; the same window is retried next run.
		return 0, err
	}

	next := models.AuditCursor{Shard: idx, LastCreatedAt: last.CreatedAt, LastID: last.ID}
	err = w.Registry.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shard"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_created_at", "last_id", "updated_at"}),
	}).Create(&next).Error
	if err != nil {
		return 0, fmt.Errorf("failed to advance cursor: %w", err)
	}
	log.Printf("📦 [AUDIT] Shard %d: %d draw(s) -> %s", idx, len(draws), key)
	return len(draws), nil
}
