// shard/router.go
package shard

import (
	"context"
	"fmt"
	"hash/crc32"
	"hash/fnv"

	"github.com/cespare/xxhash/v2"
	"gorm.io/gorm"
)

const (
	StrategyFNV    = "fnv"
	StrategyCRC32  = "crc32"
	StrategyXXHash = "xxhash"
)

type hashFunc func(string) uint64

var strategies = map[string]hashFunc{
	StrategyFNV: func(id string) uint64 {
		h := fnv.New64a()
		h.Write([]byte(id))
		return h.Sum64()
	},
	StrategyCRC32: func(id string) uint64 {
		return uint64(crc32.ChecksumIEEE([]byte(id)))
	},
	StrategyXXHash: xxhash.Sum64String,
}

// Session is a unit of work bound to one shard.
type Session interface {
	Shard() int
	Tx() *gorm.DB
	Commit() error
	Rollback() error
}

// Router maps account ids onto a fixed set of shard databases. The shard
// count never changes after New; resharding is an offline process.
type Router struct {
	dbs      []*gorm.DB
	hash     hashFunc
	strategy string
}

// New validates the shard set and hash strategy. Misconfiguration is
// reported here so it surfaces at startup rather than per request.
func New(dbs []*gorm.DB, strategy string) (*Router, error) {
	if len(dbs) == 0 {
		return nil, fmt.Errorf("shard router: at least one shard is required")
	}
	for i, db := range dbs {
		if db == nil {
			return nil, fmt.Errorf("shard router: shard %d has no database handle", i)
		}
	}
	h, ok := strategies[strategy]
	if !ok {
		return nil, fmt.Errorf("shard router: unknown hash strategy %q", strategy)
	}
	return &Router{dbs: dbs, hash: h, strategy: strategy}, nil
}

func (r *Router) Count() int { return len(r.dbs) }

func (r *Router) Strategy() string { return r.strategy }

// ShardIndex returns the shard owning accountID, in [0, Count()).
func (r *Router) ShardIndex(accountID string) int {
	return int(r.hash(accountID) % uint64(len(r.dbs)))
}

// DB returns the raw handle of a shard, for reads outside a transaction.
func (r *Router) DB(shard int) *gorm.DB {
	return r.dbs[shard]
}

// Begin opens a transaction on the given shard.
func (r *Router) Begin(ctx context.Context, shard int) (Session, error) {
	if shard < 0 || shard >= len(r.dbs) {
		return nil, fmt.Errorf("shard router: shard %d out of range [0,%d)", shard, len(r.dbs))
	}
	tx := r.dbs[shard].WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin shard %d: %w", shard, tx.Error)
	}
	return &session{shard: shard, tx: tx}, nil
}

// BeginFor opens a transaction on the shard owning accountID.
func (r *Router) BeginFor(ctx context.Context, accountID string) (Session, error) {
	return r.Begin(ctx, r.ShardIndex(accountID))
}

// Each calls fn for every shard in index order and stops at the first error.
func (r *Router) Each(fn func(shard int, db *gorm.DB) error) error {
	for i, db := range r.dbs {
		if err := fn(i, db); err != nil {
			return fmt.Errorf("shard %d: %w", i, err)
		}
	}
	return nil
}

type session struct {
	shard int
	tx    *gorm.DB
	done  bool
}

func (s *session) Shard() int { return s.shard }

func (s *session) Tx() *gorm.DB { return s.tx }

func (s *session) Commit() error {
	if s.done {
		return fmt.Errorf("shard %d: session already closed", s.shard)
	}
	s.done = true
	if err := s.tx.Commit().Error; err != nil {
		return fmt.Errorf("commit shard %d: %w", s.shard, err)
	}
	return nil
}

// Rollback is a no-op on a closed session so it can be deferred freely.
func (s *session) Rollback() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Rollback().Error; err != nil {
		return fmt.Errorf("rollback shard %d: %w", s.shard, err)
	}
	return nil
}
