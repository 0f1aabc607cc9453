package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"wager-ledger/config"
	"wager-ledger/models"
	"wager-ledger/shard"

	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected commit failure")

// flakyRouter fails the next N commits on chosen shards. A failed commit
// rolls the underlying transaction back, as a lost connection would.
type flakyRouter struct {
	*shard.Router

	mu   sync.Mutex
	fail map[int]int
}

func (f *flakyRouter) FailCommits(idx, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[idx] += times
}

func (f *flakyRouter) take(idx int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[idx] > 0 {
		f.fail[idx]--
		return true
	}
	return false
}

func (f *flakyRouter) Begin(ctx context.Context, idx int) (shard.Session, error) {
	sess, err := f.Router.Begin(ctx, idx)
	if err != nil {
		return nil, err
	}
	return &flakySession{Session: sess, router: f}, nil
}

type flakySession struct {
	shard.Session
	router *flakyRouter
}

func (s *flakySession) Commit() error {
	if s.router.take(s.Shard()) {
		s.Session.Rollback()
		return errInjected
	}
	return s.Session.Commit()
}

type testEnv struct {
	router     *flakyRouter
	accounts   *AccountStore
	intents    *IntentLog
	registry   *MatchRegistry
	escrow     *EscrowService
	wheel      *WheelService
	reconciler *Reconciler
}

func newTestEnv(t *testing.T, shards int, tweak ...func(*EscrowConfig)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	dsns := make([]string, shards)
	for i := range dsns {
		dsns[i] = filepath.Join(dir, fmt.Sprintf("shard%d.db", i))
	}
	dbs, err := shard.Open("sqlite", dsns)
	require.NoError(t, err)
	r, err := shard.New(dbs, shard.StrategyXXHash)
	require.NoError(t, err)
	registryDB, err := shard.OpenDB("sqlite", filepath.Join(dir, "registry.db"))
	require.NoError(t, err)

	router := &flakyRouter{Router: r, fail: map[int]int{}}
	accounts := NewAccountStore(router)
	require.NoError(t, accounts.Migrate())
	intents := NewIntentLog(registryDB)
	registry := NewMatchRegistry(registryDB, intents)
	require.NoError(t, registry.Migrate())

	cfg := EscrowConfig{RemainderPolicy: config.RemainderDiscard, SafeZone: DefaultSafeZonePolicy}
	for _, fn := range tweak {
		fn(&cfg)
	}
	escrow, err := NewEscrowService(accounts, registry, intents, cfg)
	require.NoError(t, err)

	return &testEnv{
		router:     router,
		accounts:   accounts,
		intents:    intents,
		registry:   registry,
		escrow:     escrow,
		wheel:      NewWheelService(accounts, registryDB, 42),
		reconciler: NewReconciler(escrow, 0),
	}
}

// idOnShard returns an account id that routes to shard idx.
func (e *testEnv) idOnShard(t *testing.T, prefix string, idx int) string {
	t.Helper()
	for i := 0; i < 10000; i++ {
		id := fmt.Sprintf("%s-%d", prefix, i)
		if e.router.ShardIndex(id) == idx {
			return id
		}
	}
	t.Fatalf("no id with prefix %s lands on shard %d", prefix, idx)
	return ""
}

func (e *testEnv) fund(t *testing.T, id string, balance int64) {
	t.Helper()
	ctx := context.Background()
	_, err := e.accounts.CreateAccount(ctx, id, id)
	require.NoError(t, err)
	if balance > 0 {
		_, err = e.accounts.Deposit(ctx, id, balance, "opening-"+id)
		require.NoError(t, err)
	}
}

func (e *testEnv) balance(t *testing.T, id string) int64 {
	t.Helper()
	account, err := e.accounts.Get(context.Background(), id)
	require.NoError(t, err)
	return account.Balance
}

func (e *testEnv) total(t *testing.T, ids ...string) int64 {
	t.Helper()
	var sum int64
	for _, id := range ids {
		sum += e.balance(t, id)
	}
	return sum
}

func (e *testEnv) match(t *testing.T, id string) *models.Match {
	t.Helper()
	m, err := e.registry.Get(context.Background(), id)
	require.NoError(t, err)
	return m
}

func (e *testEnv) intentStates(t *testing.T, matchID string) map[models.IntentKind][]models.IntentState {
	t.Helper()
	var intents []models.TransferIntent
	require.NoError(t, e.intents.DB.Where("match_id = ?", matchID).Order("created_at ASC").Find(&intents).Error)
	out := map[models.IntentKind][]models.IntentState{}
	for _, in := range intents {
		out[in.Kind] = append(out[in.Kind], in.State)
	}
	return out
}
