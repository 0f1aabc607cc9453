package services

import (
	"context"
	"testing"

	"wager-ledger/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetAccount(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()

	account, err := env.accounts.CreateAccount(ctx, " alice ", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", account.ID)
	assert.EqualValues(t, 0, account.Balance)

	var count int64
	require.NoError(t, env.router.DB(env.router.ShardIndex("alice")).Model(&models.Account{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "account lives on its routed shard")

	_, err = env.accounts.CreateAccount(ctx, "alice", "Again")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = env.accounts.CreateAccount(ctx, "", "Nobody")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = env.accounts.Get(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDepositIsIdempotentByReference(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()
	_, err := env.accounts.CreateAccount(ctx, "carol", "Carol")
	require.NoError(t, err)

	account, err := env.accounts.Deposit(ctx, "carol", 250, "order-17")
	require.NoError(t, err)
	assert.EqualValues(t, 250, account.Balance)
	assert.EqualValues(t, 250, account.TotalPurchased)
	assert.NotNil(t, account.LastActivityAt)

	account, err = env.accounts.Deposit(ctx, "carol", 250, "order-17")
	require.NoError(t, err)
	assert.EqualValues(t, 250, account.Balance, "replayed reference is not credited twice")

	account, err = env.accounts.Deposit(ctx, "carol", 50, "")
	require.NoError(t, err)
	assert.EqualValues(t, 300, account.Balance)
	assert.EqualValues(t, 300, account.TotalPurchased)

	_, err = env.accounts.Deposit(ctx, "carol", 0, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = env.accounts.Deposit(ctx, "dave", 10, "")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := env.accounts.Entries(ctx, "carol", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestAdjustNeverGoesNegative(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()
	env.fund(t, "erin", 40)

	sess, err := env.router.Begin(ctx, 0)
	require.NoError(t, err)
	defer sess.Rollback()

	_, applied, err := env.accounts.adjust(sess.Tx(), "erin", -41, models.LedgerEntry{
		IntentID: "intent-1", Kind: models.EntryKindJoin, Phase: models.PhaseApply,
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.False(t, applied)

	account, applied, err := env.accounts.adjust(sess.Tx(), "erin", -40, models.LedgerEntry{
		IntentID: "intent-2", Kind: models.EntryKindJoin, Phase: models.PhaseApply,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.EqualValues(t, 0, account.Balance)

	_, applied, err = env.accounts.adjust(sess.Tx(), "erin", -40, models.LedgerEntry{
		IntentID: "intent-2", Kind: models.EntryKindJoin, Phase: models.PhaseApply,
	})
	require.NoError(t, err)
	assert.False(t, applied, "same leg replayed is skipped")
	require.NoError(t, sess.Commit())

	assert.EqualValues(t, 0, env.balance(t, "erin"))
}

func TestLedgerEntriesAreAppendOnly(t *testing.T) {
	env := newTestEnv(t, 1)
	env.fund(t, "frank", 10)
	db := env.router.DB(0)

	var entry models.LedgerEntry
	require.NoError(t, db.First(&entry, "account_id = ?", "frank").Error)
	entry.Delta = 1000
	assert.ErrorIs(t, db.Save(&entry).Error, models.ErrAppendOnly)
	assert.ErrorIs(t, db.Delete(&entry).Error, models.ErrAppendOnly)
}
