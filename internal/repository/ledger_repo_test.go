package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ladocoin/internal/infrastructure/database"
	"ladocoin/internal/model"
	"ladocoin/pkg/idgen"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "repo.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func createCredit(t *testing.T, repo *LedgerRepository, userID int64, amount string, expiresAt time.Time) *model.LedgerEntry {
	t.Helper()
	id := idgen.NextID()
	head := model.EntryHead{ID: id, EntryNo: idgen.GenerateEntryNo(id), UserID: userID, Date: t0, BalanceBefore: decimal.Zero}
	e := model.NewCreditEntry(head, model.KindAjusteManualCredito, decimal.RequireFromString(amount), expiresAt)
	require.NoError(t, repo.Create(context.Background(), nil, e))
	return e
}

func TestConsumeDetectsConcurrentChange(t *testing.T) {
	repo := NewLedgerRepository(openTestDB(t))
	ctx := context.Background()
	e := createCredit(t, repo, 1, "10", t0.Add(90*24*time.Hour))

	stale := *e
	require.NoError(t, repo.Consume(ctx, nil, e, decimal.NewFromInt(6), t0))
	assert.True(t, decimal.NewFromInt(6).Equal(e.RemainingAmount))

	// 读到的是旧的剩余额度
	err := repo.Consume(ctx, nil, &stale, decimal.NewFromInt(8), t0)
	assert.ErrorIs(t, err, ErrEntryChanged)

	// 过期时间已到
	err = repo.Consume(ctx, nil, e, decimal.NewFromInt(5), t0.Add(91*24*time.Hour))
	assert.ErrorIs(t, err, ErrEntryChanged)

	got, err := repo.GetByID(ctx, nil, e.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(6).Equal(got.RemainingAmount))
}

func TestMarkExpiredOnlyOnce(t *testing.T) {
	repo := NewLedgerRepository(openTestDB(t))
	ctx := context.Background()
	e := createCredit(t, repo, 1, "10", t0.Add(24*time.Hour))

	ok, err := repo.MarkExpired(ctx, nil, e, t0)
	require.NoError(t, err)
	assert.False(t, ok, "未到期")

	ok, err = repo.MarkExpired(ctx, nil, e, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkExpired(ctx, nil, e, t0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, nil, e.ID)
	require.NoError(t, err)
	assert.True(t, got.Expired)
	assert.True(t, got.RemainingAmount.IsZero())
}

func TestListConsumableFIFOOrder(t *testing.T) {
	repo := NewLedgerRepository(openTestDB(t))
	ctx := context.Background()
	late := createCredit(t, repo, 1, "5", t0.Add(60*24*time.Hour))
	early := createCredit(t, repo, 1, "5", t0.Add(30*24*time.Hour))
	createCredit(t, repo, 1, "5", t0.Add(-time.Hour))
	createCredit(t, repo, 2, "5", t0.Add(10*24*time.Hour))

	entries, err := repo.ListConsumable(ctx, nil, 1, t0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, early.ID, entries[0].ID)
	assert.Equal(t, late.ID, entries[1].ID)

	sum, err := repo.SumRemaining(ctx, nil, 1, nil)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(15).Equal(sum), sum.String())
}

func TestListOverdueFilters(t *testing.T) {
	repo := NewLedgerRepository(openTestDB(t))
	ctx := context.Background()
	a := createCredit(t, repo, 1, "5", t0.Add(-2*time.Hour))
	b := createCredit(t, repo, 2, "5", t0.Add(-time.Hour))
	createCredit(t, repo, 3, "5", t0.Add(time.Hour))

	entries, err := repo.ListOverdue(ctx, OverdueQuery{Now: t0, Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, a.ID, entries[0].ID)

	entries, err = repo.ListOverdue(ctx, OverdueQuery{Now: t0, From: t0.Add(-90 * time.Minute), Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, b.ID, entries[0].ID)

	entries, err = repo.ListOverdue(ctx, OverdueQuery{Now: t0, UserIDMin: 2, Limit: 10, ExcludeIDs: []int64{b.ID}})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
