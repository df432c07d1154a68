package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ladocoin/internal/config"
	"ladocoin/internal/infrastructure/database"
	"ladocoin/internal/infrastructure/lock"
	"ladocoin/internal/infrastructure/metrics"
	"ladocoin/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *testClock) AddDate(years, months, days int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.AddDate(years, months, days)
}

const day = 24 * time.Hour

type testEnv struct {
	svc     *Services
	db      *gorm.DB
	clock   *testClock
	redis   *miniredis.Miniredis
	metrics *metrics.Metrics
}

func testDefaults() []config.DefaultValue {
	return []config.DefaultValue{
		{Key: model.KeyBonoBienvenida, Value: "20"},
		{Key: model.KeyBonoReferidor, Value: "10"},
		{Key: model.KeyBonoReferido, Value: "15"},
		{Key: model.KeyBonoCreadorReferido, Value: "50"},
		{Key: model.KeyLoginDiario, Value: "1"},
		{Key: model.KeyRachaSemanal, Value: "5"},
		{Key: model.KeyBonoLikes, Value: "0.5"},
		{Key: model.KeyBonoComentarios, Value: "0.5"},
		{Key: model.KeyBonoContenido, Value: "2"},
		{Key: model.KeyComisionReferidoPorcentaje, Value: "10"},
		{Key: model.KeyPorcentajeQuema, Value: "5"},
		{Key: model.KeyDiasVencimiento, Value: "90"},
		{Key: model.KeyMaxPremioDiario, Value: "50"},
		{Key: model.KeyMaxPremioMensual, Value: "500"},
		{Key: model.KeyMesesComisionReferido, Value: "3"},
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ledger.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// sqlite 只允许一个写连接
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Ledger.Defaults = testDefaults()

	db := openTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &testClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	m := metrics.New(prometheus.NewRegistry())

	svc, err := NewServices(Deps{
		DB:      db,
		Redis:   rdb,
		Locker:  lock.NewLocalUserLocker(),
		Config:  cfg,
		Logger:  zap.NewNop(),
		Metrics: m,
		Now:     clock.Now,
	})
	require.NoError(t, err)

	_, err = svc.Config.SeedDefaults(context.Background(), cfg.Ledger.Defaults)
	require.NoError(t, err)

	return &testEnv{svc: svc, db: db, clock: clock, redis: mr, metrics: m}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

// grant 后台加币，不受奖励上限限制
func (e *testEnv) grant(t *testing.T, userID int64, amount string) *model.LedgerEntry {
	t.Helper()
	amt := dec(amount)
	entry, err := e.svc.Accrual.Credit(context.Background(), &CreditRequest{
		UserID: userID,
		Kind:   model.KindAjusteManualCredito,
		Amount: &amt,
	})
	require.NoError(t, err)
	return entry
}

func (e *testEnv) debit(userID int64, amount string) (*model.LedgerEntry, error) {
	return e.svc.Spend.Debit(context.Background(), &DebitRequest{
		UserID: userID,
		Kind:   model.KindCompraContenido,
		Amount: dec(amount),
	})
}

func (e *testEnv) balance(t *testing.T, userID int64) *BalanceView {
	t.Helper()
	view, err := e.svc.Balance.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return view
}

func (e *testEnv) entry(t *testing.T, id int64) *model.LedgerEntry {
	t.Helper()
	var entry model.LedgerEntry
	require.NoError(t, e.db.First(&entry, "id = ?", id).Error)
	return &entry
}

func (e *testEnv) entriesOfType(t *testing.T, userID int64, kind model.Kind) []*model.LedgerEntry {
	t.Helper()
	var entries []*model.LedgerEntry
	require.NoError(t, e.db.Where("user_id = ? AND type = ?", userID, kind.Code()).Order("id ASC").Find(&entries).Error)
	return entries
}

// assertConsistent 余额恒等式与条目剩余额度一致
func (e *testEnv) assertConsistent(t *testing.T, userID int64) {
	t.Helper()
	rec, err := e.svc.Balance.Reconcile(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent, "userID=%d available=%s remaining=%s drift=%s",
		userID, rec.AvailableBalance, rec.RemainingSum, rec.Drift)
}

// grantSystem 以奖励流程的身份入账，绕过对外接口的类型限制
func (e *testEnv) grantSystem(ctx context.Context, req *CreditRequest) (*model.LedgerEntry, error) {
	entry, _, err := e.svc.Accrual.credit(ctx, req)
	return entry, err
}
