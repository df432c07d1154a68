package job

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
	"ladocoin/internal/service"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const day = 24 * time.Hour

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

type testEnv struct {
	cfg     *config.Config
	svc     *service.Services
	db      *gorm.DB
	clock   *testClock
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Ledger.Defaults = []config.DefaultValue{
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

	dsn := filepath.Join(t.TempDir(), "job.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	clock := &testClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	m := metrics.New(prometheus.NewRegistry())
	svc, err := service.NewServices(service.Deps{
		DB:      db,
		Locker:  lock.NewLocalUserLocker(),
		Config:  cfg,
		Logger:  zap.NewNop(),
		Metrics: m,
		Now:     clock.Now,
	})
	require.NoError(t, err)
	_, err = svc.Config.SeedDefaults(context.Background(), cfg.Ledger.Defaults)
	require.NoError(t, err)

	return &testEnv{cfg: cfg, svc: svc, db: db, clock: clock, metrics: m}
}

func (e *testEnv) grant(t *testing.T, userID int64, amount string) *model.LedgerEntry {
	t.Helper()
	amt := decimal.RequireFromString(amount)
	entry, err := e.svc.Accrual.Credit(context.Background(), &service.CreditRequest{
		UserID: userID,
		Kind:   model.KindAjusteManualCredito,
		Amount: &amt,
	})
	require.NoError(t, err)
	return entry
}

func (e *testEnv) available(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	view, err := e.svc.Balance.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return view.AvailableBalance
}
