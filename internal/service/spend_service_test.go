package service

import (
	"context"
	"sync"
	"testing"

	"ladocoin/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebitConsumesEarliestExpiringFirst(t *testing.T) {
	env := newTestEnv(t)

	e1 := env.grant(t, 1, "5")
	env.clock.Advance(8 * day)
	e2 := env.grant(t, 1, "5")
	// e1 还剩 2 天过期，e2 还剩 10 天
	env.clock.Advance(80 * day)

	debit, err := env.debit(1, "7")
	require.NoError(t, err)

	assertDec(t, "0", env.entry(t, e1.ID).RemainingAmount)
	assertDec(t, "3", env.entry(t, e2.ID).RemainingAmount)
	assertDec(t, "-7", debit.Amount)
	assertDec(t, "0", debit.RemainingAmount)

	items, err := env.svc.Balance.ListConsumptions(context.Background(), debit.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, e1.ID, items[0].CreditEntryID)
	assertDec(t, "5", items[0].Amount)
	assert.Equal(t, e2.ID, items[1].CreditEntryID)
	assertDec(t, "2", items[1].Amount)

	env.assertConsistent(t, 1)
}

func TestDebitBurnsPercentage(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, 1, "20")

	debit, err := env.debit(1, "10")
	require.NoError(t, err)
	assertDec(t, "0.5", debit.BurnedAmount)
	assertDec(t, "20", debit.BalanceBefore)
	assertDec(t, "10", debit.BalanceAfter)

	b := env.balance(t, 1)
	assertDec(t, "10", b.AvailableBalance)
	assertDec(t, "9.5", b.TotalSpent)
	assertDec(t, "0.5", b.TotalBurned)
	env.assertConsistent(t, 1)
}

func TestDebitBurnRoundsToCents(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, 1, "5")

	debit, err := env.debit(1, "0.33")
	require.NoError(t, err)
	// 0.33 * 5% = 0.0165
	assertDec(t, "0.02", debit.BurnedAmount)
	env.assertConsistent(t, 1)
}

func TestDebitInsufficientFundsLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	e := env.grant(t, 1, "5")

	_, err := env.debit(1, "5.01")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	assertDec(t, "5", env.entry(t, e.ID).RemainingAmount)
	assertDec(t, "5", env.balance(t, 1).AvailableBalance)
	assert.Empty(t, env.entriesOfType(t, 1, model.KindCompraContenido))
}

func TestDebitRejectsInvalidAmount(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, 1, "5")

	for _, s := range []string{"0", "-2", "0.001"} {
		_, err := env.debit(1, s)
		assert.ErrorIs(t, err, ErrInvalidAmount, s)
	}
}

func TestDebitSkipsExpiredCredits(t *testing.T) {
	env := newTestEnv(t)
	old := env.grant(t, 1, "10")
	env.clock.Advance(91 * day)
	env.grant(t, 1, "5")

	// 过期任务还没跑，消费时先处理到期条目
	_, err := env.debit(1, "6")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = env.debit(1, "5")
	require.NoError(t, err)

	got := env.entry(t, old.ID)
	assert.True(t, got.Expired)
	assertDec(t, "0", got.RemainingAmount)

	b := env.balance(t, 1)
	assertDec(t, "0", b.AvailableBalance)
	// 10 过期 + 0.25 销毁
	assertDec(t, "10.25", b.TotalBurned)
	assert.Len(t, env.entriesOfType(t, 1, model.KindVencimiento), 1)
	env.assertConsistent(t, 1)
}

func TestCreditThenDebitRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, 1, "10")

	_, err := env.debit(1, "10")
	require.NoError(t, err)

	b := env.balance(t, 1)
	assertDec(t, "0", b.AvailableBalance)
	assertDec(t, "10", b.TotalEarned)
	assertDec(t, "9.5", b.TotalSpent)
	assertDec(t, "0.5", b.TotalBurned)
	env.assertConsistent(t, 1)
}

func TestDebitReplayByReference(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, 1, "10")
	req := &DebitRequest{UserID: 1, Kind: model.KindPropina, Amount: dec("4"), ReferenceID: "tip-9", ReferenceType: "tip"}

	first, err := env.svc.Spend.Debit(context.Background(), req)
	require.NoError(t, err)
	second, err := env.svc.Spend.Debit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assertDec(t, "6", env.balance(t, 1).AvailableBalance)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, 1, "100")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.debit(1, "10")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientFunds)
			fail++
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, 10, fail)
	b := env.balance(t, 1)
	assertDec(t, "0", b.AvailableBalance)
	assertDec(t, "95", b.TotalSpent)
	assertDec(t, "5", b.TotalBurned)
	env.assertConsistent(t, 1)
}

func TestDeductDoesNotBurn(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, 1, "10")

	entry, err := env.svc.Spend.Deduct(context.Background(), &DeductRequest{
		UserID:   1,
		Kind:     model.KindAjusteManualDebito,
		Amount:   dec("4"),
		Operator: "ops",
	})
	require.NoError(t, err)
	assert.Equal(t, model.DirectionDeduction, entry.Direction)
	assertDec(t, "0", entry.BurnedAmount)

	b := env.balance(t, 1)
	assertDec(t, "6", b.AvailableBalance)
	assertDec(t, "4", b.TotalSpent)
	assertDec(t, "0", b.TotalBurned)
	env.assertConsistent(t, 1)
}
