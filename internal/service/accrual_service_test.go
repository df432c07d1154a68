package service

import (
	"context"
	"testing"

	"ladocoin/internal/model"
	"ladocoin/pkg/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreditUsesConfiguredAmount(t *testing.T) {
	env := newTestEnv(t)

	entry, err := env.svc.Accrual.GrantWelcomeBonus(context.Background(), 1)
	require.NoError(t, err)

	assertDec(t, "20", entry.Amount)
	assertDec(t, "20", entry.RemainingAmount)
	assertDec(t, "0", entry.BalanceBefore)
	assertDec(t, "20", entry.BalanceAfter)
	require.NotNil(t, entry.ExpirationDate)
	assert.True(t, entry.ExpirationDate.Equal(env.clock.Now().AddDate(0, 0, 90)))

	b := env.balance(t, 1)
	assertDec(t, "20", b.AvailableBalance)
	assertDec(t, "20", b.TotalEarned)
	assertDec(t, "0", b.TotalReceived)
	env.assertConsistent(t, 1)
}

func TestWelcomeBonusOnlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Accrual.GrantWelcomeBonus(ctx, 1)
	require.NoError(t, err)
	_, err = env.svc.Accrual.GrantWelcomeBonus(ctx, 1)
	assert.ErrorIs(t, err, ErrDuplicateAward)

	assert.Len(t, env.entriesOfType(t, 1, model.KindBonoBienvenida), 1)
	assertDec(t, "20", env.balance(t, 1).AvailableBalance)
}

func TestCreditRejectsSystemKinds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Accrual.GrantWelcomeBonus(ctx, 7)
	require.NoError(t, err)

	amt := dec("20")
	for _, ref := range []string{"a", "b"} {
		_, err := env.svc.Accrual.Credit(ctx, &CreditRequest{
			UserID:      7,
			Kind:        model.KindBonoBienvenida,
			Amount:      &amt,
			ReferenceID: ref,
		})
		assert.ErrorIs(t, err, ErrSystemKind, ref)
	}

	for _, k := range []model.CreditKind{
		model.KindBonoReferidor, model.KindBonoReferido, model.KindBonoCreadorReferido,
		model.KindLoginDiario, model.KindRachaSemanal, model.KindBonoContenido, model.KindComisionReferido,
	} {
		_, err := env.svc.Accrual.Credit(ctx, &CreditRequest{UserID: 7, Kind: k, Amount: &amt})
		assert.ErrorIs(t, err, ErrSystemKind, k.Code())
	}

	assert.Len(t, env.entriesOfType(t, 7, model.KindBonoBienvenida), 1)
	assertDec(t, "20", env.balance(t, 7).AvailableBalance)
}

func TestCreditRejectsInvalidAmount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, s := range []string{"0", "-1", "1.005"} {
		amt := dec(s)
		_, err := env.svc.Accrual.Credit(ctx, &CreditRequest{UserID: 1, Kind: model.KindAjusteManualCredito, Amount: &amt})
		assert.ErrorIs(t, err, ErrInvalidAmount, s)
	}
	// 没有配置金额的类型必须显式给出金额
	_, err := env.svc.Accrual.Credit(ctx, &CreditRequest{UserID: 1, Kind: model.KindPropinaRecibida})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	assertDec(t, "0", env.balance(t, 1).AvailableBalance)
}

func TestCreditReplayReturnsOriginalEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	amt := dec("7.25")
	req := &CreditRequest{
		UserID:        3,
		Kind:          model.KindPropinaRecibida,
		Amount:        &amt,
		ReferenceID:   "tip-1",
		ReferenceType: "tip",
	}

	first, err := env.svc.Accrual.Credit(ctx, req)
	require.NoError(t, err)
	second, err := env.svc.Accrual.Credit(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	b := env.balance(t, 3)
	assertDec(t, "7.25", b.AvailableBalance)
	assertDec(t, "7.25", b.TotalReceived)
}

func TestDailyCapClampsThenRejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.Config.Set(ctx, model.KeyMaxPremioDiario, dec("3"), "test")
	require.NoError(t, err)

	two := dec("2")
	req := func() (*model.LedgerEntry, error) {
		return env.grantSystem(ctx, &CreditRequest{UserID: 5, Kind: model.KindBonoContenido, Amount: &two})
	}

	e1, err := req()
	require.NoError(t, err)
	assertDec(t, "2", e1.Amount)

	e2, err := req()
	require.NoError(t, err)
	assertDec(t, "1", e2.Amount)

	_, err = req()
	assert.ErrorIs(t, err, ErrDailyCapExceeded)

	// 一次性奖励不受上限限制
	_, err = env.svc.Accrual.GrantWelcomeBonus(ctx, 5)
	require.NoError(t, err)

	// 第二天额度恢复
	env.clock.Advance(day)
	e3, err := req()
	require.NoError(t, err)
	assertDec(t, "2", e3.Amount)
	env.assertConsistent(t, 5)
}

func TestCapHeadroomKeepsTwoDecimals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.Config.Set(ctx, model.KeyMaxPremioDiario, dec("3.0075"), "test")
	require.NoError(t, err)

	two := dec("2")
	req := func() (*model.LedgerEntry, error) {
		return env.grantSystem(ctx, &CreditRequest{UserID: 8, Kind: model.KindBonoContenido, Amount: &two})
	}

	_, err = req()
	require.NoError(t, err)
	e2, err := req()
	require.NoError(t, err)
	assertDec(t, "1", e2.Amount)
	assert.NoError(t, money.Validate(e2.Amount))

	// 剩余 0.0075 不足一分
	_, err = req()
	assert.ErrorIs(t, err, ErrDailyCapExceeded)
	assertDec(t, "3", env.balance(t, 8).AvailableBalance)
	env.assertConsistent(t, 8)
}

func TestMonthlyCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.Config.Set(ctx, model.KeyMaxPremioMensual, dec("4"), "test")
	require.NoError(t, err)

	three := dec("3")
	req := func() (*model.LedgerEntry, error) {
		return env.grantSystem(ctx, &CreditRequest{UserID: 6, Kind: model.KindBonoLikes, Amount: &three})
	}

	_, err = req()
	require.NoError(t, err)
	env.clock.Advance(day)
	e2, err := req()
	require.NoError(t, err)
	assertDec(t, "1", e2.Amount)
	env.clock.Advance(day)
	_, err = req()
	assert.ErrorIs(t, err, ErrMonthlyCapExceeded)

	env.clock.AddDate(0, 1, 0)
	_, err = req()
	require.NoError(t, err)
}

func TestCreditUnknownConfigKeySurfaces(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.db.Where("config_key = ?", model.KeyDiasVencimiento).Delete(&model.ConfigSetting{}).Error)

	_, err := env.svc.Accrual.GrantWelcomeBonus(ctx, 1)
	assert.ErrorIs(t, err, ErrUnknownConfigKey)
	assertDec(t, "0", env.balance(t, 1).AvailableBalance)
}
