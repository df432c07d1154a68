package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"ladocoin/internal/model"
	"ladocoin/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerReferral(t *testing.T, env *testEnv, referrerID, referredID int64) *model.ReferralLink {
	t.Helper()
	link, err := env.svc.Referral.Register(context.Background(), referrerID, referredID, fmt.Sprintf("LADO%d", referrerID))
	require.NoError(t, err)
	return link
}

func contentBonus(t *testing.T, env *testEnv, userID int64, amount string) *model.LedgerEntry {
	t.Helper()
	amt := dec(amount)
	entry, err := env.grantSystem(context.Background(), &CreditRequest{
		UserID: userID,
		Kind:   model.KindBonoContenido,
		Amount: &amt,
	})
	require.NoError(t, err)
	return entry
}

func TestRegisterDeliversBothBonusesOnce(t *testing.T) {
	env := newTestEnv(t)

	link := registerReferral(t, env, 1, 2)
	assert.True(t, link.ReferrerBonusDelivered)
	assert.True(t, link.ReferredBonusDelivered)
	assert.True(t, link.CommissionActive)
	assert.True(t, link.CommissionExpirationDate.Equal(env.clock.Now().AddDate(0, 3, 0)))

	// 重复注册不重复发放
	again := registerReferral(t, env, 1, 2)
	assert.Equal(t, link.ID, again.ID)

	assertDec(t, "10", env.balance(t, 1).AvailableBalance)
	assertDec(t, "15", env.balance(t, 2).AvailableBalance)
	assert.Len(t, env.entriesOfType(t, 1, model.KindBonoReferidor), 1)
	assert.Len(t, env.entriesOfType(t, 2, model.KindBonoReferido), 1)
}

func TestRegisterRejectsSecondReferrerAndSelf(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	registerReferral(t, env, 1, 2)

	_, err := env.svc.Referral.Register(ctx, 3, 2, "OTHER")
	assert.ErrorIs(t, err, ErrReferralExists)

	_, err = env.svc.Referral.Register(ctx, 4, 4, "SELF")
	assert.ErrorIs(t, err, ErrSelfReferral)
}

func TestCommissionWithinWindow(t *testing.T) {
	env := newTestEnv(t)
	link := registerReferral(t, env, 1, 2)

	source := contentBonus(t, env, 2, "10")

	commissions := env.entriesOfType(t, 1, model.KindComisionReferido)
	require.Len(t, commissions, 1)
	assertDec(t, "1", commissions[0].Amount)
	assert.Equal(t, RefTypeLedgerEntry, commissions[0].ReferenceType)

	// 同一源条目再次处理不重复返佣
	require.NoError(t, env.svc.Referral.OnCredit(context.Background(), source))
	assert.Len(t, env.entriesOfType(t, 1, model.KindComisionReferido), 1)

	got, err := repository.NewReferralRepository(env.db).GetByID(context.Background(), nil, link.ID)
	require.NoError(t, err)
	assertDec(t, "1", got.TotalCommissionEarned)
	assertDec(t, "11", env.balance(t, 1).AvailableBalance)

	var pending int64
	require.NoError(t, env.db.Model(&model.OutboxMessage{}).
		Where("topic = ? AND status = ?", env.svc.Accrual.cfg.Kafka.Topic.Commission, model.OutboxStatusPending).
		Count(&pending).Error)
	assert.Zero(t, pending)
}

func TestCommissionStopsAfterWindow(t *testing.T) {
	env := newTestEnv(t)
	link := registerReferral(t, env, 1, 2)

	env.clock.AddDate(0, 3, 1)
	contentBonus(t, env, 2, "10")

	assert.Empty(t, env.entriesOfType(t, 1, model.KindComisionReferido))
	got, err := repository.NewReferralRepository(env.db).GetByID(context.Background(), nil, link.ID)
	require.NoError(t, err)
	assert.False(t, got.CommissionActive)

	// 关闭后不再写返佣消息
	contentBonus(t, env, 2, "10")
	assert.Empty(t, env.entriesOfType(t, 1, model.KindComisionReferido))
}

func TestCommissionOnlyForEngagementKinds(t *testing.T) {
	env := newTestEnv(t)
	registerReferral(t, env, 1, 2)

	env.grant(t, 2, "100")
	_, err := env.svc.Accrual.GrantWelcomeBonus(context.Background(), 2)
	require.NoError(t, err)

	assert.Empty(t, env.entriesOfType(t, 1, model.KindComisionReferido))
}

func TestCommissionCappedForReferrerIsHandled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	registerReferral(t, env, 1, 2)
	_, err := env.svc.Config.Set(ctx, model.KeyMaxPremioDiario, dec("2"), "test")
	require.NoError(t, err)

	// 推荐人今天的受限额度先用完
	contentBonus(t, env, 1, "2")
	source := contentBonus(t, env, 2, "2")

	assert.Empty(t, env.entriesOfType(t, 1, model.KindComisionReferido))
	assert.NoError(t, env.svc.Referral.OnCredit(ctx, source))
}

func TestHandleCommissionMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	registerReferral(t, env, 1, 2)
	source := contentBonus(t, env, 2, "4")

	payload, err := json.Marshal(model.CommissionPayload{EntryID: source.ID, UserID: 2})
	require.NoError(t, err)
	msg := &model.OutboxMessage{Topic: "commission", Payload: string(payload)}

	require.NoError(t, env.svc.Referral.HandleCommissionMessage(ctx, msg))
	require.NoError(t, env.svc.Referral.HandleCommissionMessage(ctx, msg))

	commissions := env.entriesOfType(t, 1, model.KindComisionReferido)
	require.Len(t, commissions, 1)
	assertDec(t, "0.4", commissions[0].Amount)

	assert.Error(t, env.svc.Referral.HandleCommissionMessage(ctx, &model.OutboxMessage{Payload: "{"}))
}

func TestMarkCreator(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Referral.MarkCreator(ctx, 2)
	assert.ErrorIs(t, err, ErrReferralNotFound)

	registerReferral(t, env, 1, 2)
	entry, err := env.svc.Referral.MarkCreator(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.UserID)
	assertDec(t, "50", entry.Amount)

	_, err = env.svc.Referral.MarkCreator(ctx, 2)
	assert.ErrorIs(t, err, ErrDuplicateAward)
	assertDec(t, "60", env.balance(t, 1).AvailableBalance)
}

func TestDeactivateExpired(t *testing.T) {
	env := newTestEnv(t)
	registerReferral(t, env, 1, 2)
	registerReferral(t, env, 1, 3)

	n, err := env.svc.Referral.DeactivateExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	env.clock.AddDate(0, 4, 0)
	n, err = env.svc.Referral.DeactivateExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	links, err := env.svc.Referral.ListReferrals(context.Background(), 1)
	require.NoError(t, err)
	for _, l := range links {
		assert.False(t, l.CommissionActive)
	}
}
