package service

import (
	"context"
	"testing"

	"ladocoin/internal/infrastructure/cache"
	"ladocoin/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigGetUnknownKey(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Config.Get(context.Background(), "NoExiste")
	assert.ErrorIs(t, err, ErrUnknownConfigKey)
}

func TestConfigReadThroughCacheAndInvalidate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v, err := env.svc.Config.Get(ctx, model.KeyPorcentajeQuema)
	require.NoError(t, err)
	assertDec(t, "5", v)

	cached, err := env.redis.Get(cache.ConfigKey(model.KeyPorcentajeQuema))
	require.NoError(t, err)
	assert.Equal(t, "5", cached)

	change, err := env.svc.Config.Set(ctx, model.KeyPorcentajeQuema, dec("7.5"), "admin")
	require.NoError(t, err)
	assert.True(t, change.OldValue.Valid)
	assertDec(t, "5", change.OldValue.Decimal)
	assert.False(t, env.redis.Exists(cache.ConfigKey(model.KeyPorcentajeQuema)))

	v, err = env.svc.Config.Get(ctx, model.KeyPorcentajeQuema)
	require.NoError(t, err)
	assertDec(t, "7.5", v)

	history, err := env.svc.Config.History(ctx, model.KeyPorcentajeQuema, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "admin", history[0].Operator)
}

func TestConfigFallsBackWhenRedisDown(t *testing.T) {
	env := newTestEnv(t)
	env.redis.Close()

	v, err := env.svc.Config.Get(context.Background(), model.KeyDiasVencimiento)
	require.NoError(t, err)
	assertDec(t, "90", v)
}

func TestConfigSetRejectsNegative(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Config.Set(context.Background(), model.KeyPorcentajeQuema, dec("-1"), "admin")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestConfigSeedDoesNotOverwrite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.Config.Set(ctx, model.KeyBonoBienvenida, dec("25"), "admin")
	require.NoError(t, err)

	n, err := env.svc.Config.SeedDefaults(ctx, testDefaults())
	require.NoError(t, err)
	assert.Zero(t, n)

	v, err := env.svc.Config.Get(ctx, model.KeyBonoBienvenida)
	require.NoError(t, err)
	assertDec(t, "25", v)
}

func TestConfigRequire(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.svc.Config.Require(ctx, model.RequiredConfigKeys))

	err := env.svc.Config.Require(ctx, []string{model.KeyPorcentajeQuema, "Falta1", "Falta2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownConfigKey)
	assert.Contains(t, err.Error(), "Falta1")
	assert.Contains(t, err.Error(), "Falta2")
}
