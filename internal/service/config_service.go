package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ladocoin/internal/config"
	"ladocoin/internal/infrastructure/cache"
	"ladocoin/internal/model"
	"ladocoin/internal/repository"
	"ladocoin/pkg/money"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ConfigService 数值配置读写（ConfigStore）
//
// 读：Redis 缓存 -> 数据库，缓存未命中回填；Redis 不可用时直接读数据库
// 写：数据库 + 审计记录，成功后删除缓存
// 不存在的 key 返回 ErrUnknownConfigKey，不做任何默认值兜底
type ConfigService struct {
	repo *repository.ConfigRepository
	rdb  *redis.Client // 可为 nil
	ttl  time.Duration
	log  *zap.Logger
}

func NewConfigService(repo *repository.ConfigRepository, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *ConfigService {
	return &ConfigService{repo: repo, rdb: rdb, ttl: ttl, log: log}
}

// Get 读取配置值
func (s *ConfigService) Get(ctx context.Context, key string) (decimal.Decimal, error) {
	if s.rdb != nil {
		cached, err := s.rdb.Get(ctx, cache.ConfigKey(key)).Result()
		switch {
		case err == nil:
			if v, perr := decimal.NewFromString(cached); perr == nil {
				return v, nil
			}
		case !errors.Is(err, redis.Nil):
			s.log.Warn("[Config] 读取缓存失败，回退数据库", zap.String("key", key), zap.Error(err))
		}
	}

	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrConfigNotFound) {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownConfigKey, key)
		}
		return decimal.Zero, fmt.Errorf("读取配置 %s 失败: %w", key, err)
	}

	if s.rdb != nil && s.ttl > 0 {
		if err := s.rdb.Set(ctx, cache.ConfigKey(key), setting.Value.String(), s.ttl).Err(); err != nil {
			s.log.Warn("[Config] 回填缓存失败", zap.String("key", key), zap.Error(err))
		}
	}
	return setting.Value, nil
}

// Int 读取整数配置（天数、月数）
func (s *ConfigService) Int(ctx context.Context, key string) (int, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	return int(v.IntPart()), nil
}

// Set 修改配置，值不能为负
func (s *ConfigService) Set(ctx context.Context, key string, value decimal.Decimal, operator string) (*model.ConfigChange, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: 空 key", ErrUnknownConfigKey)
	}
	if value.IsNegative() {
		return nil, fmt.Errorf("%w: 配置值不能为负", ErrInvalidAmount)
	}
	change, err := s.repo.Set(ctx, key, value, operator)
	if err != nil {
		return nil, fmt.Errorf("修改配置 %s 失败: %w", key, err)
	}
	s.invalidate(ctx, key)

	s.log.Info("[Config] 配置已修改",
		zap.String("key", key),
		zap.String("old", change.OldValue.Decimal.String()),
		zap.String("new", value.String()),
		zap.String("operator", operator))
	return change, nil
}

func (s *ConfigService) invalidate(ctx context.Context, key string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, cache.ConfigKey(key)).Err(); err != nil {
		s.log.Warn("[Config] 删除缓存失败", zap.String("key", key), zap.Error(err))
	}
}

func (s *ConfigService) List(ctx context.Context) ([]*model.ConfigSetting, error) {
	return s.repo.List(ctx)
}

func (s *ConfigService) History(ctx context.Context, key string, limit int) ([]*model.ConfigChange, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListChanges(ctx, key, limit)
}

// SeedDefaults 写入初始值，已存在的 key 不覆盖，返回新写入的个数
func (s *ConfigService) SeedDefaults(ctx context.Context, defaults []config.DefaultValue) (int, error) {
	created := 0
	for _, d := range defaults {
		v, err := money.Parse(d.Value)
		if err != nil {
			return created, fmt.Errorf("默认配置 %s=%q 不合法: %w", d.Key, d.Value, err)
		}
		ok, err := s.repo.CreateIfMissing(ctx, d.Key, v, "system")
		if err != nil {
			return created, fmt.Errorf("写入默认配置 %s 失败: %w", d.Key, err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// Require 检查 keys 全部存在，缺失的 key 一次性返回
func (s *ConfigService) Require(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		if _, err := s.Get(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
