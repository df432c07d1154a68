package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 同一用户的入账、消费、过期必须串行：
//
//   FIFO 选条目 + 余额运算不满足交换律，交错执行会出现
//     goroutine1: 读可用=10 -> 选中 E1(5) E2(5) -> 扣 7
//     goroutine2: 读可用=10 -> 选中 E1(5) E2(5) -> 扣 7   超扣！
//
// 加锁：SET key value NX PX ttl
//   - NX 保证互斥，PX 防止持锁进程崩溃后死锁
//   - value 为持有者标识，释放时校验，避免误删别人的锁
//
// 释放：Lua 脚本"比较 + 删除"保证原子性
//
// ============================================================================

var (
	ErrLockFailed   = errors.New("获取分布式锁失败")
	ErrLockNotOwned = errors.New("锁已过期或被他人持有")
)

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁持有者标识
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，锁已不属于自己时返回 ErrLockNotOwned
func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotOwned
	}
	return nil
}

// UserLockKey 用户维度的账本锁 key
//
// 入账、消费、过期任务共用同一把锁；返佣给推荐人时使用推荐人自己的锁，
// 不在被推荐人的锁内嵌套获取，避免跨用户阻塞和死锁
func UserLockKey(userID int64) string {
	return fmt.Sprintf("ladocoin:lock:user:%d", userID)
}

// NewUserLock 创建用户账本锁
func NewUserLock(client *redis.Client, userID int64, owner string, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(client, UserLockKey(userID), owner, ttl)
}
