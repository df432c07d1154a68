package lock

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Release 释放锁
type Release func()

// UserLocker 用户维度互斥
type UserLocker interface {
	Acquire(ctx context.Context, userID int64, owner string) (Release, error)
}

// RedisUserLocker 基于 Redis 的用户锁，多实例部署使用
type RedisUserLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
	onUnlockErr   func(userID int64, err error)
}

func NewRedisUserLocker(client *redis.Client, ttl, retryInterval time.Duration, maxRetries int) *RedisUserLocker {
	return &RedisUserLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
	}
}

// OnUnlockError 设置释放锁失败时的回调（通常用于记录日志）
func (l *RedisUserLocker) OnUnlockError(fn func(userID int64, err error)) {
	l.onUnlockErr = fn
}

func (l *RedisUserLocker) Acquire(ctx context.Context, userID int64, owner string) (Release, error) {
	dl := NewUserLock(l.client, userID, owner, l.ttl)
	if err := dl.Lock(ctx, l.retryInterval, l.maxRetries); err != nil {
		return nil, err
	}
	return func() {
		// 调用方的 ctx 可能已取消，释放锁用独立的短超时
		unlockCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := dl.Unlock(unlockCtx); err != nil && l.onUnlockErr != nil {
			l.onUnlockErr(userID, err)
		}
	}, nil
}

// LocalUserLocker 进程内用户锁，单实例部署和测试使用
type LocalUserLocker struct {
	mu    sync.Mutex
	locks map[int64]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocalUserLocker() *LocalUserLocker {
	return &LocalUserLocker{locks: make(map[int64]*localEntry)}
}

func (l *LocalUserLocker) Acquire(ctx context.Context, userID int64, _ string) (Release, error) {
	l.mu.Lock()
	e, ok := l.locks[userID]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.locks[userID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(userID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.unref(userID, e)
		})
	}, nil
}

func (l *LocalUserLocker) unref(userID int64, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, userID)
	}
}
