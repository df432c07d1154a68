package idgen

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 账本条目的主键直接使用雪花ID：
//   1. 全局唯一，多实例写同一张 ledger_entry 表不冲突
//   2. 趋势递增，同一过期时间的条目按 id 排序即为写入顺序（FIFO 的第二排序键）
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// NewSnowflake 创建独立的生成器
func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("workerID 必须在 0-%d 之间", maxWorkerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init 初始化默认ID生成器
func Init(workerID int64) {
	once.Do(func() {
		g, err := NewSnowflake(workerID)
		if err != nil {
			log.Fatalf("%v", err)
		}
		defaultGenerator = g
	})
}

// NextID 生成下一个ID，未初始化时使用 workerID 1
func NextID() int64 {
	Init(1)
	return defaultGenerator.Generate()
}

// Generate 生成ID
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.timestamp {
		// 时钟回拨：沿用上一次的时间戳，靠序列号保证唯一
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateEntryNo 生成账本流水号
// 格式：LC + 年月日时分秒 + 雪花ID后8位，例如 LC20261016143052_12345678
func GenerateEntryNo(id int64) string {
	return fmt.Sprintf("LC%s%08d", time.Now().UTC().Format("20060102150405"), id%100000000)
}

// GenerateLockOwner 生成分布式锁持有者标识
func GenerateLockOwner() string {
	return fmt.Sprintf("owner-%d", NextID())
}
