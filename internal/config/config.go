package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Log      LogConfig      `mapstructure:"log"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	Activity ActivityConfig `mapstructure:"activity"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port     int   `mapstructure:"port"`
	WorkerID int64 `mapstructure:"worker_id"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEntry string `mapstructure:"ledger_entry"`
	// Commission 不进 Kafka，由 OutboxSender 在本地分发给返佣引擎
	Commission string `mapstructure:"commission"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

// LedgerConfig 账本引擎配置
type LedgerConfig struct {
	Timezone            string         `mapstructure:"timezone"`
	ExpiringSoonDays    int            `mapstructure:"expiring_soon_days"`
	LockTTLSeconds      int            `mapstructure:"lock_ttl_seconds"`
	LockRetryIntervalMs int            `mapstructure:"lock_retry_interval_ms"`
	LockMaxRetries      int            `mapstructure:"lock_max_retries"`
	MaxAttempts         int            `mapstructure:"max_attempts"`
	ConfigCacheSeconds  int            `mapstructure:"config_cache_seconds"`
	Defaults            []DefaultValue `mapstructure:"defaults"`
}

// DefaultValue ConfigStore 初始值（只在 key 不存在时写入）
//
// 用列表而不是 map：viper 会把 map 的 key 转成小写，而 ConfigStore 的 key 区分大小写
type DefaultValue struct {
	Key   string `mapstructure:"key"`
	Value string `mapstructure:"value"`
}

type SweeperConfig struct {
	Cron      string `mapstructure:"cron"`
	BatchSize int    `mapstructure:"batch_size"`
	UserIDMin int64  `mapstructure:"user_id_min"`
	UserIDMax int64  `mapstructure:"user_id_max"`
}

// ActivityConfig 每日行为奖励的触发阈值
type ActivityConfig struct {
	LoginThreshold   int `mapstructure:"login_threshold"`
	LikesThreshold   int `mapstructure:"likes_threshold"`
	CommentThreshold int `mapstructure:"comment_threshold"`
	ContentThreshold int `mapstructure:"content_threshold"`
}

type BusinessConfig struct {
	MaxRetryCount        int `mapstructure:"max_retry_count"`
	OutboxIntervalMs     int `mapstructure:"outbox_interval_ms"`
	OutboxGraceSeconds   int `mapstructure:"outbox_grace_seconds"`
	OutboxBatchSize      int `mapstructure:"outbox_batch_size"`
	RequestTimeoutSecond int `mapstructure:"request_timeout_second"`
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("kafka.topic.ledger_entry", "ladocoin.ledger.entry")
	v.SetDefault("kafka.topic.commission", "ladocoin.referral.commission")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "production")
	v.SetDefault("ledger.timezone", "UTC")
	v.SetDefault("ledger.expiring_soon_days", 7)
	v.SetDefault("ledger.lock_ttl_seconds", 30)
	v.SetDefault("ledger.lock_retry_interval_ms", 100)
	v.SetDefault("ledger.lock_max_retries", 30)
	v.SetDefault("ledger.max_attempts", 3)
	v.SetDefault("ledger.config_cache_seconds", 60)
	v.SetDefault("sweeper.cron", "0 3 * * *")
	v.SetDefault("sweeper.batch_size", 200)
	v.SetDefault("activity.login_threshold", 1)
	v.SetDefault("activity.likes_threshold", 5)
	v.SetDefault("activity.comment_threshold", 3)
	v.SetDefault("activity.content_threshold", 1)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.outbox_interval_ms", 500)
	v.SetDefault("business.outbox_grace_seconds", 30)
	v.SetDefault("business.outbox_batch_size", 100)
	v.SetDefault("business.request_timeout_second", 10)
}

// Load 读取配置文件，环境变量 LADOCOIN_* 可覆盖同名配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ladocoin")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return cfg, nil
}

// LoadConfig 加载配置文件，失败直接退出
func LoadConfig(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	GlobalConfig = cfg
	return cfg
}

// Default 返回只包含默认值的配置，测试和本地工具使用
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}
