package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述 FlowChain 在启动阶段需要加载的核心配置。
type Config struct {
	Server      ServerConfig    `json:"server"`
	Storage     StorageConfig   `json:"storage"`
	Queue       QueueConfig     `json:"queue"`
	Scheduler   SchedulerConfig `json:"scheduler"`
	Logging     LoggingConfig   `json:"logging"`
	Definitions string          `json:"definitions"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 描述工作流存储后端。
type StorageConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// QueueConfig 描述任务队列驱动。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Size     int            `json:"size"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address     string `json:"address"`
	Password    string `json:"password"`
	DB          int    `json:"db"`
	Queue       string `json:"queue"`
	BlockWaitMS int    `json:"block_wait_ms"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// SchedulerConfig 控制调度循环的驱动方式与并发度。
type SchedulerConfig struct {
	Driver         string `json:"driver"`
	Workers        int    `json:"workers"`
	PollIntervalMS int    `json:"poll_interval_ms"`
}

// PollInterval 返回轮询间隔。
func (c SchedulerConfig) PollInterval() time.Duration {
	if c.PollIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志输出。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// 支持的驱动取值。
const (
	StorageMemory = "memory"
	StorageMySQL  = "mysql"

	QueueMemory   = "memory"
	QueueRedis    = "redis"
	QueueRabbitMQ = "rabbitmq"

	SchedulerQueue = "queue"
	SchedulerPoll  = "poll"
)

// Load 解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回不依赖外部服务的单机配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMemory
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = QueueMemory
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = 256
	}
	if c.Scheduler.Driver == "" {
		c.Scheduler.Driver = SchedulerQueue
	}
	if c.Scheduler.Workers <= 0 {
		c.Scheduler.Workers = 1
	}
	if c.Scheduler.PollIntervalMS <= 0 {
		c.Scheduler.PollIntervalMS = 500
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	}
	if c.Definitions != "" && !filepath.IsAbs(c.Definitions) {
		c.Definitions = filepath.Join(baseDir, c.Definitions)
	}
}

// validate 检查驱动取值与必填参数。
func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageMySQL:
		if c.Storage.DSN == "" {
			return errors.New("mysql 存储需要配置 dsn")
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Storage.Driver)
	}

	switch c.Queue.Driver {
	case QueueMemory:
	case QueueRedis:
		if c.Queue.Redis.Address == "" {
			return errors.New("redis 队列需要配置 address")
		}
	case QueueRabbitMQ:
		if c.Queue.RabbitMQ.URL == "" {
			return errors.New("rabbitmq 队列需要配置 url")
		}
	default:
		return fmt.Errorf("不支持的队列驱动: %s", c.Queue.Driver)
	}

	switch c.Scheduler.Driver {
	case SchedulerQueue, SchedulerPoll:
	default:
		return fmt.Errorf("不支持的调度驱动: %s", c.Scheduler.Driver)
	}
	return nil
}
