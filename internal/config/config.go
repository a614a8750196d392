package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"AgentGuard-Chain/pkg/logger"
)

// Config 描述守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  logger.Config  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	Keystore KeystoreConfig `json:"keystore"`
	Pipeline PipelineConfig `json:"pipeline"`
	Files    FilesConfig    `json:"files"`
}

// ServerConfig 控制 API 服务与指标端口的监听地址。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// StorageConfig 统一描述执行记录后端的连接信息。
type StorageConfig struct {
	ExecutionStore ExecutionStoreConfig `json:"execution_store"`
}

// ExecutionStoreConfig 支持 memory 与 mysql 两种驱动。
type ExecutionStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// QueueConfig 选择提交队列的实现。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Queue    string `json:"queue"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// KeystoreConfig 选择密钥存储的实现。file 驱动指向一个
// YAML 清单，逐钱包给出 keystore 文件与口令环境变量。
type KeystoreConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
}

// PipelineConfig 控制处理器的并发度与重投上限。
type PipelineConfig struct {
	Workers    int `json:"workers"`
	MaxRetries int `json:"max_retries"`
}

// FilesConfig 指向链、钱包与策略的 YAML 描述文件。
type FilesConfig struct {
	Chains   string `json:"chains"`
	Wallets  string `json:"wallets"`
	Policies string `json:"policies"`
}

// Load 负责解析指定路径的 JSON 配置文件。
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

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.ExecutionStore.Driver == "" {
		c.Storage.ExecutionStore.Driver = "memory"
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Keystore.Driver == "" {
		c.Keystore.Driver = "memory"
	}

	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.MaxRetries <= 0 {
		c.Pipeline.MaxRetries = 3
	}

	c.Files.Chains = resolvePath(baseDir, c.Files.Chains, "chains.yaml")
	c.Files.Wallets = resolvePath(baseDir, c.Files.Wallets, "wallets.yaml")
	c.Files.Policies = resolvePath(baseDir, c.Files.Policies, "policies.yaml")
	if c.Keystore.Path != "" && !filepath.IsAbs(c.Keystore.Path) {
		c.Keystore.Path = filepath.Join(baseDir, c.Keystore.Path)
	}
}

func resolvePath(baseDir, value, fallback string) string {
	if value == "" {
		value = fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
