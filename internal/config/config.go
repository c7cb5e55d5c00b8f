package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// 状态存储后端。
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Config 是 rssmcp 的顶层配置结构。
type Config struct {
	FeedsFile string       `yaml:"feeds_file"`
	State     StateConfig  `yaml:"state"`
	Server    ServerConfig `yaml:"server"`
	Fetch     FetchConfig  `yaml:"fetch"`
	Log       LogConfig    `yaml:"log"`
}

// StateConfig 已读/未读状态存储配置。
type StateConfig struct {
	// Backend 取值 json 或 sqlite。
	Backend string `yaml:"backend"`
	// Path 为 JSON 文档或 SQLite 数据库文件路径。
	Path string `yaml:"path"`
}

// ServerConfig HTTP 服务配置。
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// FetchConfig 订阅源抓取配置。
type FetchConfig struct {
	// Timeout 单个订阅源的请求超时（秒）。
	Timeout   int    `yaml:"timeout"`
	UserAgent string `yaml:"user_agent"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// Load 读取 YAML 配置文件并返回 Config。
// 支持 ${VAR_NAME} 形式的环境变量展开。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	if err := setDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 返回全部使用默认值的配置。
func Default() *Config {
	cfg := &Config{}
	_ = setDefaults(cfg)
	return cfg
}

// setDefaults 为未设置的配置项填充默认值。
func setDefaults(cfg *Config) error {
	if cfg.FeedsFile == "" {
		cfg.FeedsFile = "feeds.yaml"
	}
	cfg.FeedsFile = expandHome(cfg.FeedsFile)

	cfg.State.Backend = strings.ToLower(strings.TrimSpace(cfg.State.Backend))
	switch cfg.State.Backend {
	case "":
		cfg.State.Backend = BackendJSON
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("不支持的状态存储后端: %s", cfg.State.Backend)
	}

	if cfg.State.Path == "" {
		name := "state.json"
		if cfg.State.Backend == BackendSQLite {
			name = "state.db"
		}
		home, _ := os.UserHomeDir()
		if home != "" {
			cfg.State.Path = filepath.Join(home, ".rssmcp", name)
		} else {
			cfg.State.Path = filepath.Join(".rssmcp-data", name)
		}
	}
	cfg.State.Path = expandHome(cfg.State.Path)

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Fetch.Timeout <= 0 {
		cfg.Fetch.Timeout = 30
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = "rssmcp/1.0 RSS Reader"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Log.File = expandHome(cfg.Log.File)
	return nil
}

// expandHome 把 ~/ 开头的路径替换为用户主目录，Go 不会自动展开。
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return path
	}
	return filepath.Join(home, path[2:])
}
