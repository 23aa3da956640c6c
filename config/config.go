package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	Worker struct {
		Addr string `yaml:"addr"`
	} `yaml:"worker"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
		Domain    string `yaml:"domain"`
	} `yaml:"minio"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
	Session SessionConfig `yaml:"session"`
}

// SessionConfig tunes the editing session engine used by the editor.
type SessionConfig struct {
	APIBase        string        `yaml:"api_base"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	// PollTimeout bounds one polling run; a negative value polls until jobs settle.
	PollTimeout    time.Duration `yaml:"poll_timeout"`
	Debounce       time.Duration `yaml:"debounce"`
	HistoryLimit   int           `yaml:"history_limit"`
	UndoGuardDelay time.Duration `yaml:"undo_guard_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

const (
	DefaultPort           = ":8080"
	DefaultPollInterval   = 3 * time.Second
	DefaultPollTimeout    = 30 * time.Minute
	DefaultDebounce       = 1500 * time.Millisecond
	DefaultHistoryLimit   = 50
	DefaultUndoGuardDelay = 50 * time.Millisecond
	DefaultRequestTimeout = 15 * time.Second
)

var AppConfig *Config

// InitConfig 读取 config/config.yaml 并写入 AppConfig，失败直接退出（服务端入口使用）
func InitConfig() {
	cfg, err := Load("config/config.yaml")
	if err != nil {
		log.Fatalf("配置文件加载失败: %v", err)
	}
	AppConfig = cfg
}

// Load decodes the YAML file at path, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := &Config{}
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	s := &c.Session
	if s.PollInterval == 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.PollTimeout == 0 {
		s.PollTimeout = DefaultPollTimeout
	}
	if s.Debounce == 0 {
		s.Debounce = DefaultDebounce
	}
	if s.HistoryLimit == 0 {
		s.HistoryLimit = DefaultHistoryLimit
	}
	if s.UndoGuardDelay == 0 {
		s.UndoGuardDelay = DefaultUndoGuardDelay
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
}

func (c *Config) Validate() error {
	s := c.Session
	if s.PollInterval < 0 || s.Debounce < 0 || s.UndoGuardDelay < 0 || s.RequestTimeout < 0 {
		return fmt.Errorf("session durations must not be negative")
	}
	if s.HistoryLimit < 0 {
		return fmt.Errorf("session.history_limit must be positive, got %d", s.HistoryLimit)
	}
	return nil
}
