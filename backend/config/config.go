package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port       int  `mapstructure:"port"`
		EnableCORS bool `mapstructure:"enable_cors"`
	} `mapstructure:"running"`
	Storage struct {
		// mysql | bolt | memory
		Driver   string `mapstructure:"driver"`
		BoltPath string `mapstructure:"bolt_path"`
	} `mapstructure:"storage"`
	Mysql struct {
		DSN     string `mapstructure:"dsn"`
		Archive bool   `mapstructure:"archive"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers     []string      `mapstructure:"brokers"`
		Topic       string        `mapstructure:"topic"`
		QueueSize   int           `mapstructure:"queue_size"`
		Workers     int           `mapstructure:"workers"`
		MaxRetry    int           `mapstructure:"max_retry"`
		BaseBackoff time.Duration `mapstructure:"base_backoff"`
		MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	} `mapstructure:"kafka"`
	RateLimit struct {
		// memory | redis
		Backend        string        `mapstructure:"backend"`
		Capacity       int           `mapstructure:"capacity"`
		RefillAmount   int           `mapstructure:"refill_amount"`
		RefillInterval time.Duration `mapstructure:"refill_interval"`
	} `mapstructure:"ratelimit"`
	Room struct {
		IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
		PersistTimeout time.Duration `mapstructure:"persist_timeout"`
		SweepInterval  time.Duration `mapstructure:"sweep_interval"`
		SendQueue      int           `mapstructure:"send_queue"`
		PresenceTTL    time.Duration `mapstructure:"presence_ttl"`
	} `mapstructure:"room"`
	Client struct {
		URL         string        `mapstructure:"url"`
		BaseBackoff time.Duration `mapstructure:"base_backoff"`
		MaxBackoff  time.Duration `mapstructure:"max_backoff"`
		MaxAttempts int           `mapstructure:"max_attempts"`
	} `mapstructure:"client"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 8787)
	v.SetDefault("running.enable_cors", false)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.bolt_path", "canvas.db")
	v.SetDefault("mysql.dsn", "")
	v.SetDefault("mysql.archive", false)
	v.SetDefault("redis.addrs", []string{})
	v.SetDefault("redis.password", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "canvas-ops")
	v.SetDefault("kafka.queue_size", 10_000)
	v.SetDefault("kafka.workers", 4)
	v.SetDefault("kafka.max_retry", 3)
	v.SetDefault("kafka.base_backoff", 50*time.Millisecond)
	v.SetDefault("kafka.max_backoff", time.Second)
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.capacity", 300)
	v.SetDefault("ratelimit.refill_amount", 5000)
	v.SetDefault("ratelimit.refill_interval", 5*time.Second)
	v.SetDefault("room.idle_timeout", 10*time.Minute)
	v.SetDefault("room.persist_timeout", 5*time.Second)
	v.SetDefault("room.sweep_interval", time.Minute)
	v.SetDefault("room.send_queue", 64)
	v.SetDefault("room.presence_ttl", 90*time.Second)
	v.SetDefault("client.url", "ws://127.0.0.1:8787/rooms/0/ws")
	v.SetDefault("client.base_backoff", 100*time.Millisecond)
	v.SetDefault("client.max_backoff", 30*time.Second)
	v.SetDefault("client.max_attempts", 0)
}

// Load 读取 canvasConfig.yaml；找不到文件时只用默认值和环境变量。
// 环境变量前缀 CANVAS_，层级用下划线，例如 CANVAS_RUNNING_PORT。
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigName("canvasConfig")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		// 兼容从项目根目录或 backend 目录启动
		paths = []string{"./backend/config", "./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("CANVAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
