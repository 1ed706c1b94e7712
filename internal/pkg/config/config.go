package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig
	Gateway  GatewayConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Worker   WorkerConfig
	Node     NodeConfig
	Approval ApprovalConfig
	Archive  ArchiveConfig
	Event    EventConfig
	Crypto   CryptoConfig
}

type CryptoConfig struct {
	EncryptionKey string
}

type AppConfig struct {
	Name        string
	Environment string
	Debug       bool
}

type GatewayConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type WorkerConfig struct {
	PoolSize        int
	PerExecutionCap int
}

type NodeConfig struct {
	DefaultTimeout time.Duration
	EnvAllowList   []string
}

type ApprovalConfig struct {
	SweepInterval time.Duration
}

type ArchiveConfig struct {
	RetentionDays int
	BatchSize     int
	SweepInterval time.Duration
	MinAge        time.Duration
}

type EventConfig struct {
	SubscriberQueueDepth int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config

	cfg.App.Name = viper.GetString("app.name")
	cfg.App.Environment = viper.GetString("app.environment")
	cfg.App.Debug = viper.GetBool("app.debug")

	cfg.Gateway.Host = viper.GetString("gateway.host")
	cfg.Gateway.Port = viper.GetInt("gateway.port")
	cfg.Gateway.ReadTimeout = viper.GetDuration("gateway.read_timeout")
	cfg.Gateway.WriteTimeout = viper.GetDuration("gateway.write_timeout")

	cfg.Database.Host = viper.GetString("database.host")
	cfg.Database.Port = viper.GetInt("database.port")
	cfg.Database.User = viper.GetString("database.user")
	cfg.Database.Password = viper.GetString("database.password")
	cfg.Database.Name = viper.GetString("database.name")
	cfg.Database.SSLMode = viper.GetString("database.ssl_mode")
	cfg.Database.MaxOpenConns = viper.GetInt("database.max_open_conns")
	cfg.Database.MaxIdleConns = viper.GetInt("database.max_idle_conns")
	cfg.Database.ConnMaxLifetime = viper.GetDuration("database.conn_max_lifetime")

	cfg.Redis.Host = viper.GetString("redis.host")
	cfg.Redis.Port = viper.GetInt("redis.port")
	cfg.Redis.Password = viper.GetString("redis.password")
	cfg.Redis.DB = viper.GetInt("redis.db")

	cfg.Worker.PoolSize = viper.GetInt("worker.poolSize")
	cfg.Worker.PerExecutionCap = viper.GetInt("worker.perExecutionCap")

	cfg.Node.DefaultTimeout = time.Duration(viper.GetInt("node.defaultTimeoutMs")) * time.Millisecond
	cfg.Node.EnvAllowList = viper.GetStringSlice("node.envAllowList")

	cfg.Approval.SweepInterval = viper.GetDuration("approval.sweepInterval")

	cfg.Archive.RetentionDays = viper.GetInt("archive.retentionDays")
	cfg.Archive.BatchSize = viper.GetInt("archive.batchSize")
	cfg.Archive.SweepInterval = viper.GetDuration("archive.sweepInterval")
	cfg.Archive.MinAge = viper.GetDuration("archive.minAge")

	cfg.Event.SubscriberQueueDepth = viper.GetInt("event.subscriberQueueDepth")

	cfg.Crypto.EncryptionKey = viper.GetString("crypto.encryption_key")

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "nodeflow")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	viper.SetDefault("gateway.host", "0.0.0.0")
	viper.SetDefault("gateway.port", 8090)
	viper.SetDefault("gateway.read_timeout", 15*time.Second)
	viper.SetDefault("gateway.write_timeout", 15*time.Second)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "nodeflow")
	viper.SetDefault("database.name", "nodeflow")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("worker.poolSize", runtime.NumCPU()*2)
	viper.SetDefault("worker.perExecutionCap", 8)

	viper.SetDefault("node.defaultTimeoutMs", 300000)

	viper.SetDefault("approval.sweepInterval", time.Minute)

	viper.SetDefault("archive.retentionDays", 30)
	viper.SetDefault("archive.batchSize", 100)
	viper.SetDefault("archive.sweepInterval", 5*time.Minute)
	viper.SetDefault("archive.minAge", time.Minute)

	viper.SetDefault("event.subscriberQueueDepth", 256)
}
