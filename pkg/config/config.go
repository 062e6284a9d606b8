package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	SQLite  SQLiteConfig
	Redis   RedisConfig
	LLM     LLMConfig
	Source  SourceConfig
	Sync    SyncConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type LLMConfig struct {
	Provider          string
	Model             string
	APIKey            string
	Temperature       float32
	MaxTokens         int
	TimeoutSec        int
	RequestsPerSecond float64
}

// SourceConfig describes the external legislative data provider.
type SourceConfig struct {
	Name              string
	BaseURL           string
	APIKey            string
	Jurisdictions     []string
	RequestsPerSecond float64
	TimeoutSec        int
}

type SyncConfig struct {
	Schedule            string
	BackupSchedule      string
	DedicatedAmendments bool
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/legisync")

	viper.SetEnvPrefix("LEGISYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/legisync.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlHours", 168)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 60)
	viper.SetDefault("llm.requestsPerSecond", 0.5)

	viper.SetDefault("source.name", "openstates")
	viper.SetDefault("source.baseURL", "https://v3.openstates.org")
	viper.SetDefault("source.jurisdictions", []string{"ca"})
	viper.SetDefault("source.requestsPerSecond", 1.0)
	viper.SetDefault("source.timeoutSec", 120)

	// Nightly primary slot plus an early-morning backup slot.
	viper.SetDefault("sync.schedule", "0 2 * * *")
	viper.SetDefault("sync.backupSchedule", "0 6 * * *")
	viper.SetDefault("sync.dedicatedAmendments", true)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
