package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	S3        S3Config
	Vision    VisionConfig
	Assistant AssistantConfig
	Quota     QuotaConfig
	Logging   LoggingConfig
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
}

type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

type VisionConfig struct {
	Endpoint      string
	APIKey        string
	Project       string
	TimeoutSec    int
	MinConfidence float64
	MaxCandidates int
}

type AssistantConfig struct {
	APIKey       string
	Model        string
	Temperature  float32
	MaxTokens    int
	TimeoutSec   int
	MaxTurns     int
	CacheTTLHrs  int
	CostPerCall  float64
}

type QuotaConfig struct {
	PerMinute   int64
	UserDaily   int64
	GlobalDaily int64
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
	viper.AddConfigPath("/etc/plantpal")

	viper.SetEnvPrefix("PLANTPAL")
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
	viper.SetDefault("server.bodyLimit", 26214400)

	viper.SetDefault("sqlite.path", "./data/plantpal.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("s3.region", "us-east-1")
	viper.SetDefault("s3.bucket", "plantpal-uploads")

	viper.SetDefault("vision.endpoint", "https://my-api.plantnet.org/v2/identify/all")
	viper.SetDefault("vision.timeoutSec", 30)
	viper.SetDefault("vision.minConfidence", 30.0)
	viper.SetDefault("vision.maxCandidates", 5)

	viper.SetDefault("assistant.model", "gpt-4o-mini")
	viper.SetDefault("assistant.temperature", 0.4)
	viper.SetDefault("assistant.maxTokens", 1024)
	viper.SetDefault("assistant.timeoutSec", 30)
	viper.SetDefault("assistant.maxTurns", 6)
	viper.SetDefault("assistant.cacheTTLHrs", 168)
	viper.SetDefault("assistant.costPerCall", 1.0)

	viper.SetDefault("quota.perMinute", 10)
	viper.SetDefault("quota.userDaily", 20)
	viper.SetDefault("quota.globalDaily", 500)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
