package conf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	MinIO    MinIOConfig
	Log      LogConfig
	Upload   UploadConfig
	Reclaim  ReclaimConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// StatsTTL bounds how stale the cached stats/duplicates projections may be.
	StatsTTL time.Duration `mapstructure:"stats_ttl"`
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type LogConfig struct {
	Level            string        `mapstructure:"level"`
	Format           string        `mapstructure:"format"`
	Output           string        `mapstructure:"output"`
	File             FileLogConfig `mapstructure:"file"`
	EnableCaller     bool          `mapstructure:"enablecaller"`
	EnableStacktrace bool          `mapstructure:"enablestacktrace"`
}

type FileLogConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"maxsize"`
	MaxAge     int    `mapstructure:"maxage"`
	MaxBackups int    `mapstructure:"maxbackups"`
	Compress   bool   `mapstructure:"compress"`
}

type UploadConfig struct {
	// MaxSizeBytes rejects oversized uploads before any hashing work begins.
	MaxSizeBytes int64 `mapstructure:"max_size_bytes"`
}

type ReclaimConfig struct {
	// Workers bounds concurrent blob deletions during an orphan sweep.
	Workers int `mapstructure:"workers"`
}

type AuthConfig struct {
	// AdminJWTSecret signs the bearer tokens accepted by maintenance endpoints.
	AdminJWTSecret string `mapstructure:"admin_jwt_secret"`
	JWTIssuer      string `mapstructure:"jwt_issuer"`
}

func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.setDefaults()

	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Upload.MaxSizeBytes == 0 {
		c.Upload.MaxSizeBytes = 10 * 1024 * 1024
	}
	if c.Reclaim.Workers == 0 {
		c.Reclaim.Workers = 4
	}
	if c.Redis.StatsTTL == 0 {
		c.Redis.StatsTTL = 30 * time.Second
	}
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
