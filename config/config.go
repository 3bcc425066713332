package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "change-this-secret-key"

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Crypto     CryptoConfig
	Storage    StorageConfig
	Push       PushConfig
	Moderation ModerationConfig
	API        APIConfig
	CORS       CORSConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

// CryptoConfig holds the master key used to wrap per-chat data keys.
// It must never be logged.
type CryptoConfig struct {
	KeyEncryptionKey []byte
	LegacyWrites     bool
}

type StorageConfig struct {
	Bucket     string
	Region     string
	AccessKey  string
	SecretKey  string
	PresignTTL time.Duration
}

type PushConfig struct {
	URL         string
	AccessToken string
}

type ModerationConfig struct {
	SweepEnabled  bool
	SweepInterval time.Duration
}

type APIConfig struct {
	RateLimitMessagesPerSec int
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Load loads configuration from the environment, reading a .env file first when present.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	masterKey, err := decodeMasterKey(v.GetString("KEY_ENCRYPTION_KEY"))
	if err != nil {
		return nil, err
	}

	env := v.GetString("ENV")
	sweepEnabled := env == "production"
	if v.IsSet("MODERATION_SWEEP_ENABLED") {
		sweepEnabled = v.GetBool("MODERATION_SWEEP_ENABLED")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Env:  env,
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		JWT: JWTConfig{
			Secret:      v.GetString("JWT_SECRET"),
			ExpiryHours: v.GetInt("JWT_EXPIRY_HOURS"),
		},
		Crypto: CryptoConfig{
			KeyEncryptionKey: masterKey,
			LegacyWrites:     v.GetBool("CRYPTO_LEGACY_WRITES"),
		},
		Storage: StorageConfig{
			Bucket:     v.GetString("S3_BUCKET_NAME"),
			Region:     v.GetString("S3_REGION"),
			AccessKey:  v.GetString("S3_ACCESS_KEY"),
			SecretKey:  v.GetString("S3_SECRET_KEY"),
			PresignTTL: v.GetDuration("S3_PRESIGN_TTL"),
		},
		Push: PushConfig{
			URL:         v.GetString("EXPO_PUSH_URL"),
			AccessToken: v.GetString("EXPO_ACCESS_TOKEN"),
		},
		Moderation: ModerationConfig{
			SweepEnabled:  sweepEnabled,
			SweepInterval: v.GetDuration("MODERATION_SWEEP_INTERVAL"),
		},
		API: APIConfig{
			RateLimitMessagesPerSec: v.GetInt("RATE_LIMIT_MESSAGES_PER_SECOND"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitOrigins(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "4000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "yakka")
	v.SetDefault("DB_PASSWORD", "yakka_password")
	v.SetDefault("DB_NAME", "yakka_db")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_EXPIRY_HOURS", 168)
	v.SetDefault("CRYPTO_LEGACY_WRITES", false)
	v.SetDefault("S3_REGION", "ap-southeast-2")
	v.SetDefault("S3_PRESIGN_TTL", time.Hour)
	v.SetDefault("EXPO_PUSH_URL", "https://exp.host/--/api/v2/push/send")
	v.SetDefault("MODERATION_SWEEP_INTERVAL", time.Minute)
	v.SetDefault("RATE_LIMIT_MESSAGES_PER_SECOND", 10)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
}

// Validate checks the values Load cannot default safely.
func (c *Config) Validate() error {
	if c.JWT.Secret == defaultJWTSecret && c.Server.Env == "production" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	if len(c.Crypto.KeyEncryptionKey) != 32 {
		return fmt.Errorf("KEY_ENCRYPTION_KEY must decode to 32 bytes")
	}
	if c.Moderation.SweepInterval <= 0 {
		return fmt.Errorf("MODERATION_SWEEP_INTERVAL must be positive")
	}
	return nil
}

// GetDSN returns the database connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func decodeMasterKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("KEY_ENCRYPTION_KEY is required")
	}
	key, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("KEY_ENCRYPTION_KEY must be hex encoded")
	}
	return key, nil
}

func splitOrigins(raw string) []string {
	origins := []string{}
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
