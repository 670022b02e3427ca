package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// Server configuration
	ServerPort  string
	Environment string

	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis configuration
	RedisAddress string

	// JWT configuration
	JWTSecret string

	// Sync server config
	SyncServerAddress string

	// internal secret used for communication between servers
	InternalSecret string

	// Kafka notifications; empty brokers disables the producer
	KafkaBrokers []string
	KafkaTopic   string

	// Revision engine
	SnapshotEveryDocument uint64
	SnapshotEveryPane     uint64
	CommitTimeout         time.Duration

	// Side effects
	WorkerPoolSize int
	EffectMaxRetry int
}

// Global application configuration
var AppConfig Config

// LoadConfig loads configuration from an optional .env file, an optional
// config.yaml and the environment, in increasing priority.
func LoadConfig() *Config {
	loadDotEnv()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("Warning: Error reading config file: %v\n", err)
		}
	}

	jwtSecret := v.GetString("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = generateRandomSecret(32) // Generate a 32-byte random secret if not declared
		log.Println("Generated random JWT secret")
	}

	AppConfig = Config{
		ServerPort:            v.GetString("PORT"),
		Environment:           v.GetString("ENV"),
		DBHost:                v.GetString("DB_HOST"),
		DBPort:                v.GetString("DB_PORT"),
		DBUser:                v.GetString("DB_USER"),
		DBPassword:            v.GetString("DB_PASSWORD"),
		DBName:                v.GetString("DB_NAME"),
		RedisAddress:          v.GetString("REDIS_ADDRESS"),
		SyncServerAddress:     v.GetString("SYNC_ADDRESS"),
		JWTSecret:             jwtSecret,
		InternalSecret:        v.GetString("INTERNAL_SECRET"),
		KafkaBrokers:          splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:            v.GetString("KAFKA_TOPIC"),
		SnapshotEveryDocument: positive(v.GetUint64("SNAPSHOT_EVERY_DOCUMENT"), 50),
		SnapshotEveryPane:     positive(v.GetUint64("SNAPSHOT_EVERY_PANE"), 20),
		CommitTimeout:         v.GetDuration("COMMIT_TIMEOUT"),
		WorkerPoolSize:        v.GetInt("WORKER_POOL_SIZE"),
		EffectMaxRetry:        v.GetInt("EFFECT_MAX_RETRY"),
	}
	if AppConfig.CommitTimeout <= 0 {
		AppConfig.CommitTimeout = 5 * time.Second
	}
	if AppConfig.WorkerPoolSize < 1 {
		AppConfig.WorkerPoolSize = 1
	}
	return &AppConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "collab_revisions")
	v.SetDefault("REDIS_ADDRESS", "localhost:6379")
	v.SetDefault("SYNC_ADDRESS", "http://localhost:8787")
	v.SetDefault("INTERNAL_SECRET", "collab-internal-secret")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "revision-events")
	v.SetDefault("SNAPSHOT_EVERY_DOCUMENT", 50)
	v.SetDefault("SNAPSHOT_EVERY_PANE", 20)
	v.SetDefault("COMMIT_TIMEOUT", "5s")
	v.SetDefault("WORKER_POOL_SIZE", 4)
	v.SetDefault("EFFECT_MAX_RETRY", 3)
}

// loadDotEnv looks for a .env file in the working directory and up to two
// parents.
func loadDotEnv() {
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		envPath = filepath.Join("..", ".env")
		if _, err := os.Stat(envPath); os.IsNotExist(err) {
			envPath = filepath.Join("..", "..", ".env")
		}
	}

	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func positive(v, fallback uint64) uint64 {
	if v == 0 {
		return fallback
	}
	return v
}

// generateRandomSecret returns a hex secret built from length random bytes
func generateRandomSecret(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("cannot generate secret: %v", err)
	}
	return hex.EncodeToString(buf)
}
