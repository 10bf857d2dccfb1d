package config

import (
	"os"
	"strconv"
	"time"
)

type OracleServiceConfig struct {
	Port          string
	LogDir        string
	StorageDriver string
	JWTSecret     string
	PostgresCfg   PostgresConfig
	RabbitMQCfg   RabbitMQConfig
	RedisCfg      RedisConfig
	MinioCfg      MinioConfig
	ExternalCfg   ExternalServiceConfig
	SettlementCfg SettlementConfig
	RegistryCfg   RegistryConfig
}

type MinioConfig struct {
	MinioURL       string
	MinioAccessKey string
	MinioSecretKey string
	MinioLocation  string
	MinioSecure    string
}

type PostgresConfig struct {
	DBname   string
	Username string
	Password string
	Host     string
	Port     string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RabbitMQConfig struct {
	Username string
	Password string
	Host     string
	Port     string
}

type RedisConfig struct {
	Host      string
	Port      string
	Password  string
	DB        int
	PolicyTTL time.Duration
}

type ExternalServiceConfig struct {
	PolicyServiceURL   string
	TreasuryServiceURL string
	RequestTimeout     time.Duration
	// RateLimit is requests per second per collaborator service.
	RateLimit float64
	RateBurst int
}

type SettlementConfig struct {
	BatchWorkers         int
	StaleProcessingAfter time.Duration
	SweepInterval        time.Duration
}

type RegistryConfig struct {
	MinStake int64
}

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

func New() *OracleServiceConfig {
	return &OracleServiceConfig{
		Port:          getEnvOrDefault("PORT", "8090"),
		LogDir:        getEnvOrDefault("LOG_DIR", "/agrisa/log/oracle_service"),
		StorageDriver: getEnvOrDefault("STORAGE_DRIVER", StorageDriverPostgres),
		JWTSecret:     getEnvOrDefault("JWT_SECRET", ""),
		PostgresCfg: PostgresConfig{
			DBname:   getEnvOrDefault("POSTGRES_DB", "oracle"),
			Username: getEnvOrDefault("POSTGRES_USER", "postgres"),
			Password: getEnvOrDefault("POSTGRES_PASSWORD", "postgres"),
			Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			Port:     getEnvOrDefault("POSTGRES_PORT", "5432"),

			MaxOpenConns:    getIntOrDefault("POSTGRES_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getIntOrDefault("POSTGRES_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationOrDefault("POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		RabbitMQCfg: RabbitMQConfig{
			Username: getEnvOrDefault("RABBITMQ_USER", "admin"),
			Password: getEnvOrDefault("RABBITMQ_PWD", "admin"),
			Host:     getEnvOrDefault("RABBITMQ_HOST", "localhost"),
			Port:     getEnvOrDefault("RABBITMQ_PORT", "5672"),
		},
		RedisCfg: RedisConfig{
			Host:      getEnvOrDefault("REDIS_HOST", "localhost"),
			Port:      getEnvOrDefault("REDIS_PORT", "6379"),
			Password:  getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:        getIntOrDefault("REDIS_DB", 0),
			PolicyTTL: getDurationOrDefault("POLICY_CACHE_TTL", 5*time.Minute),
		},
		MinioCfg: MinioConfig{
			MinioURL:       getEnvOrDefault("MINIO_ENDPOINT", "http://localhost:9407"),
			MinioAccessKey: getEnvOrDefault("MINIO_ACCESS_KEY", "minio"),
			MinioSecretKey: getEnvOrDefault("MINIO_SECRET_KEY", "minio123"),
			MinioLocation:  getEnvOrDefault("MINIO_LOCATION", "us-east-1"),
			MinioSecure:    getEnvOrDefault("MINIO_SECURE", "false"),
		},
		ExternalCfg: ExternalServiceConfig{
			PolicyServiceURL:   getEnvOrDefault("POLICY_SERVICE_URL", "http://localhost:8083"),
			TreasuryServiceURL: getEnvOrDefault("TREASURY_SERVICE_URL", "http://localhost:8095"),
			RequestTimeout:     getDurationOrDefault("EXTERNAL_REQUEST_TIMEOUT", 10*time.Second),
			RateLimit:          getFloatOrDefault("EXTERNAL_RATE_LIMIT", 20),
			RateBurst:          getIntOrDefault("EXTERNAL_RATE_BURST", 10),
		},
		SettlementCfg: SettlementConfig{
			BatchWorkers:         getIntOrDefault("BATCH_WORKERS", 4),
			StaleProcessingAfter: getDurationOrDefault("STALE_PROCESSING_AFTER", 24*time.Hour),
			SweepInterval:        getDurationOrDefault("SWEEP_INTERVAL", time.Hour),
		},
		RegistryCfg: RegistryConfig{
			MinStake: int64(getIntOrDefault("MIN_STAKE", 1000)),
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
