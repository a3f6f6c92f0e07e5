package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config представляет конфигурацию приложения
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Kafka      KafkaConfig      `json:"kafka"`
	Logger     LoggerConfig     `json:"logger"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Promo      PromoConfig      `json:"promo"`
	Storefront StorefrontConfig `json:"storefront"`
}

// ServerConfig представляет конфигурацию HTTP сервера
type ServerConfig struct {
	Port         string `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
}

// DatabaseConfig представляет конфигурацию базы данных
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
	Migrate  bool   `json:"migrate"`
}

// RedisConfig представляет конфигурацию Redis
type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// KafkaConfig представляет конфигурацию Kafka
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	GroupID string   `json:"group_id"`
	Topics  Topics   `json:"topics"`
}

// Topics представляет список топиков Kafka
type Topics struct {
	Promos string `json:"promos"`
	Orders string `json:"orders"`
}

// LoggerConfig представляет конфигурацию логгера
type LoggerConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

// RateLimitConfig ограничивает число попыток проверки/погашения промокодов с одного IP
type RateLimitConfig struct {
	Enabled       bool   `json:"enabled"`
	Requests      int    `json:"requests"`
	WindowSeconds int    `json:"window_seconds"`
	KeyPrefix     string `json:"key_prefix"`
}

// PromoConfig хранит ограничения реестра промокодов
type PromoConfig struct {
	MaxCodeLength    int `json:"max_code_length"`
	DefaultListLimit int `json:"default_list_limit"`
	MaxListLimit     int `json:"max_list_limit"`
}

// StorefrontConfig описывает клиент витрины, работающий через HTTP API
type StorefrontConfig struct {
	APIBaseURL            string `json:"api_base_url"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// Load загружает конфигурацию из .env (если есть) и переменных окружения
func Load() *Config {
	// .env необязателен, переменные окружения имеют приоритет
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 10),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "marketmesh"),
			Password: getEnv("DB_PASSWORD", "marketmesh"),
			DBName:   getEnv("DB_NAME", "marketmesh"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			Migrate:  getEnvAsBool("DB_MIGRATE", true),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			GroupID: getEnv("KAFKA_GROUP_ID", "marketmesh"),
			Topics: Topics{
				Promos: getEnv("KAFKA_TOPIC_PROMOS", "promos"),
				Orders: getEnv("KAFKA_TOPIC_ORDERS", "orders"),
			},
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getEnvAsBool("RATE_LIMIT_ENABLED", false),
			Requests:      getEnvAsInt("RATE_LIMIT_REQUESTS", 20),
			WindowSeconds: getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			KeyPrefix:     getEnv("RATE_LIMIT_KEY_PREFIX", "promo_attempts"),
		},
		Promo: PromoConfig{
			MaxCodeLength:    getEnvAsInt("PROMO_MAX_CODE_LENGTH", 64),
			DefaultListLimit: getEnvAsInt("PROMO_DEFAULT_LIST_LIMIT", 50),
			MaxListLimit:     getEnvAsInt("PROMO_MAX_LIST_LIMIT", 200),
		},
		Storefront: StorefrontConfig{
			APIBaseURL:            getEnv("STOREFRONT_API_URL", "http://localhost:8080/api"),
			RequestTimeoutSeconds: getEnvAsInt("STOREFRONT_REQUEST_TIMEOUT_SECONDS", 10),
		},
	}
}

// getEnv получает значение переменной окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt получает значение переменной окружения как int с значением по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool получает значение переменной окружения как bool с значением по умолчанию
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.ToLower(getEnv(key, ""))
	if valueStr == "true" || valueStr == "1" || valueStr == "yes" {
		return true
	}
	if valueStr == "false" || valueStr == "0" || valueStr == "no" {
		return false
	}
	return defaultValue
}
