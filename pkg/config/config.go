package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string         `json:"port"`
	JWTSecret string         `json:"jwt_secret"`
	Database  DatabaseConfig `json:"database"`
	Redis     RedisConfig    `json:"redis"`
	Rabbit    RabbitConfig   `json:"rabbit"`
	CORS      CORSConfig     `json:"cors"`
	Sync      SyncConfig     `json:"sync"`
	Log       LogConfig      `json:"log"`
}

type DatabaseConfig struct {
	Name            string        `mapstructure:"db_name"`
	Host            string        `mapstructure:"db_host"`
	Port            string        `mapstructure:"db_port"`
	Username        string        `mapstructure:"db_username"`
	Password        string        `mapstructure:"db_password"`
	MaxOpenConns    int           `mapstructure:"db_max_open_conns"`
	MaxIdleConns    int           `mapstructure:"db_max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"db_conn_max_lifetime"`
	SSLMode         string        `mapstructure:"db_ssl_mode"` // e.g., "disable", "require", "verify-ca", "verify-full"
}

type RedisConfig struct {
	Host     string `mapstructure:"redis_host"`
	Port     string `mapstructure:"redis_port"`
	Password string `mapstructure:"redis_password"`
	DB       int    `mapstructure:"redis_db"`
}

// RabbitConfig holds the optional room-event audit feed settings.
// An empty URL disables publishing.
type RabbitConfig struct {
	URL      string `mapstructure:"rabbit_url"`
	Exchange string `mapstructure:"rabbit_exchange"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"cors_allowed_origins"`
	AllowedMethods []string `mapstructure:"cors_allowed_methods"`
	AllowedHeaders []string `mapstructure:"cors_allowed_headers"`
}

// SyncConfig holds tunables for the realtime engine.
type SyncConfig struct {
	StoreTimeout   time.Duration `mapstructure:"sync_store_timeout"`
	SendBufferSize int           `mapstructure:"sync_send_buffer_size"`
}

type LogConfig struct {
	Level string `mapstructure:"log_level"`
}

func init() {
	if !isGCP {
		err := godotenv.Load()
		if err != nil {
			log.Println("Warning: Could not find or load .env file.")
		}
	}
}

func NewConfig() *Config {
	return &Config{
		Port:      getOptionalSecret("PORT", "8080"),
		JWTSecret: getRequiredSecret("JWT_SECRET"),
		Database: DatabaseConfig{
			Name:            getRequiredSecret("DB_NAME"),
			Host:            getRequiredSecret("DB_HOST"),
			Port:            getRequiredSecret("DB_PORT"),
			Username:        getRequiredSecret("DB_USERNAME"),
			Password:        getRequiredSecret("DB_PASSWORD"),
			MaxOpenConns:    parseIntDefault("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseIntDefault("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDurationDefault("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			SSLMode:         getOptionalSecret("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getRequiredSecret("REDIS_HOST"),
			Port:     getRequiredSecret("REDIS_PORT"),
			Password: getOptionalSecret("REDIS_PASSWORD", ""),
			DB:       parseIntDefault("REDIS_DB", 0),
		},
		Rabbit: RabbitConfig{
			URL:      getOptionalSecret("RABBIT_URL", ""),
			Exchange: getOptionalSecret("RABBIT_EXCHANGE", "hathor.room-events"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(getOptionalSecret("CORS_ALLOWED_ORIGINS", "*")),
			AllowedMethods: splitList(getOptionalSecret("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")),
			AllowedHeaders: splitList(getOptionalSecret("CORS_ALLOWED_HEADERS", "Origin,Content-Type,Authorization")),
		},
		Sync: SyncConfig{
			StoreTimeout:   parseDurationDefault("SYNC_STORE_TIMEOUT", 3*time.Second),
			SendBufferSize: parseIntDefault("SYNC_SEND_BUFFER_SIZE", 64),
		},
		Log: LogConfig{
			Level: getOptionalSecret("LOG_LEVEL", "info"),
		},
	}
}
