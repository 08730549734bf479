package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/redinc23/hathor-red-sub003/pkg/config"
)

// createEmbeddedConfig builds a hardcoded configuration for the standalone
// binary. Store addresses are patched in once the embedded services are up.
func createEmbeddedConfig() *config.Config {
	return &config.Config{
		Port:      "8080",
		JWTSecret: "embedded-jwt-secret-key-change-in-production",
		Database: config.DatabaseConfig{
			Name:            "hathor",
			Host:            "localhost",
			Port:            "15432",
			Username:        "postgres",
			Password:        "postgres",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			SSLMode:         "disable",
		},
		Redis: config.RedisConfig{
			Host:     "localhost",
			Port:     "6379",
			Password: "",
			DB:       0,
		},
		Rabbit: config.RabbitConfig{
			// no broker in standalone mode; the publisher no-ops
			URL:      "",
			Exchange: "hathor.room-events",
		},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Origin", "Content-Type", "Authorization"},
		},
		Sync: config.SyncConfig{
			StoreTimeout:   3 * time.Second,
			SendBufferSize: 64,
		},
		Log: config.LogConfig{
			Level: "info",
		},
	}
}

// updateConfigWithEmbeddedServices points the config at the ports the
// embedded stores actually bound.
func updateConfigWithEmbeddedServices(cfg *config.Config) {
	redisAddr := GetRedisAddr()
	if redisAddr != "" {
		parts := strings.Split(redisAddr, ":")
		if len(parts) == 2 {
			cfg.Redis.Host = parts[0]
			cfg.Redis.Port = parts[1]
		}
	}

	if GetDBConnection() != nil {
		cfg.Database.Host = "localhost"
		cfg.Database.Port = fmt.Sprintf("%d", GetDBPort())
	}
}
