package main

import (
	"context"
	"log"

	"github.com/redinc23/hathor-red-sub003/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var (
	embeddedRedis *miniredis.Miniredis
	redisClient   *redis.Client
)

func startEmbeddedRedis(ctx context.Context) {
	logger.Info("starting embedded Redis...")

	var err error
	embeddedRedis, err = miniredis.Run()
	if err != nil {
		log.Fatalf("failed to start embedded Redis: %v", err)
	}

	redisClient = redis.NewClient(&redis.Options{
		Addr: embeddedRedis.Addr(),
		DB:   0,
	})

	_, err = redisClient.Ping(ctx).Result()
	if err != nil {
		log.Fatalf("failed to ping embedded Redis: %v", err)
	}

	logger.Infof("embedded Redis started on %s", embeddedRedis.Addr())

	<-ctx.Done()

	logger.Info("shutting down embedded Redis...")
	if redisClient != nil {
		redisClient.Close()
	}
	if embeddedRedis != nil {
		embeddedRedis.Close()
	}
}

// GetRedisClient returns the Redis client for readiness checks.
func GetRedisClient() *redis.Client {
	return redisClient
}

// GetRedisAddr returns the address of the embedded Redis instance.
func GetRedisAddr() string {
	if embeddedRedis != nil {
		return embeddedRedis.Addr()
	}
	return ""
}
