package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redinc23/hathor-red-sub003/pkg/logger"
	"github.com/redinc23/hathor-red-sub003/service-sync/internal/app"
)

// Standalone runs the whole sync engine from one binary: an embedded
// PostgreSQL and an embedded Redis come up first, then the server connects
// to them. Nothing needs to be installed beside the binary itself.
func main() {
	cfg := createEmbeddedConfig()

	logger.InitLogger(cfg)

	logger.Info("starting standalone sync engine (embedded PostgreSQL + Redis)")

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	wg.Add(1)
	go func() {
		defer wg.Done()
		startEmbeddedDB(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		startEmbeddedRedis(ctx)
	}()

	waitForEmbeddedServicesToBeReady()
	updateConfigWithEmbeddedServices(cfg)

	logger.Info("embedded services ready, starting sync server")

	wg.Add(1)
	go func() {
		defer wg.Done()
		server := app.NewAppServer(cfg)
		server.Serve()
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	<-c
	logger.Info("shutting down...")
	cancel()
	wg.Wait()
	logger.Info("shutdown complete")
}

// waitForEmbeddedServicesToBeReady polls until both embedded stores accept
// connections.
func waitForEmbeddedServicesToBeReady() {
	for i := 0; i < 60; i++ {
		if GetDBConnection() != nil && GetRedisClient() != nil {
			return
		}
		time.Sleep(1 * time.Second)
	}
	log.Fatalf("embedded services failed to become ready within 60 seconds")
}
