package main

import (
	"github.com/redinc23/hathor-red-sub003/pkg/config"
	"github.com/redinc23/hathor-red-sub003/pkg/logger"
	"github.com/redinc23/hathor-red-sub003/service-sync/internal/app"
)

func main() {
	cfg := config.NewConfig()

	logger.InitLogger(cfg)

	server := app.NewAppServer(cfg)
	server.Serve()
}
