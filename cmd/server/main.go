// cmd/server/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Corphon/AIDungeonMaster/internal/app"
	"github.com/Corphon/AIDungeonMaster/internal/config"
	"github.com/Corphon/AIDungeonMaster/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := utils.GetLogger()
	if err := app.ConfigureLogger(cfg, logger); err != nil {
		log.Fatalf("configure logger: %v", err)
	}

	server, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", map[string]interface{}{"error": err.Error()})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("dungeon master starting", map[string]interface{}{
		"addr":    cfg.Addr(),
		"storage": cfg.StorageBackend,
	})
	if err := server.Run(ctx); err != nil {
		logger.Fatal("server stopped", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("server stopped cleanly", nil)
}
