package main

import (
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/noah-isme/smorting-auth/internal/db/migrate"
	"github.com/noah-isme/smorting-auth/pkg/config"
	"github.com/noah-isme/smorting-auth/pkg/logger"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	dir, err := migrate.ParseDirection(*direction)
	if err != nil {
		logr.Fatal("invalid direction", zap.Error(err))
	}
	if err := migrate.Run(cfg.Database.URL(), dir); err != nil {
		logr.Fatal("migration failed", zap.String("direction", string(dir)), zap.Error(err))
	}
	logr.Info("migrations applied", zap.String("direction", string(dir)))
}
