package main

import (
	"context"
	"flag"
	"os"

	appmigrate "github.com/pterodeploy/pterodeploy/internal/app/migrate"
	"github.com/pterodeploy/pterodeploy/pkg/config"
	"github.com/pterodeploy/pterodeploy/pkg/logger"
)

func main() {
	command := flag.String("command", "up", "migration command: up, down, status, ping")
	flag.Parse()

	cfg := config.LoadAPIConfig()
	log := logger.New(cfg.Environment)
	runner := appmigrate.New(cfg.DatabaseURL, cfg.MigrationsDir, log)

	ctx := context.Background()
	var err error
	switch *command {
	case "up":
		err = runner.Ensure(ctx)
	case "down":
		err = runner.Down(ctx)
	case "status":
		err = runner.Status(ctx)
	case "ping":
		err = runner.Ping(ctx)
	default:
		log.Error("unknown command", "command", *command)
		os.Exit(2)
	}
	if err != nil {
		log.Error("migration command failed", "command", *command, "error", err)
		os.Exit(1)
	}
	log.Info("migration command finished", "command", *command)
}
