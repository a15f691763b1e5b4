package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/wasessions-backend/pkg/config"
	"github.com/angelmondragon/wasessions-backend/pkg/db"
	"github.com/angelmondragon/wasessions-backend/pkg/logger"
	"github.com/angelmondragon/wasessions-backend/pkg/migrate"
)

var gooseCommands = map[string]bool{"up": true, "down": true, "redo": true, "status": true}

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|redo|status|version|create|validate|sync")
	dir := flag.String("dir", migrate.DefaultDir, "migrations directory; the default reads the embedded copy")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	switch *cmd {
	case "create":
		if *name == "" {
			exitf("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(*dir, *name, time.Now())
		if err != nil {
			exitf("failed to create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.Validate(migrate.Source(*dir)); err != nil {
			exitf("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Env:         cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": *dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	// sqlite has no goose history; the schema comes from the models
	if *cmd == "sync" || dbClient.DB().Dialector.Name() == "sqlite" {
		if err := migrate.SyncModels(ctx, dbClient); err != nil {
			exitf("schema sync failed: %v", err)
		}
		logg.Info(ctx, "schema synced from models")
		return
	}

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	switch {
	case gooseCommands[*cmd]:
		err = migrate.Run(ctx, sqlDB, migrate.Source(*dir), *cmd, logg)
	case *cmd == "version":
		if *version == "" {
			exitf("missing -version for version command")
		}
		err = migrate.MigrateToVersion(ctx, sqlDB, migrate.Source(*dir), *version, logg)
	default:
		exitf("unknown -cmd value: %s", *cmd)
	}
	if err != nil {
		exitf("goose %s failed: %v", *cmd, err)
	}
	logg.Info(ctx, "migrate command finished")
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
