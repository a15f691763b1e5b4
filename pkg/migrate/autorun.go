package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/wasessions-backend/pkg/config"
	"github.com/angelmondragon/wasessions-backend/pkg/db"
	"github.com/angelmondragon/wasessions-backend/pkg/db/models"
	"github.com/angelmondragon/wasessions-backend/pkg/logger"
)

// MaybeRunDev executes migrations automatically when the app is running in dev mode and
// the feature flag is enabled. SQLite databases are synced from the models instead of
// the Goose files, which target Postgres.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	meta := map[string]any{"env": cfg.App.Env, "driver": client.DB().Dialector.Name()}
	ctx = logg.WithFields(ctx, meta)

	if client.DB().Dialector.Name() == "sqlite" {
		logg.Info(ctx, "syncing schema from models (dev auto-run)")
		if err := SyncModels(ctx, client); err != nil {
			return err
		}
		logg.Info(ctx, "schema sync completed")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	logg.Info(ctx, "running embedded goose migrations (dev auto-run)")
	if err := Run(ctx, sqlDB, Migrations(), "up", logg); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "goose migrations completed")
	return nil
}

// SyncModels creates or updates every table owned by the service from its GORM model.
func SyncModels(ctx context.Context, client *db.Client) error {
	if err := client.DB().WithContext(ctx).AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto migrating models: %w", err)
	}
	return nil
}
