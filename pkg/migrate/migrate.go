package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/wasessions-backend/pkg/logger"
)

const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Migrations returns the SQL files compiled into the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Source picks the embedded migrations unless dir points somewhere else on disk.
func Source(dir string) fs.FS {
	if dir == "" || dir == DefaultDir {
		return Migrations()
	}
	return os.DirFS(dir)
}

// Run applies one goose command against a Postgres database. Supported
// commands are up, down, redo and status.
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, command string, logg *logger.Logger) error {
	provider, err := newProvider(db, fsys)
	if err != nil {
		return err
	}

	var results []*goose.MigrationResult
	switch command {
	case "up":
		results, err = provider.Up(ctx)
	case "down":
		var res *goose.MigrationResult
		res, err = provider.Down(ctx)
		results = appendResult(results, res)
	case "redo":
		var down, up *goose.MigrationResult
		if down, err = provider.Down(ctx); err == nil {
			up, err = provider.UpByOne(ctx)
		}
		results = appendResult(appendResult(results, down), up)
	case "status":
		return logStatus(ctx, provider, logg)
	default:
		return fmt.Errorf("unsupported goose command %q", command)
	}
	logResults(ctx, logg, results)
	if err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// MigrateToVersion moves the schema up or down until target is the current version.
func MigrateToVersion(ctx context.Context, db *sql.DB, fsys fs.FS, targetVersion string, logg *logger.Logger) error {
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil || target < 0 {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", targetVersion)
	}
	provider, err := newProvider(db, fsys)
	if err != nil {
		return err
	}
	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current == target:
		return nil
	case current < target:
		results, err = provider.UpTo(ctx, target)
	default:
		results, err = provider.DownTo(ctx, target)
	}
	logResults(ctx, logg, results)
	if err != nil {
		return fmt.Errorf("goose migrate %d -> %d: %w", current, target, err)
	}
	return nil
}

func newProvider(db *sql.DB, fsys fs.FS) (*goose.Provider, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if fsys == nil {
		fsys = Migrations()
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return provider, nil
}

func appendResult(results []*goose.MigrationResult, res *goose.MigrationResult) []*goose.MigrationResult {
	if res == nil {
		return results
	}
	return append(results, res)
}

func logResults(ctx context.Context, logg *logger.Logger, results []*goose.MigrationResult) {
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version":   res.Source.Version,
			"path":      res.Source.Path,
			"direction": res.Direction,
			"duration":  res.Duration,
		}), "migration applied")
	}
}

func logStatus(ctx context.Context, provider *goose.Provider, logg *logger.Logger) error {
	statuses, err := provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("goose status: %w", err)
	}
	for _, st := range statuses {
		fields := map[string]any{
			"version": st.Source.Version,
			"path":    st.Source.Path,
			"state":   string(st.State),
		}
		if !st.AppliedAt.IsZero() {
			fields["applied_at"] = st.AppliedAt
		}
		logg.Info(logg.WithFields(ctx, fields), "migration status")
	}
	return nil
}
