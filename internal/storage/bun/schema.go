package bunrepo

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quorumbot/notify/pkg/config"
	"github.com/quorumbot/notify/pkg/domain"
	"github.com/quorumbot/notify/pkg/interfaces/logger"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// OpenDatabase opens the SQLite database from config and provisions the
// schema.
func OpenDatabase(ctx context.Context, cfg config.PersistenceConfig, lgr logger.Logger) (*bun.DB, error) {
	if cfg.Driver != "" && cfg.Driver != "sqlite" {
		return nil, fmt.Errorf("persistence: unsupported driver %s", cfg.Driver)
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		dsn = config.Defaults().Persistence.DSN
	}
	if err := ensureSQLiteDir(dsn); err != nil {
		return nil, err
	}

	sqldb, err := sql.Open(sqliteshim.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: open sqlite: %w", err)
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())

	if _, err := sqldb.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil && lgr != nil {
		lgr.Warn("persistence: enable sqlite foreign keys", logger.Field{Key: "error", Value: err})
	}

	if err := EnsureSchema(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSQLiteDir(dsn string) error {
	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}
	path := strings.TrimPrefix(dsn, "file:")
	if idx := strings.Index(path, "?"); idx >= 0 {
		path = path[:idx]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// EnsureSchema creates every table the repositories depend on. The unique
// composite indexes back the ON CONFLICT upserts, so schema creation must run
// before any writer.
func EnsureSchema(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*domain.LedgerEntry)(nil),
		(*domain.ChannelLink)(nil),
		(*domain.Subscription)(nil),
		(*credentialRecord)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("persistence: create table for %T: %w", model, err)
		}
	}
	return nil
}
