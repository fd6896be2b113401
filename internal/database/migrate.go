package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaVersion reads the applied migration version. SQLite keeps it in
// PRAGMA user_version; Postgres in a one-row schema_version table.
func (db *DB) schemaVersion(ctx context.Context) (int, error) {
	var version int
	if db.driver == SQLite {
		if err := db.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
			return 0, fmt.Errorf("reading schema version: %w", err)
		}
		return version, nil
	}

	if _, err := db.conn.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)"); err != nil {
		return 0, fmt.Errorf("creating schema_version: %w", err)
	}
	err := db.conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// migrate brings the schema up to the latest version.
func (db *DB) migrate(ctx context.Context) error {
	current, err := db.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if current >= latestVersion() {
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		db.log.Info("applying migration", "version", m.Version, "description", m.Description, "driver", db.driver)

		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		for _, stmt := range m.Statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
		}
		if db.driver == Postgres {
			if err := stampPostgres(ctx, tx, m.Version); err != nil {
				tx.Rollback()
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		// modernc/sqlite refuses user_version inside the transaction. The DDL
		// is idempotent, so a crash here just re-runs the migration.
		if db.driver == SQLite {
			if _, err := db.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
				return fmt.Errorf("setting version %d: %w", m.Version, err)
			}
		}
	}

	return nil
}

func stampPostgres(ctx context.Context, tx *sql.Tx, version int) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version"); err != nil {
		return fmt.Errorf("setting version %d: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES ($1)", version); err != nil {
		return fmt.Errorf("setting version %d: %w", version, err)
	}
	return nil
}
