package store

import (
	"fmt"
)

// migrate runs all pending migrations
func (s *Store) migrate() error {
	// Create migrations table if it doesn't exist
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get the current schema version
	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	s.logger.Info("current schema version", "version", currentVersion)

	// Define all migrations
	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE nsp_metadata (
					path TEXT PRIMARY KEY,
					title_id TEXT NOT NULL,
					version INTEGER NOT NULL DEFAULT 0,
					title_name TEXT,
					download_id TEXT NOT NULL,
					size INTEGER NOT NULL DEFAULT 0,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX idx_nsp_metadata_download_id ON nsp_metadata(download_id);
				CREATE INDEX idx_nsp_metadata_title_id ON nsp_metadata(title_id);

				CREATE TABLE download_queue (
					id TEXT PRIMARY KEY,
					url TEXT NOT NULL,
					dest_path TEXT NOT NULL,
					file_path TEXT,
					status TEXT NOT NULL DEFAULT 'queued',
					total_size INTEGER NOT NULL DEFAULT 0,
					downloaded INTEGER NOT NULL DEFAULT 0,
					error_message TEXT,
					created_at DATETIME NOT NULL
				);

				CREATE TABLE settings (
					name TEXT PRIMARY KEY,
					value TEXT NOT NULL
				);
			`,
		},
	}

	// Run pending migrations
	for _, mig := range migrations {
		if mig.version > currentVersion {
			s.logger.Info("running migration", "version", mig.version)

			if err := s.runMigration(mig.version, mig.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}

			s.logger.Info("migration completed", "version", mig.version)
		}
	}

	return nil
}

// runMigration executes a migration and records it
func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Execute the migration SQL
	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	// Record the migration
	insertSQL := "INSERT INTO migrations (version) VALUES (?)"
	if _, err := tx.Exec(insertSQL, version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}
