package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Migrate runs all database migrations
func (db *DB) Migrate() error {
	log.Info().Msg("Running database migrations")

	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	log.Debug().Int("current_version", currentVersion).Msg("Current schema version")

	for _, migration := range migrations {
		if migration.Version > currentVersion {
			log.Info().Int("version", migration.Version).Str("name", migration.Name).Msg("Applying migration")

			if err := db.Transaction(func(tx *sql.Tx) error {
				statements := splitSQLStatements(migration.SQL)
				for i, stmt := range statements {
					if _, err := tx.Exec(stmt); err != nil {
						return fmt.Errorf("migration %d statement %d failed: %w", migration.Version, i+1, err)
					}
				}

				// Record migration
				if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
					return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
				}

				return nil
			}); err != nil {
				return err
			}
		}
	}

	log.Info().Msg("Database migrations complete")
	return nil
}

type migration struct {
	Version int
	Name    string
	SQL     string
}

// splitSQLStatements splits a SQL string into individual statements.
// It handles comments and only returns non-empty statements.
func splitSQLStatements(sql string) []string {
	var statements []string
	var current strings.Builder

	lines := strings.SplitSeq(sql, "\n")
	for line := range lines {
		trimmed := strings.TrimSpace(line)
		// Skip empty lines and comments
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")

		// Check if line ends with semicolon (statement complete)
		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSpace(current.String())
			if stmt != "" && stmt != ";" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}

	// Handle any remaining content without trailing semicolon
	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		statements = append(statements, remaining)
	}

	return statements
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "initial_schema",
		SQL: `
			-- Global settings
			CREATE TABLE settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);

			-- Account credentials (single row). The platform session lives here:
			-- OAuth tokens plus the CMS signing parameters returned by the index
			-- endpoint, which authorize content access separately from the token.
			CREATE TABLE account (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				access_token TEXT NOT NULL,
				token_type TEXT NOT NULL,
				refresh_token TEXT NOT NULL,
				expires_at TIMESTAMP NOT NULL,
				account_id TEXT NOT NULL DEFAULT '',
				audio_locale TEXT NOT NULL DEFAULT '',
				subtitle_locale TEXT NOT NULL DEFAULT '',
				subtitle_fallback TEXT NOT NULL DEFAULT '',
				cms_bucket TEXT NOT NULL DEFAULT '',
				cms_policy TEXT NOT NULL DEFAULT '',
				cms_signature TEXT NOT NULL DEFAULT '',
				cms_key_pair_id TEXT NOT NULL DEFAULT '',
				agent_class TEXT NOT NULL DEFAULT 'mobile',
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);

			-- Active profile (single row), persisted independently of the account
			-- record so a profile switch never touches the refresh token.
			CREATE TABLE profile (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				profile_id TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				avatar TEXT NOT NULL DEFAULT '',
				audio_locale TEXT NOT NULL DEFAULT '',
				subtitle_locale TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);

			-- Index of cached subtitle files, keyed by stream id, used by the
			-- cache pruner to find stale entries.
			CREATE TABLE subtitle_cache (
				stream_id TEXT NOT NULL,
				file_name TEXT NOT NULL,
				fetched_at TIMESTAMP NOT NULL,
				PRIMARY KEY (stream_id, file_name)
			);
		`,
	},
}
