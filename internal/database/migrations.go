package database

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Up      string
	Down    string
}

// Migrations contains all database migrations
var Migrations = []Migration{
	{
		Version: 1,
		Up: `
			CREATE EXTENSION IF NOT EXISTS "uuid-ossp";

			CREATE TABLE IF NOT EXISTS users (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				email VARCHAR(255) UNIQUE NOT NULL,
				first_name VARCHAR(100),
				last_name VARCHAR(100),
				image_name TEXT,
				password_hash VARCHAR(255) NOT NULL,
				push_notification_token TEXT,
				created_at TIMESTAMP NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
		`,
		Down: `
			DROP TABLE IF EXISTS users;
		`,
	},
	{
		Version: 2,
		Up: `
			CREATE TABLE IF NOT EXISTS sessions (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				created_at TIMESTAMP NOT NULL DEFAULT NOW(),
				expires_at TIMESTAMP NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
		`,
		Down: `
			DROP TABLE IF EXISTS sessions;
		`,
	},
	{
		Version: 3,
		Up: `
			CREATE TABLE IF NOT EXISTS chats (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				data_key TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS user_chats (
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
				has_unread_messages BOOLEAN NOT NULL DEFAULT FALSE,
				PRIMARY KEY (user_id, chat_id)
			);

			CREATE INDEX IF NOT EXISTS idx_user_chats_chat ON user_chats(chat_id);
		`,
		Down: `
			DROP TABLE IF EXISTS user_chats;
			DROP TABLE IF EXISTS chats;
		`,
	},
	{
		Version: 4,
		Up: `
			CREATE TABLE IF NOT EXISTS messages (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
				sender_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				content TEXT NOT NULL,
				type VARCHAR(10) NOT NULL CHECK (type IN ('TEXT', 'IMAGE', 'AUDIO')),
				media_url TEXT,
				checked_for_profanity BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP NOT NULL DEFAULT NOW(),
				CHECK ((type = 'TEXT') = (media_url IS NULL))
			);

			CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_messages_unscanned ON messages(created_at)
				WHERE checked_for_profanity = FALSE AND type = 'TEXT';
		`,
		Down: `
			DROP TABLE IF EXISTS messages;
		`,
	},
	{
		Version: 5,
		Up: `
			CREATE TABLE IF NOT EXISTS flagged_messages (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				message_id UUID UNIQUE NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
				created_at TIMESTAMP NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS banned_users (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				user_id UUID UNIQUE NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				reason TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS flagged_words (
				word VARCHAR(255) PRIMARY KEY
			);

			CREATE TABLE IF NOT EXISTS auto_ban_words (
				word VARCHAR(255) PRIMARY KEY
			);
		`,
		Down: `
			DROP TABLE IF EXISTS auto_ban_words;
			DROP TABLE IF EXISTS flagged_words;
			DROP TABLE IF EXISTS banned_users;
			DROP TABLE IF EXISTS flagged_messages;
		`,
	},
	{
		Version: 6,
		Up: `
			CREATE TABLE IF NOT EXISTS yakkas (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				organiser_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				invitee_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				date TIMESTAMPTZ NOT NULL,
				status VARCHAR(20) NOT NULL DEFAULT 'PENDING'
					CHECK (status IN ('PENDING', 'ACCEPTED', 'DECLINED', 'COMPLETED')),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_yakkas_organiser ON yakkas(organiser_id);
			CREATE INDEX IF NOT EXISTS idx_yakkas_invitee ON yakkas(invitee_id);
		`,
		Down: `
			DROP TABLE IF EXISTS yakkas;
		`,
	},
}

// RunMigrations applies every migration newer than the recorded version.
func RunMigrations(db *sql.DB) error {
	// Ensure migrations table exists
	if err := ensureMigrationsTable(db); err != nil {
		return err
	}

	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return err
	}

	for _, migration := range sortedMigrations() {
		if migration.Version <= currentVersion {
			continue
		}

		fmt.Printf("Running migration %d...\n", migration.Version)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if _, err := tx.Exec(migration.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", migration.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		fmt.Printf("Migration %d completed\n", migration.Version)
	}

	return nil
}

// RollbackMigration reverts the most recently applied migration.
// It returns the reverted version, or 0 when nothing was applied.
func RollbackMigration(db *sql.DB) (int, error) {
	if err := ensureMigrationsTable(db); err != nil {
		return 0, err
	}

	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return 0, err
	}
	if currentVersion == 0 {
		return 0, nil
	}

	var target *Migration
	for _, m := range Migrations {
		if m.Version == currentVersion {
			m := m
			target = &m
			break
		}
	}
	if target == nil {
		return 0, fmt.Errorf("migration %d is not known to this binary", currentVersion)
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(target.Down); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to roll back migration %d: %w", target.Version, err)
	}

	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = $1", target.Version); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to unrecord migration %d: %w", target.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rollback %d: %w", target.Version, err)
	}

	return target.Version, nil
}

func sortedMigrations() []Migration {
	sorted := make([]Migration, len(Migrations))
	copy(sorted, Migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return sorted
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func getCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}
