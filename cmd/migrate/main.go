package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/yakka/backend/config"
	"github.com/yakka/backend/internal/database"
	"github.com/yakka/backend/internal/repository"
)

const usage = `Usage: go run cmd/migrate/main.go <command>

Commands:
  up                                   apply pending migrations
  down                                 roll back the latest migration
  status                               list applied migrations
  words add|remove flagged|autoban W   edit a moderation word list`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	command := os.Args[1]

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	db, err := database.NewPostgresDB(cfg.GetDSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	switch command {
	case "up":
		log.Println("Running migrations...")
		if err := database.RunMigrations(db.DB); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed successfully")

	case "status":
		showMigrationStatus(db.DB)

	case "down":
		version, err := database.RollbackMigration(db.DB)
		if err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		if version == 0 {
			log.Println("Nothing to roll back")
			return
		}
		log.Printf("Rolled back migration %d", version)

	case "words":
		if err := editWords(db, os.Args[2:]); err != nil {
			log.Fatalf("Failed to edit word list: %v", err)
		}

	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println(usage)
		os.Exit(1)
	}
}

func editWords(db *database.DB, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("expected: words add|remove flagged|autoban <word>")
	}

	var list repository.WordList
	switch args[1] {
	case "flagged":
		list = repository.FlaggedWords
	case "autoban":
		list = repository.AutoBanWords
	default:
		return fmt.Errorf("unknown list %q", args[1])
	}

	word := strings.ToLower(strings.TrimSpace(args[2]))
	if word == "" {
		return fmt.Errorf("word is empty")
	}

	repo := repository.NewModerationRepository(db)
	ctx := context.Background()
	switch args[0] {
	case "add":
		if err := repo.AddWord(ctx, list, word); err != nil {
			return err
		}
		log.Printf("Added %q to %s", word, list)
	case "remove":
		if err := repo.RemoveWord(ctx, list, word); err != nil {
			return err
		}
		log.Printf("Removed %q from %s", word, list)
	default:
		return fmt.Errorf("unknown action %q", args[0])
	}
	return nil
}

func showMigrationStatus(db *sql.DB) {
	rows, err := db.Query("SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		log.Printf("No migrations found or table doesn't exist: %v", err)
		return
	}
	defer rows.Close()

	fmt.Println("\nApplied Migrations:")
	fmt.Println("-------------------")
	for rows.Next() {
		var version int
		var appliedAt string
		if err := rows.Scan(&version, &appliedAt); err != nil {
			log.Printf("Error scanning row: %v", err)
			continue
		}
		fmt.Printf("Version %d - Applied at: %s\n", version, appliedAt)
	}
}
