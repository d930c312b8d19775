package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Drops every loom table for the current environment's prefix. Destructive;
// the event log goes with it. Run with: go run scripts/drop_all_tables.go
func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	var prefix string
	if env == "prod" {
		prefix = "prod_"
	} else {
		prefix = env + "_"
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = db.Close() }() // Error ignored: script exiting

	dropSQL := fmt.Sprintf(`
		DROP TABLE IF EXISTS %sdigressions CASCADE;
		DROP TABLE IF EXISTS %sanchors CASCADE;
		DROP TABLE IF EXISTS %sexclusions CASCADE;
		DROP TABLE IF EXISTS %sbookmarks CASCADE;
		DROP TABLE IF EXISTS %sannotations CASCADE;
		DROP TABLE IF EXISTS %snodes CASCADE;
		DROP TABLE IF EXISTS %strees CASCADE;
		DROP TABLE IF EXISTS %sevents CASCADE;
	`, prefix, prefix, prefix, prefix, prefix, prefix, prefix, prefix)

	if _, err := db.Exec(dropSQL); err != nil {
		log.Fatalf("Failed to drop tables: %v", err)
	}

	fmt.Printf("Dropped all %s* tables\n", prefix)
}
