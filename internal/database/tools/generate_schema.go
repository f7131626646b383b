package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"imessage-undeleter/internal/database"
	"imessage-undeleter/internal/database/migrations"
)

const header = `-- This file is auto-generated from migration files.
-- DO NOT EDIT MANUALLY. Run 'make generate-schema' to regenerate.
-- Source: internal/database/migrations/files/*.sql

`

func main() {
	out := flag.String("out", filepath.Join("internal", "database", "sqlc", "schema.sql"), "schema output path")
	flag.Parse()

	if err := run(*out); err != nil {
		fmt.Fprintf(os.Stderr, "generate schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %s from migrations\n", *out)
}

func run(out string) error {
	db, err := database.OpenConnection(":memory:")
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrations.MigrateUp(db); err != nil {
		return err
	}

	schema, err := extractSchema(db)
	if err != nil {
		return err
	}
	return os.WriteFile(out, []byte(header+schema), 0644)
}

// extractSchema dumps every CREATE TABLE and CREATE INDEX statement, tables
// first, skipping SQLite internals and the migration bookkeeping table.
func extractSchema(db *sql.DB) (string, error) {
	rows, err := db.Query(`
		SELECT sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND tbl_name != 'schema_migrations'
		ORDER BY CASE type WHEN 'table' THEN 1 ELSE 2 END, name
	`)
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("scan failed: %w", err)
		}
		b.WriteString(stmt)
		b.WriteString("\n\n")
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("rows error: %w", err)
	}
	return b.String(), nil
}
