// Command generate_schema applies the embedded migrations to an in-memory
// database and writes the resulting schema for sqlc.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"

	"devcat/internal/database"
	"devcat/internal/database/migrations"
)

func main() {
	out := flag.String("o", "internal/database/sqlc/schema.sql", "output path, relative to the module root")
	flag.Parse()

	if err := run(*out); err != nil {
		fmt.Fprintf(os.Stderr, "generate_schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %s\n", *out)
}

func run(out string) error {
	db, err := database.OpenConnection(":memory:")
	if err != nil {
		return err
	}
	defer db.Close()

	_, version, err := migrations.Up(db)
	if err != nil {
		return err
	}

	statements, err := schemaStatements(db)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("-- This file is auto-generated from migration files.\n")
	b.WriteString("-- DO NOT EDIT MANUALLY. Run 'go generate ./internal/database' to regenerate.\n")
	fmt.Fprintf(&b, "-- Source: internal/database/migrations/files/*.sql (version %d)\n\n", version)
	for _, stmt := range statements {
		b.WriteString(stmt)
		b.WriteString(";\n\n")
	}

	return os.WriteFile(out, []byte(b.String()), 0o644)
}

// schemaStatements returns the CREATE statements for user tables, then
// indexes, each group sorted by name. SQLite internals, autoindexes and the
// migration bookkeeping table are left out.
func schemaStatements(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`
		SELECT sql
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND tbl_name != 'schema_migrations'
		ORDER BY CASE type WHEN 'table' THEN 1 ELSE 2 END, name
	`)
	if err != nil {
		return nil, fmt.Errorf("reading sqlite_master: %w", err)
	}
	defer rows.Close()

	var statements []string
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return nil, fmt.Errorf("reading statement: %w", err)
		}
		statements = append(statements, stmt)
	}
	return statements, rows.Err()
}
