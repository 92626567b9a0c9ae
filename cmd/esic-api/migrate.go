package main

import (
	"context"
	"database/sql"
	"fmt"

	"esic/migrations"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// runMigrations runs a goose command (default "up") against the embedded
// SQL files, e.g. `esic-api migrate status` or `esic-api migrate down`.
func runMigrations(ctx context.Context, databaseURL string, args []string) error {
	command := "up"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	if err := goose.RunContext(ctx, command, db, ".", args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}
