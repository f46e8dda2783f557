package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"
)

// RunMigrations runs SQL migrations from the migrations directory. Each
// .up.sql file executes in its own transaction; files apply in name order,
// so they start with numbers like 001_, 002_.
func RunMigrations(ctx context.Context, conn *Connection, migrationsPath string) error {
	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrationFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			migrationFiles = append(migrationFiles, entry.Name())
		}
	}

	for _, fileName := range migrationFiles {
		filePath := filepath.Join(migrationsPath, fileName)
		sql, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", fileName, err)
		}

		err = conn.WithTx(ctx, func(tx pgx.Tx) error {
			_, execErr := tx.Exec(ctx, string(sql))
			return execErr
		})
		if err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", fileName, err)
		}

		slog.Info("executed migration", "file", fileName)
	}

	return nil
}
