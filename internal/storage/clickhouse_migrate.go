package storage

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// RunClickHouseMigrations runs ClickHouse migrations from a directory
func RunClickHouseMigrations(db *ClickHouseDB, migrationsPath string) error {
	ctx := context.Background()

	files, err := os.ReadDir(migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	if len(sqlFiles) == 0 {
		log.Println("No migration files found")
		return nil
	}

	for _, filename := range sqlFiles {
		filePath := filepath.Join(migrationsPath, filename)
		content, err := os.ReadFile(filePath) // #nosec G304 - filePath is constructed from trusted migrationsPath
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		statements := splitSQLStatements(string(content))

		for _, stmt := range statements {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}

			if err := db.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute statement in %s: %w", filename, err)
			}
		}

		log.Printf("Applied ClickHouse migration: %s", filename)
	}

	return nil
}

// splitSQLStatements splits SQL content into individual statements,
// skipping comment-only lines.
func splitSQLStatements(content string) []string {
	var statements []string
	var currentStmt strings.Builder

	for _, line := range strings.Split(content, "\n") {
		trimmedLine := strings.TrimSpace(line)

		if trimmedLine == "" || strings.HasPrefix(trimmedLine, "--") {
			continue
		}

		currentStmt.WriteString(line)
		currentStmt.WriteString("\n")

		if strings.HasSuffix(trimmedLine, ";") {
			stmt := strings.TrimSuffix(strings.TrimSpace(currentStmt.String()), ";")
			if stmt != "" {
				statements = append(statements, stmt)
			}
			currentStmt.Reset()
		}
	}

	if currentStmt.Len() > 0 {
		stmt := strings.TrimSuffix(strings.TrimSpace(currentStmt.String()), ";")
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}

	return statements
}
