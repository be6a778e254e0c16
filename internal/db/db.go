// Package db opens the workspace-scoped SQLite store.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Everything stockwatch persists lives under <workspace>/.stockwatch.
const (
	workspaceDir = ".stockwatch"
	dbFile       = "stockwatch.db"
)

// EnsureWorkspace creates the .stockwatch directory under workspace,
// returning its path. An empty workspace means the current directory.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	dir := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Open ensures the workspace exists and opens its database with foreign
// keys enforced.
func Open(workspace string) (*sql.DB, error) {
	dir, err := EnsureWorkspace(workspace)
	if err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", filepath.Join(dir, dbFile))
	return sql.Open("sqlite", dsn)
}
