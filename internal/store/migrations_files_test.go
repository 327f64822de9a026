package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestInitMigrationCreatesWorkflowTables(t *testing.T) {
	contents, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "0001_init.up.sql"))
	if err != nil {
		t.Fatalf("read init migration: %v", err)
	}
	sql := string(contents)
	for _, table := range []string{"users", "password_resets", "sources", "jokes"} {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("init migration missing table %s", table)
		}
	}
	if !strings.Contains(sql, "rev BIGINT NOT NULL DEFAULT 1") {
		t.Error("jokes table must carry the revision column for the concurrency guard")
	}
}

func TestSearchMigrationIndexesPlainText(t *testing.T) {
	contents, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "0002_search.up.sql"))
	if err != nil {
		t.Fatalf("read search migration: %v", err)
	}
	sql := string(contents)
	if !strings.Contains(sql, "search_text TEXT NOT NULL DEFAULT ''") {
		t.Error("search migration must add the plain-text column")
	}
	if !strings.Contains(sql, "to_tsvector('english', title || ' ' || search_text)") {
		t.Error("jokes fts column must be generated from title and search_text")
	}
	if strings.Contains(sql, "transcriptions->>") {
		t.Error("fts must not be built from the raw rich-text JSON")
	}
}
