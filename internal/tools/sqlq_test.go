package tools

import (
	"database/sql"
	"testing"
)

// seedSQLite creates a small artifacts table for the sql_query tests.
func seedSQLite(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	stmts := []string{
		"CREATE TABLE artifacts (name TEXT, size INTEGER)",
		"INSERT INTO artifacts VALUES ('big', 100), ('small', 1)",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}
}
