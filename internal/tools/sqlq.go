package tools

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"toolfab/internal/policy"
)

// defaultRowLimit caps sql_query result sets unless a smaller limit is
// passed explicitly.
const defaultRowLimit = 100

// sqlQuery runs a read-only statement against a SQLite database. The
// database path goes through the path gate and the statement through the
// read-only SQL gate; the connection itself is opened read-only as well.
func (s *Set) sqlQuery(ctx context.Context, args map[string]any) (map[string]any, error) {
	dbPath, err := stringArg(args, "db")
	if err != nil {
		return nil, err
	}
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	limit := optionalInt(args, "limit", defaultRowLimit)
	if limit <= 0 || limit > defaultRowLimit {
		limit = defaultRowLimit
	}

	if err := policy.CheckPath(dbPath, s.security.AllowedPaths); err != nil {
		return nil, err
	}
	if err := policy.CheckSQL(query); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := QueryResult{Columns: columns, Rows: []map[string]any{}}
	values := make([]any, len(columns))
	scanTargets := make([]any, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	for rows.Next() && len(result.Rows) < limit {
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}

	result.Count = len(result.Rows)
	return asMap(result)
}
