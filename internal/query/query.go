// Package query implements the ad-hoc SQL tool: run one statement and
// stream the result as CSV, or describe the database when no statement is
// given.
package query

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
)

// Run executes a single SQL statement and writes the result to w as CSV,
// header row first. Returns the number of data rows written.
func Run(db *sql.DB, sqlText string, w io.Writer) (int, error) {
	rows, err := db.Query(sqlText)
	if err != nil {
		return 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("query columns: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return 0, fmt.Errorf("query write header: %w", err)
	}

	values := make([]interface{}, len(cols))
	scanArgs := make([]interface{}, len(cols))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	record := make([]string, len(cols))
	count := 0
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return count, fmt.Errorf("query scan: %w", err)
		}
		for i, v := range values {
			record[i] = formatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return count, fmt.Errorf("query write row: %w", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("query rows: %w", err)
	}

	cw.Flush()
	return count, cw.Error()
}

// TableInfo describes one table for the overview listing.
type TableInfo struct {
	Name     string
	Columns  []string
	RowCount int64
}

// Describe returns every user table with its column names and row count.
func Describe(db *sql.DB) ([]TableInfo, error) {
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table'
		AND name NOT LIKE 'sqlite_%' AND name != 'schema_migrations' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("query scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	infos := make([]TableInfo, 0, len(names))
	for _, name := range names {
		info := TableInfo{Name: name}

		// Names come from sqlite_master, not user input.
		colRows, err := db.Query("PRAGMA table_info(" + name + ")")
		if err != nil {
			return nil, fmt.Errorf("query table_info %s: %w", name, err)
		}
		for colRows.Next() {
			var (
				cid     int
				colName string
				colType string
				notNull int
				dflt    sql.NullString
				pk      int
			)
			if err := colRows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
				colRows.Close()
				return nil, fmt.Errorf("query scan table_info %s: %w", name, err)
			}
			info.Columns = append(info.Columns, colName)
		}
		if err := colRows.Err(); err != nil {
			colRows.Close()
			return nil, err
		}
		colRows.Close()

		if err := db.QueryRow("SELECT COUNT(*) FROM " + name).Scan(&info.RowCount); err != nil {
			return nil, fmt.Errorf("query count %s: %w", name, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	default:
		return fmt.Sprintf("%v", x)
	}
}
