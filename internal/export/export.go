// Package export writes row subsets of the log database to Parquet files.
// Rows are staged into an in-memory DuckDB table through the appender API,
// then written out with COPY ... (FORMAT PARQUET).
package export

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/rs/zerolog"

	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/internal/store"
)

// Type selects which rows are exported.
type Type string

const (
	TypeParsing     Type = "parsing"
	TypeLogs        Type = "logs"
	TypeStackTraces Type = "stack-traces"
	TypeJSON        Type = "json"
	TypeAll         Type = "all"
	TypeFullDB      Type = "full-db"
)

// ParseType validates a --type flag value.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeParsing, TypeLogs, TypeStackTraces, TypeJSON, TypeAll, TypeFullDB:
		return Type(s), nil
	}
	return "", fmt.Errorf("unknown export type %q", s)
}

// FileResult is one written Parquet file.
type FileResult struct {
	Path string
	Rows int
}

// Exporter reads from the log repository and writes Parquet files.
type Exporter struct {
	repo  *store.Repo
	limit int
	log   zerolog.Logger
}

// New creates an Exporter. limit <= 0 exports all rows per table.
func New(repo *store.Repo, limit int, log zerolog.Logger) *Exporter {
	return &Exporter{repo: repo, limit: limit, log: log}
}

// Export writes the requested subset. output overrides the generated file
// name only when the type maps to a single file. Empty tables produce no
// file.
func (e *Exporter) Export(ctx context.Context, typ Type, output string) ([]FileResult, error) {
	var results []FileResult

	single := func(out string, typ Type) string {
		if output != "" && typ != TypeAll {
			return output
		}
		return out
	}

	appendResult := func(fr FileResult, err error) error {
		if err != nil {
			return err
		}
		if fr.Rows > 0 {
			results = append(results, fr)
		}
		return nil
	}

	var errorLogs []model.LogEntry

	if typ == TypeParsing || typ == TypeAll {
		fr, err := e.exportParsingErrors(ctx, single(defaultName("parsing_errors"), typ))
		if err := appendResult(fr, err); err != nil {
			return results, err
		}
	}

	if typ == TypeLogs || typ == TypeAll || typ == TypeStackTraces {
		logs, err := e.repo.ListEntries(store.EntryFilter{
			Levels: []string{model.LevelError, "CRITICAL"},
			Limit:  e.limit,
		})
		if err != nil {
			return results, err
		}
		errorLogs = logs
		if typ == TypeLogs || typ == TypeAll {
			fr, err := e.exportEntries(ctx, errorLogs, single(defaultName("error_logs"), typ))
			if err := appendResult(fr, err); err != nil {
				return results, err
			}
		}
	}

	if typ == TypeStackTraces || typ == TypeAll {
		var ids []int64
		for _, entry := range errorLogs {
			if entry.HasStackTrace {
				ids = append(ids, entry.ID)
			}
		}
		if len(ids) > 0 {
			traces, err := e.repo.ListStackTraces(ids, e.limit)
			if err != nil {
				return results, err
			}
			fr, err := e.exportStackTraces(ctx, traces, single(defaultName("stack_traces"), typ))
			if err := appendResult(fr, err); err != nil {
				return results, err
			}
		}
	}

	if typ == TypeJSON || typ == TypeAll {
		fr, err := e.exportJSONEntries(ctx, single(defaultName("json_logs"), typ))
		if err := appendResult(fr, err); err != nil {
			return results, err
		}
	}

	if typ == TypeFullDB {
		logs, err := e.repo.ListEntries(store.EntryFilter{Limit: e.limit})
		if err != nil {
			return results, err
		}
		fr, err := e.exportEntries(ctx, logs, single(defaultName("all_logs"), typ))
		if err := appendResult(fr, err); err != nil {
			return results, err
		}
	}

	return results, nil
}

func (e *Exporter) exportParsingErrors(ctx context.Context, out string) (FileResult, error) {
	rows, err := e.repo.ListParsingErrors(e.limit)
	if err != nil {
		return FileResult{}, err
	}
	if len(rows) == 0 {
		return FileResult{}, nil
	}

	d, err := openDuck(ctx)
	if err != nil {
		return FileResult{}, err
	}
	defer d.close()

	const ddl = `CREATE TABLE parsing_errors (
		id BIGINT, line VARCHAR, source_file VARCHAR, error_message VARCHAR, timestamp VARCHAR
	)`
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return FileResult{}, fmt.Errorf("export create parsing_errors: %w", err)
	}

	appender, err := duckdb.NewAppenderFromConn(d.conn, "", "parsing_errors")
	if err != nil {
		return FileResult{}, fmt.Errorf("export appender parsing_errors: %w", err)
	}
	for i := range rows {
		r := &rows[i]
		if err := appender.AppendRow(r.ID, r.Line, r.SourceFile, r.ErrorMessage, r.Timestamp); err != nil {
			appender.Close()
			return FileResult{}, fmt.Errorf("export append parsing error row: %w", err)
		}
	}
	if err := appender.Close(); err != nil {
		return FileResult{}, fmt.Errorf("export flush parsing_errors: %w", err)
	}

	if err := copyParquet(ctx, d.db, "parsing_errors", out); err != nil {
		return FileResult{}, err
	}
	e.log.Info().Str("path", out).Int("rows", len(rows)).Msg("wrote parquet")
	return FileResult{Path: out, Rows: len(rows)}, nil
}

func (e *Exporter) exportEntries(ctx context.Context, rows []model.LogEntry, out string) (FileResult, error) {
	if len(rows) == 0 {
		return FileResult{}, nil
	}

	d, err := openDuck(ctx)
	if err != nil {
		return FileResult{}, err
	}
	defer d.close()

	const ddl = `CREATE TABLE logs (
		id BIGINT, timestamp VARCHAR, thread VARCHAR, level VARCHAR, module VARCHAR,
		message VARCHAR, source_file VARCHAR, raw_log VARCHAR, has_stack_trace BOOLEAN
	)`
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return FileResult{}, fmt.Errorf("export create logs: %w", err)
	}

	appender, err := duckdb.NewAppenderFromConn(d.conn, "", "logs")
	if err != nil {
		return FileResult{}, fmt.Errorf("export appender logs: %w", err)
	}
	for i := range rows {
		r := &rows[i]
		if err := appender.AppendRow(r.ID, r.Timestamp, r.Thread, r.Level, r.Module,
			r.Message, r.SourceFile, r.RawLog, r.HasStackTrace); err != nil {
			appender.Close()
			return FileResult{}, fmt.Errorf("export append log row: %w", err)
		}
	}
	if err := appender.Close(); err != nil {
		return FileResult{}, fmt.Errorf("export flush logs: %w", err)
	}

	if err := copyParquet(ctx, d.db, "logs", out); err != nil {
		return FileResult{}, err
	}
	e.log.Info().Str("path", out).Int("rows", len(rows)).Msg("wrote parquet")
	return FileResult{Path: out, Rows: len(rows)}, nil
}

func (e *Exporter) exportStackTraces(ctx context.Context, rows []model.StackTrace, out string) (FileResult, error) {
	if len(rows) == 0 {
		return FileResult{}, nil
	}

	d, err := openDuck(ctx)
	if err != nil {
		return FileResult{}, err
	}
	defer d.close()

	const ddl = `CREATE TABLE stack_traces (id BIGINT, log_id BIGINT, stack_trace VARCHAR)`
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return FileResult{}, fmt.Errorf("export create stack_traces: %w", err)
	}

	appender, err := duckdb.NewAppenderFromConn(d.conn, "", "stack_traces")
	if err != nil {
		return FileResult{}, fmt.Errorf("export appender stack_traces: %w", err)
	}
	for i := range rows {
		r := &rows[i]
		if err := appender.AppendRow(r.ID, r.LogID, r.StackTrace); err != nil {
			appender.Close()
			return FileResult{}, fmt.Errorf("export append stack trace row: %w", err)
		}
	}
	if err := appender.Close(); err != nil {
		return FileResult{}, fmt.Errorf("export flush stack_traces: %w", err)
	}

	if err := copyParquet(ctx, d.db, "stack_traces", out); err != nil {
		return FileResult{}, err
	}
	e.log.Info().Str("path", out).Int("rows", len(rows)).Msg("wrote parquet")
	return FileResult{Path: out, Rows: len(rows)}, nil
}

func (e *Exporter) exportJSONEntries(ctx context.Context, out string) (FileResult, error) {
	rows, err := e.repo.ListJSONEntries(e.limit)
	if err != nil {
		return FileResult{}, err
	}
	if len(rows) == 0 {
		return FileResult{}, nil
	}

	d, err := openDuck(ctx)
	if err != nil {
		return FileResult{}, err
	}
	defer d.close()

	const ddl = `CREATE TABLE json_logs (
		id BIGINT, timestamp VARCHAR, level VARCHAR, message VARCHAR,
		fields_json VARCHAR, source_file VARCHAR, raw_log VARCHAR
	)`
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return FileResult{}, fmt.Errorf("export create json_logs: %w", err)
	}

	appender, err := duckdb.NewAppenderFromConn(d.conn, "", "json_logs")
	if err != nil {
		return FileResult{}, fmt.Errorf("export appender json_logs: %w", err)
	}
	for i := range rows {
		r := &rows[i]
		if err := appender.AppendRow(r.ID, r.Timestamp, r.Level, r.Message,
			r.FieldsJSON, r.SourceFile, r.RawLog); err != nil {
			appender.Close()
			return FileResult{}, fmt.Errorf("export append json log row: %w", err)
		}
	}
	if err := appender.Close(); err != nil {
		return FileResult{}, fmt.Errorf("export flush json_logs: %w", err)
	}

	if err := copyParquet(ctx, d.db, "json_logs", out); err != nil {
		return FileResult{}, err
	}
	e.log.Info().Str("path", out).Int("rows", len(rows)).Msg("wrote parquet")
	return FileResult{Path: out, Rows: len(rows)}, nil
}

// duck bundles the three handles go-duckdb needs for appender use: the
// connector, a raw driver connection for the appender, and a database/sql
// handle over the same connector for DDL and COPY.
type duck struct {
	connector *duckdb.Connector
	conn      driver.Conn
	db        *sql.DB
}

func openDuck(ctx context.Context) (*duck, error) {
	connector, err := duckdb.NewConnector("", nil)
	if err != nil {
		return nil, fmt.Errorf("export open duckdb: %w", err)
	}
	conn, err := connector.Connect(ctx)
	if err != nil {
		connector.Close()
		return nil, fmt.Errorf("export connect duckdb: %w", err)
	}
	return &duck{
		connector: connector,
		conn:      conn,
		db:        sql.OpenDB(connector),
	}, nil
}

func (d *duck) close() {
	if d.db != nil {
		d.db.Close()
	}
	if d.conn != nil {
		d.conn.Close()
	}
	if d.connector != nil {
		d.connector.Close()
	}
}

// copyParquet writes the staged table out as a Parquet file. COPY does not
// take bound parameters, so the path is quoted inline.
func copyParquet(ctx context.Context, db *sql.DB, table, path string) error {
	quoted := strings.ReplaceAll(path, "'", "''")
	stmt := fmt.Sprintf("COPY (SELECT * FROM %s) TO '%s' (FORMAT PARQUET)", table, quoted)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("export copy %s to %s: %w", table, path, err)
	}
	return nil
}

func defaultName(prefix string) string {
	return fmt.Sprintf("%s_%s.parquet", prefix, time.Now().Format("20060102_150405"))
}
