package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/logsift/logsift/internal/model"
)

// Repo manages the log database: batched inserts for the ingestor and
// filtered reads for the exporter and stats.
type Repo struct {
	path string
	db   *sql.DB
}

// NewRepo creates a Repo for the database at path. Open must be called
// before use.
func NewRepo(path string) *Repo {
	return &Repo{path: path}
}

// Open opens (or creates) the database and applies pending migrations.
func (r *Repo) Open() error {
	db, err := OpenDB(r.path)
	if err != nil {
		return fmt.Errorf("store repo open: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return fmt.Errorf("store repo open: %w", err)
	}
	r.db = db
	return nil
}

// Close closes the database.
func (r *Repo) Close() error {
	if r.db != nil {
		err := r.db.Close()
		r.db = nil
		return err
	}
	return nil
}

// DB exposes the underlying handle for ad-hoc statements.
func (r *Repo) DB() *sql.DB {
	return r.db
}

// Path returns the database file path.
func (r *Repo) Path() string {
	return r.path
}

// InsertEntries inserts a batch of log entries in a single transaction and
// returns their assigned row IDs, aligned with the input slice. A row that
// fails to insert is skipped with a warning and reported as ID 0.
func (r *Repo) InsertEntries(entries []model.LogEntry) ([]int64, error) {
	if r.db == nil {
		return nil, fmt.Errorf("store repo: not open")
	}
	if len(entries) == 0 {
		return nil, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store repo begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT INTO logs (
		timestamp, thread, level, module, message, source_file, raw_log, has_stack_trace
	) VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return nil, fmt.Errorf("store repo prepare logs: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, len(entries))
	for i := range entries {
		e := &entries[i]
		res, err := stmt.Exec(
			e.Timestamp, e.Thread, e.Level, e.Module, e.Message,
			e.SourceFile, e.RawLog, boolToInt(e.HasStackTrace),
		)
		if err != nil {
			log.Warn().Err(err).Str("source_file", e.SourceFile).Msg("skip log row, insert failed")
			continue
		}
		id, err := res.LastInsertId()
		if err != nil {
			log.Warn().Err(err).Msg("log row id unavailable")
			continue
		}
		ids[i] = id
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store repo commit logs: %w", err)
	}
	return ids, nil
}

// InsertJSONEntries inserts a batch of JSON log entries in one transaction.
// Returns the number of rows inserted.
func (r *Repo) InsertJSONEntries(entries []model.JSONLogEntry) (int, error) {
	if r.db == nil {
		return 0, fmt.Errorf("store repo: not open")
	}
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("store repo begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT INTO json_logs (
		timestamp, level, message, fields_json, source_file, raw_log
	) VALUES (?,?,?,?,?,?)`)
	if err != nil {
		return 0, fmt.Errorf("store repo prepare json_logs: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range entries {
		e := &entries[i]
		if _, err := stmt.Exec(e.Timestamp, e.Level, e.Message, e.FieldsJSON, e.SourceFile, e.RawLog); err != nil {
			log.Warn().Err(err).Str("source_file", e.SourceFile).Msg("skip json log row, insert failed")
			continue
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store repo commit json_logs: %w", err)
	}
	return inserted, nil
}

// InsertParsingErrors inserts a batch of parsing errors in one transaction.
func (r *Repo) InsertParsingErrors(errs []model.ParsingError) (int, error) {
	if r.db == nil {
		return 0, fmt.Errorf("store repo: not open")
	}
	if len(errs) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("store repo begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT INTO parsing_errors (line, source_file, error_message) VALUES (?,?,?)`)
	if err != nil {
		return 0, fmt.Errorf("store repo prepare parsing_errors: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range errs {
		e := &errs[i]
		if _, err := stmt.Exec(e.Line, e.SourceFile, e.ErrorMessage); err != nil {
			log.Warn().Err(err).Str("source_file", e.SourceFile).Msg("skip parsing error row, insert failed")
			continue
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store repo commit parsing_errors: %w", err)
	}
	return inserted, nil
}

// InsertStackTraces inserts a batch of stack traces in one transaction.
// Traces with LogID 0 (parent row failed to insert) are skipped.
func (r *Repo) InsertStackTraces(traces []model.StackTrace) (int, error) {
	if r.db == nil {
		return 0, fmt.Errorf("store repo: not open")
	}
	if len(traces) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("store repo begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT INTO stack_traces (log_id, stack_trace) VALUES (?,?)`)
	if err != nil {
		return 0, fmt.Errorf("store repo prepare stack_traces: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range traces {
		t := &traces[i]
		if t.LogID == 0 {
			continue
		}
		if _, err := stmt.Exec(t.LogID, t.StackTrace); err != nil {
			log.Warn().Err(err).Int64("log_id", t.LogID).Msg("skip stack trace row, insert failed")
			continue
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store repo commit stack_traces: %w", err)
	}
	return inserted, nil
}

// EntryFilter specifies query filters for listing log entries.
type EntryFilter struct {
	Levels        []string
	Module        string
	Thread        string
	SourceFile    string
	HasStackTrace *bool
	Limit         int
	Offset        int
}

// ListEntries returns log entries matching the filter, ordered by id.
func (r *Repo) ListEntries(f EntryFilter) ([]model.LogEntry, error) {
	if r.db == nil {
		return nil, fmt.Errorf("store repo: not open")
	}

	var where []string
	var args []interface{}

	if len(f.Levels) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Levels)), ",")
		where = append(where, "level IN ("+placeholders+")")
		for _, lv := range f.Levels {
			args = append(args, lv)
		}
	}
	if f.Module != "" {
		where = append(where, "module = ?")
		args = append(args, f.Module)
	}
	if f.Thread != "" {
		where = append(where, "thread = ?")
		args = append(args, f.Thread)
	}
	if f.SourceFile != "" {
		where = append(where, "source_file = ?")
		args = append(args, f.SourceFile)
	}
	if f.HasStackTrace != nil {
		where = append(where, "has_stack_trace = ?")
		args = append(args, boolToInt(*f.HasStackTrace))
	}

	q := "SELECT id, timestamp, thread, level, module, message, source_file, raw_log, has_stack_trace FROM logs"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			q += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("store repo list entries: %w", err)
	}
	defer rows.Close()

	var results []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		var hasTrace int
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Thread, &e.Level, &e.Module,
			&e.Message, &e.SourceFile, &e.RawLog, &hasTrace); err != nil {
			return nil, fmt.Errorf("store repo scan entry: %w", err)
		}
		e.HasStackTrace = hasTrace != 0
		results = append(results, e)
	}
	return results, rows.Err()
}

// ListParsingErrors returns parsing errors ordered by id. limit <= 0 means
// no limit.
func (r *Repo) ListParsingErrors(limit int) ([]model.ParsingError, error) {
	if r.db == nil {
		return nil, fmt.Errorf("store repo: not open")
	}
	q := "SELECT id, line, source_file, error_message, timestamp FROM parsing_errors ORDER BY id"
	var args []interface{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("store repo list parsing errors: %w", err)
	}
	defer rows.Close()

	var results []model.ParsingError
	for rows.Next() {
		var e model.ParsingError
		if err := rows.Scan(&e.ID, &e.Line, &e.SourceFile, &e.ErrorMessage, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("store repo scan parsing error: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// ListJSONEntries returns JSON log entries ordered by id. limit <= 0 means
// no limit.
func (r *Repo) ListJSONEntries(limit int) ([]model.JSONLogEntry, error) {
	if r.db == nil {
		return nil, fmt.Errorf("store repo: not open")
	}
	q := "SELECT id, timestamp, level, message, fields_json, source_file, raw_log FROM json_logs ORDER BY id"
	var args []interface{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("store repo list json entries: %w", err)
	}
	defer rows.Close()

	var results []model.JSONLogEntry
	for rows.Next() {
		var e model.JSONLogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Level, &e.Message, &e.FieldsJSON, &e.SourceFile, &e.RawLog); err != nil {
			return nil, fmt.Errorf("store repo scan json entry: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// ListStackTraces returns stack traces for the given log IDs (all traces
// when ids is empty), ordered by id. limit <= 0 means no limit.
func (r *Repo) ListStackTraces(ids []int64, limit int) ([]model.StackTrace, error) {
	if r.db == nil {
		return nil, fmt.Errorf("store repo: not open")
	}
	q := "SELECT id, log_id, stack_trace FROM stack_traces"
	var args []interface{}
	if len(ids) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		q += " WHERE log_id IN (" + placeholders + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}
	q += " ORDER BY id"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("store repo list stack traces: %w", err)
	}
	defer rows.Close()

	var results []model.StackTrace
	for rows.Next() {
		var t model.StackTrace
		if err := rows.Scan(&t.ID, &t.LogID, &t.StackTrace); err != nil {
			return nil, fmt.Errorf("store repo scan stack trace: %w", err)
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// GetSourceFile returns the ingest record for path, or nil when the file
// has never been ingested.
func (r *Repo) GetSourceFile(path string) (*model.SourceFile, error) {
	if r.db == nil {
		return nil, fmt.Errorf("store repo: not open")
	}
	row := r.db.QueryRow(`SELECT path, content_hash, size_bytes, lines, entries, json_entries,
		errors, stack_traces, run_id, ingested_at_ns FROM source_files WHERE path = ?`, path)
	var f model.SourceFile
	err := row.Scan(&f.Path, &f.ContentHash, &f.SizeBytes, &f.Lines, &f.Entries, &f.JSONEntries,
		&f.Errors, &f.StackTraces, &f.RunID, &f.IngestedAtNs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store repo get source file: %w", err)
	}
	return &f, nil
}

// UpsertSourceFile records (or replaces) the ingest record for a file.
func (r *Repo) UpsertSourceFile(f model.SourceFile) error {
	if r.db == nil {
		return fmt.Errorf("store repo: not open")
	}
	_, err := r.db.Exec(`INSERT INTO source_files (
		path, content_hash, size_bytes, lines, entries, json_entries, errors, stack_traces, run_id, ingested_at_ns
	) VALUES (?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(path) DO UPDATE SET
		content_hash = excluded.content_hash,
		size_bytes = excluded.size_bytes,
		lines = excluded.lines,
		entries = excluded.entries,
		json_entries = excluded.json_entries,
		errors = excluded.errors,
		stack_traces = excluded.stack_traces,
		run_id = excluded.run_id,
		ingested_at_ns = excluded.ingested_at_ns`,
		f.Path, f.ContentHash, f.SizeBytes, f.Lines, f.Entries, f.JSONEntries,
		f.Errors, f.StackTraces, f.RunID, f.IngestedAtNs)
	if err != nil {
		return fmt.Errorf("store repo upsert source file: %w", err)
	}
	return nil
}

// InsertRun records the start of an ingest run.
func (r *Repo) InsertRun(run model.IngestRun) error {
	if r.db == nil {
		return fmt.Errorf("store repo: not open")
	}
	_, err := r.db.Exec(`INSERT INTO ingest_runs (id, started_at_ns) VALUES (?,?)`,
		run.ID, run.StartedAtNs)
	if err != nil {
		return fmt.Errorf("store repo insert run: %w", err)
	}
	return nil
}

// FinishRun writes the final counters for an ingest run.
func (r *Repo) FinishRun(run model.IngestRun) error {
	if r.db == nil {
		return fmt.Errorf("store repo: not open")
	}
	_, err := r.db.Exec(`UPDATE ingest_runs SET
		finished_at_ns = ?, files_seen = ?, files_ingested = ?, files_skipped = ?, files_failed = ?,
		lines = ?, entries = ?, json_entries = ?, errors = ?, stack_traces = ?
		WHERE id = ?`,
		run.FinishedAtNs, run.FilesSeen, run.FilesIngested, run.FilesSkipped, run.FilesFailed,
		run.Lines, run.Entries, run.JSONEntries, run.Errors, run.StackTraces, run.ID)
	if err != nil {
		return fmt.Errorf("store repo finish run: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent ingest runs, newest first.
func (r *Repo) RecentRuns(limit int) ([]model.IngestRun, error) {
	if r.db == nil {
		return nil, fmt.Errorf("store repo: not open")
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.Query(`SELECT id, started_at_ns, finished_at_ns, files_seen, files_ingested,
		files_skipped, files_failed, lines, entries, json_entries, errors, stack_traces
		FROM ingest_runs ORDER BY started_at_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store repo recent runs: %w", err)
	}
	defer rows.Close()

	var results []model.IngestRun
	for rows.Next() {
		var run model.IngestRun
		if err := rows.Scan(&run.ID, &run.StartedAtNs, &run.FinishedAtNs, &run.FilesSeen,
			&run.FilesIngested, &run.FilesSkipped, &run.FilesFailed, &run.Lines,
			&run.Entries, &run.JSONEntries, &run.Errors, &run.StackTraces); err != nil {
			return nil, fmt.Errorf("store repo scan run: %w", err)
		}
		results = append(results, run)
	}
	return results, rows.Err()
}

// TableCounts returns the row count of every user table.
func (r *Repo) TableCounts() (map[string]int64, error) {
	if r.db == nil {
		return nil, fmt.Errorf("store repo: not open")
	}
	rows, err := r.db.Query(`SELECT name FROM sqlite_master WHERE type = 'table'
		AND name NOT LIKE 'sqlite_%' AND name != 'schema_migrations' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store repo table names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store repo scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(names))
	for _, name := range names {
		var n int64
		// Table names come from sqlite_master, not user input.
		if err := r.db.QueryRow("SELECT COUNT(*) FROM " + name).Scan(&n); err != nil {
			return nil, fmt.Errorf("store repo count %s: %w", name, err)
		}
		counts[name] = n
	}
	return counts, nil
}

// LevelCount is one row of the level distribution.
type LevelCount struct {
	Level string
	Count int64
}

// LevelDistribution returns per-level row counts from the logs table,
// most frequent first.
func (r *Repo) LevelDistribution() ([]LevelCount, error) {
	if r.db == nil {
		return nil, fmt.Errorf("store repo: not open")
	}
	rows, err := r.db.Query(`SELECT level, COUNT(*) AS count FROM logs
		WHERE level != '' GROUP BY level ORDER BY count DESC, level`)
	if err != nil {
		return nil, fmt.Errorf("store repo level distribution: %w", err)
	}
	defer rows.Close()

	var results []LevelCount
	for rows.Next() {
		var lc LevelCount
		if err := rows.Scan(&lc.Level, &lc.Count); err != nil {
			return nil, fmt.Errorf("store repo scan level count: %w", err)
		}
		results = append(results, lc)
	}
	return results, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
