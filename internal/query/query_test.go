package query

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/internal/store"
)

func seedDB(t *testing.T) *store.Repo {
	t.Helper()
	repo := store.NewRepo(filepath.Join(t.TempDir(), "logs.db"))
	if err := repo.Open(); err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	_, err := repo.InsertEntries([]model.LogEntry{
		{Timestamp: "2025-03-06 00:00:00.024", Thread: "main", Level: "INFO", Module: "m.a", Message: "started", SourceFile: "a.gz", RawLog: "r1"},
		{Timestamp: "2025-03-06 00:00:01.000", Thread: "main", Level: "ERROR", Module: "m.b", Message: "boom, with comma", SourceFile: "a.gz", RawLog: "r2"},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return repo
}

func TestRunCSV(t *testing.T) {
	repo := seedDB(t)

	var buf bytes.Buffer
	n, err := Run(repo.DB(), "SELECT level, message FROM logs ORDER BY id", &buf)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	if lines[0] != "level,message" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "INFO,started" {
		t.Errorf("row 1 = %q", lines[1])
	}
	// Values containing commas must be quoted.
	if lines[2] != `ERROR,"boom, with comma"` {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestRunAggregate(t *testing.T) {
	repo := seedDB(t)

	var buf bytes.Buffer
	n, err := Run(repo.DB(), "SELECT COUNT(*) AS n FROM logs", &buf)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows = %d", n)
	}
	if !strings.Contains(buf.String(), "2") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRunInvalidSQL(t *testing.T) {
	repo := seedDB(t)
	var buf bytes.Buffer
	if _, err := Run(repo.DB(), "SELEKT nope", &buf); err == nil {
		t.Fatal("expected error")
	}
	if buf.Len() != 0 {
		t.Errorf("wrote %q on error", buf.String())
	}
}

func TestDescribe(t *testing.T) {
	repo := seedDB(t)

	infos, err := Describe(repo.DB())
	if err != nil {
		t.Fatalf("describe: %v", err)
	}

	byName := map[string]TableInfo{}
	for _, info := range infos {
		byName[info.Name] = info
	}
	logs, ok := byName["logs"]
	if !ok {
		t.Fatal("logs table missing from overview")
	}
	if logs.RowCount != 2 {
		t.Errorf("logs rows = %d", logs.RowCount)
	}
	cols := strings.Join(logs.Columns, ",")
	for _, want := range []string{"timestamp", "thread", "level", "module", "message", "source_file", "raw_log", "has_stack_trace"} {
		if !strings.Contains(cols, want) {
			t.Errorf("logs columns %q missing %s", cols, want)
		}
	}
	for _, table := range []string{"json_logs", "parsing_errors", "stack_traces"} {
		if _, ok := byName[table]; !ok {
			t.Errorf("table %s missing from overview", table)
		}
	}
	if _, ok := byName["schema_migrations"]; ok {
		t.Error("schema_migrations should be excluded from the overview")
	}
}
