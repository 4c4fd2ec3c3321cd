package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/logsift/logsift/internal/model"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo := NewRepo(filepath.Join(t.TempDir(), "logs.db"))
	if err := repo.Open(); err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestInsertAndListEntries(t *testing.T) {
	repo := openTestRepo(t)

	entries := []model.LogEntry{
		{Timestamp: "2025-03-06 00:00:00.024", Thread: "main", Level: "INFO", Module: "m.a", Message: "started", SourceFile: "a.gz", RawLog: "raw1"},
		{Timestamp: "2025-03-06 00:00:01.000", Thread: "worker-1", Level: "ERROR", Module: "m.b", Message: "boom", SourceFile: "a.gz", RawLog: "raw2", HasStackTrace: true},
		{Timestamp: "2025-03-06 00:00:02.000", Thread: "main", Level: "WARN", Module: "m.a", Message: "slow", SourceFile: "b.gz", RawLog: "raw3"},
	}
	ids, err := repo.InsertEntries(entries)
	if err != nil {
		t.Fatalf("insert entries: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3", len(ids))
	}
	for i, id := range ids {
		if id == 0 {
			t.Fatalf("entry %d got id 0", i)
		}
	}

	all, err := repo.ListEntries(EntryFilter{})
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d entries, want 3", len(all))
	}
	if all[1].Message != "boom" || !all[1].HasStackTrace {
		t.Errorf("entry 1 = %+v", all[1])
	}

	byLevel, err := repo.ListEntries(EntryFilter{Levels: []string{"ERROR", "WARN"}})
	if err != nil {
		t.Fatalf("list by level: %v", err)
	}
	if len(byLevel) != 2 {
		t.Errorf("got %d error/warn entries, want 2", len(byLevel))
	}

	byModule, err := repo.ListEntries(EntryFilter{Module: "m.a"})
	if err != nil {
		t.Fatalf("list by module: %v", err)
	}
	if len(byModule) != 2 {
		t.Errorf("got %d m.a entries, want 2", len(byModule))
	}

	hasTrace := true
	traced, err := repo.ListEntries(EntryFilter{HasStackTrace: &hasTrace})
	if err != nil {
		t.Fatalf("list by trace: %v", err)
	}
	if len(traced) != 1 || traced[0].ID != ids[1] {
		t.Errorf("traced = %+v", traced)
	}

	limited, err := repo.ListEntries(EntryFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != ids[1] {
		t.Errorf("limited = %+v", limited)
	}
}

func TestInsertStackTraces(t *testing.T) {
	repo := openTestRepo(t)

	ids, err := repo.InsertEntries([]model.LogEntry{
		{Timestamp: "2025-03-06 00:00:00.000", Level: "ERROR", Message: "boom", SourceFile: "a.gz", RawLog: "raw", HasStackTrace: true},
	})
	if err != nil {
		t.Fatalf("insert entry: %v", err)
	}

	n, err := repo.InsertStackTraces([]model.StackTrace{
		{LogID: ids[0], StackTrace: "java.lang.NullPointerException\n\tat Foo.bar(Foo.java:1)"},
		{LogID: 0, StackTrace: "parent failed, should be skipped"},
	})
	if err != nil {
		t.Fatalf("insert traces: %v", err)
	}
	if n != 1 {
		t.Fatalf("inserted %d traces, want 1", n)
	}

	traces, err := repo.ListStackTraces([]int64{ids[0]}, 0)
	if err != nil {
		t.Fatalf("list traces: %v", err)
	}
	if len(traces) != 1 || traces[0].LogID != ids[0] {
		t.Fatalf("traces = %+v", traces)
	}
}

func TestInsertParsingErrorsAndJSON(t *testing.T) {
	repo := openTestRepo(t)

	n, err := repo.InsertParsingErrors([]model.ParsingError{
		{Line: "garbage###line", SourceFile: "a.gz", ErrorMessage: "no format matched"},
	})
	if err != nil {
		t.Fatalf("insert parsing errors: %v", err)
	}
	if n != 1 {
		t.Fatalf("inserted %d, want 1", n)
	}

	errs, err := repo.ListParsingErrors(0)
	if err != nil {
		t.Fatalf("list parsing errors: %v", err)
	}
	if len(errs) != 1 || errs[0].ErrorMessage != "no format matched" {
		t.Fatalf("errs = %+v", errs)
	}
	if errs[0].Timestamp == "" {
		t.Error("parsing error timestamp should default to insertion time")
	}

	n, err = repo.InsertJSONEntries([]model.JSONLogEntry{
		{Timestamp: "2025-03-06 00:00:01.500", Level: "WARN", Message: "slow query", FieldsJSON: `{"db":"orders"}`, SourceFile: "a.gz", RawLog: "{}"},
	})
	if err != nil {
		t.Fatalf("insert json entries: %v", err)
	}
	if n != 1 {
		t.Fatalf("inserted %d, want 1", n)
	}

	jsons, err := repo.ListJSONEntries(0)
	if err != nil {
		t.Fatalf("list json entries: %v", err)
	}
	if len(jsons) != 1 || jsons[0].FieldsJSON != `{"db":"orders"}` {
		t.Fatalf("jsons = %+v", jsons)
	}
}

func TestSourceFileRoundTrip(t *testing.T) {
	repo := openTestRepo(t)

	got, err := repo.GetSourceFile("missing.gz")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil", got)
	}

	f := model.SourceFile{
		Path: "/logs/a.gz", ContentHash: "abc123", SizeBytes: 128,
		Lines: 10, Entries: 8, JSONEntries: 1, Errors: 1, StackTraces: 2,
		RunID: "run-1", IngestedAtNs: time.Now().UnixNano(),
	}
	if err := repo.UpsertSourceFile(f); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err = repo.GetSourceFile(f.Path)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ContentHash != "abc123" || got.Lines != 10 {
		t.Fatalf("got %+v", got)
	}

	f.ContentHash = "def456"
	f.Lines = 20
	if err := repo.UpsertSourceFile(f); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, err = repo.GetSourceFile(f.Path)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.ContentHash != "def456" || got.Lines != 20 {
		t.Fatalf("got %+v after update", got)
	}
}

func TestIngestRuns(t *testing.T) {
	repo := openTestRepo(t)

	first := model.IngestRun{ID: "run-1", StartedAtNs: 100}
	second := model.IngestRun{ID: "run-2", StartedAtNs: 200}
	for _, run := range []model.IngestRun{first, second} {
		if err := repo.InsertRun(run); err != nil {
			t.Fatalf("insert run: %v", err)
		}
	}

	second.FinishedAtNs = 300
	second.FilesSeen = 3
	second.FilesIngested = 2
	second.FilesSkipped = 1
	second.Lines = 42
	second.Entries = 40
	second.Errors = 2
	if err := repo.FinishRun(second); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	runs, err := repo.RecentRuns(10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "run-2" {
		t.Errorf("newest run = %q, want run-2", runs[0].ID)
	}
	if runs[0].Entries != 40 || runs[0].FilesSkipped != 1 {
		t.Errorf("finished run = %+v", runs[0])
	}
}

func TestTableCountsAndLevelDistribution(t *testing.T) {
	repo := openTestRepo(t)

	_, err := repo.InsertEntries([]model.LogEntry{
		{Timestamp: "t", Level: "INFO", Message: "a", SourceFile: "a.gz", RawLog: "a"},
		{Timestamp: "t", Level: "INFO", Message: "b", SourceFile: "a.gz", RawLog: "b"},
		{Timestamp: "t", Level: "ERROR", Message: "c", SourceFile: "a.gz", RawLog: "c"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	counts, err := repo.TableCounts()
	if err != nil {
		t.Fatalf("table counts: %v", err)
	}
	if counts["logs"] != 3 {
		t.Errorf("logs count = %d, want 3", counts["logs"])
	}
	if _, ok := counts["schema_migrations"]; ok {
		t.Error("schema_migrations should be excluded")
	}
	for _, table := range []string{"json_logs", "parsing_errors", "stack_traces", "source_files", "ingest_runs"} {
		if _, ok := counts[table]; !ok {
			t.Errorf("missing table %s", table)
		}
	}

	dist, err := repo.LevelDistribution()
	if err != nil {
		t.Fatalf("level distribution: %v", err)
	}
	if len(dist) != 2 {
		t.Fatalf("dist = %+v", dist)
	}
	if dist[0].Level != "INFO" || dist[0].Count != 2 {
		t.Errorf("dist[0] = %+v", dist[0])
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.db")
	for i := 0; i < 2; i++ {
		repo := NewRepo(path)
		if err := repo.Open(); err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if err := repo.Close(); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
}
