// Package model defines domain structs shared across the parsing,
// ingestion and persistence layers.
package model

// Known log levels after normalization. Levels outside this set are stored
// as captured so nothing is lost on round-trip.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// LogEntry is one structured, successfully parsed log line.
type LogEntry struct {
	ID            int64  `json:"id"`
	Timestamp     string `json:"timestamp"`
	Thread        string `json:"thread"`
	Level         string `json:"level"`
	Module        string `json:"module"`
	Message       string `json:"message"`
	SourceFile    string `json:"source_file"`
	RawLog        string `json:"raw_log"`
	HasStackTrace bool   `json:"has_stack_trace"`
}

// JSONLogEntry is one log line that matched the JSON format. Fields that are
// not level/message/timestamp are preserved verbatim in FieldsJSON.
type JSONLogEntry struct {
	ID         int64  `json:"id"`
	Timestamp  string `json:"timestamp"`
	Level      string `json:"level"`
	Message    string `json:"message"`
	FieldsJSON string `json:"fields_json"`
	SourceFile string `json:"source_file"`
	RawLog     string `json:"raw_log"`
}

// ParsingError records one line that could not be parsed by any format.
type ParsingError struct {
	ID           int64  `json:"id"`
	Line         string `json:"line"`
	SourceFile   string `json:"source_file"`
	ErrorMessage string `json:"error_message"`
	Timestamp    string `json:"timestamp"`
}

// StackTrace is a multi-line trace attached to the LogEntry it followed.
type StackTrace struct {
	ID         int64  `json:"id"`
	LogID      int64  `json:"log_id"`
	StackTrace string `json:"stack_trace"`
}

// SourceFile records one ingested input file, keyed by path. The content
// hash makes re-runs idempotent: unchanged files are skipped.
type SourceFile struct {
	Path         string `json:"path"`
	ContentHash  string `json:"content_hash"`
	SizeBytes    int64  `json:"size_bytes"`
	Lines        int64  `json:"lines"`
	Entries      int64  `json:"entries"`
	JSONEntries  int64  `json:"json_entries"`
	Errors       int64  `json:"errors"`
	StackTraces  int64  `json:"stack_traces"`
	RunID        string `json:"run_id"`
	IngestedAtNs int64  `json:"ingested_at_ns"`
}

// IngestRun summarizes a single ingestion pass over a directory.
type IngestRun struct {
	ID            string `json:"id"`
	StartedAtNs   int64  `json:"started_at_ns"`
	FinishedAtNs  int64  `json:"finished_at_ns"`
	FilesSeen     int64  `json:"files_seen"`
	FilesIngested int64  `json:"files_ingested"`
	FilesSkipped  int64  `json:"files_skipped"`
	FilesFailed   int64  `json:"files_failed"`
	Lines         int64  `json:"lines"`
	Entries       int64  `json:"entries"`
	JSONEntries   int64  `json:"json_entries"`
	Errors        int64  `json:"errors"`
	StackTraces   int64  `json:"stack_traces"`
}
