// Package parse converts raw log lines into structured records. A line is
// matched against the built-in structured formats, then the JSON format,
// then any user-supplied rules; first success wins.
package parse

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/logsift/logsift/internal/model"
)

var (
	// Primary format: 2025-03-06 00:00:00,024 [UserServer-2] INFO  c.d.s.r.user.EnterpriseUserRPCServer - message
	// Millisecond part is optional.
	structuredPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(?:,\d{3})?) \[([^\]]+)\] (\w+)\s+([^\s-]+) - (.+)$`)

	// Fallback without a module segment.
	altPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(?:,\d{3})?) \[([^\]]+)\] (\w+)\s+(.+)$`)

	// Start of a Java stack trace.
	stackTraceStartPattern = regexp.MustCompile(`^(java\.[\w.]+(?:Exception|Error)|Caused by:|at [\w.$/]+\()`)
)

// Parser matches raw lines against the known log formats.
type Parser struct {
	rules []Rule
}

// New creates a Parser with only the built-in formats.
func New() *Parser {
	return &Parser{}
}

// NewWithRules creates a Parser that also tries the given custom rules,
// in order, after the built-in formats.
func NewWithRules(rules []Rule) *Parser {
	return &Parser{rules: rules}
}

// ParseEntry attempts the structured formats and custom rules.
// Returns false when no format matched.
func (p *Parser) ParseEntry(line, sourceFile string) (model.LogEntry, bool) {
	if m := structuredPattern.FindStringSubmatch(line); m != nil {
		return model.LogEntry{
			Timestamp:  NormalizeTimestamp(m[1]),
			Thread:     m[2],
			Level:      NormalizeLevel(m[3]),
			Module:     m[4],
			Message:    m[5],
			SourceFile: sourceFile,
			RawLog:     line,
		}, true
	}

	if m := altPattern.FindStringSubmatch(line); m != nil {
		// No module segment in this format.
		return model.LogEntry{
			Timestamp:  NormalizeTimestamp(m[1]),
			Thread:     m[2],
			Level:      NormalizeLevel(m[3]),
			Message:    m[4],
			SourceFile: sourceFile,
			RawLog:     line,
		}, true
	}

	for i := range p.rules {
		if entry, ok := p.rules[i].apply(line, sourceFile); ok {
			return entry, true
		}
	}

	return model.LogEntry{}, false
}

// ParseJSON attempts to interpret the line as a single JSON object log.
// Recognizes level/severity, message/msg and timestamp/time/ts keys; all
// remaining keys are preserved in FieldsJSON.
func (p *Parser) ParseJSON(line, sourceFile string) (model.JSONLogEntry, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return model.JSONLogEntry{}, false
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &data); err != nil {
		return model.JSONLogEntry{}, false
	}

	entry := model.JSONLogEntry{
		SourceFile: sourceFile,
		RawLog:     line,
	}

	if v, ok := strField(data, "level", "severity"); ok {
		entry.Level = NormalizeLevel(v)
	}
	if v, ok := strField(data, "message", "msg"); ok {
		entry.Message = v
	}
	if v, ok := strField(data, "timestamp", "time", "ts"); ok {
		entry.Timestamp = normalizeJSONTimestamp(v)
	}

	skip := map[string]bool{
		"level": true, "severity": true,
		"message": true, "msg": true,
		"timestamp": true, "time": true, "ts": true,
	}
	rest := make(map[string]interface{}, len(data))
	for k, v := range data {
		if !skip[k] {
			rest[k] = v
		}
	}
	if len(rest) > 0 {
		// json.Marshal sorts map keys, so FieldsJSON is deterministic.
		if b, err := json.Marshal(rest); err == nil {
			entry.FieldsJSON = string(b)
		}
	}

	return entry, true
}

// IsStackTraceLine reports whether the line looks like part of a Java
// stack trace.
func IsStackTraceLine(line string) bool {
	if stackTraceStartPattern.MatchString(line) {
		return true
	}
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "at ") || strings.Contains(line, "Exception")
}

// NormalizeTimestamp converts a captured timestamp to the canonical form:
// comma millisecond separators become dots, seconds-precision inputs are
// kept as-is.
func NormalizeTimestamp(ts string) string {
	return strings.Replace(ts, ",", ".", 1)
}

// NormalizeLevel uppercases the level and maps WARNING to WARN. Levels
// outside the known set pass through unchanged apart from case.
func NormalizeLevel(level string) string {
	up := strings.ToUpper(strings.TrimSpace(level))
	if up == "WARNING" {
		return model.LevelWarn
	}
	return up
}

// normalizeJSONTimestamp converts an RFC3339 timestamp to the canonical
// "2006-01-02 15:04:05.000" form. Unrecognized values are preserved.
func normalizeJSONTimestamp(v string) string {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.Format("2006-01-02 15:04:05.000")
	}
	return v
}

func strField(data map[string]interface{}, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := data[k]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}
