package parse

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func TestLoadRules(t *testing.T) {
	path := writeRules(t, `rules:
  - name: syslog-ish
    pattern: '^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}) (\w+) (\S+): (.+)$'
    timestamp: 1
    level: 2
    module: 3
    message: 4
`)
	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(rules))
	}

	p := NewWithRules(rules)
	entry, ok := p.ParseEntry("2025-03-06T10:00:00 warning auth: token expired", "a.gz")
	if !ok {
		t.Fatalf("expected custom rule to match")
	}
	if entry.Level != "WARN" {
		t.Errorf("level = %q", entry.Level)
	}
	if entry.Module != "auth" {
		t.Errorf("module = %q", entry.Module)
	}
	if entry.Message != "token expired" {
		t.Errorf("message = %q", entry.Message)
	}
}

func TestLoadRulesBuiltinsStillWin(t *testing.T) {
	path := writeRules(t, `rules:
  - name: catch-all
    pattern: '^(.+)$'
    message: 1
`)
	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	p := NewWithRules(rules)
	entry, ok := p.ParseEntry("2025-03-05 10:00:00 [main] INFO ModuleX - started", "a.gz")
	if !ok {
		t.Fatal("expected built-in format to match")
	}
	if entry.Module != "ModuleX" {
		t.Errorf("built-in format should win over custom rules, got %+v", entry)
	}
}

func TestLoadRulesErrors(t *testing.T) {
	cases := map[string]string{
		"missing name": `rules:
  - pattern: '^(.+)$'
    message: 1
`,
		"invalid pattern": `rules:
  - name: broken
    pattern: '^(['
    message: 1
`,
		"missing message group": `rules:
  - name: no-message
    pattern: '^(.+)$'
`,
		"group out of range": `rules:
  - name: overshoot
    pattern: '^(.+)$'
    message: 3
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeRules(t, content)
			if _, err := LoadRules(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadRulesMissingFile(t *testing.T) {
	if _, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
