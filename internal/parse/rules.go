package parse

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/logsift/logsift/internal/model"
)

// Rule is a user-supplied named log format. Pattern is a regular expression;
// the field indices refer to its capture groups (1-based, 0 = absent).
//
//	rules:
//	  - name: syslog-ish
//	    pattern: '^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}) (\w+) (\S+): (.+)$'
//	    timestamp: 1
//	    level: 2
//	    module: 3
//	    message: 4
type Rule struct {
	Name      string `yaml:"name"`
	Pattern   string `yaml:"pattern"`
	Timestamp int    `yaml:"timestamp"`
	Thread    int    `yaml:"thread"`
	Level     int    `yaml:"level"`
	Module    int    `yaml:"module"`
	Message   int    `yaml:"message"`

	re *regexp.Regexp
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads and compiles a YAML rules file.
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	for i := range f.Rules {
		if err := f.Rules[i].compile(); err != nil {
			return nil, fmt.Errorf("rules %s: %w", path, err)
		}
	}
	return f.Rules, nil
}

func (r *Rule) compile() error {
	if r.Name == "" {
		return fmt.Errorf("rule without a name")
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %q: invalid pattern: %w", r.Name, err)
	}
	if r.Message <= 0 {
		return fmt.Errorf("rule %q: message group is required", r.Name)
	}
	for _, idx := range []int{r.Timestamp, r.Thread, r.Level, r.Module, r.Message} {
		if idx > re.NumSubexp() {
			return fmt.Errorf("rule %q: group %d exceeds %d capture groups", r.Name, idx, re.NumSubexp())
		}
	}
	r.re = re
	return nil
}

func (r *Rule) apply(line, sourceFile string) (model.LogEntry, bool) {
	m := r.re.FindStringSubmatch(line)
	if m == nil {
		return model.LogEntry{}, false
	}
	group := func(idx int) string {
		if idx <= 0 || idx >= len(m) {
			return ""
		}
		return m[idx]
	}
	return model.LogEntry{
		Timestamp:  NormalizeTimestamp(group(r.Timestamp)),
		Thread:     group(r.Thread),
		Level:      NormalizeLevel(group(r.Level)),
		Module:     group(r.Module),
		Message:    group(r.Message),
		SourceFile: sourceFile,
		RawLog:     line,
	}, true
}
