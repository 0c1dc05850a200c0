// Package rule loads pattern rules from plain-text pattern lists and
// YAML rule files.
package rule

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/praetorian-inc/certwatch/pkg/types"
	"gopkg.in/yaml.v3"
)

// Loader reads pattern files from a filesystem.
type Loader struct {
	fs fs.FS // nil reads from the OS filesystem
}

// NewLoader creates a loader that reads from the OS filesystem.
func NewLoader() *Loader {
	return &Loader{}
}

// NewLoaderWithFS creates a loader with a custom filesystem.
func NewLoaderWithFS(fsys fs.FS) *Loader {
	return &Loader{
		fs: fsys,
	}
}

// LoadFile reads path and parses it by extension: .yml and .yaml are YAML
// rule files, anything else is a line-oriented pattern list.
func LoadFile(path string) ([]types.Pattern, error) {
	return NewLoader().LoadFile(path)
}

// LoadFile reads path and parses it by extension.
func (l *Loader) LoadFile(path string) ([]types.Pattern, error) {
	data, err := l.read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file %s: %w", path, err)
	}

	var patterns []types.Pattern
	if IsYAML(path) {
		patterns, err = ParseYAML(data)
	} else {
		patterns, err = ParseLines(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return patterns, nil
}

func (l *Loader) read(path string) ([]byte, error) {
	if l.fs == nil {
		return os.ReadFile(path)
	}
	return fs.ReadFile(l.fs, path)
}

// IsYAML reports whether path names a YAML rule file.
func IsYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return true
	}
	return false
}

// ParseLines parses one pattern per line. Empty lines are skipped and a
// trailing carriage return is dropped; all other whitespace is part of the
// pattern. IDs are "line.N" where N is the 1-based line number in data.
func ParseLines(data []byte) ([]types.Pattern, error) {
	var patterns []types.Pattern
	lineNo := 0
	for len(data) > 0 {
		lineNo++
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			data = nil
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) == 0 {
			continue
		}
		patterns = append(patterns, types.Pattern{
			Index:  len(patterns),
			ID:     types.LineID(lineNo),
			Source: string(line),
		})
	}
	if len(patterns) == 0 {
		return nil, ErrEmptyFile
	}
	return patterns, nil
}

// ParseYAML parses a rule file of the form:
//
//	rules:
//	  - id: phish.paypal
//	    name: PayPal lookalike
//	    pattern: paypal
//	    examples: [paypal-login.com]
//	    negative_examples: [paypal.com.]
func ParseYAML(data []byte) ([]types.Pattern, error) {
	var file yamlRulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, ErrEmptyFile
	}

	patterns := make([]types.Pattern, 0, len(file.Rules))
	seen := make(map[string]int, len(file.Rules))
	for i, yr := range file.Rules {
		p := convertYAMLRule(i, yr)
		if err := ValidatePattern(&p); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		if prev, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("rule %d: duplicate rule ID %s (first defined by rule %d)", i+1, p.ID, prev+1)
		}
		seen[p.ID] = i
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// convertYAMLRule converts yamlRule to types.Pattern.
func convertYAMLRule(index int, yr yamlRule) types.Pattern {
	id := yr.ID
	if id == "" {
		id = types.RuleID(index + 1)
	}
	return types.Pattern{
		Index:            index,
		ID:               id,
		Name:             yr.Name,
		Source:           strings.TrimSuffix(yr.Pattern, "\n"),
		Examples:         yr.Examples,
		NegativeExamples: yr.NegativeExamples,
	}
}
