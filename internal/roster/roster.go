// Package roster turns raw user input into participants.
//
// Typed input is one name per line. Uploaded files may also separate names
// with commas, and each name may be wrapped in a single pair of quotes.
// Every name is trimmed and blank entries are dropped.
package roster

import (
	"os"
	"strings"

	"github.com/google/uuid"

	"huddle/internal/domain"
)

// ParseText splits newline separated input into trimmed, non-empty names.
func ParseText(text string) []string {
	var names []string
	for _, line := range strings.Split(text, "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}

// ParseFile splits file content on newlines and commas.
func ParseFile(content string) []string {
	fields := strings.FieldsFunc(content, func(r rune) bool {
		return r == '\n' || r == ','
	})
	var names []string
	for _, f := range fields {
		name := unquote(strings.TrimSpace(f))
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}

func unquote(s string) string {
	if s != "" && (s[0] == '"' || s[0] == '\'') {
		s = s[1:]
	}
	if s != "" && (s[len(s)-1] == '"' || s[len(s)-1] == '\'') {
		s = s[:len(s)-1]
	}
	return strings.TrimSpace(s)
}

// ReadFile loads names from a roster file on disk.
func ReadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFile(string(data)), nil
}

// Participants assigns a fresh id to every name. Repeated names get distinct ids.
func Participants(names []string) []domain.Participant {
	out := make([]domain.Participant, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, domain.Participant{ID: uuid.NewString(), Name: name})
	}
	return out
}

// Names returns the participant names in order.
func Names(ps []domain.Participant) []string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
	}
	return names
}

// Duplicates lists every name that occurs more than once, in order of its
// second occurrence.
func Duplicates(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	reported := make(map[string]struct{})
	var dups []string
	for _, name := range names {
		if _, ok := seen[name]; ok {
			if _, done := reported[name]; !done {
				reported[name] = struct{}{}
				dups = append(dups, name)
			}
			continue
		}
		seen[name] = struct{}{}
	}
	return dups
}

// Dedupe keeps the first occurrence of every name.
func Dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// SampleNames is a demo roster.
func SampleNames() []string {
	return []string{
		"王小明", "李美玲", "張大為", "陳婉婷", "林志豪",
		"黃雅琴", "郭家誠", "徐若瑄", "周杰倫", "蔡依林",
		"葉問", "梁朝偉", "劉德華", "張曼玉", "林青霞",
		"金城武", "舒淇", "彭于晏", "桂綸鎂", "鳳小岳",
	}
}
