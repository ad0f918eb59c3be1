package devstore

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Filter is a single equality predicate on one string field, which is the
// only filter shape the client contract produces.
type Filter struct {
	Field string
	Value string
}

var fieldNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ParseFilter parses the `field="value"` expression language. The value is
// double-quoted and may contain backslash-escaped quotes and backslashes.
// An empty expression means no filter.
func ParseFilter(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	eq := strings.IndexByte(expr, '=')
	if eq < 0 {
		return nil, fmt.Errorf("filter %q: missing '='", expr)
	}

	field := strings.TrimSpace(expr[:eq])
	if !fieldNamePattern.MatchString(field) {
		return nil, fmt.Errorf("filter %q: invalid field name", expr)
	}

	value, err := unquote(strings.TrimSpace(expr[eq+1:]))
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", expr, err)
	}

	return &Filter{Field: field, Value: value}, nil
}

func unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", errors.New("value must be double-quoted")
	}

	body := s[1 : len(s)-1]
	var b strings.Builder
	escaped := false
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case escaped:
			if c != '"' && c != '\\' {
				return "", fmt.Errorf("invalid escape \\%c", c)
			}
			b.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			return "", errors.New("unescaped quote in value")
		default:
			b.WriteByte(c)
		}
	}
	if escaped {
		return "", errors.New("trailing backslash in value")
	}
	return b.String(), nil
}

// Matches reports whether a record satisfies the filter. Only string fields
// can match; a missing or non-string field never does.
func (f *Filter) Matches(record map[string]any) bool {
	got, ok := record[f.Field].(string)
	return ok && got == f.Value
}
