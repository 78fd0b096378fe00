// Package transform turns raw command output into the published value.
package transform

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"
)

// TransformError reports a template that failed to render for one input.
// The caller keeps its previous value.
type TransformError struct {
	Err error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("failed to render value template: %v", e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// Transform renders raw output through an optional template. The zero value
// and a nil *Transform are the identity transform.
type Transform struct {
	source string
	tmpl   *template.Template
}

// data is what the template sees as its dot.
type data struct {
	Value string
}

// New parses text as a Go template. Empty text yields the identity transform.
func New(text string) (*Transform, error) {
	if text == "" {
		return &Transform{}, nil
	}

	tmpl, err := template.New("value_template").
		Option("missingkey=error").
		Funcs(funcs()).
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse value template: %w", err)
	}

	return &Transform{source: text, tmpl: tmpl}, nil
}

// Identity reports whether Apply returns its input unchanged.
func (t *Transform) Identity() bool {
	return t == nil || t.tmpl == nil
}

// String returns the template source.
func (t *Transform) String() string {
	if t == nil {
		return ""
	}
	return t.source
}

// Apply renders raw. Without a template raw is returned verbatim, trailing
// newline included.
func (t *Transform) Apply(raw string) (string, error) {
	if t.Identity() {
		return raw, nil
	}

	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data{Value: raw}); err != nil {
		return "", &TransformError{Err: err}
	}

	return buf.String(), nil
}

func funcs() template.FuncMap {
	return template.FuncMap{
		"trim":       strings.TrimSpace,
		"trimSuffix": func(suffix, s string) string { return strings.TrimSuffix(s, suffix) },
		"trimPrefix": func(prefix, s string) string { return strings.TrimPrefix(s, prefix) },
		"lower":      strings.ToLower,
		"upper":      strings.ToUpper,
		"replace":    func(old, replacement, s string) string { return strings.ReplaceAll(s, old, replacement) },
		"contains":   func(substr, s string) bool { return strings.Contains(s, substr) },
		"fields":     strings.Fields,
		"line": func(n int, s string) (string, error) {
			lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
			if n < 0 || n >= len(lines) {
				return "", fmt.Errorf("line %d out of range (%d lines)", n, len(lines))
			}
			return lines[n], nil
		},
		"default": func(def, val string) string {
			if strings.TrimSpace(val) == "" {
				return def
			}
			return val
		},
		"atoi": func(s string) (int, error) {
			return strconv.Atoi(strings.TrimSpace(s))
		},
		"float": func(s string) (float64, error) {
			return strconv.ParseFloat(strings.TrimSpace(s), 64)
		},
	}
}
