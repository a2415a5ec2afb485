package util

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// RenderTemplate renders a prompt template against data. Text without
// template markers is returned unchanged.
func RenderTemplate(text string, data any) (string, error) {
	if !strings.Contains(text, "{{") { // fast path: no template markers
		return text, nil
	}

	tmpl, err := template.New("prompt").Funcs(template.FuncMap{
		"default": func(defaultVal any, val any) any {
			if val == nil || val == "" {
				return defaultVal
			}
			return val
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"join": func(sep string, items []string) string {
			return strings.Join(items, sep)
		},
		"bullets": func(items []string) string {
			var b strings.Builder
			for _, it := range items {
				fmt.Fprintf(&b, "- %s\n", it)
			}
			return strings.TrimRight(b.String(), "\n")
		},
	}).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// MustTemplate renders a constant template and panics on failure. Use only
// for templates compiled into the binary.
func MustTemplate(text string, data any) string {
	out, err := RenderTemplate(text, data)
	if err != nil {
		panic(fmt.Sprintf("util: render template: %v", err))
	}
	return out
}
