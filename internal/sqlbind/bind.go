// Package sqlbind turns #{name} placeholders into positional markers and
// builds the matching argument list.
package sqlbind

import (
	"fmt"
	"regexp"

	sq "github.com/Masterminds/squirrel"
)

// Marker is the positional placeholder written into compiled SQL.
const Marker = "?"

var placeholderPattern = regexp.MustCompile(`#\{(\w+)\}`)

// Template is SQL text with every #{name} replaced by Marker. Names holds the
// placeholder names in left-to-right occurrence order, duplicates included.
type Template struct {
	SQL   string
	Names []string
}

// Compile rewrites sqlText into a Template. It never fails: text without
// placeholders compiles to itself with no names.
func Compile(sqlText string) Template {
	var names []string
	out := placeholderPattern.ReplaceAllStringFunc(sqlText, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		names = append(names, sub[1])
		return Marker
	})
	return Template{SQL: out, Names: names}
}

// Args returns one value per marker. A name referenced twice yields its value
// twice. A name missing from values binds nil.
func (t Template) Args(values map[string]any) []any {
	args := make([]any, len(t.Names))
	for i, name := range t.Names {
		args[i] = values[name]
	}
	return args
}

// Missing lists referenced names that values does not carry, once each.
func (t Template) Missing(values map[string]any) []string {
	var missing []string
	seen := make(map[string]bool, len(t.Names))
	for _, name := range t.Names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Bind compiles sqlText and binds values in one step.
func Bind(sqlText string, values map[string]any) (string, []any) {
	tmpl := Compile(sqlText)
	return tmpl.SQL, tmpl.Args(values)
}

// Rebind converts Marker placeholders into a driver's native style, e.g.
// sq.Dollar for lib/pq or sq.Colon for Oracle-protocol drivers. A nil format
// leaves the text unchanged.
func Rebind(compiled string, format sq.PlaceholderFormat) (string, error) {
	if format == nil || format == sq.Question {
		return compiled, nil
	}
	out, err := format.ReplacePlaceholders(compiled)
	if err != nil {
		return "", fmt.Errorf("failed to rebind placeholders: %w", err)
	}
	return out, nil
}
