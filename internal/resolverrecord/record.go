// Package resolverrecord defines the declarative resolver record and the
// stores that persist it.
package resolverrecord

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"dynamic-graphql/internal/backend"
	"dynamic-graphql/internal/sqlguard"
)

// Kind is the root operation a resolver is exposed under.
type Kind string

const (
	KindQuery    Kind = "QUERY"
	KindMutation Kind = "MUTATION"
)

// ParseKind trims and upper-cases name.
func ParseKind(name string) (Kind, error) {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(name))); k {
	case KindQuery, KindMutation:
		return k, nil
	}
	return "", fmt.Errorf("unknown resolver kind %q (expected QUERY or MUTATION)", name)
}

// Class is the statement class the kind may run.
func (k Kind) Class() sqlguard.Class {
	if k == KindMutation {
		return sqlguard.Write
	}
	return sqlguard.Read
}

// Cardinality overrides the name-suffix inference for query results.
type Cardinality string

const (
	CardinalityInferred Cardinality = ""
	CardinalitySingle   Cardinality = "single"
	CardinalityList     Cardinality = "list"
)

const (
	maxNameLength        = 100
	minSQLLength         = 10
	maxSQLLength         = 10000
	maxDescriptionLength = 1000
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name can be used as a field or argument name.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// Record describes one API field backed by parameterized SQL.
type Record struct {
	Name         string       `json:"name" yaml:"name"`
	Kind         Kind         `json:"kind" yaml:"kind"`
	Backend      backend.Kind `json:"backend,omitempty" yaml:"backend,omitempty"`
	SQL          string       `json:"sql" yaml:"sql"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
	InputParams  Decls        `json:"inputParams,omitempty" yaml:"input_params,omitempty"`
	OutputFields Decls        `json:"outputFields,omitempty" yaml:"output_fields,omitempty"`
	Cardinality  Cardinality  `json:"cardinality,omitempty" yaml:"cardinality,omitempty"`
	Enabled      bool         `json:"enabled" yaml:"enabled"`
	UpdatedAt    time.Time    `json:"updatedAt,omitzero" yaml:"updated_at,omitempty"`
}

// Normalized returns a copy with kind, backend and cardinality in canonical
// form. Unparseable values are left as-is for Validate to report.
func (r Record) Normalized() Record {
	r.Name = strings.TrimSpace(r.Name)
	if k, err := ParseKind(string(r.Kind)); err == nil {
		r.Kind = k
	}
	if b, err := backend.ParseKind(string(r.Backend)); err == nil {
		r.Backend = b
	}
	r.Cardinality = Cardinality(strings.ToLower(strings.TrimSpace(string(r.Cardinality))))
	return r
}

// ValidationError lists every problem found in a record.
type ValidationError struct {
	Name     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid resolver record %q: %s", e.Name, strings.Join(e.Problems, "; "))
}

// ErrInvalidRecord matches every *ValidationError.
var ErrInvalidRecord = errors.New("invalid resolver record")

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRecord
}

// Validate checks the record's shape: names, kind, backend, lengths and
// declarations. It does not inspect the SQL statement class; see ValidateSQL.
func (r Record) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch {
	case r.Name == "":
		add("name is required")
	case len(r.Name) > maxNameLength:
		add("name exceeds %d characters", maxNameLength)
	case !ValidIdentifier(r.Name):
		add("name %q must match %s", r.Name, identifierPattern.String())
	}

	if _, err := ParseKind(string(r.Kind)); err != nil {
		add("%v", err)
	}
	if _, err := backend.ParseKind(string(r.Backend)); err != nil {
		add("%v", err)
	}

	sqlLen := len(strings.TrimSpace(r.SQL))
	if sqlLen < minSQLLength || sqlLen > maxSQLLength {
		add("sql length must be between %d and %d characters", minSQLLength, maxSQLLength)
	}
	if len(r.Description) > maxDescriptionLength {
		add("description exceeds %d characters", maxDescriptionLength)
	}

	switch Cardinality(strings.ToLower(strings.TrimSpace(string(r.Cardinality)))) {
	case CardinalityInferred, CardinalitySingle, CardinalityList:
	default:
		add("cardinality %q must be empty, single or list", r.Cardinality)
	}

	problems = append(problems, declProblems("inputParams", r.InputParams)...)
	problems = append(problems, declProblems("outputFields", r.OutputFields)...)

	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Name: r.Name, Problems: problems}
}

// ValidateSQL runs the SQL guard for the record's kind.
func (r Record) ValidateSQL() error {
	kind, err := ParseKind(string(r.Kind))
	if err != nil {
		return err
	}
	return sqlguard.Validate(kind.Class(), r.SQL)
}

func declProblems(field string, decls Decls) []string {
	var problems []string
	seen := make(map[string]bool, len(decls))
	for _, decl := range decls {
		if !ValidIdentifier(decl.Name) {
			problems = append(problems, fmt.Sprintf("%s: %q is not a valid identifier", field, decl.Name))
			continue
		}
		if seen[decl.Name] {
			problems = append(problems, fmt.Sprintf("%s: %q declared more than once", field, decl.Name))
		}
		seen[decl.Name] = true
	}
	return problems
}

// FilterEnabled returns the enabled records, preserving order.
func FilterEnabled(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}
