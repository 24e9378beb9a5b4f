// Package synth compiles resolver records into an executable GraphQL schema
// and the table of SQL bindings behind its root fields.
package synth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"dynamic-graphql/internal/logging"
	"dynamic-graphql/internal/resolverrecord"
)

const (
	resultSuffix     = "_Result"
	queryTypeName    = "Query"
	mutationTypeName = "Mutation"
	fallbackField    = "value"
)

var singleSuffixes = []string{"ById", "ByCode", "ByName"}

var builtinQueryFields = []string{"ping", "health"}

// ErrSynthesis matches every *SynthesisError.
var ErrSynthesis = errors.New("schema synthesis failed")

// ErrUnknownResolver is returned by Dispatch for fields with no binding.
var ErrUnknownResolver = errors.New("resolver not found or disabled")

// ErrInvalidArgument marks a Dispatch argument that is missing or cannot be
// coerced to its declared type.
var ErrInvalidArgument = errors.New("invalid argument")

// SynthesisError reports why a record set could not be compiled.
type SynthesisError struct {
	Resolver string
	Reason   string
	cause    error
}

func (e *SynthesisError) Error() string {
	if e.Resolver != "" {
		return fmt.Sprintf("schema synthesis failed: resolver %q: %s", e.Resolver, e.Reason)
	}
	return "schema synthesis failed: " + e.Reason
}

func (e *SynthesisError) Unwrap() error {
	return e.cause
}

func (e *SynthesisError) Is(target error) bool {
	return target == ErrSynthesis
}

// Options carries the collaborators bound into the compiled schema.
type Options struct {
	Executor Executor
	Logger   *logging.Logger
	Now      func() time.Time
}

// Compiled is an immutable schema together with its bindings. Every root
// resolver field has exactly one binding and every binding has a field.
type Compiled struct {
	Schema      *graphql.Schema
	SDL         string
	Bindings    map[string]*Binding
	Fingerprint string
	BuiltAt     time.Time
	Records     int
}

// Binding returns the binding for a root field.
func (c *Compiled) Binding(field string) (*Binding, bool) {
	b, ok := c.Bindings[field]
	return b, ok
}

// Fields lists the bound root fields in name order.
func (c *Compiled) Fields() []string {
	names := make([]string, 0, len(c.Bindings))
	for name := range c.Bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch executes a root field outside GraphQL. Arguments are coerced to
// the declared parameter types first.
func (c *Compiled) Dispatch(ctx context.Context, field string, args map[string]any) (any, error) {
	b, ok := c.Bindings[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResolver, field)
	}
	coerced, err := b.coerceArgs(args)
	if err != nil {
		return nil, err
	}
	return b.Execute(ctx, coerced)
}

// plannedField is one enabled record with its derived names.
type plannedField struct {
	record   resolverrecord.Record
	typeName string
	single   bool
}

// Synthesize builds a Compiled schema from records. Disabled records are
// skipped. The result depends only on the record set, not on input order.
func Synthesize(records []resolverrecord.Record, opts Options) (*Compiled, error) {
	if opts.Executor == nil {
		return nil, &SynthesisError{Reason: "no executor configured"}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	queries, mutations, err := plan(records, logger)
	if err != nil {
		return nil, err
	}

	sdl := renderSDL(queries, mutations)
	if _, gqlErr := gqlparser.LoadSchema(&ast.Source{Name: generatedSourceName, Input: sdl}); gqlErr != nil {
		return nil, &SynthesisError{Reason: fmt.Sprintf("generated SDL is invalid: %v", gqlErr), cause: gqlErr}
	}

	bindings := make(map[string]*Binding, len(queries)+len(mutations))
	for _, pf := range append(append([]plannedField{}, queries...), mutations...) {
		bindings[pf.record.Name] = newBinding(pf.record, pf.single, opts.Executor)
	}

	schema, err := buildSchema(queries, mutations, bindings)
	if err != nil {
		return nil, &SynthesisError{Reason: err.Error(), cause: err}
	}

	sum := sha256.Sum256([]byte(sdl))
	compiled := &Compiled{
		Schema:      schema,
		SDL:         sdl,
		Bindings:    bindings,
		Fingerprint: hex.EncodeToString(sum[:]),
		BuiltAt:     opts.Now(),
		Records:     len(bindings),
	}
	logger.Debug("schema synthesized",
		slog.Int("queries", len(queries)),
		slog.Int("mutations", len(mutations)),
		slog.String("fingerprint", compiled.Fingerprint[:12]),
	)
	return compiled, nil
}

// plan validates the enabled records and derives type names and cardinality.
func plan(records []resolverrecord.Record, logger *logging.Logger) (queries, mutations []plannedField, err error) {
	enabled := resolverrecord.FilterEnabled(records)
	sorted := make([]resolverrecord.Record, 0, len(enabled))
	for _, r := range enabled {
		sorted = append(sorted, r.Normalized())
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].Kind < sorted[j].Kind
	})

	typeOwners := map[string]string{queryTypeName: "", mutationTypeName: ""}
	queryFields := make(map[string]bool, len(builtinQueryFields))
	for _, name := range builtinQueryFields {
		queryFields[name] = true
	}
	mutationFields := map[string]bool{}

	for _, r := range sorted {
		if err := r.Validate(); err != nil {
			return nil, nil, &SynthesisError{Resolver: r.Name, Reason: err.Error(), cause: err}
		}
		if err := r.ValidateSQL(); err != nil {
			logger.Warn("resolver SQL will be rejected at execution",
				slog.String("resolver", r.Name),
				slog.String("error", err.Error()),
			)
		}

		pf := plannedField{record: r, typeName: r.Name + resultSuffix}
		if owner, taken := typeOwners[pf.typeName]; taken {
			reason := fmt.Sprintf("derived type name %s is already defined", pf.typeName)
			if owner != "" {
				reason = fmt.Sprintf("derived type name %s is already used by another %s resolver", pf.typeName, owner)
			}
			return nil, nil, &SynthesisError{Resolver: r.Name, Reason: reason}
		}
		typeOwners[pf.typeName] = string(r.Kind)

		switch r.Kind {
		case resolverrecord.KindMutation:
			if mutationFields[r.Name] {
				return nil, nil, &SynthesisError{Resolver: r.Name, Reason: "duplicate Mutation field"}
			}
			mutationFields[r.Name] = true
			mutations = append(mutations, pf)
		default:
			if queryFields[r.Name] {
				return nil, nil, &SynthesisError{Resolver: r.Name, Reason: "duplicate Query field"}
			}
			queryFields[r.Name] = true
			pf.single = singleResult(r)
			queries = append(queries, pf)
		}
	}
	return queries, mutations, nil
}

// singleResult reports whether a query resolves to one nullable object.
// An explicit cardinality wins over the name suffix convention.
func singleResult(r resolverrecord.Record) bool {
	switch r.Cardinality {
	case resolverrecord.CardinalitySingle:
		return true
	case resolverrecord.CardinalityList:
		return false
	}
	for _, suffix := range singleSuffixes {
		if strings.HasSuffix(r.Name, suffix) {
			return true
		}
	}
	return false
}

// outputDecls returns the declared row fields, or the single text fallback.
func outputDecls(r resolverrecord.Record) resolverrecord.Decls {
	if len(r.OutputFields) == 0 {
		return resolverrecord.Decls{{Name: fallbackField, Type: "String"}}
	}
	return r.OutputFields
}
