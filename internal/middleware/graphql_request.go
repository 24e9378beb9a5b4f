package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
)

// maxInspectedBody caps how much of a POST body is buffered for inspection.
// Larger bodies are passed through untouched and reported as unknown.
const maxInspectedBody = 1 << 20

const unknownOperation = "unknown"

// Operation describes the GraphQL operation carried by a request.
type Operation struct {
	Type       string
	Name       string
	RootFields []string
}

type operationKey struct{}

// OperationFromContext returns the operation stored by
// GraphQLOperationMiddleware.
func OperationFromContext(ctx context.Context) (Operation, bool) {
	op, ok := ctx.Value(operationKey{}).(Operation)
	return op, ok
}

// GraphQLOperationMiddleware parses the request once and stores its
// Operation in the context for the metrics and tracing wrappers.
func GraphQLOperationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := OperationFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}
			op := inspectOperation(r)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operationKey{}, op)))
		})
	}
}

func operationFor(r *http.Request) Operation {
	if op, ok := OperationFromContext(r.Context()); ok {
		return op
	}
	return inspectOperation(r)
}

func inspectOperation(r *http.Request) Operation {
	query, operationName := extractGraphQLRequest(r)
	op, err := parseOperation(query, operationName)
	if err != nil || op.Type == "" {
		return Operation{Type: unknownOperation, Name: operationName}
	}
	return op
}

type graphQLRequest struct {
	Query         string `json:"query"`
	OperationName string `json:"operationName"`
}

// extractGraphQLRequest reads the query text and operation name from a GET
// query string or a POST body, restoring the body for the next handler.
func extractGraphQLRequest(r *http.Request) (string, string) {
	switch r.Method {
	case http.MethodGet:
		return r.URL.Query().Get("query"), r.URL.Query().Get("operationName")
	case http.MethodPost:
	default:
		return "", ""
	}
	if r.Body == nil {
		return "", ""
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInspectedBody+1))
	if err != nil {
		return "", ""
	}
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(body), r.Body), r.Body}
	if len(body) > maxInspectedBody {
		return "", ""
	}

	if strings.Contains(r.Header.Get("Content-Type"), "application/graphql") {
		return string(body), ""
	}

	var payload graphQLRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	return payload.Query, payload.OperationName
}

// parseOperation finds the selected operation and lists its root fields.
// Top-level fragments are expanded; aliases report the underlying field.
func parseOperation(query, operationName string) (Operation, error) {
	if strings.TrimSpace(query) == "" {
		return Operation{}, nil
	}

	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{
			Body: []byte(query),
			Name: "graphql",
		}),
	})
	if err != nil {
		return Operation{}, err
	}

	fragments := make(map[string]*ast.FragmentDefinition)
	var target, first *ast.OperationDefinition
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.FragmentDefinition:
			fragments[d.Name.Value] = d
		case *ast.OperationDefinition:
			if first == nil {
				first = d
			}
			if operationName != "" && d.Name != nil && d.Name.Value == operationName {
				target = d
			}
		}
	}
	if target == nil && operationName == "" {
		target = first
	}
	if target == nil {
		return Operation{}, nil
	}

	op := Operation{Type: string(target.Operation), Name: operationName}
	if op.Name == "" && target.Name != nil {
		op.Name = target.Name.Value
	}
	seen := make(map[string]bool)
	collectRootFields(target.SelectionSet, fragments, map[string]bool{}, func(name string) {
		if !seen[name] {
			seen[name] = true
			op.RootFields = append(op.RootFields, name)
		}
	})
	return op, nil
}

func collectRootFields(set *ast.SelectionSet, fragments map[string]*ast.FragmentDefinition, inFlight map[string]bool, emit func(string)) {
	if set == nil {
		return
	}
	for _, selection := range set.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			if name := sel.Name.Value; !strings.HasPrefix(name, "__") {
				emit(name)
			}
		case *ast.InlineFragment:
			collectRootFields(sel.SelectionSet, fragments, inFlight, emit)
		case *ast.FragmentSpread:
			name := sel.Name.Value
			frag, ok := fragments[name]
			if !ok || inFlight[name] {
				continue
			}
			inFlight[name] = true
			collectRootFields(frag.SelectionSet, fragments, inFlight, emit)
			delete(inFlight, name)
		}
	}
}
