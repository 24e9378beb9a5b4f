package synth

import (
	"errors"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

const (
	generatedSourceName = "resolvers.graphql"
	fragmentSourceName  = "fragment.graphql"
)

// FragmentProblem locates the first error gqlparser reports for a fragment.
type FragmentProblem struct {
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ValidateFragment loads a hand-written SDL fragment next to the SDL of base,
// so the fragment may reference or extend synthesized types. With a nil base
// the fragment is checked on its own. It returns nil when the fragment is valid.
func ValidateFragment(base *Compiled, fragment string) *FragmentProblem {
	if strings.TrimSpace(fragment) == "" {
		return &FragmentProblem{Message: "schema fragment is empty"}
	}

	sources := make([]*ast.Source, 0, 2)
	if base != nil && base.SDL != "" {
		sources = append(sources, &ast.Source{Name: generatedSourceName, Input: base.SDL})
	}
	sources = append(sources, &ast.Source{Name: fragmentSourceName, Input: fragment})

	_, err := gqlparser.LoadSchema(sources...)
	if err == nil {
		return nil
	}

	problem := &FragmentProblem{Message: err.Error()}
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		problem.Message = gqlErr.Message
		if file, ok := gqlErr.Extensions["file"].(string); ok {
			problem.Source = file
		}
		if len(gqlErr.Locations) > 0 {
			problem.Line = gqlErr.Locations[0].Line
			problem.Column = gqlErr.Locations[0].Column
		}
	}
	return problem
}
