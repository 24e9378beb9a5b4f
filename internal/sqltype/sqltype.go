// Package sqltype maps declared resolver type names onto the five GraphQL scalars.
// The same table serves argument signatures and output fields so both sides of a
// resolver agree on what a declared type means.
package sqltype

import (
	"strings"

	"github.com/graphql-go/graphql"
)

// Scalar is one of the built-in GraphQL scalar kinds.
type Scalar int

const (
	// String is also the fallback for every unrecognized declaration.
	String Scalar = iota
	Int
	Float
	Boolean
	ID
)

var aliases = map[string]Scalar{
	"int": Int, "integer": Int, "long": Int, "short": Int, "byte": Int,
	"bigint": Int, "smallint": Int, "tinyint": Int, "mediumint": Int, "biginteger": Int,
	"serial": Int, "bigserial": Int, "smallserial": Int,
	"double": Float, "decimal": Float, "dec": Float, "number": Float, "numeric": Float,
	"real": Float, "money": Float, "bigdecimal": Float,
	"bool": Boolean, "boolean": Boolean,
	"id": ID,
	"string": String, "text": String, "varchar": String, "char": String,
}

// Normalize converts a declared type name to its scalar kind.
// Matching is case-insensitive and looks only at the base type: size
// specifiers like (10,2), modifiers like UNSIGNED or PRECISION, and a
// qualifying prefix like java.lang. are ignored. Sized integer spellings
// (int32, uint64) map to Int and float* maps to Float. Unknown names map to
// String so synthesis never fails on a type name.
func Normalize(declared string) Scalar {
	name := strings.ToLower(strings.TrimSpace(declared))
	if idx := strings.IndexAny(name, "( \t"); idx != -1 {
		name = name[:idx]
	}
	if idx := strings.LastIndex(name, "."); idx != -1 {
		name = name[idx+1:]
	}

	if scalar, ok := aliases[name]; ok {
		return scalar
	}
	switch {
	case sizedInteger(name, "int"), sizedInteger(name, "uint"):
		return Int
	case strings.HasPrefix(name, "float"):
		return Float
	}
	return String
}

// sizedInteger reports whether name is prefix followed by a bit width.
func sizedInteger(name, prefix string) bool {
	width, ok := strings.CutPrefix(name, prefix)
	if !ok || width == "" {
		return false
	}
	for _, r := range width {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String returns the SDL name of the scalar.
func (s Scalar) String() string {
	switch s {
	case Int:
		return "Int"
	case Float:
		return "Float"
	case Boolean:
		return "Boolean"
	case ID:
		return "ID"
	default:
		return "String"
	}
}

// GraphQL returns the graphql-go scalar for s.
func (s Scalar) GraphQL() *graphql.Scalar {
	switch s {
	case Int:
		return graphql.Int
	case Float:
		return graphql.Float
	case Boolean:
		return graphql.Boolean
	case ID:
		return graphql.ID
	default:
		return graphql.String
	}
}
