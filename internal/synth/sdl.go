package synth

import (
	"encoding/json"
	"strings"

	"dynamic-graphql/internal/resolverrecord"
	"dynamic-graphql/internal/sqltype"
)

// renderSDL prints the schema text served at /schema.graphql and validated
// with gqlparser. Root fields and object types follow record name order;
// row fields follow declaration order.
func renderSDL(queries, mutations []plannedField) string {
	var sb strings.Builder

	sb.WriteString("type " + queryTypeName + " {\n")
	sb.WriteString("  \"Liveness check. Always returns pong.\"\n")
	sb.WriteString("  ping: String!\n")
	sb.WriteString("  \"Service health. Always returns OK.\"\n")
	sb.WriteString("  health: String!\n")
	for _, pf := range queries {
		writeRootField(&sb, pf)
	}
	sb.WriteString("}\n")

	if len(mutations) > 0 {
		sb.WriteString("\ntype " + mutationTypeName + " {\n")
		for _, pf := range mutations {
			writeRootField(&sb, pf)
		}
		sb.WriteString("}\n")
	}

	for _, pf := range queries {
		sb.WriteString("\ntype " + pf.typeName + " {\n")
		for _, decl := range outputDecls(pf.record) {
			sb.WriteString("  " + decl.Name + ": " + sqltype.Normalize(decl.Type).String() + "\n")
		}
		sb.WriteString("}\n")
	}
	for _, pf := range mutations {
		sb.WriteString("\ntype " + pf.typeName + " {\n")
		sb.WriteString("  success: Boolean!\n")
		sb.WriteString("  affectedCount: Int!\n")
		sb.WriteString("}\n")
	}
	return sb.String()
}

func writeRootField(sb *strings.Builder, pf plannedField) {
	r := pf.record
	if r.Description != "" {
		sb.WriteString("  " + quoteDescription(r.Description) + "\n")
	}
	sb.WriteString("  " + r.Name)
	if len(r.InputParams) > 0 {
		sb.WriteString("(")
		for i, decl := range r.InputParams {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(decl.Name + ": " + argumentTypeSDL(decl))
		}
		sb.WriteString(")")
	}
	sb.WriteString(": " + resultTypeSDL(pf) + "\n")
}

func argumentTypeSDL(decl resolverrecord.Decl) string {
	name := sqltype.Normalize(decl.Type).String()
	if decl.Required {
		return name + "!"
	}
	return name
}

func resultTypeSDL(pf plannedField) string {
	switch {
	case pf.record.Kind == resolverrecord.KindMutation:
		return pf.typeName + "!"
	case pf.single:
		return pf.typeName
	default:
		return "[" + pf.typeName + "]"
	}
}

// quoteDescription renders a GraphQL string literal. JSON string escapes are
// a subset of GraphQL's.
func quoteDescription(text string) string {
	b, err := json.Marshal(text)
	if err != nil {
		return `""`
	}
	return string(b)
}
