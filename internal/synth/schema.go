package synth

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/graphql-go/graphql"

	"dynamic-graphql/internal/dbexec"
	"dynamic-graphql/internal/resolverrecord"
	"dynamic-graphql/internal/sqltype"
)

// buildSchema assembles the executable graphql-go schema. It mirrors
// renderSDL type for type.
func buildSchema(queries, mutations []plannedField, bindings map[string]*Binding) (*graphql.Schema, error) {
	queryFields := graphql.Fields{
		"ping": &graphql.Field{
			Type:        graphql.NewNonNull(graphql.String),
			Description: "Liveness check. Always returns pong.",
			Resolve:     func(graphql.ResolveParams) (any, error) { return "pong", nil },
		},
		"health": &graphql.Field{
			Type:        graphql.NewNonNull(graphql.String),
			Description: "Service health. Always returns OK.",
			Resolve:     func(graphql.ResolveParams) (any, error) { return "OK", nil },
		},
	}
	for _, pf := range queries {
		rowType := graphql.NewObject(graphql.ObjectConfig{
			Name:   pf.typeName,
			Fields: rowFields(pf.record),
		})
		var fieldType graphql.Output = graphql.NewList(rowType)
		if pf.single {
			fieldType = rowType
		}
		queryFields[pf.record.Name] = rootField(pf, fieldType, bindings[pf.record.Name])
	}

	cfg := graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{Name: queryTypeName, Fields: queryFields}),
	}

	if len(mutations) > 0 {
		mutationFields := graphql.Fields{}
		for _, pf := range mutations {
			resultType := graphql.NewObject(graphql.ObjectConfig{
				Name:   pf.typeName,
				Fields: writeResultFields(),
			})
			mutationFields[pf.record.Name] = rootField(pf, graphql.NewNonNull(resultType), bindings[pf.record.Name])
		}
		cfg.Mutation = graphql.NewObject(graphql.ObjectConfig{Name: mutationTypeName, Fields: mutationFields})
	}

	schema, err := graphql.NewSchema(cfg)
	if err != nil {
		return nil, fmt.Errorf("build executable schema: %w", err)
	}
	return &schema, nil
}

func rootField(pf plannedField, fieldType graphql.Output, binding *Binding) *graphql.Field {
	args := graphql.FieldConfigArgument{}
	for _, decl := range pf.record.InputParams {
		var argType graphql.Input = sqltype.Normalize(decl.Type).GraphQL()
		if decl.Required {
			argType = graphql.NewNonNull(argType)
		}
		args[decl.Name] = &graphql.ArgumentConfig{Type: argType}
	}
	return &graphql.Field{
		Type:        fieldType,
		Args:        args,
		Description: pf.record.Description,
		Resolve: func(p graphql.ResolveParams) (any, error) {
			result, err := binding.Execute(p.Context, p.Args)
			if err != nil {
				return nil, err
			}
			if result == nil {
				return nil, nil
			}
			return result, nil
		},
	}
}

func rowFields(r resolverrecord.Record) graphql.Fields {
	fields := graphql.Fields{}
	if len(r.OutputFields) == 0 {
		fields[fallbackField] = &graphql.Field{
			Type:    graphql.String,
			Resolve: fallbackValue,
		}
		return fields
	}
	for _, decl := range r.OutputFields {
		fields[decl.Name] = &graphql.Field{
			Type:    sqltype.Normalize(decl.Type).GraphQL(),
			Resolve: columnValue(decl.Name),
		}
	}
	return fields
}

func writeResultFields() graphql.Fields {
	return graphql.Fields{
		"success": &graphql.Field{
			Type: graphql.NewNonNull(graphql.Boolean),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				res, _ := p.Source.(WriteResult)
				return res.Success, nil
			},
		},
		"affectedCount": &graphql.Field{
			Type: graphql.NewNonNull(graphql.Int),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				res, _ := p.Source.(WriteResult)
				return res.AffectedCount, nil
			},
		},
	}
}

// columnValue reads a field from the row by label. Engines that upper-case
// unquoted labels are matched case-insensitively.
func columnValue(name string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		row, ok := p.Source.(dbexec.Row)
		if !ok {
			return nil, nil
		}
		return lookupColumn(row, name), nil
	}
}

func lookupColumn(row dbexec.Row, name string) any {
	if v, ok := row.Get(name); ok {
		return v
	}
	for _, col := range row.Columns() {
		if strings.EqualFold(col, name) {
			v, _ := row.Get(col)
			return v
		}
	}
	return nil
}

// fallbackValue renders an undeclared row as text: the lone column's value,
// or the row as a JSON object.
func fallbackValue(p graphql.ResolveParams) (any, error) {
	row, ok := p.Source.(dbexec.Row)
	if !ok {
		return nil, nil
	}
	if row.Len() == 1 {
		v, _ := row.Get(row.Columns()[0])
		if v == nil {
			return nil, nil
		}
		return fmt.Sprint(v), nil
	}
	b, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
