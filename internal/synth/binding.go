package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dynamic-graphql/internal/backend"
	"dynamic-graphql/internal/dbexec"
	"dynamic-graphql/internal/logging"
	"dynamic-graphql/internal/resolverrecord"
	"dynamic-graphql/internal/sqlbind"
	"dynamic-graphql/internal/sqlguard"
	"dynamic-graphql/internal/sqltype"
)

// Executor runs bound SQL. *dbexec.Executor satisfies it.
type Executor interface {
	ExecuteRead(ctx context.Context, sqlText string, args []any, kind backend.Kind) ([]dbexec.Row, error)
	ExecuteWrite(ctx context.Context, sqlText string, args []any, kind backend.Kind) (int64, error)
}

// Op tags a binding as a read or a write.
type Op int

const (
	OpRead Op = iota
	OpWrite
)

func (o Op) String() string {
	if o == OpWrite {
		return "write"
	}
	return "read"
}

// WriteResult is the payload of every mutation field.
type WriteResult struct {
	Success       bool  `json:"success"`
	AffectedCount int64 `json:"affectedCount"`
}

// Binding is the executable half of one root field.
type Binding struct {
	Field    string
	Op       Op
	Backend  backend.Kind
	Single   bool
	SQL      string
	Template sqlbind.Template
	Params   resolverrecord.Decls
	Outputs  resolverrecord.Decls

	exec Executor
}

func newBinding(record resolverrecord.Record, single bool, exec Executor) *Binding {
	op := OpRead
	if record.Kind == resolverrecord.KindMutation {
		op = OpWrite
	}
	return &Binding{
		Field:    record.Name,
		Op:       op,
		Backend:  record.Backend,
		Single:   single,
		SQL:      record.SQL,
		Template: sqlbind.Compile(record.SQL),
		Params:   record.InputParams,
		Outputs:  record.OutputFields,
		exec:     exec,
	}
}

func (b *Binding) class() sqlguard.Class {
	if b.Op == OpWrite {
		return sqlguard.Write
	}
	return sqlguard.Read
}

// Execute guards, binds and runs the statement. Reads return a dbexec.Row
// (or nil) for single fields and []dbexec.Row for list fields. Writes return
// WriteResult.
func (b *Binding) Execute(ctx context.Context, args map[string]any) (any, error) {
	ctx, span := startResolverSpan(ctx, "resolver."+b.Op.String(),
		attribute.String("graphql.field.name", b.Field),
		attribute.String("db.backend.kind", string(b.Backend)),
	)
	result, err := b.execute(ctx, args)
	finishResolverSpan(span, err)
	return result, err
}

func (b *Binding) execute(ctx context.Context, args map[string]any) (any, error) {
	if err := sqlguard.Validate(b.class(), b.SQL); err != nil {
		return nil, err
	}
	values := b.Template.Args(args)
	if missing := b.Template.Missing(args); len(missing) > 0 {
		logging.FromContext(ctx).WithResolver(b.Field).Debug("binding unset parameters as NULL",
			slog.Any("parameters", missing),
		)
	}

	if b.Op == OpWrite {
		affected, err := b.exec.ExecuteWrite(ctx, b.Template.SQL, values, b.Backend)
		if err != nil {
			return nil, err
		}
		return WriteResult{Success: affected > 0, AffectedCount: affected}, nil
	}

	rows, err := b.exec.ExecuteRead(ctx, b.Template.SQL, values, b.Backend)
	if err != nil {
		return nil, err
	}
	if b.Single {
		if len(rows) == 0 {
			return nil, nil
		}
		return rows[0], nil
	}
	return rows, nil
}

// coerceArgs converts loosely typed values, such as JSON numbers, to the
// declared scalar of each parameter and checks required parameters.
func (b *Binding) coerceArgs(args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, decl := range b.Params {
		v, ok := out[decl.Name]
		if !ok || v == nil {
			if decl.Required {
				return nil, fmt.Errorf("%w: argument %q of %s is required", ErrInvalidArgument, decl.Name, b.Field)
			}
			continue
		}
		coerced, err := coerceScalar(sqltype.Normalize(decl.Type), v)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %q of %s: %w", ErrInvalidArgument, decl.Name, b.Field, err)
		}
		out[decl.Name] = coerced
	}
	return out, nil
}

func coerceScalar(scalar sqltype.Scalar, v any) (any, error) {
	switch scalar {
	case sqltype.Int:
		return coerceInt(v)
	case sqltype.Float:
		return coerceFloat(v)
	case sqltype.Boolean:
		return coerceBool(v)
	case sqltype.ID:
		return coerceID(v), nil
	default:
		if n, ok := v.(json.Number); ok {
			return n.String(), nil
		}
		return v, nil
	}
}

// coerceInt keeps integer text exact. Only exponent or fractional forms go
// through float64, and those must be integral and in range.
func coerceInt(v any) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		return parseInteger(x.String())
	case string:
		return parseInteger(strings.TrimSpace(x))
	case float64:
		return integralFloat(x)
	case float32:
		return integralFloat(float64(x))
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%d is out of range for a 64-bit integer", x)
		}
		return int64(x), nil
	default:
		return 0, fmt.Errorf("%v (%T) is not an integer", v, v)
	}
}

func parseInteger(text string) (int64, error) {
	n, err := strconv.ParseInt(text, 10, 64)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("%s is out of range for a 64-bit integer", text)
	}
	f, ferr := strconv.ParseFloat(text, 64)
	if ferr != nil {
		return 0, fmt.Errorf("%q is not an integer", text)
	}
	return integralFloat(f)
}

func integralFloat(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%v is out of range for a 64-bit integer", f)
	}
	return int64(f), nil
}

func coerceFloat(v any) (float64, error) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", x.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", x)
		}
		return f, nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("%v (%T) is not a number", v, v)
	}
}

// coerceBool accepts JSON booleans and their string spellings. Numbers are
// rejected so the driver never sees a float where a boolean was declared.
func coerceBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, fmt.Errorf("%q is not a boolean", x)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%v (%T) is not a boolean", v, v)
	}
}

func coerceID(v any) any {
	switch x := v.(type) {
	case json.Number:
		return x.String()
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return strconv.FormatInt(int64(x), 10)
		}
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return v
}

func startResolverSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("dynamic-graphql/synth").Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func finishResolverSpan(span trace.Span, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("graphql.resolver.outcome", outcome))
	span.End()
}
