package resolverrecord

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"dynamic-graphql/internal/backend"
	"dynamic-graphql/internal/dbexec"
)

// DefaultTable is the table SQLStore reads when none is configured.
const DefaultTable = "resolver_config"

var recordColumns = []string{
	"resolver_name",
	"operation_type",
	"data_source",
	"sql_query",
	"description",
	"input_parameters",
	"output_fields",
	"cardinality",
	"enabled",
	"updated_at",
}

// SQLStore keeps records in a relational table. Declarations are stored as
// JSON text. MySQL DSNs need parseTime=true for updated_at.
type SQLStore struct {
	exec    dbexec.QueryExecutor
	table   string
	builder sq.StatementBuilderType
	now     func() time.Time
}

// NewSQLStore creates a store over exec. placeholder must match the driver
// behind exec; nil means "?".
func NewSQLStore(exec dbexec.QueryExecutor, table string, placeholder sq.PlaceholderFormat) *SQLStore {
	if table == "" {
		table = DefaultTable
	}
	if placeholder == nil {
		placeholder = sq.Question
	}
	return &SQLStore{
		exec:    exec,
		table:   table,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
		now:     time.Now,
	}
}

func (s *SQLStore) List(ctx context.Context) ([]Record, error) {
	return s.query(ctx, nil)
}

func (s *SQLStore) Enabled(ctx context.Context) ([]Record, error) {
	return s.query(ctx, sq.Eq{"enabled": true})
}

func (s *SQLStore) Get(ctx context.Context, name string) (Record, error) {
	records, err := s.query(ctx, sq.Eq{"resolver_name": name})
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, notFound(name)
	}
	return records[0], nil
}

// Put updates the row with the record's name, inserting it when none exists.
func (s *SQLStore) Put(ctx context.Context, record Record) error {
	record, err := prepareForPut(record)
	if err != nil {
		return err
	}
	now := s.now().UTC().Truncate(time.Second)

	query, args, err := s.builder.Update(s.table).
		SetMap(map[string]any{
			"operation_type":   string(record.Kind),
			"data_source":      string(record.Backend),
			"sql_query":        record.SQL,
			"description":      record.Description,
			"input_parameters": record.InputParams.String(),
			"output_fields":    record.OutputFields.String(),
			"cardinality":      string(record.Cardinality),
			"enabled":          record.Enabled,
			"updated_at":       now,
		}).
		Where(sq.Eq{"resolver_name": record.Name}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	res, err := s.exec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update resolver %s: %w", record.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	query, args, err = s.builder.Insert(s.table).
		Columns(append([]string{}, recordColumns...)...).
		Values(
			record.Name,
			string(record.Kind),
			string(record.Backend),
			record.SQL,
			record.Description,
			record.InputParams.String(),
			record.OutputFields.String(),
			string(record.Cardinality),
			record.Enabled,
			now,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.exec.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert resolver %s: %w", record.Name, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, name string) error {
	query, args, err := s.builder.Delete(s.table).
		Where(sq.Eq{"resolver_name": name}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	res, err := s.exec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete resolver %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(name)
	}
	return nil
}

func (s *SQLStore) query(ctx context.Context, where sq.Sqlizer) ([]Record, error) {
	builder := s.builder.Select(recordColumns...).From(s.table).OrderBy("resolver_name")
	if where != nil {
		builder = builder.Where(where)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query resolvers: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query resolvers: %w", err)
	}
	return records, nil
}

func scanRecord(rows dbexec.Rows) (Record, error) {
	var (
		name, kind, sqlText                        string
		source, desc, inputs, outputs, cardinality sql.NullString
		enabled                                    bool
		updatedAt                                  sql.NullTime
	)
	if err := rows.Scan(&name, &kind, &source, &sqlText, &desc, &inputs, &outputs, &cardinality, &enabled, &updatedAt); err != nil {
		return Record{}, fmt.Errorf("scan resolver: %w", err)
	}

	in, err := ParseDecls(inputs.String)
	if err != nil {
		return Record{}, fmt.Errorf("resolver %s input_parameters: %w", name, err)
	}
	out, err := ParseDecls(outputs.String)
	if err != nil {
		return Record{}, fmt.Errorf("resolver %s output_fields: %w", name, err)
	}

	record := Record{
		Name:         name,
		Kind:         Kind(kind),
		Backend:      backend.Kind(source.String),
		SQL:          sqlText,
		Description:  desc.String,
		InputParams:  in,
		OutputFields: out,
		Cardinality:  Cardinality(cardinality.String),
		Enabled:      enabled,
	}
	if updatedAt.Valid {
		record.UpdatedAt = updatedAt.Time
	}
	return record.Normalized(), nil
}
