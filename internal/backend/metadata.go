package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// ErrTableNotFound is returned when a table has no columns visible to the
// pool's user.
var ErrTableNotFound = errors.New("table not found")

// ErrUnknownVariant is returned by ParseVariant for names other than main
// and sandbox.
var ErrUnknownVariant = errors.New("unknown backend variant")

// TableColumn is one column of a backend table as the catalog reports it.
type TableColumn struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Length   *int64 `json:"length,omitempty"`
}

// ParseVariant accepts main or sandbox, case-insensitively. Empty means main.
func ParseVariant(name string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(name))); v {
	case "":
		return Main, nil
	case Main, Sandbox:
		return v, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownVariant, name)
	}
}

// Tables lists the tables of the current database (schema for DM8) on one pool.
func (r *Registry) Tables(ctx context.Context, kind Kind, variant Variant) ([]string, error) {
	handle, err := r.Resolve(ctx, kind, variant)
	if err != nil {
		return nil, err
	}
	query, args, err := tablesQuery(handle.Kind).PlaceholderFormat(handle.Placeholder).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := handle.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s %s tables: %w", handle.Kind, handle.Variant, err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// DescribeTable returns the columns of table in catalog order. The name is
// bound as a parameter, never spliced into the statement.
func (r *Registry) DescribeTable(ctx context.Context, kind Kind, variant Variant, table string) ([]TableColumn, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, fmt.Errorf("%w: empty table name", ErrTableNotFound)
	}
	handle, err := r.Resolve(ctx, kind, variant)
	if err != nil {
		return nil, err
	}
	query, args, err := columnsQuery(handle.Kind, table).PlaceholderFormat(handle.Placeholder).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := handle.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("describe %s %s table %s: %w", handle.Kind, handle.Variant, table, err)
	}
	defer rows.Close()

	var columns []TableColumn
	for rows.Next() {
		var (
			name, dataType, nullable sql.NullString
			length                   sql.NullInt64
		)
		if err := rows.Scan(&name, &dataType, &nullable, &length); err != nil {
			return nil, err
		}
		col := TableColumn{
			Name:     name.String,
			Type:     dataType.String,
			Nullable: strings.HasPrefix(strings.ToUpper(nullable.String), "Y"),
		}
		if length.Valid {
			n := length.Int64
			col.Length = &n
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return columns, nil
}

func tablesQuery(kind Kind) sq.SelectBuilder {
	switch kind {
	case PostgreSQL:
		return sq.Select("tablename").
			From("pg_tables").
			Where(sq.NotEq{"schemaname": []string{"pg_catalog", "information_schema"}}).
			OrderBy("tablename")
	case DM8:
		return sq.Select("TABLE_NAME").
			From("ALL_TABLES").
			Where("OWNER = SYS_CONTEXT('USERENV','CURRENT_SCHEMA')").
			OrderBy("TABLE_NAME")
	default:
		return sq.Select("table_name").
			From("information_schema.tables").
			Where("table_schema = DATABASE()").
			Where(sq.Eq{"table_type": "BASE TABLE"}).
			OrderBy("table_name")
	}
}

// columnsQuery selects name, type, nullability and length, in that order.
// DM8 stores unquoted identifiers upper-cased.
func columnsQuery(kind Kind, table string) sq.SelectBuilder {
	switch kind {
	case PostgreSQL:
		return sq.Select("column_name", "data_type", "is_nullable", "character_maximum_length").
			From("information_schema.columns").
			Where("table_schema = current_schema()").
			Where(sq.Eq{"table_name": table}).
			OrderBy("ordinal_position")
	case DM8:
		return sq.Select("COLUMN_NAME", "DATA_TYPE", "NULLABLE", "DATA_LENGTH").
			From("ALL_TAB_COLUMNS").
			Where("OWNER = SYS_CONTEXT('USERENV','CURRENT_SCHEMA')").
			Where(sq.Eq{"TABLE_NAME": strings.ToUpper(table)}).
			OrderBy("COLUMN_ID")
	default:
		return sq.Select("column_name", "data_type", "is_nullable", "character_maximum_length").
			From("information_schema.columns").
			Where("table_schema = DATABASE()").
			Where(sq.Eq{"table_name": table}).
			OrderBy("ordinal_position")
	}
}
