package dbexec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Row is one result row keyed by column label. Column order is preserved.
type Row struct {
	columns []string
	values  map[string]any
}

// NewRow builds a row from parallel column and value slices. A repeated
// column label keeps its first position and its last value.
func NewRow(columns []string, values []any) Row {
	row := Row{
		columns: make([]string, 0, len(columns)),
		values:  make(map[string]any, len(columns)),
	}
	for i, col := range columns {
		if _, seen := row.values[col]; !seen {
			row.columns = append(row.columns, col)
		}
		var v any
		if i < len(values) {
			v = values[i]
		}
		row.values[col] = v
	}
	return row
}

// Columns returns column labels in result order.
func (r Row) Columns() []string {
	return append([]string(nil), r.columns...)
}

// Get returns the value of a column.
func (r Row) Get(column string) (any, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Len returns the number of distinct columns.
func (r Row) Len() int {
	return len(r.columns)
}

// Map returns a copy of the row as a plain map.
func (r Row) Map() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the row as an object whose keys follow column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[col])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// collectRows drains rows into Row values. Driver byte slices are converted
// to strings because they alias driver-owned buffers.
func collectRows(rows Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := make([]Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result = append(result, NewRow(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
