package resolverrecord

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound is returned when no record has the requested name.
var ErrNotFound = errors.New("resolver record not found")

// Store persists resolver records. Implementations must return a consistent
// snapshot from List and Enabled.
type Store interface {
	List(ctx context.Context) ([]Record, error)
	Enabled(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, name string) (Record, error)
	Put(ctx context.Context, record Record) error
	Delete(ctx context.Context, name string) error
}

func notFound(name string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, name)
}

// prepareForPut normalizes and validates a record before it is persisted.
func prepareForPut(record Record) (Record, error) {
	record = record.Normalized()
	if err := record.Validate(); err != nil {
		return Record{}, err
	}
	return record, nil
}

func sortByName(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})
}
