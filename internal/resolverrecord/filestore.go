package resolverrecord

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"dynamic-graphql/internal/logging"
)

// DefaultWatchDebounce groups editor save bursts into one change event.
const DefaultWatchDebounce = 250 * time.Millisecond

type fileDocument struct {
	Resolvers []Record `yaml:"resolvers"`
}

// FileStore keeps records in a YAML document:
//
//	resolvers:
//	  - name: getUserById
//	    kind: QUERY
//	    sql: SELECT id, name FROM users WHERE id = #{userId}
//	    input_params: {userId: Int!}
//	    output_fields: {id: ID, name: String}
//	    enabled: true
//
// Writes replace the file atomically. A missing file reads as empty.
type FileStore struct {
	path     string
	debounce time.Duration
	now      func() time.Time
	logger   *logging.Logger

	mu sync.Mutex
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string, logger *logging.Logger) *FileStore {
	if logger == nil {
		logger = logging.Discard()
	}
	return &FileStore{
		path:     path,
		debounce: DefaultWatchDebounce,
		now:      time.Now,
		logger:   logger.WithComponent("resolver_store"),
	}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.read()
	if err != nil {
		return nil, err
	}
	sortByName(records)
	return records, nil
}

func (s *FileStore) Enabled(ctx context.Context) ([]Record, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return FilterEnabled(records), nil
}

func (s *FileStore) Get(ctx context.Context, name string) (Record, error) {
	records, err := s.List(ctx)
	if err != nil {
		return Record{}, err
	}
	for _, r := range records {
		if r.Name == name {
			return r, nil
		}
	}
	return Record{}, notFound(name)
}

// Put inserts or replaces the record with the same name.
func (s *FileStore) Put(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	record, err := prepareForPut(record)
	if err != nil {
		return err
	}
	record.UpdatedAt = s.now().UTC().Truncate(time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.read()
	if err != nil {
		return err
	}
	replaced := false
	for i := range records {
		if records[i].Name == record.Name {
			records[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, record)
	}
	return s.write(records)
}

func (s *FileStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.read()
	if err != nil {
		return err
	}
	kept := records[:0]
	for _, r := range records {
		if r.Name != name {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(records) {
		return notFound(name)
	}
	return s.write(kept)
}

func (s *FileStore) read() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read resolver file: %w", err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse resolver file %s: %w", s.path, err)
	}
	out := make([]Record, 0, len(doc.Resolvers))
	for _, r := range doc.Resolvers {
		out = append(out, r.Normalized())
	}
	return out, nil
}

func (s *FileStore) write(records []Record) error {
	sortByName(records)
	data, err := yaml.Marshal(fileDocument{Resolvers: records})
	if err != nil {
		return fmt.Errorf("encode resolver file: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("write resolver file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write resolver file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write resolver file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace resolver file: %w", err)
	}
	return nil
}

// Watch calls onChange after the backing file is written, created, renamed or
// removed. Events are debounced. The directory is watched so atomic replaces
// are seen. Watch blocks until ctx is done.
func (s *FileStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	target := filepath.Clean(s.path)
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			s.logger.Debug("resolver file changed", "path", s.path)
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("resolver file watch error", "error", err)
		}
	}
}
