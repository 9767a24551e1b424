package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// DefaultDir is the default state directory name (spec.md §6).
const DefaultDir = ".shipper"

const (
	stateFileName   = "state.json"
	receiptFileName = "receipt.json"
	eventsFileName  = "events.jsonl"
	lockFileName    = "lock"
)

// Store owns every file under Dir. Grounded directly on the teacher's
// internal/storage.FileStorage: a single mutex around all writes, atomic
// rename for whole-file writes, append-with-fsync for the line-delimited
// log (internal/storage/file.go's atomicWrite/appendJSONL).
type Store struct {
	Dir string

	mu sync.Mutex
}

// New constructs a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", dir, err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) statePath() string   { return filepath.Join(s.Dir, stateFileName) }
func (s *Store) receiptPath() string { return filepath.Join(s.Dir, receiptFileName) }
func (s *Store) eventsPath() string  { return filepath.Join(s.Dir, eventsFileName) }
func (s *Store) lockPath() string    { return filepath.Join(s.Dir, lockFileName) }

// SaveState atomically persists the full ExecutionState, after every
// transition and before the engine proceeds (spec.md §4.5, §4.7).
func (s *Store) SaveState(es *ExecutionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return atomicWrite(s.statePath(), func(w *os.File) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(es)
	})
}

// LoadState reads and validates state.json. A single parse-failure retry
// tolerates a concurrent writer mid-rename (spec.md §5 "readers tolerate
// concurrent writers by retrying on parse failure once").
func (s *Store) LoadState() (*ExecutionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	es, err := s.tryLoadState()
	if err != nil {
		es, err = s.tryLoadState()
	}
	if err != nil {
		return nil, err
	}
	if err := validateMajorVersion(es.SchemaVersion); err != nil {
		return nil, err
	}
	return es, nil
}

func (s *Store) tryLoadState() (*ExecutionState, error) {
	data, err := os.ReadFile(s.statePath())
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var es ExecutionState
	if err := json.Unmarshal(data, &es); err != nil {
		return nil, fmt.Errorf("%w: %v", errStateCorrupt, err)
	}
	return &es, nil
}

// StateExists reports whether a prior run's state.json is present (the
// signal that Resume, rather than a fresh run, applies).
func (s *Store) StateExists() bool {
	_, err := os.Stat(s.statePath())
	return err == nil
}

// AppendEvent appends one JSON line to events.jsonl, flushed immediately
// (spec.md §3 Event, §4.7).
func (s *Store) AppendEvent(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.eventsPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return f.Sync()
}

// EventLogPath returns the path recorded in the Receipt's event_log_path
// field.
func (s *Store) EventLogPath() string {
	return s.eventsPath()
}

// WriteReceipt atomically writes the terminal snapshot, unconditionally on
// engine exit (spec.md §7 "writes the receipt unconditionally").
func (s *Store) WriteReceipt(r Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return atomicWrite(s.receiptPath(), func(w *os.File) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	})
}

// ReadReceipt reads and schema-validates receipt.json.
func (s *Store) ReadReceipt() (*Receipt, error) {
	data, err := os.ReadFile(s.receiptPath())
	if err != nil {
		return nil, fmt.Errorf("read receipt: %w", err)
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", errStateCorrupt, err)
	}
	if err := validateMajorVersion(r.SchemaVersion); err != nil {
		return nil, err
	}
	return &r, nil
}

// atomicWrite serializes to a temp file in the same directory, fsyncs,
// and renames over the target (spec.md §4.7). Grounded directly on
// internal/storage/file.go's atomicWrite.
func atomicWrite(path string, writeFunc func(*os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := writeFunc(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to final: %w", err)
	}

	success = true
	return nil
}

// validateMajorVersion refuses an unknown major schema version
// (spec.md §4.7, §7 SchemaUnsupported).
func validateMajorVersion(version string) error {
	major := strings.SplitN(version, ".", 2)[0]
	n, err := strconv.Atoi(major)
	if err != nil {
		return fmt.Errorf("%w: malformed schema_version %q", errSchemaUnsupported, version)
	}
	currentMajor, _ := strconv.Atoi(strings.SplitN(SchemaVersion, ".", 2)[0])
	if n > currentMajor {
		return fmt.Errorf("%w: schema_version %q is newer than supported %q", errSchemaUnsupported, version, SchemaVersion)
	}
	return nil
}
