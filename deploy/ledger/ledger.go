// Package ledger records the addresses of deployed program instances in a
// write-once JSON file keyed by logical name.
package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// StateFileName is written next to the ledger file.
const StateFileName = "state.json"

// Record describes one deployed instance.
type Record struct {
	Name       string            `json:"contractName"`
	Address    string            `json:"address"`
	Kind       string            `json:"kind,omitempty"`
	DeployedAt int64             `json:"deployedAt,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// State is the migration bookkeeping kept in state.json.
type State struct {
	MigrationTimestamp int64 `json:"migrationTimestamp"`
}

// Ledger is a file-backed deployment ledger.
type Ledger struct {
	mu      sync.Mutex
	path    string
	records map[string]Record
}

// Open loads the ledger at path, creating an empty one when it does not exist.
func Open(path string) (*Ledger, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("ledger path required")
	}
	if dir := filepath.Dir(trimmed); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}
	l := &Ledger{path: trimmed, records: make(map[string]Record)}
	data, err := os.ReadFile(trimmed)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := writeJSON(trimmed, l.records); err != nil {
			return nil, err
		}
		return l, nil
	case err != nil:
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return l, nil
	}
	if err := json.Unmarshal(data, &l.records); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	if l.records == nil {
		l.records = make(map[string]Record)
	}
	return l, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// Write stores rec unless a record with the same name exists. It reports
// whether the record was written.
func (l *Ledger) Write(rec Record) (bool, error) {
	name := strings.TrimSpace(rec.Name)
	if name == "" {
		return false, fmt.Errorf("record name required")
	}
	if strings.TrimSpace(rec.Address) == "" {
		return false, fmt.Errorf("record %s: address required", name)
	}
	rec.Name = name
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.records[name]; exists {
		return false, nil
	}
	l.records[name] = rec
	if err := writeJSON(l.path, l.records); err != nil {
		delete(l.records, name)
		return false, err
	}
	return true, nil
}

// Get returns the record stored under name.
func (l *Ledger) Get(name string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[strings.TrimSpace(name)]
	return rec, ok
}

// Names lists the recorded names in lexical order.
func (l *Ledger) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.records))
	for name := range l.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *Ledger) statePath() string {
	return filepath.Join(filepath.Dir(l.path), StateFileName)
}

// State reads state.json. A missing file yields the zero State.
func (l *Ledger) State() (State, error) {
	var st State
	data, err := os.ReadFile(l.statePath())
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

// SetState replaces state.json.
func (l *Ledger) SetState(st State) error {
	return writeJSON(l.statePath(), st)
}

// MarkMigrated records ts as the latest migration time.
func (l *Ledger) MarkMigrated(ts time.Time) error {
	return l.SetState(State{MigrationTimestamp: ts.Unix()})
}

// writeJSON replaces path with the 4-space indented encoding of v followed by
// a newline.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		_ = os.Remove(tmp.Name())
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
