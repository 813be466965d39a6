// Package checkpoint persists backfill and DLQ-triage progress to a local
// JSON state file so a re-run can resume instead of re-scanning from
// scratch (spec §6 Persisted State).
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State is the on-disk shape: the processed-id set, arbitrary run
// statistics, and the last write time.
type State struct {
	ProcessedIDs map[string]bool `json:"processedIds"`
	Stats        map[string]int  `json:"stats"`
	LastUpdate   time.Time       `json:"lastUpdate"`
}

func newState() *State {
	return &State{ProcessedIDs: make(map[string]bool), Stats: make(map[string]int)}
}

// Store wraps a State with a file path and guards concurrent access from a
// worker pool.
type Store struct {
	path string
	mu   sync.Mutex
	s    *State
}

// Load reads path if present, or returns a fresh Store when it does not
// exist yet — a missing checkpoint is a cold start, not an error.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Store{path: path, s: newState()}, nil
		}
		return nil, fmt.Errorf("checkpoint: read %s: %w", path, err)
	}
	s := newState()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("checkpoint: parse %s: %w", path, err)
	}
	if s.ProcessedIDs == nil {
		s.ProcessedIDs = make(map[string]bool)
	}
	if s.Stats == nil {
		s.Stats = make(map[string]int)
	}
	return &Store{path: path, s: s}, nil
}

// IsProcessed reports whether id has already been checkpointed.
func (st *Store) IsProcessed(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.ProcessedIDs[id]
}

// MarkProcessed records id as done and increments a named stat counter.
func (st *Store) MarkProcessed(id, statKey string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.ProcessedIDs[id] = true
	st.s.Stats[statKey]++
}

// IncrementStat bumps a named counter without marking any id processed —
// used for counts like "skipped" or "failed" that don't gate resumption.
func (st *Store) IncrementStat(statKey string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Stats[statKey]++
}

// Stats returns a snapshot of the current counters.
func (st *Store) Stats() map[string]int {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]int, len(st.s.Stats))
	for k, v := range st.s.Stats {
		out[k] = v
	}
	return out
}

// ProcessedCount returns how many ids have been checkpointed.
func (st *Store) ProcessedCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.s.ProcessedIDs)
}

// Save writes the current state to path atomically (write to a temp file in
// the same directory, then rename) so a crash mid-write never corrupts the
// existing checkpoint.
func (st *Store) Save() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.LastUpdate = time.Now().UTC()

	data, err := json.MarshalIndent(st.s, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	dir := filepath.Dir(st.path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("checkpoint: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("checkpoint: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, st.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("checkpoint: rename temp file: %w", err)
	}
	return nil
}
