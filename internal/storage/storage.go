package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Tiliavir/telesales-timesheet/internal/model"
	"github.com/Tiliavir/telesales-timesheet/internal/timecalc"
)

var (
	// ErrPersist wraps failures to write a period file. The in-memory state
	// returned alongside it is still the mutated one.
	ErrPersist = errors.New("storage: persist failed")
	// ErrCorrupt is returned when a period file cannot be decoded.
	ErrCorrupt = errors.New("storage: corrupt period file")
	// ErrNotFound is returned by Locate when no period holds the entry.
	ErrNotFound = errors.New("storage: entry not found")
)

// BaseDir returns the root data directory: $TST_HOME when set, ~/.tst otherwise.
func BaseDir() (string, error) {
	if dir := os.Getenv("TST_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".tst"), nil
}

// Key returns the cache key of one agent period.
func Key(namespace, period string) string {
	return namespace + ":" + period
}

// Store is the local-first cache of one agent's period states.
type Store struct {
	base      string
	namespace string

	mu      sync.Mutex
	cache   map[string]model.AgentPeriodState
	dirty   map[string]bool
	subs    map[int]subscriber
	nextSub int
}

// New returns a store rooted at base for the given agent namespace.
func New(base, namespace string) *Store {
	return &Store{
		base:      base,
		namespace: namespace,
		cache:     make(map[string]model.AgentPeriodState),
		dirty:     make(map[string]bool),
		subs:      make(map[int]subscriber),
	}
}

// Namespace returns the agent id the store is scoped to.
func (s *Store) Namespace() string { return s.namespace }

func (s *Store) periodPath(period string) string {
	return filepath.Join(s.base, s.namespace, period+".json")
}

// Load returns a copy of the period state, or an empty Draft state if none
// was ever written.
func (s *Store) Load(period string) (model.AgentPeriodState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(period)
	if err != nil {
		return model.AgentPeriodState{}, err
	}
	return st.Clone(), nil
}

func (s *Store) load(period string) (model.AgentPeriodState, error) {
	if !timecalc.ValidPeriod(period) {
		return model.AgentPeriodState{}, fmt.Errorf("invalid period %q", period)
	}
	if st, ok := s.cache[period]; ok {
		return st, nil
	}
	path := s.periodPath(period)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.NewPeriodState(period), nil
	}
	if err != nil {
		return model.AgentPeriodState{}, fmt.Errorf("storage error reading %s: %w", path, err)
	}

	var st model.AgentPeriodState
	if err := json.Unmarshal(data, &st); err != nil {
		backupPath := path + ".corrupt"
		_ = os.Rename(path, backupPath)
		return model.AgentPeriodState{}, fmt.Errorf("%w: %s (backed up to %s): %v", ErrCorrupt, path, backupPath, err)
	}
	if st.Period == "" {
		st.Period = period
	}
	if st.Entries == nil {
		st.Entries = []model.DayEntry{}
	}
	s.cache[period] = st
	return st, nil
}

// Mutate applies fn to a copy of the period state, recomputes the coarse
// status (dropping the rejection note once nothing is rejected) and persists the result before returning it. When fn fails nothing
// changes. When only the write fails the new state is kept in memory and
// returned with an error wrapping ErrPersist. Watchers of the period are
// notified of every applied change.
func (s *Store) Mutate(period string, fn func(*model.AgentPeriodState) error) (model.AgentPeriodState, error) {
	st, applied, err := s.mutate(period, fn)
	if applied {
		s.notify(period, st)
	}
	return st, err
}

func (s *Store) mutate(period string, fn func(*model.AgentPeriodState) error) (model.AgentPeriodState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.load(period)
	if err != nil {
		return model.AgentPeriodState{}, false, err
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return cur.Clone(), false, err
	}
	next.Period = period
	next.Status = model.CoarseStatus(next.Entries)
	if next.Status != model.StatusRejected {
		next.RejectionNote = ""
	}
	s.cache[period] = next

	if err := s.save(period, next); err != nil {
		s.dirty[period] = true
		return next.Clone(), true, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	delete(s.dirty, period)
	return next.Clone(), true, nil
}

// save atomically writes the period file.
func (s *Store) save(period string, st model.AgentPeriodState) error {
	path := s.periodPath(period)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("storage error creating directories: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("storage error marshalling JSON: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("storage error writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage error renaming temp file: %w", err)
	}
	return nil
}

// Periods lists the periods with a file on disk, oldest first.
func (s *Store) Periods() ([]string, error) {
	dir := filepath.Join(s.base, s.namespace)
	des, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage error listing %s: %w", dir, err)
	}
	var out []string
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		period := strings.TrimSuffix(name, ".json")
		if timecalc.ValidPeriod(period) {
			out = append(out, period)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Locate returns the period holding the entry with id, searching the most
// recent periods first.
func (s *Store) Locate(id string) (string, error) {
	periods, err := s.Periods()
	if err != nil {
		return "", err
	}
	for i := len(periods) - 1; i >= 0; i-- {
		st, err := s.Load(periods[i])
		if err != nil {
			return "", err
		}
		if st.Find(id) >= 0 {
			return periods[i], nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", ErrNotFound, id, filepath.Join(s.base, s.namespace))
}

// EnsureEntryForDay appends a default entry for day unless one already exists.
// It reports whether an entry was added.
func EnsureEntryForDay(entries []model.DayEntry, day string, now time.Time) ([]model.DayEntry, bool) {
	for _, e := range entries {
		if e.Day == day {
			return entries, false
		}
	}
	return append(entries, model.NewEntry(day, now)), true
}
