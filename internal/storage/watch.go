package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Tiliavir/telesales-timesheet/internal/model"
	"github.com/Tiliavir/telesales-timesheet/internal/timecalc"
)

const debounceDelay = 50 * time.Millisecond

// WatchFunc receives the state of a watched period after each change, or the
// error that prevented reading it.
type WatchFunc func(model.AgentPeriodState, error)

type subscriber struct {
	period string
	fn     WatchFunc
}

// Watch calls fn whenever period changes: right away for mutations made
// through s, and once the file settles for writes by other processes. The
// returned function stops watching.
func (s *Store) Watch(period string, fn WatchFunc) (stop func(), err error) {
	if !timecalc.ValidPeriod(period) {
		return nil, fmt.Errorf("invalid period %q", period)
	}
	dir := filepath.Join(s.base, s.namespace)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("storage error creating directories: %w", err)
	}
	fw, err := watchFile(dir, period+".json", func() {
		fn(s.reload(period))
	})
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = subscriber{period: period, fn: fn}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			fw.Close()
		})
	}, nil
}

func (s *Store) notify(period string, st model.AgentPeriodState) {
	s.mu.Lock()
	var fns []WatchFunc
	for _, sub := range s.subs {
		if sub.period == period {
			fns = append(fns, sub.fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(st.Clone(), nil)
	}
}

// reload drops the cached period and reads it back from disk. A period
// whose last write failed keeps its in-memory state.
func (s *Store) reload(period string) (model.AgentPeriodState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty[period] {
		delete(s.cache, period)
	}
	st, err := s.load(period)
	if err != nil {
		return model.AgentPeriodState{}, err
	}
	return st.Clone(), nil
}

// fileWatcher calls onChange, debounced, whenever one file in a directory
// is written or replaced.
type fileWatcher struct {
	fsw      *fsnotify.Watcher
	name     string
	onChange func()
	done     chan struct{}
	stopped  chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

func watchFile(dir, name string, onChange func()) (*fileWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &fileWatcher{
		fsw:      fsw,
		name:     name,
		onChange: onChange,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *fileWatcher) run() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Base(ev.Name) != w.name {
				continue
			}
			w.debounce()
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *fileWatcher) debounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.done:
		return
	default:
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.onChange)
}

// Close stops watching and cancels a pending notification.
func (w *fileWatcher) Close() {
	close(w.done)
	_ = w.fsw.Close()
	<-w.stopped
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}
