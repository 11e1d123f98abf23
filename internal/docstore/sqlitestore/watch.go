package sqlitestore

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDelay = 50 * time.Millisecond

// dirWatcher calls onChange, debounced, whenever the database file or its
// WAL companions change on disk.
type dirWatcher struct {
	fsw      *fsnotify.Watcher
	base     string
	onChange func()
	done     chan struct{}
	stopped  chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

func watchDir(dir, base string, onChange func()) (*dirWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &dirWatcher{
		fsw:      fsw,
		base:     base,
		onChange: onChange,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *dirWatcher) run() {
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
			if !strings.HasPrefix(filepath.Base(ev.Name), w.base) {
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

func (w *dirWatcher) debounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.onChange)
}

// Close stops watching and cancels a pending notification.
func (w *dirWatcher) Close() {
	close(w.done)
	_ = w.fsw.Close()
	<-w.stopped
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}
