// File: config/store.go
// Store wraps a Config with atomic snapshot access and reload-listener
// dispatch, the generic shape of control/config.go's ConfigStore
// (RWMutex-guarded map + OnReload hooks) and control/hotreload.go's
// RegisterReloadHook/TriggerHotReload pair, specialized to a typed
// Config and driven by a real file-change source (fsnotify) instead of
// an explicit SetConfig call.
// License: Apache-2.0
package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/momentics/shmipc/ipcerr"
	"github.com/momentics/shmipc/logsink"
)

// Store holds the current Config, reloading it from disk and
// dispatching to registered listeners whenever the backing file
// changes.
type Store struct {
	path string
	log  logsink.Sink

	mu        sync.RWMutex
	current   Config
	listeners []func(Config)

	watcher *fsnotify.Watcher
}

// NewStore loads path once and starts watching it for changes.
func NewStore(path string, log logsink.Sink) (*Store, error) {
	const op = "config.NewStore"
	if log == nil {
		log = logsink.Default()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ipcerr.Wrap(ipcerr.CodeUnknown, op, err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, ipcerr.Wrap(ipcerr.CodeUnknown, op, err).With("path", path)
	}
	s := &Store{path: path, log: log, current: cfg, watcher: w}
	go s.watchLoop()
	return s, nil
}

// Snapshot returns the currently loaded Config.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// OnReload registers fn to be called (in its own goroutine, matching
// the teacher's dispatchReload/TriggerHotReload fire-and-forget style)
// whenever the config file is successfully reloaded.
func (s *Store) OnReload(fn func(Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				s.reload()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warnf("config %s: watch error: %v", s.path, err)
		}
	}
}

func (s *Store) reload() {
	cfg, err := Load(s.path)
	if err != nil {
		s.log.Warnf("config %s: reload failed, keeping previous config: %v", s.path, err)
		return
	}
	s.mu.Lock()
	s.current = cfg
	listeners := append([]func(Config){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		go fn(cfg)
	}
}

// Close stops watching the config file.
func (s *Store) Close() error {
	return s.watcher.Close()
}
